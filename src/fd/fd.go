// Package fd models an open file descriptor and the per-process
// current-working-directory state, adapted from biscuit/src/fd/fd.go.
// The original's Cwd_t canonicalized through the ustr/bpath packages;
// here it canonicalizes through kpath, which carries a proper
// component model instead of a flat byte slice.
package fd

import "sync"

import "github.com/galette-os/galette/src/defs"
import "github.com/galette-os/galette/src/fdops"
import "github.com/galette-os/galette/src/kpath"

// File descriptor permission bits.
const (
	FD_READ    = 0x1
	FD_WRITE   = 0x2
	FD_CLOEXEC = 0x4
)

// Fd_t represents an open file descriptor. Fops is an interface
// implemented via a pointer receiver, so Fops is a reference, not a
// value.
type Fd_t struct {
	Fops  fdops.Fdops_i
	Perms int
}

// Copyfd duplicates an open file descriptor by reopening it.
func Copyfd(fd *Fd_t) (*Fd_t, defs.Err_t) {
	nfd := &Fd_t{}
	*nfd = *fd
	err := nfd.Fops.Reopen()
	if err != 0 {
		return nil, err
	}
	return nfd, 0
}

// Close_panic closes the descriptor and panics on failure, used where
// the caller holds the last reference and close cannot legitimately
// fail (e.g. unwinding a freshly allocated fd table entry).
func Close_panic(f *Fd_t) {
	if f.Fops.Close() != 0 {
		panic("must succeed")
	}
}

// Cwd_t tracks the current working directory for a process. The
// embedded mutex serializes concurrent chdirs against concurrent
// readers of Path.
type Cwd_t struct {
	sync.Mutex
	Fd   *Fd_t
	Path kpath.PathBuf
}

// Fullpath joins cwd with p if p is not already absolute.
func (cwd *Cwd_t) Fullpath(p kpath.Path) (kpath.PathBuf, defs.Err_t) {
	if p.IsAbsolute() {
		return kpath.NewBuf(p.Bytes())
	}
	return cwd.Path.Path().Join(p.String())
}

// Canonicalpath resolves p relative to cwd and returns its canonical
// string form.
func (cwd *Cwd_t) Canonicalpath(p kpath.Path) (string, defs.Err_t) {
	full, err := cwd.Fullpath(p)
	if err != 0 {
		return "", err
	}
	return full.Path().Canonical(), 0
}

// MkRootCwd constructs a Cwd_t rooted at "/".
func MkRootCwd(fd *Fd_t) *Cwd_t {
	c := &Cwd_t{}
	c.Fd = fd
	root, _ := kpath.FromString("/")
	c.Path = root
	return c
}
