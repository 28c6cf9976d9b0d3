// Package kpath implements the kernel's path data model: an immutable
// byte sequence split into RootDir/CurDir/ParentDir/Normal components,
// generalized from biscuit/src/ustr/ustr.go's flat Ustr byte-slice.
package kpath

import "github.com/galette-os/galette/src/defs"

// PATH_MAX bounds the length of any Path; construction above this fails
// with ENAMETOOLONG.
const PATH_MAX = 4096

// Kind distinguishes the four component forms a path can split into.
type Kind int

const (
	RootDir Kind = iota
	CurDir
	ParentDir
	Normal
)

func (k Kind) String() string {
	switch k {
	case RootDir:
		return "RootDir"
	case CurDir:
		return "CurDir"
	case ParentDir:
		return "ParentDir"
	case Normal:
		return "Normal"
	default:
		return "?"
	}
}

// Component is one slash-separated element of a Path.
type Component struct {
	Kind Kind
	Name []byte // only meaningful when Kind == Normal
}

// Path is a borrowed, read-only view over path bytes.
type Path struct {
	b []byte
}

// PathBuf owns its backing bytes.
type PathBuf struct {
	b []byte
}

/// New validates buf against PATH_MAX and returns a borrowed Path.
/// \param buf raw path bytes
/// \return Path view, or ENAMETOOLONG if buf exceeds PATH_MAX.
func New(buf []byte) (Path, defs.Err_t) {
	if len(buf) > PATH_MAX {
		return Path{}, -defs.ENAMETOOLONG
	}
	return Path{b: buf}, 0
}

/// NewBuf copies buf into an owned PathBuf, validating PATH_MAX.
func NewBuf(buf []byte) (PathBuf, defs.Err_t) {
	if len(buf) > PATH_MAX {
		return PathBuf{}, -defs.ENAMETOOLONG
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	return PathBuf{b: cp}, 0
}

// FromString is a convenience wrapper over NewBuf for string literals.
func FromString(s string) (PathBuf, defs.Err_t) {
	return NewBuf([]byte(s))
}

// Path returns a borrowed view over the owned bytes.
func (pb PathBuf) Path() Path {
	return Path{b: pb.b}
}

// Bytes returns the raw bytes backing the path.
func (p Path) Bytes() []byte {
	return p.b
}

// String renders the path as a Go string.
func (p Path) String() string {
	return string(p.b)
}

// Len reports the byte length of the path.
func (p Path) Len() int {
	return len(p.b)
}

// IsAbsolute reports whether the path begins with '/' or is empty, per
// spec.md's definition: "absolute iff its first byte is '/' or it is
// empty".
func (p Path) IsAbsolute() bool {
	return len(p.b) == 0 || p.b[0] == '/'
}

// Components splits the path into its component sequence, collapsing
// runs of slashes and dropping empty segments (trailing slash yields no
// extra component).
func (p Path) Components() []Component {
	var out []Component
	if p.IsAbsolute() && len(p.b) > 0 {
		out = append(out, Component{Kind: RootDir})
	}
	i := 0
	n := len(p.b)
	for i < n {
		for i < n && p.b[i] == '/' {
			i++
		}
		if i >= n {
			break
		}
		start := i
		for i < n && p.b[i] != '/' {
			i++
		}
		seg := p.b[start:i]
		switch {
		case len(seg) == 1 && seg[0] == '.':
			out = append(out, Component{Kind: CurDir})
		case len(seg) == 2 && seg[0] == '.' && seg[1] == '.':
			out = append(out, Component{Kind: ParentDir})
		default:
			out = append(out, Component{Kind: Normal, Name: seg})
		}
	}
	return out
}

// Join appends a Normal component, separating with '/', returning a new
// owned PathBuf. Mirrors ustr.Ustr.Extend.
func (p Path) Join(name string) (PathBuf, defs.Err_t) {
	sep := 0
	if len(p.b) > 0 && p.b[len(p.b)-1] != '/' {
		sep = 1
	}
	total := len(p.b) + sep + len(name)
	if total > PATH_MAX {
		return PathBuf{}, -defs.ENAMETOOLONG
	}
	buf := make([]byte, 0, total)
	buf = append(buf, p.b...)
	if sep == 1 {
		buf = append(buf, '/')
	}
	buf = append(buf, name...)
	return PathBuf{b: buf}, 0
}

// Canonical rejoins the component sequence with single slashes, the
// form spec.md's round-trip property requires ("path -> components ->
// rejoin yields a canonically-equivalent path, modulo trailing /").
func (p Path) Canonical() string {
	comps := p.Components()
	if len(comps) == 0 {
		return "."
	}
	s := ""
	for _, c := range comps {
		switch c.Kind {
		case RootDir:
			s = "/"
		case CurDir:
			if s == "" {
				s = "."
			}
		case ParentDir:
			if s == "" || s == "." {
				s = ".."
			} else if s == "/" {
				s = "/"
			} else {
				s += "/.."
			}
		case Normal:
			if s == "" {
				s = string(c.Name)
			} else if s == "/" {
				s = "/" + string(c.Name)
			} else {
				s += "/" + string(c.Name)
			}
		}
	}
	return s
}

// Eq compares two paths byte-for-byte.
func (p Path) Eq(o Path) bool {
	if len(p.b) != len(o.b) {
		return false
	}
	for i := range p.b {
		if p.b[i] != o.b[i] {
			return false
		}
	}
	return true
}
