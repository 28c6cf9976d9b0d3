package sysleaf

import "github.com/galette-os/galette/src/defs"
import "github.com/galette-os/galette/src/fd"
import "github.com/galette-os/galette/src/kpath"
import "github.com/galette-os/galette/src/pid"
import "github.com/galette-os/galette/src/stat"
import "github.com/galette-os/galette/src/txpipe"
import "github.com/galette-os/galette/src/vfs"
import "github.com/galette-os/galette/src/vm"

// Context bundles the per-process resources a syscall leaf touches:
// the mount namespace and current directory (vfs), the address space
// (vm), the open-file table, the process's identity and accounting
// (pid), and the outbound network registry (txpipe). A real kernel
// keeps all of this in one proc struct; spec.md §6 only asks that
// syscall leaves be "thin adapters" over these four subsystems plus
// C2, so Context is the minimal proc-equivalent gluing them together.
type Context struct {
	VFS  *vfs.FileSystem
	Cwd  vfs.FileRef
	Ap   vfs.AccessProfile
	AS   *vm.AddressSpace
	Fds  *FdTable
	Proc *pid.Handle
	Tx   *txpipe.Registry
}

func parsePath(s string) (kpath.Path, defs.Err_t) {
	pb, err := kpath.FromString(s)
	if err != 0 {
		return kpath.Path{}, err
	}
	return pb.Path(), 0
}

// Open resolves path (creating it first if O_CREAT is set) and
// installs the result in the fd table, per spec.md §4.4's open row.
func (c *Context) Open(path string, flags int, mode uint16) (int, defs.Err_t) {
	p, err := parsePath(path)
	if err != 0 {
		return -1, err
	}
	ref, _, err := c.VFS.Open(p, c.Cwd, flags, mode, c.Ap)
	if err != 0 {
		return -1, err
	}
	f := &fd.Fd_t{Fops: vfs.NewFile(c.VFS, ref, flags&defs.O_APPEND != 0)}
	if flags&0x3 != defs.O_WRONLY {
		f.Perms |= fd.FD_READ
	}
	if flags&0x3 != defs.O_RDONLY {
		f.Perms |= fd.FD_WRITE
	}
	return c.Fds.Insert(f), 0
}

// Close releases fdnum.
func (c *Context) Close(fdnum int) defs.Err_t {
	return c.Fds.Close(fdnum)
}

// Read copies up to len(buf) bytes from fdnum's current offset.
func (c *Context) Read(fdnum int, buf []byte) (int, defs.Err_t) {
	f, ok := c.Fds.Get(fdnum)
	if !ok {
		return 0, -defs.EBADF
	}
	u := &rawUio{data: buf}
	return f.Fops.Read(u)
}

// Write writes buf to fdnum at its current offset.
func (c *Context) Write(fdnum int, buf []byte) (int, defs.Err_t) {
	f, ok := c.Fds.Get(fdnum)
	if !ok {
		return 0, -defs.EBADF
	}
	u := &rawUio{data: append([]byte(nil), buf...)}
	return f.Fops.Write(u)
}

// Lseek repositions fdnum's offset.
func (c *Context) Lseek(fdnum int, off int, whence int) (int, defs.Err_t) {
	f, ok := c.Fds.Get(fdnum)
	if !ok {
		return 0, -defs.EBADF
	}
	return f.Fops.Lseek(off, whence)
}

// Fstat marshals fdnum's metadata as a stat64 byte buffer.
func (c *Context) Fstat(fdnum int) ([]byte, defs.Err_t) {
	f, ok := c.Fds.Get(fdnum)
	if !ok {
		return nil, -defs.EBADF
	}
	var st stat.Stat_t
	if err := f.Fops.Fstat(&st); err != 0 {
		return nil, err
	}
	return st.Bytes(), 0
}

// Stat marshals path's metadata without requiring it to be open.
func (c *Context) Stat(path string) ([]byte, defs.Err_t) {
	p, err := parsePath(path)
	if err != 0 {
		return nil, err
	}
	info, err := c.VFS.Stat(p, c.Cwd)
	if err != 0 {
		return nil, err
	}
	var st stat.Stat_t
	st.Wino(uint(info.Ino))
	st.Wmode(uint(info.Mode))
	st.Wnlink(uint(info.Nlink))
	st.Wuid(uint(info.Uid))
	st.Wgid(uint(info.Gid))
	st.Wsize(info.Size)
	return st.Bytes(), 0
}

// Mkdir creates a directory at path.
func (c *Context) Mkdir(path string, mode uint16) defs.Err_t {
	p, err := parsePath(path)
	if err != 0 {
		return err
	}
	return c.VFS.Mkdir(p, c.Cwd, mode, c.Ap)
}

// Unlink removes path's directory entry.
func (c *Context) Unlink(path string) defs.Err_t {
	p, err := parsePath(path)
	if err != 0 {
		return err
	}
	return c.VFS.Unlink(p, c.Cwd, c.Ap)
}

// Mmap maps length bytes (rounded up to whole pages) anonymously, per
// spec.md §4.3's Map operation; addr==0 means no placement hint.
func (c *Context) Mmap(addr uintptr, length int, write bool, shared bool) (uintptr, defs.Err_t) {
	pages := (length + vm.PGSIZE - 1) / vm.PGSIZE
	if pages == 0 {
		pages = 1
	}
	var flags vm.MapFlags
	if write {
		flags |= vm.FlagWrite
	}
	if shared {
		flags |= vm.FlagShared
	}
	con := vm.None()
	if addr != 0 {
		con = vm.Hint(addr)
	}
	return c.AS.Map(con, pages, flags, nil)
}

// Munmap unmaps length bytes (rounded up to whole pages) at addr.
func (c *Context) Munmap(addr uintptr, length int) defs.Err_t {
	pages := (length + vm.PGSIZE - 1) / vm.PGSIZE
	if pages == 0 {
		pages = 1
	}
	return c.AS.Unmap(addr, pages)
}

// Getrusage returns the calling process's accumulated CPU usage.
func (c *Context) Getrusage() []byte {
	return c.Proc.Rusage()
}

// Sendto builds a transmit pipeline for (domain,typ,proto) and pushes
// payload through it, per spec.md §4.6.
func (c *Context) Sendto(domain, typ, proto int, sockaddr, payload []byte, queue txpipe.TxQueue) defs.Err_t {
	stage, err := c.Tx.Build(txpipe.SockDesc{Domain: domain, Type: typ, Protocol: proto}, sockaddr, queue)
	if err != 0 {
		return err
	}
	return txpipe.Transmit(stage, payload)
}

// rawUio adapts a plain byte slice to fdops.Userio_i for Context's
// Read/Write leaves, mirroring intr's own rawUio adapter.
type rawUio struct {
	data []byte
	off  int
}

func (r *rawUio) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, r.data[r.off:])
	r.off += n
	return n, 0
}

func (r *rawUio) Uiowrite(src []uint8) (int, defs.Err_t) {
	n := copy(r.data[r.off:], src)
	r.off += n
	return n, 0
}

func (r *rawUio) Remain() int  { return len(r.data) - r.off }
func (r *rawUio) Totalsz() int { return len(r.data) }
