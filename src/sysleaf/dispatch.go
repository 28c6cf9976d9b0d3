package sysleaf

import "github.com/galette-os/galette/src/defs"
import "github.com/galette-os/galette/src/intr"

// Syscall numbers, the ABI a userspace stub and Dispatch agree on.
// Raw[0] carries the number on entry and the signed return value (or
// negative errno) on exit; Raw[1:] carry arguments.
const (
	SYS_READ = iota
	SYS_WRITE
	SYS_OPEN
	SYS_CLOSE
	SYS_LSEEK
	SYS_STAT
	SYS_FSTAT
	SYS_MKDIR
	SYS_UNLINK
	SYS_MMAP
	SYS_MUNMAP
	SYS_GETRUSAGE
)

const vecSyscall = 0x80

// bufMax bounds a single Read/Write/Stat copy. Syscall leaves move
// user data through fixed-size staging buffers rather than unbounded
// allocations driven by an untrusted length argument.
const bufMax = 4096

// maxPath bounds a NUL-terminated path string read out of user
// memory a chunk at a time.
const maxPath = 4096

// Register installs c's Dispatch as the vector 0x80 callback.
func Register(d *intr.Dispatcher, c *Context) (*intr.CallbackHook, error) {
	return d.Register(vecSyscall, c.Dispatch)
}

// Dispatch decodes a syscall number and arguments out of regs and
// writes the result back into Raw[0], implementing intr.Callback.
func (c *Context) Dispatch(vector int, errcode uint64, regs *intr.Regs, prevRing int) intr.Result {
	num := int64(regs.Raw[0])
	a := regs.Raw[1:]

	var ret int64
	switch num {
	case SYS_READ:
		ret = c.sysRead(int(a[0]), uintptr(a[1]), int(a[2]))
	case SYS_WRITE:
		ret = c.sysWrite(int(a[0]), uintptr(a[1]), int(a[2]))
	case SYS_OPEN:
		ret = c.sysOpen(uintptr(a[0]), int(a[1]), uint16(a[2]))
	case SYS_CLOSE:
		ret = int64(c.Close(int(a[0])))
	case SYS_LSEEK:
		n, err := c.Lseek(int(a[0]), int(int32(a[1])), int(a[2]))
		ret = errOr(int64(n), err)
	case SYS_STAT:
		ret = c.sysStat(uintptr(a[0]), uintptr(a[1]))
	case SYS_FSTAT:
		ret = c.sysFstat(int(a[0]), uintptr(a[1]))
	case SYS_MKDIR:
		ret = c.sysMkdir(uintptr(a[0]), uint16(a[1]))
	case SYS_UNLINK:
		ret = c.sysUnlink(uintptr(a[0]))
	case SYS_MMAP:
		addr, err := c.Mmap(uintptr(a[0]), int(a[1]), a[2] != 0, a[3] != 0)
		ret = errOr(int64(addr), err)
	case SYS_MUNMAP:
		ret = int64(c.Munmap(uintptr(a[0]), int(a[1])))
	case SYS_GETRUSAGE:
		ret = c.sysGetrusage(uintptr(a[0]))
	default:
		ret = int64(-defs.ENOSYS)
	}

	regs.Raw[0] = uint64(ret)
	return intr.Continue
}

func errOr(val int64, err defs.Err_t) int64 {
	if err != 0 {
		return int64(err)
	}
	return val
}

func (c *Context) sysRead(fdnum int, uva uintptr, n int) int64 {
	if n > bufMax {
		n = bufMax
	}
	buf := make([]byte, n)
	got, err := c.Read(fdnum, buf)
	if err != 0 {
		return int64(err)
	}
	if err := c.AS.CopyToUser(buf[:got], uva); err != 0 {
		return int64(err)
	}
	return int64(got)
}

func (c *Context) sysWrite(fdnum int, uva uintptr, n int) int64 {
	if n > bufMax {
		n = bufMax
	}
	buf := make([]byte, n)
	if err := c.AS.CopyFromUser(buf, uva); err != 0 {
		return int64(err)
	}
	wrote, err := c.Write(fdnum, buf)
	if err != 0 {
		return int64(err)
	}
	return int64(wrote)
}

func (c *Context) sysOpen(uva uintptr, flags int, mode uint16) int64 {
	path, err := c.readPath(uva)
	if err != 0 {
		return int64(err)
	}
	fdnum, err := c.Open(path, flags, mode)
	if err != 0 {
		return int64(err)
	}
	return int64(fdnum)
}

func (c *Context) sysStat(uva, outva uintptr) int64 {
	path, err := c.readPath(uva)
	if err != 0 {
		return int64(err)
	}
	buf, err := c.Stat(path)
	if err != 0 {
		return int64(err)
	}
	if err := c.AS.CopyToUser(buf, outva); err != 0 {
		return int64(err)
	}
	return 0
}

func (c *Context) sysFstat(fdnum int, outva uintptr) int64 {
	buf, err := c.Fstat(fdnum)
	if err != 0 {
		return int64(err)
	}
	if err := c.AS.CopyToUser(buf, outva); err != 0 {
		return int64(err)
	}
	return 0
}

func (c *Context) sysMkdir(uva uintptr, mode uint16) int64 {
	path, err := c.readPath(uva)
	if err != 0 {
		return int64(err)
	}
	return int64(c.Mkdir(path, mode))
}

func (c *Context) sysUnlink(uva uintptr) int64 {
	path, err := c.readPath(uva)
	if err != 0 {
		return int64(err)
	}
	return int64(c.Unlink(path))
}

func (c *Context) sysGetrusage(outva uintptr) int64 {
	buf := c.Getrusage()
	if err := c.AS.CopyToUser(buf, outva); err != 0 {
		return int64(err)
	}
	return 0
}

// readPath copies a NUL-terminated path string out of user memory a
// chunk at a time, since CopyFromUser requires a pre-sized buffer and
// the true length isn't known until the terminator is found.
func (c *Context) readPath(uva uintptr) (string, defs.Err_t) {
	const chunk = 64
	var out []byte
	for len(out) < maxPath {
		buf := make([]byte, chunk)
		if err := c.AS.CopyFromUser(buf, uva+uintptr(len(out))); err != 0 {
			return "", err
		}
		for _, b := range buf {
			if b == 0 {
				return string(out), 0
			}
			out = append(out, b)
		}
	}
	return "", -defs.ENAMETOOLONG
}
