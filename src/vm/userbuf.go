package vm

import "sync"

import "github.com/galette-os/galette/src/defs"

// Userbuf_t copies between kernel memory and a single contiguous user
// range, generalized from biscuit/src/vm/userbuf.go's Userbuf_t onto
// AddressSpace.CopyToUser/CopyFromUser.
type Userbuf_t struct {
	userva uintptr
	len    int
	off    int
	as     *AddressSpace
}

// ub_init initializes the buffer for the given address space.
func (ub *Userbuf_t) ub_init(as *AddressSpace, uva uintptr, len int) {
	if len < 0 {
		panic("negative length")
	}
	ub.userva = uva
	ub.len = len
	ub.off = 0
	ub.as = as
}

// Remain returns the number of unread bytes left in the buffer.
func (ub *Userbuf_t) Remain() int { return ub.len - ub.off }

// Totalsz reports the total size of the buffer in bytes.
func (ub *Userbuf_t) Totalsz() int { return ub.len }

// Uioread copies data from user memory into dst.
func (ub *Userbuf_t) Uioread(dst []uint8) (int, defs.Err_t) {
	return ub._tx(dst, false)
}

// Uiowrite copies data from src into user memory.
func (ub *Userbuf_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	return ub._tx(src, true)
}

func (ub *Userbuf_t) _tx(buf []uint8, write bool) (int, defs.Err_t) {
	n := len(buf)
	if rem := ub.Remain(); n > rem {
		n = rem
	}
	if n == 0 {
		return 0, 0
	}
	var err defs.Err_t
	if write {
		err = ub.as.CopyToUser(buf[:n], ub.userva+uintptr(ub.off))
	} else {
		err = ub.as.CopyFromUser(buf[:n], ub.userva+uintptr(ub.off))
	}
	if err != 0 {
		return 0, err
	}
	ub.off += n
	return n, 0
}

type _iove_t struct {
	uva uintptr
	sz  int
}

// Useriovec_t represents a sequence of user buffers defined by an
// iovec array read from user memory.
type Useriovec_t struct {
	iovs []_iove_t
	tsz  int
	as   *AddressSpace
}

// Iov_init initializes the iovec array from user memory at iovarn.
func (iov *Useriovec_t) Iov_init(as *AddressSpace, iovarn uintptr, niovs int) defs.Err_t {
	if niovs > 10 {
		return -defs.EINVAL
	}
	iov.tsz = 0
	iov.iovs = make([]_iove_t, niovs)
	iov.as = as

	for i := range iov.iovs {
		elmsz := uintptr(16)
		va := iovarn + uintptr(i)*elmsz
		var buf [16]byte
		if err := as.CopyFromUser(buf[:], va); err != 0 {
			return err
		}
		dstva := uintptr(0)
		for j := 0; j < 8; j++ {
			dstva |= uintptr(buf[j]) << (8 * j)
		}
		sz := 0
		for j := 0; j < 8; j++ {
			sz |= int(buf[8+j]) << (8 * j)
		}
		iov.iovs[i].uva = dstva
		iov.iovs[i].sz = sz
		iov.tsz += sz
	}
	return 0
}

// Remain returns the number of bytes remaining across all iovecs.
func (iov *Useriovec_t) Remain() int {
	ret := 0
	for i := range iov.iovs {
		ret += iov.iovs[i].sz
	}
	return ret
}

// Totalsz returns the total number of bytes described by the iovec array.
func (iov *Useriovec_t) Totalsz() int { return iov.tsz }

func (iov *Useriovec_t) _tx(buf []uint8, touser bool) (int, defs.Err_t) {
	ub := &Userbuf_t{}
	did := 0
	for len(buf) > 0 && len(iov.iovs) > 0 {
		ciov := &iov.iovs[0]
		ub.ub_init(iov.as, ciov.uva, ciov.sz)
		var c int
		var err defs.Err_t
		if touser {
			c, err = ub._tx(buf, true)
		} else {
			c, err = ub._tx(buf, false)
		}
		ciov.uva += uintptr(c)
		ciov.sz -= c
		if ciov.sz == 0 {
			iov.iovs = iov.iovs[1:]
		}
		buf = buf[c:]
		did += c
		if err != 0 {
			return did, err
		}
		if c == 0 {
			break
		}
	}
	return did, 0
}

// Uioread reads into dst from the set of user buffers.
func (iov *Useriovec_t) Uioread(dst []uint8) (int, defs.Err_t) { return iov._tx(dst, false) }

// Uiowrite writes src to the user buffers.
func (iov *Useriovec_t) Uiowrite(src []uint8) (int, defs.Err_t) { return iov._tx(src, true) }

// Fakeubuf_t implements the same interface as Userbuf_t but operates
// on a kernel buffer, used when the kernel treats internal memory (a
// freshly faulted frame, say) like user memory.
type Fakeubuf_t struct {
	fbuf []uint8
	len  int
}

// Fake_init sets up the fake buffer with the provided slice.
func (fb *Fakeubuf_t) Fake_init(buf []uint8) {
	fb.fbuf = buf
	fb.len = len(fb.fbuf)
}

// Remain returns the number of bytes left in the fake buffer.
func (fb *Fakeubuf_t) Remain() int { return len(fb.fbuf) }

// Totalsz returns the total length of the fake buffer.
func (fb *Fakeubuf_t) Totalsz() int { return fb.len }

func (fb *Fakeubuf_t) _tx(buf []uint8, tofbuf bool) (int, defs.Err_t) {
	var c int
	if tofbuf {
		c = copy(fb.fbuf, buf)
	} else {
		c = copy(buf, fb.fbuf)
	}
	fb.fbuf = fb.fbuf[c:]
	return c, 0
}

// Uioread copies from the fake buffer into dst.
func (fb *Fakeubuf_t) Uioread(dst []uint8) (int, defs.Err_t) { return fb._tx(dst, false) }

// Uiowrite copies src into the fake buffer.
func (fb *Fakeubuf_t) Uiowrite(src []uint8) (int, defs.Err_t) { return fb._tx(src, true) }

// Ubpool provides reusable Userbuf_t structures to reduce allocations.
var Ubpool = sync.Pool{New: func() interface{} { return new(Userbuf_t) }}
