// Package fdops defines the narrow interfaces file-descriptor backends
// and circular buffers copy through, reconstructed from their call
// sites in biscuit/src/circbuf/circbuf.go (Userio_i.Uioread/Uiowrite)
// and biscuit/src/fd/fd.go (Fdops_i.Reopen/Close).
package fdops

import "github.com/galette-os/galette/src/defs"
import "github.com/galette-os/galette/src/stat"

// Userio_i abstracts a user-memory source or sink for a copy loop, so
// circbuf and the block cache never need to know whether the other end
// is a userspace buffer, a kernel buffer, or a network packet.
type Userio_i interface {
	// Uioread copies into dst, returning the number of bytes copied.
	Uioread(dst []uint8) (int, defs.Err_t)
	// Uiowrite copies from src, returning the number of bytes copied.
	Uiowrite(src []uint8) (int, defs.Err_t)
	// Remain reports how many bytes are left to transfer.
	Remain() int
	// Totalsz reports the total transfer size requested.
	Totalsz() int
}

// Fdops_i is the operation set every open file-descriptor backend
// (regular file, directory, socket, device) implements.
type Fdops_i interface {
	Close() defs.Err_t
	Reopen() defs.Err_t
	Read(dst Userio_i) (int, defs.Err_t)
	Write(src Userio_i) (int, defs.Err_t)
	Fstat(st *stat.Stat_t) defs.Err_t
	Lseek(off int, whence int) (int, defs.Err_t)
	Truncate(newlen uint) defs.Err_t
}

// Seek whence values, matching the classical lseek(2) contract used by
// the Lseek method above.
const (
	SEEK_SET = 0
	SEEK_CUR = 1
	SEEK_END = 2
)
