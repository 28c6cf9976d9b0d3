// Package stat mirrors a file's stat64-equivalent metadata, adapted
// from biscuit/src/stat/stat.go. The original's fields were all plain
// `uint`, leaving st_size's width unspecified; spec.md's data model
// implies files may exceed 4GiB, so here Size is explicitly int64
// (stat64 semantics) while the remaining fields keep the teacher's
// narrower uint.
package stat

import "github.com/galette-os/galette/src/util"

// Stat_t mirrors a file's stat information.
type Stat_t struct {
	_dev    uint
	_ino    uint
	_mode   uint
	_nlink  uint
	_uid    uint
	_gid    uint
	_rdev   uint
	_size   int64
	_blocks uint
	_m_sec  uint
	_m_nsec uint
}

// Wdev stores the device ID.
func (st *Stat_t) Wdev(v uint) { st._dev = v }

// Wino stores the inode number.
func (st *Stat_t) Wino(v uint) { st._ino = v }

// Wmode records the file mode.
func (st *Stat_t) Wmode(v uint) { st._mode = v }

// Wnlink records the hard link count.
func (st *Stat_t) Wnlink(v uint) { st._nlink = v }

// Wuid records the owning uid.
func (st *Stat_t) Wuid(v uint) { st._uid = v }

// Wgid records the owning gid.
func (st *Stat_t) Wgid(v uint) { st._gid = v }

// Wsize records the file size. Size is 64-bit to match stat64.
func (st *Stat_t) Wsize(v int64) { st._size = v }

// Wrdev stores the rdev field.
func (st *Stat_t) Wrdev(v uint) { st._rdev = v }

// Wblocks records the allocated 512-byte block count.
func (st *Stat_t) Wblocks(v uint) { st._blocks = v }

// Wmtime records the modification time as seconds/nanoseconds.
func (st *Stat_t) Wmtime(sec, nsec uint) {
	st._m_sec = sec
	st._m_nsec = nsec
}

// Mode returns the stored mode value.
func (st *Stat_t) Mode() uint { return st._mode }

// Size returns the stored size.
func (st *Stat_t) Size() int64 { return st._size }

// Rdev returns the stored rdev.
func (st *Stat_t) Rdev() uint { return st._rdev }

// Rino returns the stored inode number.
func (st *Stat_t) Rino() uint { return st._ino }

// Nlink returns the stored link count.
func (st *Stat_t) Nlink() uint { return st._nlink }

// Uid returns the stored owning uid.
func (st *Stat_t) Uid() uint { return st._uid }

// Gid returns the stored owning gid.
func (st *Stat_t) Gid() uint { return st._gid }

// Blocks returns the stored allocated block count.
func (st *Stat_t) Blocks() uint { return st._blocks }

// Mtime returns the stored modification time.
func (st *Stat_t) Mtime() (sec, nsec uint) { return st._m_sec, st._m_nsec }

// statBytes is the fixed wire size of a marshaled Stat_t: 11 fields,
// 8 bytes apiece, little-endian.
const statBytes = 11 * 8

// Bytes marshals the structure for copying to userspace, replacing the
// teacher's unsafe.Pointer field overlay with explicit little-endian
// packing via util.Writen so the layout no longer depends on Go's
// internal struct representation.
func (st *Stat_t) Bytes() []uint8 {
	b := make([]uint8, statBytes)
	off := 0
	put := func(v uint64) {
		util.Writen(b, 8, off, int(v))
		off += 8
	}
	put(uint64(st._dev))
	put(uint64(st._ino))
	put(uint64(st._mode))
	put(uint64(st._nlink))
	put(uint64(st._uid))
	put(uint64(st._gid))
	put(uint64(st._rdev))
	put(uint64(st._size))
	put(uint64(st._blocks))
	put(uint64(st._m_sec))
	put(uint64(st._m_nsec))
	return b
}
