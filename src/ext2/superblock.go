// Package ext2 implements the on-disk ext2 filesystem engine: mount
// validation, inode and directory-entry layout, and block resolution,
// per spec.md §3/§4.5. Where biscuit/src/fs/super.go accessed its
// custom log-superblock through a word-indexed fieldr/fieldw pair
// (every field a uniform 4 bytes), ext2's superblock mixes 1/2/4-byte
// fields, so the same idea — named accessors over a raw byte buffer —
// is expressed with encoding/binary.LittleEndian instead.
package ext2

import "encoding/binary"

import "github.com/galette-os/galette/src/defs"

const (
	magicOffset  = 56
	ext2Magic    = 0xef53
	sbSize       = 1024
	sbDiskOffset = 1024
)

// Superblock holds the fields this engine actually consumes; the full
// on-disk structure is 1024 bytes and this view only names the ones
// mount validation and block addressing need.
type Superblock struct {
	InodesCount      uint32
	BlocksCount      uint32
	FirstDataBlock   uint32
	LogBlockSize     uint32
	BlocksPerGroup   uint32
	InodesPerGroup   uint32
	Magic            uint16
	MountCount       uint16
	MaxMountCount    int16
	State            uint16
	LastCheck        uint32
	CheckInterval    uint32
	FirstIno         uint32
	InodeSize        uint16

	raw [sbSize]byte
}

// BlockSize returns the filesystem's logical block size in bytes.
func (sb *Superblock) BlockSize() int { return 1024 << sb.LogBlockSize }

// GroupCount returns the number of block groups, rounding up.
func (sb *Superblock) GroupCount() int {
	n := sb.BlocksCount - sb.FirstDataBlock
	bg := sb.BlocksPerGroup
	return int((n + bg - 1) / bg)
}

// ParseSuperblock decodes a 1024-byte ext2 superblock image.
func ParseSuperblock(buf []byte) (*Superblock, defs.Err_t) {
	if len(buf) < sbSize {
		return nil, -defs.EINVAL
	}
	sb := &Superblock{}
	copy(sb.raw[:], buf[:sbSize])
	le := binary.LittleEndian
	sb.InodesCount = le.Uint32(buf[0:4])
	sb.BlocksCount = le.Uint32(buf[4:8])
	sb.FirstDataBlock = le.Uint32(buf[20:24])
	sb.LogBlockSize = le.Uint32(buf[24:28])
	sb.BlocksPerGroup = le.Uint32(buf[32:36])
	sb.InodesPerGroup = le.Uint32(buf[40:44])
	sb.MountCount = le.Uint16(buf[52:54])
	sb.MaxMountCount = int16(le.Uint16(buf[54:56]))
	sb.Magic = le.Uint16(buf[magicOffset : magicOffset+2])
	sb.State = le.Uint16(buf[58:60])
	sb.LastCheck = le.Uint32(buf[64:68])
	sb.CheckInterval = le.Uint32(buf[68:72])
	if sb.Magic != ext2Magic {
		return sb, -defs.EINVAL
	}
	if len(buf) >= 240 {
		sb.FirstIno = le.Uint32(buf[84:88])
		sb.InodeSize = le.Uint16(buf[88:90])
	} else {
		sb.FirstIno = 11
		sb.InodeSize = 128
	}
	return sb, 0
}

// Bytes re-serializes the fields this engine mutates (MountCount,
// LastCheck) back into the original 1024-byte image, leaving every
// other byte exactly as read.
func (sb *Superblock) Bytes() []byte {
	out := make([]byte, sbSize)
	copy(out, sb.raw[:])
	le := binary.LittleEndian
	le.PutUint16(out[52:54], sb.MountCount)
	le.PutUint32(out[64:68], sb.LastCheck)
	return out
}

// fsStateClean mirrors ext2's s_state bit value for a cleanly
// unmounted filesystem; format.go stamps it into fresh images. It is
// no longer part of CheckMountable's refusal logic, which covers only
// the three conditions spec.md §4.5 names.
const fsStateClean = 1

// CheckMountable applies the three refusal conditions spec.md §4.5
// names: bad magic, mount_count_since_fsck >= mount_count_before_fsck,
// and now >= last_fsck_timestamp + fsck_interval. now is a Unix
// timestamp, passed in rather than read from time.Now() so the check
// stays deterministic and testable.
func (sb *Superblock) CheckMountable(now uint32) defs.Err_t {
	if sb.Magic != ext2Magic {
		return -defs.EINVAL
	}
	if sb.MaxMountCount > 0 && int16(sb.MountCount) >= sb.MaxMountCount {
		return -defs.EIO
	}
	if sb.CheckInterval > 0 && now >= sb.LastCheck+sb.CheckInterval {
		return -defs.EIO
	}
	return 0
}
