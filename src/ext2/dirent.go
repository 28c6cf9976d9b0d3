package ext2

import "encoding/binary"

import "github.com/galette-os/galette/src/defs"

const direntHeaderSize = 8 // inode(4) + rec_len(2) + name_len(1) + file_type(1)

// Dirent is one ext2 directory entry, per spec.md §3/§6:
// {inode, rec_len, name_len, file_type, name}.
type Dirent struct {
	Inode    uint32
	RecLen   uint16
	NameLen  uint8
	FileType uint8
	Name     string
}

func align8(n int) int { return (n + 7) &^ 7 }

// minRecLen is the smallest rec_len that fits a dirent with the given
// name, per spec.md §4.5's align8(8 + name_len) formula.
func minRecLen(nameLen int) int { return align8(direntHeaderSize + nameLen) }

// parseDirent decodes one entry starting at buf[0]; rec_len tells the
// caller how far to advance.
func parseDirent(buf []byte) (Dirent, defs.Err_t) {
	if len(buf) < direntHeaderSize {
		return Dirent{}, -defs.EINVAL
	}
	le := binary.LittleEndian
	d := Dirent{
		Inode:    le.Uint32(buf[0:4]),
		RecLen:   le.Uint16(buf[4:6]),
		NameLen:  buf[6],
		FileType: buf[7],
	}
	if d.RecLen < direntHeaderSize || int(d.RecLen) > len(buf) {
		return Dirent{}, -defs.EINVAL
	}
	end := direntHeaderSize + int(d.NameLen)
	if end > len(buf) {
		return Dirent{}, -defs.EINVAL
	}
	d.Name = string(buf[direntHeaderSize:end])
	return d, 0
}

func putDirent(buf []byte, d Dirent) {
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], d.Inode)
	le.PutUint16(buf[4:6], d.RecLen)
	buf[6] = d.NameLen
	buf[7] = d.FileType
	copy(buf[direntHeaderSize:], d.Name)
}

// iterDirBlock calls f for every entry (including unused/zero-inode
// holes) in one directory block, stopping early if f returns false.
func iterDirBlock(block []byte, f func(off int, d Dirent) bool) defs.Err_t {
	off := 0
	for off < len(block) {
		d, err := parseDirent(block[off:])
		if err != 0 {
			return err
		}
		if !f(off, d) {
			return 0
		}
		off += int(d.RecLen)
	}
	return 0
}

// insertIntoBlock scans block for a free-slot-or-split opportunity
// large enough for name, per spec.md §4.5's directory-insert rule: an
// existing entry's rec_len may exceed its own minimum size, in which
// case the tail is carved off as a fresh entry for the new name.
// Returns true if the insert succeeded.
func insertIntoBlock(block []byte, name string, ino uint32, ftype uint8) bool {
	need := minRecLen(len(name))
	off := 0
	for off < len(block) {
		d, err := parseDirent(block[off:])
		if err != 0 {
			return false
		}
		used := minRecLen(int(d.NameLen))
		if d.Inode == 0 && int(d.RecLen) >= need {
			// a fully free slot: carve off exactly what's needed and
			// leave the remainder as a new free entry, so the rest of
			// the block stays available for later inserts.
			if remaining := int(d.RecLen) - need; remaining >= minRecLen(0) {
				putDirent(block[off:], Dirent{Inode: ino, RecLen: uint16(need), NameLen: uint8(len(name)), FileType: ftype, Name: name})
				putDirent(block[off+need:], Dirent{Inode: 0, RecLen: uint16(remaining)})
			} else {
				putDirent(block[off:], Dirent{Inode: ino, RecLen: d.RecLen, NameLen: uint8(len(name)), FileType: ftype, Name: name})
			}
			return true
		}
		if d.Inode != 0 && int(d.RecLen)-used >= need {
			free := int(d.RecLen) - used
			d.RecLen = uint16(used)
			putDirent(block[off:], d)
			putDirent(block[off+used:], Dirent{Inode: ino, RecLen: uint16(free), NameLen: uint8(len(name)), FileType: ftype, Name: name})
			return true
		}
		off += int(d.RecLen)
	}
	return false
}
