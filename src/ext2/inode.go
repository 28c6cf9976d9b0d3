package ext2

import "encoding/binary"

import "github.com/galette-os/galette/src/defs"

const (
	nDirect   = 12
	iFIFO     = 0x1000
	iCHR      = 0x2000
	iDIR      = 0x4000
	iREG      = 0x8000
	iLNK      = 0xA000
	iTypeMask = 0xF000
)

// Inode is the fixed 128-byte (rev-0) on-disk inode record this
// engine understands: mode, size, link count, and the 12 direct plus
// 3 indirect block pointers.
type Inode struct {
	Mode       uint16
	Uid        uint16
	Gid        uint16
	SizeLo     uint32
	LinksCount uint16
	Blocks     uint32
	Direct     [nDirect]uint32
	Single     uint32
	Double     uint32
	Triple     uint32
}

// IsDir/IsReg/IsLink report the inode's file type.
func (in *Inode) IsDir() bool  { return in.Mode&iTypeMask == iDIR }
func (in *Inode) IsReg() bool  { return in.Mode&iTypeMask == iREG }
func (in *Inode) IsLink() bool { return in.Mode&iTypeMask == iLNK }

// Size returns the inode's byte size (32-bit; ext2 rev-0 has no
// size_hi, unlike the 64-bit stat64 this engine otherwise reports).
func (in *Inode) Size() int { return int(in.SizeLo) }

// ParseInode decodes one inode record from a byte slice.
func ParseInode(buf []byte) *Inode {
	le := binary.LittleEndian
	in := &Inode{}
	in.Mode = le.Uint16(buf[0:2])
	in.Uid = le.Uint16(buf[2:4])
	in.SizeLo = le.Uint32(buf[4:8])
	in.LinksCount = le.Uint16(buf[26:28])
	in.Blocks = le.Uint32(buf[28:32])
	in.Gid = le.Uint16(buf[24:26])
	for i := 0; i < nDirect; i++ {
		in.Direct[i] = le.Uint32(buf[40+4*i : 44+4*i])
	}
	in.Single = le.Uint32(buf[88:92])
	in.Double = le.Uint32(buf[92:96])
	in.Triple = le.Uint32(buf[96:100])
	return in
}

// Bytes re-encodes the inode into a 128-byte record.
func (in *Inode) Bytes() []byte {
	buf := make([]byte, 128)
	le := binary.LittleEndian
	le.PutUint16(buf[0:2], in.Mode)
	le.PutUint16(buf[2:4], in.Uid)
	le.PutUint32(buf[4:8], in.SizeLo)
	le.PutUint16(buf[24:26], in.Gid)
	le.PutUint16(buf[26:28], in.LinksCount)
	le.PutUint32(buf[28:32], in.Blocks)
	for i := 0; i < nDirect; i++ {
		le.PutUint32(buf[40+4*i:44+4*i], in.Direct[i])
	}
	le.PutUint32(buf[88:92], in.Single)
	le.PutUint32(buf[92:96], in.Double)
	le.PutUint32(buf[96:100], in.Triple)
	return buf
}

// blockResolver walks the direct/single/double/triple-indirect
// pointer structure to translate a logical block number within an
// inode into a physical block number, reading indirect blocks through
// readBlock as needed.
type blockResolver struct {
	ptrsPerBlock int
	readBlock    func(blk uint32) ([]byte, defs.Err_t)
}

func (r *blockResolver) resolve(in *Inode, logical int) (uint32, defs.Err_t) {
	if logical < nDirect {
		return in.Direct[logical], 0
	}
	logical -= nDirect
	ppb := r.ptrsPerBlock

	if logical < ppb {
		return r.indirect(in.Single, logical)
	}
	logical -= ppb

	if logical < ppb*ppb {
		blk, err := r.indirect(in.Double, logical/ppb)
		if err != 0 || blk == 0 {
			return 0, err
		}
		return r.indirect(blk, logical%ppb)
	}
	logical -= ppb * ppb

	if logical < ppb*ppb*ppb {
		blk, err := r.indirect(in.Triple, logical/(ppb*ppb))
		if err != 0 || blk == 0 {
			return 0, err
		}
		rem := logical % (ppb * ppb)
		blk, err = r.indirect(blk, rem/ppb)
		if err != 0 || blk == 0 {
			return 0, err
		}
		return r.indirect(blk, rem%ppb)
	}
	return 0, -defs.EINVAL
}

func (r *blockResolver) indirect(blk uint32, idx int) (uint32, defs.Err_t) {
	if blk == 0 {
		return 0, 0
	}
	buf, err := r.readBlock(blk)
	if err != 0 {
		return 0, err
	}
	off := idx * 4
	if off+4 > len(buf) {
		return 0, -defs.EINVAL
	}
	return binary.LittleEndian.Uint32(buf[off : off+4]), 0
}
