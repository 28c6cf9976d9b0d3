package ext2

import "encoding/binary"

import "github.com/galette-os/galette/src/blockdev"
import "github.com/galette-os/galette/src/defs"

// FormatOptions sizes a freshly created single-block-group ext2
// image, the parameters cmd/mkfs exposes as flags. BlockSize is fixed
// at blockdev.BlockSize: a format producing a logical block size
// larger than the device's native block size is possible in principle
// (readFSBlock/writeFSBlock already handle that case for a mounted
// image) but adds nothing a skeleton-directory image needs.
type FormatOptions struct {
	BlocksPerGroup int
	InodesPerGroup int
}

// DefaultFormatOptions sizes a modest image: enough inodes and blocks
// for a few hundred small files, generalizing mkfs/mkfs.go's historical
// nlogblks/ninodeblks/ndatablks constants onto ext2's block-group
// layout.
func DefaultFormatOptions() FormatOptions {
	return FormatOptions{BlocksPerGroup: 8192, InodesPerGroup: 2048}
}

// layout numbers the fixed metadata blocks every freshly
// formatted single-group image needs, in the same order
// buildTestImage's test fixtures use: superblock, BGDT, block bitmap,
// inode bitmap, inode table (sized to hold InodesPerGroup records),
// then the root directory's one data block.
type layout struct {
	bsize         int
	blockBitmap   uint32
	inodeBitmap   uint32
	inodeTable    uint32
	inodeTableLen uint32
	rootData      uint32
	metaBlocks    uint32
}

func computeLayout(opts FormatOptions) layout {
	bsize := blockdev.BlockSize
	recsPerBlock := uint32(bsize / 128)
	tableLen := (uint32(opts.InodesPerGroup) + recsPerBlock - 1) / recsPerBlock
	if tableLen < 1 {
		tableLen = 1
	}
	l := layout{
		bsize:         bsize,
		blockBitmap:   2,
		inodeBitmap:   3,
		inodeTable:    4,
		inodeTableLen: tableLen,
	}
	l.rootData = l.inodeTable + tableLen
	l.metaBlocks = l.rootData + 1 // blocks 0 (superblock) through rootData, inclusive
	return l
}

// Format writes a fresh, empty single-group ext2 filesystem to dev
// and mounts it, the operation cmd/mkfs drives to build a disk image
// from a host skeleton directory.
func Format(dev *blockdev.BlockDevice, opts FormatOptions) (*FileSystem, defs.Err_t) {
	if opts.BlocksPerGroup <= 0 || opts.InodesPerGroup <= 0 {
		return nil, -defs.EINVAL
	}
	l := computeLayout(opts)
	if l.metaBlocks >= uint32(opts.BlocksPerGroup) {
		return nil, -defs.ENOSPC
	}
	le := binary.LittleEndian
	bsize := l.bsize

	sbBlock := make([]byte, bsize)
	sb := sbBlock[1024:2048]
	le.PutUint32(sb[0:4], uint32(opts.InodesPerGroup))
	le.PutUint32(sb[4:8], uint32(opts.BlocksPerGroup))
	le.PutUint32(sb[20:24], 0)
	le.PutUint32(sb[24:28], logBlockSizeFor(bsize))
	le.PutUint32(sb[32:36], uint32(opts.BlocksPerGroup))
	le.PutUint32(sb[40:44], uint32(opts.InodesPerGroup))
	le.PutUint16(sb[52:54], 1)
	le.PutUint16(sb[54:56], 0)
	le.PutUint16(sb[56:58], ext2Magic)
	le.PutUint16(sb[58:60], fsStateClean)
	le.PutUint32(sb[84:88], 11)
	le.PutUint16(sb[88:90], 128)
	if err := dev.WriteBlock(0, sbBlock); err != 0 {
		return nil, err
	}

	bgdtBlk := make([]byte, bsize)
	putGroupDesc(bgdtBlk, GroupDesc{
		BlockBitmap: l.blockBitmap,
		InodeBitmap: l.inodeBitmap,
		InodeTable:  l.inodeTable,
		FreeBlocks:  uint16(uint32(opts.BlocksPerGroup) - l.metaBlocks),
		FreeInodes:  uint16(uint32(opts.InodesPerGroup) - 2),
		UsedDirs:    1,
	})
	if err := dev.WriteBlock(1, bgdtBlk); err != 0 {
		return nil, err
	}

	blockBitmap := make([]byte, bsize)
	for i := uint32(0); i < l.metaBlocks; i++ {
		setBit(blockBitmap, int(i))
	}
	if err := dev.WriteBlock(int(l.blockBitmap), blockBitmap); err != 0 {
		return nil, err
	}

	inodeBitmap := make([]byte, bsize)
	setBit(inodeBitmap, 0) // inode 1, reserved
	setBit(inodeBitmap, 1) // inode 2, root
	if err := dev.WriteBlock(int(l.inodeBitmap), inodeBitmap); err != 0 {
		return nil, err
	}

	for i := uint32(0); i < l.inodeTableLen; i++ {
		blk := make([]byte, bsize)
		if i == 0 {
			root := &Inode{Mode: iDIR | 0755, LinksCount: 2, SizeLo: uint32(bsize)}
			root.Direct[0] = l.rootData
			copy(blk[128:256], root.Bytes())
		}
		if err := dev.WriteBlock(int(l.inodeTable+i), blk); err != 0 {
			return nil, err
		}
	}

	rootData := make([]byte, bsize)
	putDirent(rootData, Dirent{Inode: 0, RecLen: bsize})
	insertIntoBlock(rootData, ".", rootIno, ftDir)
	insertIntoBlock(rootData, "..", rootIno, ftDir)
	if err := dev.WriteBlock(int(l.rootData), rootData); err != 0 {
		return nil, err
	}

	return Mount(dev)
}

func logBlockSizeFor(bsize int) uint32 {
	switch bsize {
	case 1024:
		return 0
	case 2048:
		return 1
	case 4096:
		return 2
	default:
		panic("ext2: unsupported block size")
	}
}
