package ext2

import "encoding/binary"
import "testing"

import "github.com/stretchr/testify/require"

import "github.com/galette-os/galette/src/blockdev"
import "github.com/galette-os/galette/src/defs"

// memDisk is a blockdev.Device over a plain byte slice, sized and
// laid out to be a minimal but valid ext2 image for these tests:
// block 0 holds the superblock at byte 1024, block 1 the BGDT, block
// 2/3 the block/inode bitmaps, block 4 the one-block inode table,
// block 5 the root directory's data, and block 6 onward is free data
// space.
type memDisk struct{ data []byte }

func (m *memDisk) ReadAt(off int64, buf []byte) (int, defs.Err_t) {
	return copy(buf, m.data[off:]), 0
}
func (m *memDisk) WriteAt(off int64, buf []byte) (int, defs.Err_t) {
	return copy(m.data[off:], buf), 0
}
func (m *memDisk) Sync() defs.Err_t  { return 0 }
func (m *memDisk) Close() defs.Err_t { return 0 }

const (
	testBsize          = 4096
	testBlocksPerGroup = 16
	testInodesPerGroup = 16
	testInodeSize      = 128
)

func buildTestImage(t *testing.T) *FileSystem {
	t.Helper()
	img := make([]byte, testBlocksPerGroup*testBsize)
	le := binary.LittleEndian

	sb := img[1024:2048]
	le.PutUint32(sb[0:4], testInodesPerGroup)
	le.PutUint32(sb[4:8], testBlocksPerGroup)
	le.PutUint32(sb[20:24], 0) // first data block
	le.PutUint32(sb[24:28], 2) // log_block_size: 1024<<2 = 4096
	le.PutUint32(sb[32:36], testBlocksPerGroup)
	le.PutUint32(sb[40:44], testInodesPerGroup)
	le.PutUint16(sb[52:54], 1) // mount count
	le.PutUint16(sb[54:56], 0) // max mount count disabled
	le.PutUint16(sb[56:58], ext2Magic)
	le.PutUint16(sb[58:60], fsStateClean)
	le.PutUint32(sb[84:88], 11)
	le.PutUint16(sb[88:90], testInodeSize)

	bgdt := img[1*testBsize:]
	le.PutUint32(bgdt[0:4], 2)  // block bitmap
	le.PutUint32(bgdt[4:8], 3)  // inode bitmap
	le.PutUint32(bgdt[8:12], 4) // inode table
	le.PutUint16(bgdt[12:14], testBlocksPerGroup-6)
	le.PutUint16(bgdt[14:16], testInodesPerGroup-2)

	blockBitmap := img[2*testBsize:]
	for i := 0; i < 6; i++ { // blocks 0-5 (meta + root dir) are used
		blockBitmap[i/8] |= 1 << uint(i%8)
	}

	inodeBitmap := img[3*testBsize:]
	inodeBitmap[0] |= 1 // inode 1 reserved
	inodeBitmap[0] |= 2 // inode 2 (root) in use

	// root inode: ino 2 -> index 1 -> offset 128 in the inode table block.
	inodeTable := img[4*testBsize:]
	rootRec := inodeTable[128:256]
	le.PutUint16(rootRec[0:2], iDIR|0755)
	le.PutUint16(rootRec[26:28], 2) // links
	le.PutUint32(rootRec[4:8], testBsize)
	le.PutUint32(rootRec[40:44], 5) // direct[0] = block 5

	rootData := img[5*testBsize : 6*testBsize]
	putDirent(rootData, Dirent{Inode: 0, RecLen: testBsize})
	require.True(t, insertIntoBlock(rootData, ".", 2, ftDir))
	require.True(t, insertIntoBlock(rootData, "..", 2, ftDir))

	fs, err := Mount(blockdev.NewBlockDevice(&memDisk{data: img}))
	require.Zero(t, err)
	return fs
}

func TestMountRejectsBadMagic(t *testing.T) {
	img := make([]byte, testBsize)
	_, err := Mount(blockdev.NewBlockDevice(&memDisk{data: img}))
	require.NotZero(t, err)
}

func TestMountRejectsMountCountPastMax(t *testing.T) {
	sb := &Superblock{Magic: ext2Magic, MountCount: 5, MaxMountCount: 5}
	require.Equal(t, -defs.EIO, sb.CheckMountable(0))
}

func TestMountRejectsWhenFsckIntervalElapsed(t *testing.T) {
	sb := &Superblock{Magic: ext2Magic, LastCheck: 1000, CheckInterval: 100}
	require.Equal(t, -defs.EIO, sb.CheckMountable(1101))
	require.Equal(t, -defs.EIO, sb.CheckMountable(1100))
	require.Zero(t, sb.CheckMountable(1099-1))
}

func TestMountIncrementsCountAndStampsLastCheck(t *testing.T) {
	fs := buildTestImage(t)
	require.Equal(t, uint16(2), fs.sb.MountCount)
	require.NotZero(t, fs.sb.LastCheck)

	raw, err := readSuperblock(fs.dev)
	require.Zero(t, err)
	require.Equal(t, fs.sb.MountCount, raw.MountCount)
	require.Equal(t, fs.sb.LastCheck, raw.LastCheck)
}

func TestLookupRootDotDot(t *testing.T) {
	fs := buildTestImage(t)
	root, err := fs.ReadInode(fs.RootIno())
	require.Zero(t, err)
	require.True(t, root.IsDir())

	ino, err := fs.Lookup(root, ".")
	require.Zero(t, err)
	require.EqualValues(t, 2, ino)

	ino, err = fs.Lookup(root, "..")
	require.Zero(t, err)
	require.EqualValues(t, 2, ino)

	_, err = fs.Lookup(root, "nope")
	require.Equal(t, -defs.ENOENT, err)
}

func TestCreateFileThenReadWriteRoundTrip(t *testing.T) {
	fs := buildTestImage(t)
	root, _ := fs.ReadInode(fs.RootIno())

	ino, err := fs.CreateFile(root, fs.RootIno(), "hello.txt", 0644)
	require.Zero(t, err)

	// re-fetch root since CreateFile may have grown it.
	root, _ = fs.ReadInode(fs.RootIno())
	found, err := fs.Lookup(root, "hello.txt")
	require.Zero(t, err)
	require.Equal(t, ino, found)

	file, err := fs.ReadInode(ino)
	require.Zero(t, err)
	require.True(t, file.IsReg())

	blk, err := fs.AllocBlock()
	require.Zero(t, err)
	file.Direct[0] = blk
	file.SizeLo = 5
	require.Zero(t, fs.WriteInode(ino, file))

	data := make([]byte, testBsize)
	copy(data, []byte("hello"))
	require.Zero(t, fs.writeFSBlock(blk, data))

	out := make([]byte, 5)
	n, err := fs.ReadAt(file, out, 0)
	require.Zero(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(out))
}

func TestMkdirCreatesDotAndDotDot(t *testing.T) {
	fs := buildTestImage(t)
	root, _ := fs.ReadInode(fs.RootIno())

	sub, err := fs.Mkdir(root, fs.RootIno(), "sub", 0755)
	require.Zero(t, err)

	subIn, err := fs.ReadInode(sub)
	require.Zero(t, err)
	empty, err := fs.IsEmptyDir(subIn)
	require.Zero(t, err)
	require.True(t, empty)

	parent, err := fs.Lookup(subIn, "..")
	require.Zero(t, err)
	require.Equal(t, fs.RootIno(), parent)
}

func TestSymlinkRoundTrip(t *testing.T) {
	fs := buildTestImage(t)
	root, _ := fs.ReadInode(fs.RootIno())

	ino, err := fs.CreateSymlink(root, fs.RootIno(), "link", "../target")
	require.Zero(t, err)

	lnk, err := fs.ReadInode(ino)
	require.Zero(t, err)
	require.True(t, lnk.IsLink())

	target, err := fs.ReadLink(lnk)
	require.Zero(t, err)
	require.Equal(t, "../target", target)
}

func TestMknodRecordsDeviceNumber(t *testing.T) {
	fs := buildTestImage(t)
	root, _ := fs.ReadInode(fs.RootIno())

	dev := defs.Mkdev(8, 1)
	ino, err := fs.Mknod(root, fs.RootIno(), "sda1", iCHR|0600, uint32(dev))
	require.Zero(t, err)

	node, err := fs.ReadInode(ino)
	require.Zero(t, err)
	maj, min := defs.Unmkdev(uint(node.SizeLo))
	require.Equal(t, 8, maj)
	require.Equal(t, 1, min)
}

func TestLinkRejectsDuplicateName(t *testing.T) {
	fs := buildTestImage(t)
	root, _ := fs.ReadInode(fs.RootIno())
	_, err := fs.CreateFile(root, fs.RootIno(), "dup", 0644)
	require.Zero(t, err)

	root, _ = fs.ReadInode(fs.RootIno())
	_, err = fs.CreateFile(root, fs.RootIno(), "dup", 0644)
	require.Equal(t, -defs.EEXIST, err)
}

func TestFormatProducesMountableFilesystemWithEmptyRoot(t *testing.T) {
	opts := FormatOptions{BlocksPerGroup: 64, InodesPerGroup: 32}
	img := make([]byte, opts.BlocksPerGroup*blockdev.BlockSize)
	fs, err := Format(blockdev.NewBlockDevice(&memDisk{data: img}), opts)
	require.Zero(t, err)

	root, err := fs.ReadInode(fs.RootIno())
	require.Zero(t, err)
	require.True(t, root.IsDir())

	entries, err := fs.ReadDir(root)
	require.Zero(t, err)
	require.Len(t, entries, 2) // "." and ".."

	ino, err := fs.CreateFile(root, fs.RootIno(), "newfile", 0644)
	require.Zero(t, err)
	require.NotZero(t, ino)
}

func TestMinRecLenRoundsToEightBytes(t *testing.T) {
	require.Equal(t, 16, minRecLen(1))
	require.Equal(t, 16, minRecLen(8))
	require.Equal(t, 24, minRecLen(9))
}

func TestFormatRejectsGroupTooSmallForMetadata(t *testing.T) {
	opts := FormatOptions{BlocksPerGroup: 4, InodesPerGroup: 32}
	img := make([]byte, 64*blockdev.BlockSize)
	_, err := Format(blockdev.NewBlockDevice(&memDisk{data: img}), opts)
	require.Equal(t, -defs.ENOSPC, err)
}
