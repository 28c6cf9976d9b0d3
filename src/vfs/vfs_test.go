package vfs

import "encoding/binary"
import "testing"

import "github.com/stretchr/testify/require"

import "github.com/galette-os/galette/src/blockdev"
import "github.com/galette-os/galette/src/defs"
import "github.com/galette-os/galette/src/ext2"
import "github.com/galette-os/galette/src/kpath"

// memDisk is a minimal blockdev.Device fake, identical in shape to the
// one ext2_test.go builds for its own package-local tests.
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
	testBlocksPerGroup = 32
	testInodesPerGroup = 32
)

// buildTestFS hand-constructs a minimal valid ext2 image: block 0 the
// superblock, block 1 the BGDT, blocks 2/3 the bitmaps, block 4 the
// inode table, block 5 the root directory's data.
func buildTestFS(t *testing.T) *ext2.FileSystem {
	t.Helper()
	img := make([]byte, testBlocksPerGroup*testBsize)
	le := binary.LittleEndian

	sb := img[1024:2048]
	le.PutUint32(sb[0:4], testInodesPerGroup)
	le.PutUint32(sb[4:8], testBlocksPerGroup)
	le.PutUint32(sb[24:28], 2) // log_block_size -> 4096
	le.PutUint32(sb[32:36], testBlocksPerGroup)
	le.PutUint32(sb[40:44], testInodesPerGroup)
	le.PutUint16(sb[52:54], 1)
	le.PutUint16(sb[54:56], 0)
	le.PutUint16(sb[56:58], 0xef53)
	le.PutUint16(sb[58:60], 1)
	le.PutUint32(sb[84:88], 11)
	le.PutUint16(sb[88:90], 128)

	bgdt := img[1*testBsize:]
	le.PutUint32(bgdt[0:4], 2)
	le.PutUint32(bgdt[4:8], 3)
	le.PutUint32(bgdt[8:12], 4)
	le.PutUint16(bgdt[12:14], testBlocksPerGroup-6)
	le.PutUint16(bgdt[14:16], testInodesPerGroup-2)

	blockBitmap := img[2*testBsize:]
	for i := 0; i < 6; i++ {
		blockBitmap[i/8] |= 1 << uint(i%8)
	}
	inodeBitmap := img[3*testBsize:]
	inodeBitmap[0] |= 1 | 2

	inodeTable := img[4*testBsize:]
	rootRec := inodeTable[128:256]
	le.PutUint16(rootRec[0:2], 0x4000|0755)
	le.PutUint16(rootRec[26:28], 2)
	le.PutUint32(rootRec[4:8], testBsize)
	le.PutUint32(rootRec[40:44], 5)

	rootData := img[5*testBsize : 6*testBsize]
	off := putRawDirent(rootData, 2, 2, 12, ".")
	putRawDirent(rootData[off:], 2, 2, testBsize-off, "..")

	fs, err := ext2.Mount(blockdev.NewBlockDevice(&memDisk{data: img}))
	require.Zero(t, err)
	return fs
}

// putRawDirent writes one raw dirent (inode, file_type, rec_len, name)
// at buf[0] and returns rec_len, mirroring ext2's own layout without
// importing its unexported dirent helpers.
func putRawDirent(buf []byte, ino uint32, ftype uint8, recLen int, name string) int {
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], ino)
	le.PutUint16(buf[4:6], uint16(recLen))
	buf[6] = uint8(len(name))
	buf[7] = ftype
	copy(buf[8:], name)
	return recLen
}

func newTestVFS(t *testing.T) (*FileSystem, FileRef) {
	efs := buildTestFS(t)
	drv := NewExt2Driver(efs)
	vfs := New(drv)
	return vfs, vfs.Root()
}

func rootAP() AccessProfile { return AccessProfile{Uid: 0, Gid: 0, Privileged: true} }

func mustPath(t *testing.T, s string) kpath.Path {
	t.Helper()
	p, err := kpath.New([]byte(s))
	require.Zero(t, err)
	return p
}

func TestOpenCreateThenStat(t *testing.T) {
	vfs, root := newTestVFS(t)
	ap := rootAP()

	ref, info, err := vfs.Open(mustPath(t, "/hello.txt"), root, defs.O_CREAT|defs.O_RDWR, 0644, ap)
	require.Zero(t, err)
	require.False(t, info.IsDir())

	f := NewFile(vfs, ref, false)
	defer f.Close()
	src := testBuf([]byte("hi there"))
	n, err := f.Write(src)
	require.Zero(t, err)
	require.Equal(t, 8, n)

	st, err := vfs.Stat(mustPath(t, "/hello.txt"), root)
	require.Zero(t, err)
	require.EqualValues(t, 8, st.Size)
}

func TestOpenExclFailsIfExists(t *testing.T) {
	vfs, root := newTestVFS(t)
	ap := rootAP()
	_, _, err := vfs.Open(mustPath(t, "/a"), root, defs.O_CREAT, 0644, ap)
	require.Zero(t, err)
	_, _, err = vfs.Open(mustPath(t, "/a"), root, defs.O_CREAT|defs.O_EXCL, 0644, ap)
	require.Equal(t, -defs.EEXIST, err)
}

func TestMkdirRmdir(t *testing.T) {
	vfs, root := newTestVFS(t)
	ap := rootAP()
	require.Zero(t, vfs.Mkdir(mustPath(t, "/sub"), root, 0755, ap))

	info, err := vfs.Stat(mustPath(t, "/sub"), root)
	require.Zero(t, err)
	require.True(t, info.IsDir())

	require.Zero(t, vfs.Rmdir(mustPath(t, "/sub"), root, ap))
	_, err = vfs.Stat(mustPath(t, "/sub"), root)
	require.Equal(t, -defs.ENOENT, err)
}

func TestRmdirRejectsNonEmpty(t *testing.T) {
	vfs, root := newTestVFS(t)
	ap := rootAP()
	require.Zero(t, vfs.Mkdir(mustPath(t, "/sub"), root, 0755, ap))
	_, _, err := vfs.Open(mustPath(t, "/sub/f"), root, defs.O_CREAT, 0644, ap)
	require.Zero(t, err)
	err = vfs.Rmdir(mustPath(t, "/sub"), root, ap)
	require.Equal(t, -defs.ENOTEMPTY, err)
}

func TestSymlinkResolutionAndReadlink(t *testing.T) {
	vfs, root := newTestVFS(t)
	ap := rootAP()
	_, _, err := vfs.Open(mustPath(t, "/target"), root, defs.O_CREAT, 0644, ap)
	require.Zero(t, err)
	require.Zero(t, vfs.Symlink("target", mustPath(t, "/link"), root, ap))

	info, err := vfs.Stat(mustPath(t, "/link"), root)
	require.Zero(t, err)
	require.False(t, info.IsLink()) // Stat follows the trailing symlink

	linfo, err := vfs.Lstat(mustPath(t, "/link"), root)
	require.Zero(t, err)
	require.True(t, linfo.IsLink())

	buf := make([]byte, 64)
	n, err := vfs.Readlink(mustPath(t, "/link"), root, buf)
	require.Zero(t, err)
	require.Equal(t, "target", string(buf[:n]))
}

func TestLinkRejectsEEXIST(t *testing.T) {
	vfs, root := newTestVFS(t)
	ap := rootAP()
	_, _, err := vfs.Open(mustPath(t, "/a"), root, defs.O_CREAT, 0644, ap)
	require.Zero(t, err)
	_, _, err = vfs.Open(mustPath(t, "/b"), root, defs.O_CREAT, 0644, ap)
	require.Zero(t, err)
	err = vfs.Link(mustPath(t, "/a"), mustPath(t, "/b"), root)
	require.Equal(t, -defs.EEXIST, err)
}

func TestUnlinkRejectsDirectory(t *testing.T) {
	vfs, root := newTestVFS(t)
	ap := rootAP()
	require.Zero(t, vfs.Mkdir(mustPath(t, "/sub"), root, 0755, ap))
	err := vfs.Unlink(mustPath(t, "/sub"), root, ap)
	require.Equal(t, -defs.EISDIR, err)
}

func TestChmodMasksTo12Bits(t *testing.T) {
	vfs, root := newTestVFS(t)
	ap := rootAP()
	_, _, err := vfs.Open(mustPath(t, "/a"), root, defs.O_CREAT, 0644, ap)
	require.Zero(t, err)
	require.Zero(t, vfs.Chmod(mustPath(t, "/a"), root, 0xFFFF, ap))
	info, err := vfs.Stat(mustPath(t, "/a"), root)
	require.Zero(t, err)
	require.EqualValues(t, 0x8000|0xFFF, info.Mode)
}

func TestDeepPathLookupErrorsENOENT(t *testing.T) {
	vfs, root := newTestVFS(t)
	_, err := vfs.Stat(mustPath(t, "/no/such/path"), root)
	require.Equal(t, -defs.ENOENT, err)
}

// testBuf adapts a plain []byte into fdops.Userio_i for the File tests
// above, mirroring vm.Fakeubuf_t's role in the teacher's own tests
// without depending on the vm package from vfs.
type testBufT struct {
	data []byte
	off  int
}

func testBuf(b []byte) *testBufT { return &testBufT{data: b} }

func (b *testBufT) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, b.data[b.off:])
	b.off += n
	return n, 0
}
func (b *testBufT) Uiowrite(src []uint8) (int, defs.Err_t) {
	n := copy(b.data[b.off:], src)
	b.off += n
	return n, 0
}
func (b *testBufT) Remain() int  { return len(b.data) - b.off }
func (b *testBufT) Totalsz() int { return len(b.data) }
