package sysleaf

import "testing"

import "github.com/stretchr/testify/require"

import "github.com/galette-os/galette/src/defs"
import "github.com/galette-os/galette/src/intr"
import "github.com/galette-os/galette/src/pid"
import "github.com/galette-os/galette/src/txpipe"
import "github.com/galette-os/galette/src/util"
import "github.com/galette-os/galette/src/vfs"
import "github.com/galette-os/galette/src/vm"

// memDriver is a single-directory vfs.Driver fake: one root inode plus
// whatever regular files Create adds, data held in a flat map. It
// exists only so sysleaf's tests can drive a real *vfs.FileSystem
// without constructing an ext2 image.
type memDriver struct {
	next  uint64
	nodes map[uint64]*memNode
}

type memNode struct {
	info    vfs.NodeInfo
	data    []byte
	entries map[string]uint64
}

func newMemDriver() *memDriver {
	d := &memDriver{next: 2, nodes: make(map[uint64]*memNode)}
	d.nodes[1] = &memNode{
		info:    vfs.NodeInfo{Ino: 1, Mode: 0040755, Nlink: 2},
		entries: make(map[string]uint64),
	}
	return d
}

func (d *memDriver) RootIno() uint64 { return 1 }

func (d *memDriver) Stat(ino uint64) (vfs.NodeInfo, defs.Err_t) {
	n, ok := d.nodes[ino]
	if !ok {
		return vfs.NodeInfo{}, -defs.ENOENT
	}
	info := n.info
	info.Size = int64(len(n.data))
	return info, 0
}

func (d *memDriver) Lookup(dirIno uint64, name string) (uint64, defs.Err_t) {
	dir, ok := d.nodes[dirIno]
	if !ok {
		return 0, -defs.ENOENT
	}
	ino, ok := dir.entries[name]
	if !ok {
		return 0, -defs.ENOENT
	}
	return ino, 0
}

func (d *memDriver) ReadDir(dirIno uint64) ([]vfs.DirEntry, defs.Err_t) {
	dir, ok := d.nodes[dirIno]
	if !ok {
		return nil, -defs.ENOENT
	}
	var out []vfs.DirEntry
	for name, ino := range dir.entries {
		out = append(out, vfs.DirEntry{Name: name, Ino: ino})
	}
	return out, 0
}

func (d *memDriver) Create(dirIno uint64, name string, mode uint16, uid, gid uint32) (uint64, defs.Err_t) {
	dir, ok := d.nodes[dirIno]
	if !ok {
		return 0, -defs.ENOENT
	}
	if _, exists := dir.entries[name]; exists {
		return 0, -defs.EEXIST
	}
	ino := d.next
	d.next++
	d.nodes[ino] = &memNode{info: vfs.NodeInfo{Ino: ino, Mode: mode, Uid: uid, Gid: gid, Nlink: 1}}
	dir.entries[name] = ino
	return ino, 0
}

func (d *memDriver) Mkdir(dirIno uint64, name string, mode uint16, uid, gid uint32) (uint64, defs.Err_t) {
	dir, ok := d.nodes[dirIno]
	if !ok {
		return 0, -defs.ENOENT
	}
	if _, exists := dir.entries[name]; exists {
		return 0, -defs.EEXIST
	}
	ino := d.next
	d.next++
	d.nodes[ino] = &memNode{
		info:    vfs.NodeInfo{Ino: ino, Mode: mode | 0040000, Uid: uid, Gid: gid, Nlink: 2},
		entries: make(map[string]uint64),
	}
	dir.entries[name] = ino
	return ino, 0
}

func (d *memDriver) Link(dirIno uint64, name string, ino uint64) defs.Err_t {
	dir, ok := d.nodes[dirIno]
	if !ok {
		return -defs.ENOENT
	}
	dir.entries[name] = ino
	return 0
}

func (d *memDriver) Unlink(dirIno uint64, name string) defs.Err_t {
	dir, ok := d.nodes[dirIno]
	if !ok {
		return -defs.ENOENT
	}
	ino, ok := dir.entries[name]
	if !ok {
		return -defs.ENOENT
	}
	delete(dir.entries, name)
	delete(d.nodes, ino)
	return 0
}

func (d *memDriver) IsEmptyDir(ino uint64) (bool, defs.Err_t) {
	n, ok := d.nodes[ino]
	if !ok {
		return false, -defs.ENOENT
	}
	return len(n.entries) == 0, 0
}

func (d *memDriver) Symlink(dirIno uint64, name, target string, uid, gid uint32) (uint64, defs.Err_t) {
	return 0, -defs.ENOTSUP
}

func (d *memDriver) Readlink(ino uint64) (string, defs.Err_t) { return "", -defs.ENOTSUP }

func (d *memDriver) Mknod(dirIno uint64, name string, mode uint16, dev uint32, uid, gid uint32) (uint64, defs.Err_t) {
	return 0, -defs.ENOTSUP
}

func (d *memDriver) SetMode(ino uint64, mode uint16) defs.Err_t {
	n, ok := d.nodes[ino]
	if !ok {
		return -defs.ENOENT
	}
	n.info.Mode = mode
	return 0
}

func (d *memDriver) SetOwner(ino uint64, uid, gid int) defs.Err_t {
	n, ok := d.nodes[ino]
	if !ok {
		return -defs.ENOENT
	}
	n.info.Uid, n.info.Gid = uint32(uid), uint32(gid)
	return 0
}

func (d *memDriver) ReadAt(ino uint64, buf []byte, off int) (int, defs.Err_t) {
	n, ok := d.nodes[ino]
	if !ok {
		return 0, -defs.ENOENT
	}
	if off >= len(n.data) {
		return 0, 0
	}
	return copy(buf, n.data[off:]), 0
}

func (d *memDriver) WriteAt(ino uint64, buf []byte, off int) (int, defs.Err_t) {
	n, ok := d.nodes[ino]
	if !ok {
		return 0, -defs.ENOENT
	}
	if need := off + len(buf); need > len(n.data) {
		grown := make([]byte, need)
		copy(grown, n.data)
		n.data = grown
	}
	return copy(n.data[off:], buf), 0
}

func (d *memDriver) Truncate(ino uint64, newlen uint) defs.Err_t {
	n, ok := d.nodes[ino]
	if !ok {
		return -defs.ENOENT
	}
	n.data = n.data[:newlen]
	return 0
}

func rootAP() vfs.AccessProfile { return vfs.AccessProfile{Privileged: true} }

func newTestContext(t *testing.T) *Context {
	t.Helper()
	fs := vfs.New(newMemDriver())
	as := vm.New(vm.NewFrameAllocator())
	alloc := pid.New()
	h, ok := alloc.Alloc()
	require.True(t, ok)
	return &Context{
		VFS:  fs,
		Cwd:  fs.Root(),
		Ap:   rootAP(),
		AS:   as,
		Fds:  NewFdTable(),
		Proc: h,
		Tx:   txpipe.NewRegistry(),
	}
}

func TestOpenWriteReadRoundtrip(t *testing.T) {
	c := newTestContext(t)

	fdnum, err := c.Open("/greeting.txt", defs.O_CREAT|defs.O_RDWR, 0644)
	require.Zero(t, err)
	require.GreaterOrEqual(t, fdnum, 3)

	n, err := c.Write(fdnum, []byte("hello"))
	require.Zero(t, err)
	require.Equal(t, 5, n)

	require.Zero(t, c.Lseek2(fdnum))

	buf := make([]byte, 5)
	got, err := c.Read(fdnum, buf)
	require.Zero(t, err)
	require.Equal(t, 5, got)
	require.Equal(t, "hello", string(buf))

	require.Zero(t, c.Close(fdnum))
	_, ok := c.Fds.Get(fdnum)
	require.False(t, ok)
}

func TestCloseUnknownFdReturnsEBADF(t *testing.T) {
	c := newTestContext(t)
	require.Equal(t, -defs.EBADF, c.Close(99))
}

func TestMkdirThenStatReportsDirectoryMode(t *testing.T) {
	c := newTestContext(t)
	require.Zero(t, c.Mkdir("/sub", 0755))

	raw, err := c.Stat("/sub")
	require.Zero(t, err)
	require.Equal(t, 88, len(raw))
	require.EqualValues(t, 0040755, util.Readn(raw, 8, 16)) // st_mode is the third 8-byte field
}

func TestUnlinkRemovesEntry(t *testing.T) {
	c := newTestContext(t)
	_, err := c.Open("/doomed.txt", defs.O_CREAT|defs.O_RDWR, 0644)
	require.Zero(t, err)
	require.Zero(t, c.Unlink("/doomed.txt"))

	_, err = c.Open("/doomed.txt", defs.O_RDONLY, 0)
	require.Equal(t, -defs.ENOENT, err)
}

func TestMmapThenMunmap(t *testing.T) {
	c := newTestContext(t)
	addr, err := c.Mmap(0, vm.PGSIZE, true, false)
	require.Zero(t, err)
	require.Zero(t, c.AS.CopyToUser([]byte{1, 2, 3}, addr))
	require.Zero(t, c.Munmap(addr, vm.PGSIZE))
}

func TestGetrusageReflectsAccountedTime(t *testing.T) {
	c := newTestContext(t)
	c.Proc.Accnt.Utadd(1234)
	buf := c.Getrusage()
	require.NotEmpty(t, buf)
	require.EqualValues(t, 1, util.Readn(buf, 8, 8)) // 1234ns of user time is 1 usec
}

func TestDispatchOpenWriteReadClose(t *testing.T) {
	c := newTestContext(t)
	path := c.mustWriteCString(t, "/dispatched.txt")

	regs := &intr.Regs{}
	regs.Raw[0] = SYS_OPEN
	regs.Raw[1] = uint64(path)
	regs.Raw[2] = uint64(defs.O_CREAT | defs.O_RDWR)
	regs.Raw[3] = 0644
	res := c.Dispatch(0x80, 0, regs, 3)
	require.Equal(t, intr.Continue, res)
	fdnum := int64(regs.Raw[0])
	require.GreaterOrEqual(t, fdnum, int64(3))

	payload := c.mustWriteBytes(t, []byte("payload"))
	regs2 := &intr.Regs{}
	regs2.Raw[0] = SYS_WRITE
	regs2.Raw[1] = uint64(fdnum)
	regs2.Raw[2] = uint64(payload)
	regs2.Raw[3] = 7
	c.Dispatch(0x80, 0, regs2, 3)
	require.Equal(t, int64(7), int64(regs2.Raw[0]))

	regs3 := &intr.Regs{}
	regs3.Raw[0] = SYS_CLOSE
	regs3.Raw[1] = uint64(fdnum)
	c.Dispatch(0x80, 0, regs3, 3)
	require.Equal(t, int64(0), int64(regs3.Raw[0]))
}

func TestDispatchUnknownSyscallReturnsENOSYS(t *testing.T) {
	c := newTestContext(t)
	regs := &intr.Regs{}
	regs.Raw[0] = 999
	c.Dispatch(0x80, 0, regs, 3)
	require.Equal(t, int64(-defs.ENOSYS), int64(regs.Raw[0]))
}

// Lseek2 is a tiny test helper resetting fdnum's offset to 0.
func (c *Context) Lseek2(fdnum int) defs.Err_t {
	_, err := c.Lseek(fdnum, 0, 0)
	return err
}

// mustWriteCString maps one page, writes s NUL-terminated at its base,
// and returns the base address for a syscall argument.
func (c *Context) mustWriteCString(t *testing.T, s string) uintptr {
	t.Helper()
	addr, err := c.AS.Map(vm.None(), 1, vm.FlagWrite, nil)
	require.Zero(t, err)
	buf := append([]byte(s), 0)
	require.Zero(t, c.AS.CopyToUser(buf, addr))
	return addr
}

// mustWriteBytes maps one page and writes data at its base.
func (c *Context) mustWriteBytes(t *testing.T, data []byte) uintptr {
	t.Helper()
	addr, err := c.AS.Map(vm.None(), 1, vm.FlagWrite, nil)
	require.Zero(t, err)
	require.Zero(t, c.AS.CopyToUser(data, addr))
	return addr
}
