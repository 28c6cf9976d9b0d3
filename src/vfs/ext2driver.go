package vfs

import "github.com/galette-os/galette/src/defs"
import "github.com/galette-os/galette/src/ext2"

// ftype maps an ext2 file-type byte the driver records in directory
// entries; these mirror ext2's own constants but stay private to this
// adapter so Driver implementations never need ext2's internal consts.
const (
	ft2Unknown = 0
	ft2Regular = 1
	ft2Dir     = 2
	ft2Symlink = 7
)

// Ext2Driver adapts an *ext2.FileSystem to the Driver interface,
// translating between its 32-bit inode numbers and the NodeInfo shape
// the resolver operates on.
type Ext2Driver struct {
	fs *ext2.FileSystem
}

// NewExt2Driver wraps a mounted ext2 filesystem as a vfs Driver.
func NewExt2Driver(fs *ext2.FileSystem) *Ext2Driver { return &Ext2Driver{fs: fs} }

func (d *Ext2Driver) RootIno() uint64 { return uint64(d.fs.RootIno()) }

func toNodeInfo(ino uint32, in *ext2.Inode) NodeInfo {
	return NodeInfo{
		Ino:   uint64(ino),
		Mode:  in.Mode,
		Uid:   uint32(in.Uid),
		Gid:   uint32(in.Gid),
		Size:  int64(in.Size()),
		Nlink: in.LinksCount,
	}
}

func (d *Ext2Driver) Stat(ino uint64) (NodeInfo, defs.Err_t) {
	in, err := d.fs.ReadInode(uint32(ino))
	if err != 0 {
		return NodeInfo{}, err
	}
	return toNodeInfo(uint32(ino), in), 0
}

func (d *Ext2Driver) Lookup(dirIno uint64, name string) (uint64, defs.Err_t) {
	dir, err := d.fs.ReadInode(uint32(dirIno))
	if err != 0 {
		return 0, err
	}
	ino, err := d.fs.Lookup(dir, name)
	return uint64(ino), err
}

func (d *Ext2Driver) ReadDir(dirIno uint64) ([]DirEntry, defs.Err_t) {
	dir, err := d.fs.ReadInode(uint32(dirIno))
	if err != 0 {
		return nil, err
	}
	ents, err := d.fs.ReadDir(dir)
	if err != 0 {
		return nil, err
	}
	out := make([]DirEntry, len(ents))
	for i, e := range ents {
		out[i] = DirEntry{Name: e.Name, Ino: uint64(e.Inode)}
	}
	return out, 0
}

func (d *Ext2Driver) Create(dirIno uint64, name string, mode uint16, uid, gid uint32) (uint64, defs.Err_t) {
	dir, err := d.fs.ReadInode(uint32(dirIno))
	if err != 0 {
		return 0, err
	}
	ino, err := d.fs.CreateFile(dir, uint32(dirIno), name, mode)
	if err != 0 {
		return 0, err
	}
	return uint64(ino), d.chown(ino, uid, gid)
}

func (d *Ext2Driver) Mkdir(dirIno uint64, name string, mode uint16, uid, gid uint32) (uint64, defs.Err_t) {
	dir, err := d.fs.ReadInode(uint32(dirIno))
	if err != 0 {
		return 0, err
	}
	ino, err := d.fs.Mkdir(dir, uint32(dirIno), name, mode)
	if err != 0 {
		return 0, err
	}
	return uint64(ino), d.chown(ino, uid, gid)
}

func (d *Ext2Driver) chown(ino uint32, uid, gid uint32) defs.Err_t {
	in, err := d.fs.ReadInode(ino)
	if err != 0 {
		return err
	}
	in.Uid, in.Gid = uint16(uid), uint16(gid)
	return d.fs.WriteInode(ino, in)
}

func (d *Ext2Driver) Link(dirIno uint64, name string, ino uint64) defs.Err_t {
	dir, err := d.fs.ReadInode(uint32(dirIno))
	if err != 0 {
		return err
	}
	in, err := d.fs.ReadInode(uint32(ino))
	if err != 0 {
		return err
	}
	ft := uint8(ft2Regular)
	if in.IsDir() {
		ft = ft2Dir
	} else if in.IsLink() {
		ft = ft2Symlink
	}
	if err := d.fs.Link(dir, uint32(dirIno), name, uint32(ino), ft); err != 0 {
		return err
	}
	in.LinksCount++
	return d.fs.WriteInode(uint32(ino), in)
}

func (d *Ext2Driver) Unlink(dirIno uint64, name string) defs.Err_t {
	dir, err := d.fs.ReadInode(uint32(dirIno))
	if err != 0 {
		return err
	}
	ino, err := d.fs.Lookup(dir, name)
	if err != 0 {
		return err
	}
	if err := d.fs.Unlink(dir, name); err != 0 {
		return err
	}
	in, err := d.fs.ReadInode(ino)
	if err != 0 {
		return err
	}
	if in.LinksCount > 0 {
		in.LinksCount--
	}
	return d.fs.WriteInode(ino, in)
}

func (d *Ext2Driver) IsEmptyDir(ino uint64) (bool, defs.Err_t) {
	in, err := d.fs.ReadInode(uint32(ino))
	if err != 0 {
		return false, err
	}
	return d.fs.IsEmptyDir(in)
}

func (d *Ext2Driver) Symlink(dirIno uint64, name, target string, uid, gid uint32) (uint64, defs.Err_t) {
	dir, err := d.fs.ReadInode(uint32(dirIno))
	if err != 0 {
		return 0, err
	}
	ino, err := d.fs.CreateSymlink(dir, uint32(dirIno), name, target)
	if err != 0 {
		return 0, err
	}
	return uint64(ino), d.chown(ino, uid, gid)
}

func (d *Ext2Driver) Readlink(ino uint64) (string, defs.Err_t) {
	in, err := d.fs.ReadInode(uint32(ino))
	if err != 0 {
		return "", err
	}
	return d.fs.ReadLink(in)
}

func (d *Ext2Driver) Mknod(dirIno uint64, name string, mode uint16, dev uint32, uid, gid uint32) (uint64, defs.Err_t) {
	dir, err := d.fs.ReadInode(uint32(dirIno))
	if err != 0 {
		return 0, err
	}
	ino, err := d.fs.Mknod(dir, uint32(dirIno), name, mode, dev)
	if err != 0 {
		return 0, err
	}
	return uint64(ino), d.chown(ino, uid, gid)
}

func (d *Ext2Driver) SetMode(ino uint64, mode uint16) defs.Err_t {
	in, err := d.fs.ReadInode(uint32(ino))
	if err != 0 {
		return err
	}
	in.Mode = (in.Mode & 0xF000) | (mode & 0x0FFF)
	return d.fs.WriteInode(uint32(ino), in)
}

// SetOwner updates uid/gid; -1 for either field means "no change", per
// spec.md §4.4's chown row.
func (d *Ext2Driver) SetOwner(ino uint64, uid, gid int) defs.Err_t {
	in, err := d.fs.ReadInode(uint32(ino))
	if err != 0 {
		return err
	}
	if uid != -1 {
		in.Uid = uint16(uid)
	}
	if gid != -1 {
		in.Gid = uint16(gid)
	}
	return d.fs.WriteInode(uint32(ino), in)
}

func (d *Ext2Driver) ReadAt(ino uint64, buf []byte, off int) (int, defs.Err_t) {
	in, err := d.fs.ReadInode(uint32(ino))
	if err != 0 {
		return 0, err
	}
	return d.fs.ReadAt(in, buf, off)
}

func (d *Ext2Driver) WriteAt(ino uint64, buf []byte, off int) (int, defs.Err_t) {
	in, err := d.fs.ReadInode(uint32(ino))
	if err != 0 {
		return 0, err
	}
	return d.fs.WriteAt(uint32(ino), in, buf, off)
}

func (d *Ext2Driver) Truncate(ino uint64, newlen uint) defs.Err_t {
	in, err := d.fs.ReadInode(uint32(ino))
	if err != 0 {
		return err
	}
	return d.fs.Truncate(uint32(ino), in, newlen)
}
