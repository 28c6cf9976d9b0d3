package vfs

import "github.com/galette-os/galette/src/defs"

// NodeInfo is the driver-agnostic subset of an inode's metadata the
// resolver and access checks need; a driver translates its own
// on-disk record into this shape.
type NodeInfo struct {
	Ino   uint64
	Mode  uint16
	Uid   uint32
	Gid   uint32
	Size  int64
	Nlink uint16
}

func (ni NodeInfo) IsDir() bool  { return ni.Mode&0xF000 == 0x4000 }
func (ni NodeInfo) IsLink() bool { return ni.Mode&0xF000 == 0xA000 }

// DirEntry is one name->inode mapping a driver's ReadDir yields.
type DirEntry struct {
	Name string
	Ino  uint64
}

// Driver abstracts one mounted filesystem's storage operations, so the
// resolver in resolve.go never depends on ext2 directly: a devfs or
// tmpfs-style driver could satisfy the same interface.
type Driver interface {
	RootIno() uint64
	Stat(ino uint64) (NodeInfo, defs.Err_t)
	Lookup(dirIno uint64, name string) (uint64, defs.Err_t)
	ReadDir(dirIno uint64) ([]DirEntry, defs.Err_t)
	Create(dirIno uint64, name string, mode uint16, uid, gid uint32) (uint64, defs.Err_t)
	Mkdir(dirIno uint64, name string, mode uint16, uid, gid uint32) (uint64, defs.Err_t)
	Link(dirIno uint64, name string, ino uint64) defs.Err_t
	Unlink(dirIno uint64, name string) defs.Err_t
	IsEmptyDir(ino uint64) (bool, defs.Err_t)
	Symlink(dirIno uint64, name, target string, uid, gid uint32) (uint64, defs.Err_t)
	Readlink(ino uint64) (string, defs.Err_t)
	Mknod(dirIno uint64, name string, mode uint16, dev uint32, uid, gid uint32) (uint64, defs.Err_t)
	SetMode(ino uint64, mode uint16) defs.Err_t
	SetOwner(ino uint64, uid, gid int) defs.Err_t
	ReadAt(ino uint64, buf []byte, off int) (int, defs.Err_t)
	WriteAt(ino uint64, buf []byte, off int) (int, defs.Err_t)
	Truncate(ino uint64, newlen uint) defs.Err_t
}
