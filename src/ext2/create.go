package ext2

import "github.com/galette-os/galette/src/defs"

const (
	ftUnknown = 0
	ftRegular = 1
	ftDir     = 2
	ftSymlink = 7
)

// RootIno returns the filesystem root's inode number.
func (fs *FileSystem) RootIno() uint32 { return rootIno }

// CreateFile allocates a new regular-file inode, links it into dir
// under name, and returns its inode number. Fails EEXIST if name is
// already present, per spec.md §4.4's open(O_CREAT|O_EXCL) semantics.
func (fs *FileSystem) CreateFile(dir *Inode, dirIno uint32, name string, mode uint16) (uint32, defs.Err_t) {
	ino, err := fs.AllocInode()
	if err != 0 {
		return 0, err
	}
	in := &Inode{Mode: iREG | (mode &^ iTypeMask), LinksCount: 1}
	if err := fs.WriteInode(ino, in); err != 0 {
		return 0, err
	}
	if err := fs.Link(dir, dirIno, name, ino, ftRegular); err != 0 {
		return 0, err
	}
	return ino, 0
}

// Mkdir allocates a new directory inode with "." and ".." entries
// already populated and links it into dir under name, per spec.md
// §4.4.
func (fs *FileSystem) Mkdir(dir *Inode, dirIno uint32, name string, mode uint16) (uint32, defs.Err_t) {
	ino, err := fs.AllocInode()
	if err != 0 {
		return 0, err
	}
	blk, err := fs.AllocBlock()
	if err != 0 {
		return 0, err
	}
	in := &Inode{Mode: iDIR | (mode &^ iTypeMask), LinksCount: 2, SizeLo: uint32(fs.bsize)}
	in.Direct[0] = blk

	data := make([]byte, fs.bsize)
	putDirent(data, Dirent{Inode: 0, RecLen: uint16(fs.bsize), NameLen: 0, FileType: 0})
	if !insertIntoBlock(data, ".", ino, ftDir) {
		return 0, -defs.ENOSPC
	}
	if !insertIntoBlock(data, "..", dirIno, ftDir) {
		return 0, -defs.ENOSPC
	}
	if err := fs.writeFSBlock(blk, data); err != 0 {
		return 0, err
	}
	if err := fs.WriteInode(ino, in); err != 0 {
		return 0, err
	}
	if err := fs.Link(dir, dirIno, name, ino, ftDir); err != 0 {
		return 0, err
	}
	return ino, 0
}

// SYMLINK_MAX bounds a symlink target's length, per spec.md §4.4.
const SYMLINK_MAX = 4096

// CreateSymlink allocates a symlink inode holding target and links it
// into dir under name. Targets are stored in a data block like a
// regular file's contents rather than ext2's inline-in-inode fast
// path, trading the few bytes that optimization saves for a single
// read/write code path shared with CreateFile.
func (fs *FileSystem) CreateSymlink(dir *Inode, dirIno uint32, name, target string) (uint32, defs.Err_t) {
	if len(target) > SYMLINK_MAX {
		return 0, -defs.ENAMETOOLONG
	}
	ino, err := fs.AllocInode()
	if err != 0 {
		return 0, err
	}
	blk, err := fs.AllocBlock()
	if err != 0 {
		return 0, err
	}
	in := &Inode{Mode: iLNK | 0777, LinksCount: 1, SizeLo: uint32(len(target))}
	in.Direct[0] = blk
	data := make([]byte, fs.bsize)
	copy(data, target)
	if err := fs.writeFSBlock(blk, data); err != 0 {
		return 0, err
	}
	if err := fs.WriteInode(ino, in); err != 0 {
		return 0, err
	}
	if err := fs.Link(dir, dirIno, name, ino, ftSymlink); err != 0 {
		return 0, err
	}
	return ino, 0
}

// ReadLink returns the target an inode's symlink records.
func (fs *FileSystem) ReadLink(in *Inode) (string, defs.Err_t) {
	if !in.IsLink() {
		return "", -defs.EINVAL
	}
	buf := make([]byte, in.Size())
	if _, err := fs.ReadAt(in, buf, 0); err != 0 {
		return "", err
	}
	return string(buf), 0
}

// Mknod allocates a device-special inode (no data blocks) recording
// the packed major/minor device number in SizeLo, and links it into
// dir under name.
func (fs *FileSystem) Mknod(dir *Inode, dirIno uint32, name string, mode uint16, dev uint32) (uint32, defs.Err_t) {
	ino, err := fs.AllocInode()
	if err != 0 {
		return 0, err
	}
	in := &Inode{Mode: mode, LinksCount: 1, SizeLo: dev}
	if err := fs.WriteInode(ino, in); err != 0 {
		return 0, err
	}
	if err := fs.Link(dir, dirIno, name, ino, ftUnknown); err != 0 {
		return 0, err
	}
	return ino, 0
}
