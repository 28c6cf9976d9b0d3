package vfs

import "github.com/galette-os/galette/src/defs"
import "github.com/galette-os/galette/src/kpath"

// SYMLINK_MAX mirrors ext2's own bound; enforced again here so the
// error surfaces at the vfs layer regardless of which driver a future
// mount uses.
const SYMLINK_MAX = 4096

func wantFor(flags int) uint {
	switch flags & 0x3 {
	case defs.O_WRONLY:
		return PermWrite
	case defs.O_RDWR:
		return PermRead | PermWrite
	default:
		return PermRead
	}
}

// Open resolves path and returns the target's FileRef and NodeInfo,
// creating a regular file first if O_CREAT is set and nothing exists.
// Flags and mode follow spec.md §4.4's open row.
func (fs *FileSystem) Open(path kpath.Path, cwd FileRef, flags int, mode uint16, ap AccessProfile) (FileRef, NodeInfo, defs.Err_t) {
	ref, err := fs.Resolve(path, cwd, true)
	if err == 0 {
		info, err := fs.stat(ref)
		if err != 0 {
			return FileRef{}, NodeInfo{}, err
		}
		if flags&defs.O_CREAT != 0 && flags&defs.O_EXCL != 0 {
			return FileRef{}, NodeInfo{}, -defs.EEXIST
		}
		if info.IsDir() && flags&0x3 != defs.O_RDONLY {
			return FileRef{}, NodeInfo{}, -defs.EISDIR
		}
		if !ap.Check(uint16(info.Mode), uint(info.Uid), uint(info.Gid), wantFor(flags)) {
			return FileRef{}, NodeInfo{}, -defs.EACCES
		}
		if flags&defs.O_TRUNC != 0 && !info.IsDir() {
			if err := ref.Drv.Truncate(ref.Ino, 0); err != 0 {
				return FileRef{}, NodeInfo{}, err
			}
			fs.invalidate(ref)
			info, _ = fs.stat(ref)
		}
		return ref, info, 0
	}
	if err != -defs.ENOENT || flags&defs.O_CREAT == 0 {
		return FileRef{}, NodeInfo{}, err
	}
	dir, name, perr := fs.resolveParent(path, cwd)
	if perr != 0 {
		return FileRef{}, NodeInfo{}, perr
	}
	ino, cerr := dir.Drv.Create(dir.Ino, name, mode, ap.Uid, ap.Gid)
	if cerr != 0 {
		return FileRef{}, NodeInfo{}, cerr
	}
	fs.invalidate(dir)
	ref = FileRef{Drv: dir.Drv, Ino: ino}
	info, serr := fs.stat(ref)
	return ref, info, serr
}

// Stat resolves path and returns its metadata, following a trailing
// symlink.
func (fs *FileSystem) Stat(path kpath.Path, cwd FileRef) (NodeInfo, defs.Err_t) {
	ref, err := fs.Resolve(path, cwd, true)
	if err != 0 {
		return NodeInfo{}, err
	}
	return fs.stat(ref)
}

// Lstat is Stat without following a trailing symlink.
func (fs *FileSystem) Lstat(path kpath.Path, cwd FileRef) (NodeInfo, defs.Err_t) {
	ref, err := fs.Resolve(path, cwd, false)
	if err != 0 {
		return NodeInfo{}, err
	}
	return fs.stat(ref)
}

// Mkdir creates a directory with "." and ".." already populated.
func (fs *FileSystem) Mkdir(path kpath.Path, cwd FileRef, mode uint16, ap AccessProfile) defs.Err_t {
	dir, name, err := fs.resolveParent(path, cwd)
	if err != 0 {
		return err
	}
	dinfo, err := fs.stat(dir)
	if err != 0 {
		return err
	}
	if !ap.Check(uint16(dinfo.Mode), uint(dinfo.Uid), uint(dinfo.Gid), PermWrite) {
		return -defs.EACCES
	}
	_, err = dir.Drv.Mkdir(dir.Ino, name, mode, ap.Uid, ap.Gid)
	if err != 0 {
		return err
	}
	fs.invalidate(dir)
	return 0
}

// Rmdir removes an empty directory, per spec.md §4.4's non-empty rule:
// a directory is non-empty iff it holds entries besides "." and "..".
func (fs *FileSystem) Rmdir(path kpath.Path, cwd FileRef, ap AccessProfile) defs.Err_t {
	ref, err := fs.Resolve(path, cwd, false)
	if err != 0 {
		return err
	}
	info, err := fs.stat(ref)
	if err != 0 {
		return err
	}
	if !info.IsDir() {
		return -defs.ENOTDIR
	}
	empty, err := ref.Drv.IsEmptyDir(ref.Ino)
	if err != 0 {
		return err
	}
	if !empty {
		return -defs.ENOTEMPTY
	}
	dir, name, err := fs.resolveParent(path, cwd)
	if err != 0 {
		return err
	}
	dinfo, err := fs.stat(dir)
	if err != 0 {
		return err
	}
	if !ap.Check(uint16(dinfo.Mode), uint(dinfo.Uid), uint(dinfo.Gid), PermWrite) {
		return -defs.EACCES
	}
	if err := dir.Drv.Unlink(dir.Ino, name); err != 0 {
		return err
	}
	fs.invalidate(dir)
	fs.invalidate(ref)
	return 0
}

// Link adds a hard link from new to the inode old resolves to. Fails
// EXDEV if the two paths resolve through different drivers (distinct
// mounts), matching spec.md §4.4.
func (fs *FileSystem) Link(oldp, newp kpath.Path, cwd FileRef) defs.Err_t {
	old, err := fs.Resolve(oldp, cwd, true)
	if err != 0 {
		return err
	}
	dir, name, err := fs.resolveParent(newp, cwd)
	if err != 0 {
		return err
	}
	if dir.Drv != old.Drv {
		return -defs.EXDEV
	}
	if _, err := dir.Drv.Lookup(dir.Ino, name); err == 0 {
		return -defs.EEXIST
	}
	if err := dir.Drv.Link(dir.Ino, name, old.Ino); err != 0 {
		return err
	}
	fs.invalidate(dir)
	fs.invalidate(old)
	return 0
}

// Unlink removes name from its parent directory, per spec.md §4.4:
// the backing inode is only actually freed once its link count and
// open-handle count both drop to zero, which the caller's fd layer is
// responsible for tracking — this method only ever drops the link.
func (fs *FileSystem) Unlink(path kpath.Path, cwd FileRef, ap AccessProfile) defs.Err_t {
	ref, err := fs.Resolve(path, cwd, false)
	if err != 0 {
		return err
	}
	info, err := fs.stat(ref)
	if err != 0 {
		return err
	}
	if info.IsDir() {
		return -defs.EISDIR
	}
	dir, name, err := fs.resolveParent(path, cwd)
	if err != 0 {
		return err
	}
	dinfo, err := fs.stat(dir)
	if err != 0 {
		return err
	}
	if !ap.Check(uint16(dinfo.Mode), uint(dinfo.Uid), uint(dinfo.Gid), PermWrite) {
		return -defs.EACCES
	}
	if err := dir.Drv.Unlink(dir.Ino, name); err != 0 {
		return err
	}
	fs.invalidate(dir)
	fs.invalidate(ref)
	return 0
}

// Symlink creates a symlink at path holding target.
func (fs *FileSystem) Symlink(target string, path kpath.Path, cwd FileRef, ap AccessProfile) defs.Err_t {
	if len(target) > SYMLINK_MAX {
		return -defs.ENAMETOOLONG
	}
	dir, name, err := fs.resolveParent(path, cwd)
	if err != 0 {
		return err
	}
	if _, err := dir.Drv.Lookup(dir.Ino, name); err == 0 {
		return -defs.EEXIST
	}
	if _, err := dir.Drv.Symlink(dir.Ino, name, target, ap.Uid, ap.Gid); err != 0 {
		return err
	}
	fs.invalidate(dir)
	return 0
}

// Readlink copies up to len(buf) bytes of path's symlink target into
// buf and returns the number of bytes copied.
func (fs *FileSystem) Readlink(path kpath.Path, cwd FileRef, buf []byte) (int, defs.Err_t) {
	ref, err := fs.Resolve(path, cwd, false)
	if err != 0 {
		return 0, err
	}
	info, err := fs.stat(ref)
	if err != 0 {
		return 0, err
	}
	if !info.IsLink() {
		return 0, -defs.EINVAL
	}
	target, err := ref.Drv.Readlink(ref.Ino)
	if err != 0 {
		return 0, err
	}
	n := copy(buf, target)
	return n, 0
}

// Chown changes path's owner; -1 in either field means "no change".
// Only a privileged profile may change ownership, per spec.md §4.4.
func (fs *FileSystem) Chown(path kpath.Path, cwd FileRef, uid, gid int, ap AccessProfile) defs.Err_t {
	if !ap.CanChown() {
		return -defs.EPERM
	}
	ref, err := fs.Resolve(path, cwd, true)
	if err != 0 {
		return err
	}
	if err := ref.Drv.SetOwner(ref.Ino, uid, gid); err != 0 {
		return err
	}
	fs.invalidate(ref)
	return 0
}

// Chmod masks mode to its low 12 bits and applies it to path.
func (fs *FileSystem) Chmod(path kpath.Path, cwd FileRef, mode uint16, ap AccessProfile) defs.Err_t {
	ref, err := fs.Resolve(path, cwd, true)
	if err != 0 {
		return err
	}
	info, err := fs.stat(ref)
	if err != 0 {
		return err
	}
	if !ap.CanChmodOrChown(uint(info.Uid)) {
		return -defs.EPERM
	}
	if err := ref.Drv.SetMode(ref.Ino, mode&0xFFF); err != 0 {
		return err
	}
	fs.invalidate(ref)
	return 0
}

// Mknod creates a device-special file at path. dev is the classical
// major<<8|minor encoding spec.md §4.4 specifies.
func (fs *FileSystem) Mknod(path kpath.Path, cwd FileRef, mode uint16, dev uint32, ap AccessProfile) defs.Err_t {
	dir, name, err := fs.resolveParent(path, cwd)
	if err != 0 {
		return err
	}
	if _, err := dir.Drv.Lookup(dir.Ino, name); err == 0 {
		return -defs.EEXIST
	}
	if !ap.Privileged {
		return -defs.EPERM
	}
	if _, err := dir.Drv.Mknod(dir.Ino, name, mode, dev, ap.Uid, ap.Gid); err != 0 {
		return err
	}
	fs.invalidate(dir)
	return 0
}
