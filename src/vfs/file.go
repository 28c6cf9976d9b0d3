package vfs

import "sync"

import "github.com/galette-os/galette/src/defs"
import "github.com/galette-os/galette/src/fdops"
import "github.com/galette-os/galette/src/stat"

// File is the fdops.Fdops_i backend for an open regular file or
// directory, adapted from the per-descriptor offset tracking
// biscuit/src/fd/fd.go's Fd_t delegates to its Fops: here the offset
// lives on the File itself since ext2 (and any future driver) only
// exposes offset-taking ReadAt/WriteAt, not a stateful stream.
type File struct {
	sync.Mutex
	ref        FileRef
	fs         *FileSystem
	off        int
	appendOnly bool
}

// NewFile wraps ref as an open file descriptor backend.
func NewFile(fs *FileSystem, ref FileRef, appendOnly bool) *File {
	return &File{fs: fs, ref: ref, appendOnly: appendOnly}
}

func (f *File) Close() defs.Err_t  { return 0 }
func (f *File) Reopen() defs.Err_t { return 0 }

func (f *File) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	f.Lock()
	defer f.Unlock()
	buf := make([]byte, dst.Remain())
	n, err := f.ref.Drv.ReadAt(f.ref.Ino, buf, f.off)
	if err != 0 {
		return 0, err
	}
	wrote, err := dst.Uiowrite(buf[:n])
	if err != 0 {
		return wrote, err
	}
	f.off += wrote
	return wrote, 0
}

func (f *File) Write(src fdops.Userio_i) (int, defs.Err_t) {
	f.Lock()
	defer f.Unlock()
	if f.appendOnly {
		info, err := f.ref.Drv.Stat(f.ref.Ino)
		if err != 0 {
			return 0, err
		}
		f.off = int(info.Size)
	}
	buf := make([]byte, src.Remain())
	n, err := src.Uioread(buf)
	if err != 0 {
		return 0, err
	}
	wrote, err := f.ref.Drv.WriteAt(f.ref.Ino, buf[:n], f.off)
	if err != 0 {
		return wrote, err
	}
	f.off += wrote
	f.fs.invalidate(f.ref)
	return wrote, 0
}

func (f *File) Fstat(st *stat.Stat_t) defs.Err_t {
	info, err := f.fs.stat(f.ref)
	if err != 0 {
		return err
	}
	st.Wino(uint(info.Ino))
	st.Wmode(uint(info.Mode))
	st.Wnlink(uint(info.Nlink))
	st.Wuid(uint(info.Uid))
	st.Wgid(uint(info.Gid))
	st.Wsize(info.Size)
	return 0
}

func (f *File) Lseek(off int, whence int) (int, defs.Err_t) {
	f.Lock()
	defer f.Unlock()
	switch whence {
	case fdops.SEEK_SET:
		f.off = off
	case fdops.SEEK_CUR:
		f.off += off
	case fdops.SEEK_END:
		info, err := f.ref.Drv.Stat(f.ref.Ino)
		if err != 0 {
			return 0, err
		}
		f.off = int(info.Size) + off
	default:
		return 0, -defs.EINVAL
	}
	if f.off < 0 {
		f.off = 0
	}
	return f.off, 0
}

func (f *File) Truncate(newlen uint) defs.Err_t {
	f.Lock()
	defer f.Unlock()
	if err := f.ref.Drv.Truncate(f.ref.Ino, newlen); err != 0 {
		return err
	}
	f.fs.invalidate(f.ref)
	return 0
}
