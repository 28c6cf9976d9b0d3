// Package blockdev is the byte-range storage abstraction the ext2
// engine reads and writes through, generalized from
// biscuit/src/ufs/driver.go's ahci_disk_t. Where the teacher simulated
// AHCI DMA with os.File.Seek+Read/Write under its own mutex, FileDisk
// uses golang.org/x/sys/unix's positioned Pread/Pwrite so concurrent
// readers never race on a shared seek offset, and github.com/gofrs/flock
// to hold the backing file locked for the device's lifetime.
package blockdev

import "os"

import "github.com/gofrs/flock"
import "golang.org/x/sys/unix"

import "github.com/galette-os/galette/src/defs"

// BlockSize is the device's native block size; ext2 superblocks with
// a larger logical block size read/write in BlockSize-aligned pieces.
const BlockSize = 4096

// Device is the minimal byte-range contract a backing store
// implements.
type Device interface {
	ReadAt(off int64, buf []byte) (int, defs.Err_t)
	WriteAt(off int64, buf []byte) (int, defs.Err_t)
	Sync() defs.Err_t
	Close() defs.Err_t
}

// BlockDevice layers fixed-size block addressing on top of a Device.
type BlockDevice struct {
	dev Device
}

// NewBlockDevice wraps dev for block-indexed access.
func NewBlockDevice(dev Device) *BlockDevice {
	return &BlockDevice{dev: dev}
}

// ReadBlock reads block index idx into buf, which must be exactly
// BlockSize bytes.
func (bd *BlockDevice) ReadBlock(idx int, buf []byte) defs.Err_t {
	if len(buf) != BlockSize {
		panic("blockdev: bad buffer size")
	}
	_, err := bd.dev.ReadAt(int64(idx)*BlockSize, buf)
	return err
}

// WriteBlock writes buf (exactly BlockSize bytes) to block index idx.
func (bd *BlockDevice) WriteBlock(idx int, buf []byte) defs.Err_t {
	if len(buf) != BlockSize {
		panic("blockdev: bad buffer size")
	}
	_, err := bd.dev.WriteAt(int64(idx)*BlockSize, buf)
	return err
}

// Flush ensures prior writes have reached stable storage.
func (bd *BlockDevice) Flush() defs.Err_t {
	return bd.dev.Sync()
}

// Close releases the backing device.
func (bd *BlockDevice) Close() defs.Err_t {
	return bd.dev.Close()
}

// FileDisk is the hosted Device backed by a loopback image file,
// exclusively locked from open until Close so two mount attempts
// against the same path fail fast instead of corrupting each other's
// writes, per spec.md §3's one-mountpoint-per-directory invariant.
type FileDisk struct {
	f    *os.File
	lock *flock.Flock
}

// OpenFileDisk opens path for positioned read/write and takes an
// exclusive advisory lock on the sibling file path+".lock".
func OpenFileDisk(path string) (*FileDisk, defs.Err_t) {
	fl := flock.New(path + ".lock")
	locked, lockErr := fl.TryLock()
	if lockErr != nil || !locked {
		return nil, -defs.EBUSY
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		fl.Unlock()
		return nil, -defs.ENOENT
	}
	return &FileDisk{f: f, lock: fl}, 0
}

// CreateFileDisk creates a new backing image file of exactly size
// bytes, taking the same exclusive advisory lock OpenFileDisk does,
// for cmd/mkfs to build a fresh image rather than open an existing
// mounted one.
func CreateFileDisk(path string, size int64) (*FileDisk, defs.Err_t) {
	fl := flock.New(path + ".lock")
	locked, lockErr := fl.TryLock()
	if lockErr != nil || !locked {
		return nil, -defs.EBUSY
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		fl.Unlock()
		return nil, -defs.EEXIST
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		fl.Unlock()
		return nil, -defs.EIO
	}
	return &FileDisk{f: f, lock: fl}, 0
}

func (fd *FileDisk) ReadAt(off int64, buf []byte) (int, defs.Err_t) {
	n, err := unix.Pread(int(fd.f.Fd()), buf, off)
	if err != nil {
		return n, -defs.EIO
	}
	return n, 0
}

func (fd *FileDisk) WriteAt(off int64, buf []byte) (int, defs.Err_t) {
	n, err := unix.Pwrite(int(fd.f.Fd()), buf, off)
	if err != nil {
		return n, -defs.EIO
	}
	return n, 0
}

func (fd *FileDisk) Sync() defs.Err_t {
	if err := fd.f.Sync(); err != nil {
		return -defs.EIO
	}
	return 0
}

func (fd *FileDisk) Close() defs.Err_t {
	cerr := fd.f.Close()
	fd.lock.Unlock()
	if cerr != nil {
		return -defs.EIO
	}
	return 0
}
