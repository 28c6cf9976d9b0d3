package ext2

import "sync"
import "time"

import "github.com/sirupsen/logrus"

import "github.com/galette-os/galette/src/blockdev"
import "github.com/galette-os/galette/src/defs"

const rootIno = 2

// FileSystem is a mounted ext2 volume: superblock, group descriptor
// table, and the block device underneath, generalizing
// biscuit/src/fs/super.go + fs/blk.go's Disk_i onto blockdev's
// synchronous byte-range contract (no writeback cache or log, since
// those are Non-goals here).
type FileSystem struct {
	sync.Mutex
	dev     *blockdev.BlockDevice
	sb      *Superblock
	groups  []GroupDesc
	bsize   int
	log     *logrus.Entry
}

// Mount reads and validates the superblock and BGDT from dev, per
// spec.md §4.5's three refusal conditions. On success it increments
// the superblock's mount count, stamps last_fsck_timestamp to now, and
// writes the superblock back, per spec.md §4.5's post-mount mutation.
func Mount(dev *blockdev.BlockDevice) (*FileSystem, defs.Err_t) {
	sb, err := readSuperblock(dev)
	if err != 0 {
		return nil, err
	}
	now := uint32(time.Now().Unix())
	if err := sb.CheckMountable(now); err != 0 {
		return nil, err
	}

	sb.MountCount++
	sb.LastCheck = now
	if err := writeSuperblock(dev, sb); err != 0 {
		return nil, err
	}

	fs := &FileSystem{dev: dev, sb: sb, bsize: sb.BlockSize(), log: logrus.WithField("component", "ext2")}
	if err := fs.loadGroups(); err != 0 {
		return nil, err
	}
	return fs, 0
}

// readSuperblock reads the 1024-byte superblock image living at byte
// offset 1024 regardless of the device's native block size.
func readSuperblock(dev *blockdev.BlockDevice) (*Superblock, defs.Err_t) {
	raw := make([]byte, sbSize)
	if sbSize == blockdev.BlockSize {
		if err := dev.ReadBlock(1, raw); err != 0 {
			return nil, err
		}
	} else {
		buf := make([]byte, blockdev.BlockSize)
		if err := dev.ReadBlock(sbDiskOffset/blockdev.BlockSize, buf); err != 0 {
			return nil, err
		}
		copy(raw, buf[sbDiskOffset%blockdev.BlockSize:])
	}
	return ParseSuperblock(raw)
}

// writeSuperblock persists sb.Bytes() back to its 1024-byte slot,
// read-modify-writing the surrounding device block when the native
// block size is larger than the superblock.
func writeSuperblock(dev *blockdev.BlockDevice, sb *Superblock) defs.Err_t {
	out := sb.Bytes()
	if sbSize == blockdev.BlockSize {
		return dev.WriteBlock(1, out)
	}
	blk := sbDiskOffset / blockdev.BlockSize
	buf := make([]byte, blockdev.BlockSize)
	if err := dev.ReadBlock(blk, buf); err != 0 {
		return err
	}
	copy(buf[sbDiskOffset%blockdev.BlockSize:], out)
	return dev.WriteBlock(blk, buf)
}

func (fs *FileSystem) readRaw(blk int, n int) ([]byte, defs.Err_t) {
	buf := make([]byte, blockdev.BlockSize)
	out := make([]byte, 0, n)
	cur := blk
	for len(out) < n {
		if err := fs.dev.ReadBlock(cur, buf); err != 0 {
			return nil, err
		}
		out = append(out, buf...)
		cur++
	}
	return out[:n], 0
}

func (fs *FileSystem) loadGroups() defs.Err_t {
	startBlock := bgdtBlock(fs.sb) * (fs.bsize / blockdev.BlockSize)
	n := fs.sb.GroupCount()
	need := n * bgdEntrySize
	raw, err := fs.readRaw(startBlock, need)
	if err != 0 {
		return err
	}
	fs.groups = ParseGroupDescs(raw, n)
	return 0
}

// readFSBlock reads one filesystem-logical block (which may span
// several BlockSize device blocks when bsize > blockdev.BlockSize).
func (fs *FileSystem) readFSBlock(blk uint32) ([]byte, defs.Err_t) {
	per := fs.bsize / blockdev.BlockSize
	return fs.readRaw(int(blk)*per, fs.bsize)
}

func (fs *FileSystem) writeFSBlock(blk uint32, data []byte) defs.Err_t {
	per := fs.bsize / blockdev.BlockSize
	base := int(blk) * per
	for i := 0; i < per; i++ {
		off := i * blockdev.BlockSize
		if err := fs.dev.WriteBlock(base+i, data[off:off+blockdev.BlockSize]); err != 0 {
			return err
		}
	}
	return 0
}

// inodeLocation returns the block holding ino's record and the byte
// offset of the record within it.
func (fs *FileSystem) inodeLocation(ino uint32) (uint32, int) {
	idx := (ino - 1) % fs.sb.InodesPerGroup
	group := (ino - 1) / fs.sb.InodesPerGroup
	perBlock := fs.bsize / int(fs.sb.InodeSize)
	blk := fs.groups[group].InodeTable + uint32(idx)/uint32(perBlock)
	off := (int(idx) % perBlock) * int(fs.sb.InodeSize)
	return blk, off
}

// ReadInode loads the inode record numbered ino (1-based).
func (fs *FileSystem) ReadInode(ino uint32) (*Inode, defs.Err_t) {
	blk, off := fs.inodeLocation(ino)
	buf, err := fs.readFSBlock(blk)
	if err != 0 {
		return nil, err
	}
	return ParseInode(buf[off : off+128]), 0
}

// WriteInode persists in as inode number ino.
func (fs *FileSystem) WriteInode(ino uint32, in *Inode) defs.Err_t {
	blk, off := fs.inodeLocation(ino)
	buf, err := fs.readFSBlock(blk)
	if err != 0 {
		return err
	}
	copy(buf[off:off+128], in.Bytes())
	return fs.writeFSBlock(blk, buf)
}

// writeGroups persists the in-memory group descriptor table back to
// the BGDT blocks, so free-count changes made by AllocBlock/AllocInode
// survive beyond the current mount.
func (fs *FileSystem) writeGroups() defs.Err_t {
	startBlock := uint32(bgdtBlock(fs.sb))
	need := len(fs.groups) * bgdEntrySize
	nblocks := (need + fs.bsize - 1) / fs.bsize
	buf := make([]byte, nblocks*fs.bsize)
	for i, g := range fs.groups {
		putGroupDesc(buf[i*bgdEntrySize:], g)
	}
	for i := 0; i < nblocks; i++ {
		off := i * fs.bsize
		if err := fs.writeFSBlock(startBlock+uint32(i), buf[off:off+fs.bsize]); err != 0 {
			return err
		}
	}
	return 0
}

func (fs *FileSystem) resolver() *blockResolver {
	return &blockResolver{
		ptrsPerBlock: fs.bsize / 4,
		readBlock:    fs.readFSBlock,
	}
}

// ReadAt reads up to len(buf) bytes of in's data starting at file
// offset off, generalizing fs/blk.go's Bdev_block_t.Read into the
// inode's own block-resolution loop (no separate block-cache layer,
// since this spec's Non-goals exclude a VFS writeback cache).
func (fs *FileSystem) ReadAt(in *Inode, buf []byte, off int) (int, defs.Err_t) {
	size := in.Size()
	if off >= size {
		return 0, 0
	}
	if off+len(buf) > size {
		buf = buf[:size-off]
	}
	r := fs.resolver()
	total := 0
	for total < len(buf) {
		logical := (off + total) / fs.bsize
		within := (off + total) % fs.bsize
		pblk, err := r.resolve(in, logical)
		if err != 0 {
			return total, err
		}
		n := fs.bsize - within
		if rem := len(buf) - total; n > rem {
			n = rem
		}
		if pblk == 0 {
			for i := 0; i < n; i++ {
				buf[total+i] = 0
			}
		} else {
			blk, err := fs.readFSBlock(pblk)
			if err != 0 {
				return total, err
			}
			copy(buf[total:total+n], blk[within:within+n])
		}
		total += n
	}
	return total, 0
}

// WriteAt writes buf into in's data starting at file offset off,
// allocating blocks on demand and growing SizeLo, then persisting the
// updated inode record. Only direct-block growth is supported, mirroring
// Link's directory-growth cap.
func (fs *FileSystem) WriteAt(ino uint32, in *Inode, buf []byte, off int) (int, defs.Err_t) {
	total := 0
	for total < len(buf) {
		logical := (off + total) / fs.bsize
		within := (off + total) % fs.bsize
		if logical >= nDirect {
			return total, -defs.ENOSPC // indirect-block file growth not supported
		}
		pblk := in.Direct[logical]
		if pblk == 0 {
			nb, err := fs.AllocBlock()
			if err != 0 {
				return total, err
			}
			pblk = nb
			in.Direct[logical] = pblk
		}
		blk, err := fs.readFSBlock(pblk)
		if err != 0 {
			return total, err
		}
		n := fs.bsize - within
		if rem := len(buf) - total; n > rem {
			n = rem
		}
		copy(blk[within:within+n], buf[total:total+n])
		if err := fs.writeFSBlock(pblk, blk); err != 0 {
			return total, err
		}
		total += n
	}
	if end := off + total; end > in.Size() {
		in.SizeLo = uint32(end)
	}
	if err := fs.WriteInode(ino, in); err != 0 {
		return total, err
	}
	return total, 0
}

// Truncate sets in's size to newlen, zero-extending or dropping the
// trailing bytes of the last retained block; it does not free blocks
// beyond newlen, matching this engine's no-writeback-cache simplicity.
func (fs *FileSystem) Truncate(ino uint32, in *Inode, newlen uint) defs.Err_t {
	for off, end := in.Size(), int(newlen); off < end; {
		n := fs.bsize - off%fs.bsize
		if n > end-off {
			n = end - off
		}
		if l := off / fs.bsize; l < nDirect && in.Direct[l] != 0 {
			if _, err := fs.WriteAt(ino, in, make([]byte, n), off); err != 0 {
				return err
			}
		}
		off += n
	}
	in.SizeLo = uint32(newlen)
	return fs.WriteInode(ino, in)
}

// Lookup scans dir's directory blocks for name, returning the matched
// entry's inode number.
func (fs *FileSystem) Lookup(dir *Inode, name string) (uint32, defs.Err_t) {
	if !dir.IsDir() {
		return 0, -defs.ENOTDIR
	}
	r := fs.resolver()
	nblocks := (dir.Size() + fs.bsize - 1) / fs.bsize
	var found uint32
	for i := 0; i < nblocks; i++ {
		pblk, err := r.resolve(dir, i)
		if err != 0 {
			return 0, err
		}
		if pblk == 0 {
			continue
		}
		blk, err := fs.readFSBlock(pblk)
		if err != 0 {
			return 0, err
		}
		err = iterDirBlock(blk, func(off int, d Dirent) bool {
			if d.Inode != 0 && d.Name == name {
				found = d.Inode
				return false
			}
			return true
		})
		if err != 0 {
			return 0, err
		}
		if found != 0 {
			return found, 0
		}
	}
	return 0, -defs.ENOENT
}

// ReadDir returns every non-empty entry in dir.
func (fs *FileSystem) ReadDir(dir *Inode) ([]Dirent, defs.Err_t) {
	if !dir.IsDir() {
		return nil, -defs.ENOTDIR
	}
	r := fs.resolver()
	nblocks := (dir.Size() + fs.bsize - 1) / fs.bsize
	var out []Dirent
	for i := 0; i < nblocks; i++ {
		pblk, err := r.resolve(dir, i)
		if err != 0 {
			return nil, err
		}
		if pblk == 0 {
			continue
		}
		blk, err := fs.readFSBlock(pblk)
		if err != 0 {
			return nil, err
		}
		iterDirBlock(blk, func(off int, d Dirent) bool {
			if d.Inode != 0 {
				out = append(out, d)
			}
			return true
		})
	}
	return out, 0
}

// IsEmptyDir reports whether dir has no entries besides "." and "..",
// per spec.md §4.4's rmdir rule.
func (fs *FileSystem) IsEmptyDir(dir *Inode) (bool, defs.Err_t) {
	ents, err := fs.ReadDir(dir)
	if err != 0 {
		return false, err
	}
	for _, e := range ents {
		if e.Name != "." && e.Name != ".." {
			return false, 0
		}
	}
	return true, 0
}

// Link inserts (name -> ino) into dir, growing dir by one block if no
// existing block has room, per spec.md §4.5's free-slot-or-split scan.
func (fs *FileSystem) Link(dir *Inode, dirIno uint32, name string, ino uint32, ftype uint8) defs.Err_t {
	if len(name) > 255 {
		return -defs.ENAMETOOLONG
	}
	if existing, err := fs.Lookup(dir, name); err == 0 && existing != 0 {
		return -defs.EEXIST
	}
	r := fs.resolver()
	nblocks := (dir.Size() + fs.bsize - 1) / fs.bsize
	for i := 0; i < nblocks; i++ {
		pblk, err := r.resolve(dir, i)
		if err != 0 {
			return err
		}
		if pblk == 0 {
			continue
		}
		blk, err := fs.readFSBlock(pblk)
		if err != 0 {
			return err
		}
		if insertIntoBlock(blk, name, ino, ftype) {
			return fs.writeFSBlock(pblk, blk)
		}
	}
	newBlk, err := fs.AllocBlock()
	if err != 0 {
		return -defs.ENOSPC
	}
	if dir.Size()/fs.bsize >= nDirect {
		return -defs.ENOSPC // indirect-block directory growth not supported
	}
	dir.Direct[dir.Size()/fs.bsize] = newBlk
	dir.SizeLo += uint32(fs.bsize)
	blk := make([]byte, fs.bsize)
	putDirent(blk, Dirent{Inode: 0, RecLen: uint16(fs.bsize), NameLen: 0, FileType: 0})
	if !insertIntoBlock(blk, name, ino, ftype) {
		return -defs.ENOSPC
	}
	if err := fs.writeFSBlock(newBlk, blk); err != 0 {
		return err
	}
	return fs.WriteInode(dirIno, dir)
}

// Unlink removes name from dir by zeroing its inode field (rec_len is
// left intact so neighbors can later absorb the slot on insert).
func (fs *FileSystem) Unlink(dir *Inode, name string) defs.Err_t {
	r := fs.resolver()
	nblocks := (dir.Size() + fs.bsize - 1) / fs.bsize
	for i := 0; i < nblocks; i++ {
		pblk, err := r.resolve(dir, i)
		if err != 0 {
			return err
		}
		if pblk == 0 {
			continue
		}
		blk, err := fs.readFSBlock(pblk)
		if err != 0 {
			return err
		}
		removed := false
		iterDirBlock(blk, func(off int, d Dirent) bool {
			if d.Inode != 0 && d.Name == name {
				d.Inode = 0
				putDirent(blk[off:], d)
				removed = true
				return false
			}
			return true
		})
		if removed {
			return fs.writeFSBlock(pblk, blk)
		}
	}
	return -defs.ENOENT
}
