package ext2

import "github.com/galette-os/galette/src/defs"

// AllocBlock claims the first free block recorded in any group's
// block bitmap, marks it used, and returns its absolute block number.
func (fs *FileSystem) AllocBlock() (uint32, defs.Err_t) {
	fs.Lock()
	defer fs.Unlock()
	for gi := range fs.groups {
		g := &fs.groups[gi]
		if g.FreeBlocks == 0 {
			continue
		}
		bmp, err := fs.readFSBlock(g.BlockBitmap)
		if err != 0 {
			return 0, err
		}
		idx, ok := firstClearBit(bmp, int(fs.sb.BlocksPerGroup))
		if !ok {
			continue
		}
		setBit(bmp, idx)
		if err := fs.writeFSBlock(g.BlockBitmap, bmp); err != 0 {
			return 0, err
		}
		g.FreeBlocks--
		if err := fs.writeGroups(); err != 0 {
			return 0, err
		}
		blk := fs.sb.FirstDataBlock + uint32(gi)*fs.sb.BlocksPerGroup + uint32(idx)
		return blk, 0
	}
	return 0, -defs.ENOSPC
}

// AllocInode claims the first free inode recorded in any group's
// inode bitmap and returns its 1-based inode number.
func (fs *FileSystem) AllocInode() (uint32, defs.Err_t) {
	fs.Lock()
	defer fs.Unlock()
	for gi := range fs.groups {
		g := &fs.groups[gi]
		if g.FreeInodes == 0 {
			continue
		}
		bmp, err := fs.readFSBlock(g.InodeBitmap)
		if err != 0 {
			return 0, err
		}
		idx, ok := firstClearBit(bmp, int(fs.sb.InodesPerGroup))
		if !ok {
			continue
		}
		setBit(bmp, idx)
		if err := fs.writeFSBlock(g.InodeBitmap, bmp); err != 0 {
			return 0, err
		}
		g.FreeInodes--
		if err := fs.writeGroups(); err != 0 {
			return 0, err
		}
		ino := uint32(gi)*fs.sb.InodesPerGroup + uint32(idx) + 1
		return ino, 0
	}
	return 0, -defs.ENOSPC
}

func firstClearBit(bmp []byte, limit int) (int, bool) {
	for i := 0; i < limit; i++ {
		if bmp[i/8]&(1<<uint(i%8)) == 0 {
			return i, true
		}
	}
	return 0, false
}

func setBit(bmp []byte, idx int) {
	bmp[idx/8] |= 1 << uint(idx%8)
}
