// Command mkfs builds an ext2 disk image and populates it from a host
// skeleton directory, generalizing mkfs/mkfs.go (which drove
// ufs.MkDisk/BootFS/Ufs_t over the teacher's log-structured fs) onto
// this tree's Format/FileSystem pair.
package main

import "flag"
import "io"
import "io/fs"
import "os"
import "path/filepath"
import "strings"

import "github.com/sirupsen/logrus"

import "github.com/galette-os/galette/src/blockdev"
import "github.com/galette-os/galette/src/ext2"

func main() {
	log := logrus.WithField("component", "mkfs")

	var (
		outPath        = flag.String("o", "", "output image path (required)")
		skelDir        = flag.String("skel", "", "host directory tree to copy into the image")
		blocksPerGroup = flag.Int("blocks", 65536, "blocks in the single block group")
		inodesPerGroup = flag.Int("inodes", 8192, "inodes in the single block group")
	)
	flag.Parse()

	if *outPath == "" {
		log.Fatal("-o output image path is required")
	}

	opts := ext2.FormatOptions{BlocksPerGroup: *blocksPerGroup, InodesPerGroup: *inodesPerGroup}
	size := int64(*blocksPerGroup) * blockdev.BlockSize

	disk, err := blockdev.CreateFileDisk(*outPath, size)
	if err != 0 {
		log.Fatalf("create %s: %s", *outPath, err)
	}

	fsys, err := ext2.Format(blockdev.NewBlockDevice(disk), opts)
	if err != 0 {
		log.Fatalf("format: %s", err)
	}

	if *skelDir != "" {
		if addErr := addTree(log, fsys, *skelDir); addErr != nil {
			log.Fatalf("populate from %s: %v", *skelDir, addErr)
		}
	}

	if err := disk.Sync(); err != 0 {
		log.Fatalf("sync: %s", err)
	}
	if err := disk.Close(); err != 0 {
		log.Fatalf("close: %s", err)
	}
	log.Infof("wrote %s (%d bytes)", *outPath, size)
}

// addTree walks skelDir on the host and replicates its contents into
// fsys's root directory, the same recursive-copy shape
// mkfs/mkfs.go's addfiles/copydata pair followed.
func addTree(log *logrus.Entry, fsys *ext2.FileSystem, skelDir string) error {
	return filepath.WalkDir(skelDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(path, skelDir), "/")
		if rel == "" {
			return nil
		}
		if strings.Contains(rel, "/") {
			log.Warnf("skipping %s: nested directories are not yet supported", rel)
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		root, zerr := fsys.ReadInode(fsys.RootIno())
		if zerr != 0 {
			return zerr
		}
		if d.IsDir() {
			if _, zerr := fsys.Mkdir(root, fsys.RootIno(), rel, 0755); zerr != 0 {
				log.Warnf("mkdir %s: %s", rel, zerr)
			}
			return nil
		}

		ino, zerr := fsys.CreateFile(root, fsys.RootIno(), rel, 0644)
		if zerr != 0 {
			log.Warnf("create %s: %s", rel, zerr)
			return nil
		}
		return copydata(fsys, ino, path)
	})
}

// copydata streams src's contents into ino's file data.
func copydata(fsys *ext2.FileSystem, ino uint32, src string) error {
	f, oerr := os.Open(src)
	if oerr != nil {
		return oerr
	}
	defer f.Close()

	in, zerr := fsys.ReadInode(ino)
	if zerr != 0 {
		return zerr
	}

	buf := make([]byte, 4096)
	off := 0
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if _, werr := fsys.WriteAt(ino, in, buf[:n], off); werr != 0 {
				return werr
			}
			off += n
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}
