package vfs

import "fmt"
import "sync"

import "github.com/sirupsen/logrus"

import "github.com/galette-os/galette/src/defs"
import "github.com/galette-os/galette/src/hashtable"
import "github.com/galette-os/galette/src/kpath"
import "github.com/galette-os/galette/src/limits"

// maxLinkTraversals bounds the number of symlinks resolve() will
// follow before giving up with ELOOP, per spec.md §4.4.
const maxLinkTraversals = 40

// FileRef names one inode within one mounted driver: the resolver's
// unit of "current directory".
type FileRef struct {
	Drv Driver
	Ino uint64
}

func refKey(r FileRef) string { return fmt.Sprintf("%p:%d", r.Drv, r.Ino) }

// FileSystem is the kernel's mount namespace: one root driver plus
// whatever else has been mounted under it, and a dentry cache sparing
// repeated Stat round-trips through a driver during a single
// resolution, generalizing biscuit/src/ufs/ufs.go's Ufs_t (which
// wrapped exactly one Fs_t) into something that can cross mounts.
type FileSystem struct {
	sync.Mutex
	root       FileRef
	mountFwd   map[string]FileRef // covered dir -> mounted root
	mountBack  map[string]FileRef // mounted root -> covered dir
	dentries   *hashtable.Hashtable_t
	log        *logrus.Entry
}

// New creates a mount namespace rooted at root.
func New(root Driver) *FileSystem {
	return &FileSystem{
		root:      FileRef{Drv: root, Ino: root.RootIno()},
		mountFwd:  make(map[string]FileRef),
		mountBack: make(map[string]FileRef),
		dentries:  hashtable.MkHash(64),
		log:       logrus.WithField("component", "vfs"),
	}
}

// Root returns the namespace's root FileRef.
func (fs *FileSystem) Root() FileRef { return fs.root }

// Mount grafts child's root onto dir, which must already resolve to an
// empty directory; subsequent resolution through dir transparently
// enters child, and ".." at child's root ascends back to dir.
func (fs *FileSystem) Mount(dir FileRef, child Driver) {
	fs.Lock()
	defer fs.Unlock()
	croot := FileRef{Drv: child, Ino: child.RootIno()}
	fs.mountFwd[refKey(dir)] = croot
	fs.mountBack[refKey(croot)] = dir
	fs.invalidate(dir)
}

func (fs *FileSystem) crossInto(cur FileRef) FileRef {
	if child, ok := fs.mountFwd[refKey(cur)]; ok {
		return child
	}
	return cur
}

func (fs *FileSystem) crossOutOf(cur FileRef) (FileRef, bool) {
	back, ok := fs.mountBack[refKey(cur)]
	return back, ok
}

// stat fetches NodeInfo through the dentry cache.
func (fs *FileSystem) stat(ref FileRef) (NodeInfo, defs.Err_t) {
	if v, ok := fs.dentries.Get(refKey(ref)); ok {
		if ni, ok := v.(NodeInfo); ok {
			return ni, 0
		}
	}
	ni, err := ref.Drv.Stat(ref.Ino)
	if err != 0 {
		return NodeInfo{}, err
	}
	// the cache is capped at Syslimit.Vnodes entries, the same system
	// wide vnode budget biscuit/src/limits/limits.go's Syslimit_t
	// tracks; once full, entries simply stop being cached rather than
	// evicting, so a resolution under memory pressure still succeeds,
	// just with an extra Stat round-trip through the driver.
	if fs.dentries.Size() < limits.Syslimit.Vnodes {
		fs.dentries.Set(refKey(ref), ni)
	}
	return ni, 0
}

// invalidate drops a cached NodeInfo after a mutation.
func (fs *FileSystem) invalidate(ref FileRef) {
	if _, ok := fs.dentries.Get(refKey(ref)); ok {
		fs.dentries.Del(refKey(ref))
	}
}

// Resolve walks path from cwd (or the namespace root if path is
// absolute), crossing mounts and following symlinks per spec.md §4.4.
// followLinks controls whether the final component is followed if it
// is itself a symlink; intermediate components are always followed.
func (fs *FileSystem) Resolve(path kpath.Path, cwd FileRef, followLinks bool) (FileRef, defs.Err_t) {
	start := cwd
	if path.IsAbsolute() {
		start = fs.root
	}
	budget := maxLinkTraversals
	return fs.resolveComponents(path.Components(), start, &budget, followLinks)
}

func (fs *FileSystem) resolveComponents(comps []kpath.Component, cur FileRef, budget *int, followLinks bool) (FileRef, defs.Err_t) {
	for i := 0; i < len(comps); i++ {
		c := comps[i]
		switch c.Kind {
		case kpath.RootDir:
			cur = fs.root
		case kpath.CurDir:
			// no-op
		case kpath.ParentDir:
			if back, ok := fs.crossOutOf(cur); ok {
				cur = back
				continue
			}
			pino, err := cur.Drv.Lookup(cur.Ino, "..")
			if err != 0 {
				return FileRef{}, err
			}
			cur = FileRef{Drv: cur.Drv, Ino: pino}
		case kpath.Normal:
			name := string(c.Name)
			ino, err := cur.Drv.Lookup(cur.Ino, name)
			if err != 0 {
				return FileRef{}, err
			}
			next := FileRef{Drv: cur.Drv, Ino: ino}
			info, err := fs.stat(next)
			if err != 0 {
				return FileRef{}, err
			}
			isLast := i == len(comps)-1
			if info.IsLink() && (!isLast || followLinks) {
				*budget--
				if *budget < 0 {
					return FileRef{}, -defs.ELOOP
				}
				target, err := next.Drv.Readlink(next.Ino)
				if err != 0 {
					return FileRef{}, err
				}
				tp, err := kpath.New([]byte(target))
				if err != 0 {
					return FileRef{}, err
				}
				base := cur
				if tp.IsAbsolute() {
					base = fs.root
				}
				rest := append(append([]kpath.Component{}, tp.Components()...), comps[i+1:]...)
				return fs.resolveComponents(rest, base, budget, followLinks)
			}
			cur = fs.crossInto(next)
		}
	}
	return cur, 0
}

// resolveParent resolves every component but the last (always
// following symlinks along the way, since only the leaf itself is ever
// left unfollowed) and returns the containing directory plus the leaf
// name, for operations that create or remove a single entry.
func (fs *FileSystem) resolveParent(path kpath.Path, cwd FileRef) (FileRef, string, defs.Err_t) {
	comps := path.Components()
	if len(comps) == 0 {
		return FileRef{}, "", -defs.ENOENT
	}
	last := comps[len(comps)-1]
	if last.Kind != kpath.Normal {
		return FileRef{}, "", -defs.EINVAL
	}
	start := cwd
	if path.IsAbsolute() {
		start = fs.root
	}
	budget := maxLinkTraversals
	dir, err := fs.resolveComponents(comps[:len(comps)-1], start, &budget, true)
	if err != 0 {
		return FileRef{}, "", err
	}
	return dir, string(last.Name), 0
}
