// Package vfs implements path resolution, mount crossing, and the
// open/stat/mkdir/link/unlink/symlink/chown/chmod/mknod operation set
// on top of a storage driver, generalizing biscuit/src/ufs/ufs.go's
// thin Ufs_t wrapper (which called into a Fs_t this pack never
// retrieved) into a resolver that does its own component walk over
// kpath.Path instead of delegating to an unseen Fs_open.
package vfs

// AccessProfile is the {uid, gid, supplementary_gids, privileged_flag}
// tuple every operation is parameterized by, per spec.md §4.4.
type AccessProfile struct {
	Uid        uint
	Gid        uint
	Groups     []uint
	Privileged bool
}

// Permission bits an access check evaluates, matching the classical
// rwx ordering of a Unix mode word.
const (
	PermRead  = 0x4
	PermWrite = 0x2
	PermExec  = 0x1
)

func (ap AccessProfile) inGroup(g uint) bool {
	if ap.Gid == g {
		return true
	}
	for _, s := range ap.Groups {
		if s == g {
			return true
		}
	}
	return false
}

// Check evaluates whether ap may perform want against a node owned by
// (ownerUid, ownerGid) with the given 12-bit mode, following classical
// owner -> group -> other bit selection. A privileged profile always
// passes.
func (ap AccessProfile) Check(mode uint16, ownerUid, ownerGid uint, want uint) bool {
	if ap.Privileged {
		return true
	}
	var bits uint
	switch {
	case ap.Uid == ownerUid:
		bits = uint(mode>>6) & 0x7
	case ap.inGroup(ownerGid):
		bits = uint(mode>>3) & 0x7
	default:
		bits = uint(mode) & 0x7
	}
	return bits&want == want
}

// CanChown reports whether ap may change a node's owner; only a
// privileged profile may, per spec.md §4.4's chown row.
func (ap AccessProfile) CanChown() bool { return ap.Privileged }

// CanChmodOrChown reports whether ap owns the node or is privileged,
// the test Chmod applies; Chown uses the stricter CanChown.
func (ap AccessProfile) CanChmodOrChown(ownerUid uint) bool {
	return ap.Privileged || ap.Uid == ownerUid
}
