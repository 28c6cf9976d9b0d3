// Package bounds assigns a static worst-case resource cost to each
// call site that walks a user-copy loop, adapted from the call-site
// table implied by biscuit/src/vm/as.go and vm/userbuf.go (which call
// bounds.Bounds(bounds.B_ASPACE_T_K2USER_INNER) and similar before
// reserving from the res package).
package bounds

// Bound_t names a call site that consumes heap-reservation units.
type Bound_t int

const (
	B_ASPACE_T_K2USER_INNER Bound_t = iota
	B_ASPACE_T_USER2K_INNER
	B_ASPACE_T_USERREADN_INNER
	B_USERBUF_T__TX
	B_USERIOVEC_T_IOV_INIT
	B_USERIOVEC_T__TX
	B_VM_T_SYS_PGFAULT
	B_VM_T_PAGE_INSERT
	B_VFS_T_RESOLVE_STEP
	B_EXT2_T_BLOCK_RESOLVE
	B_NUM
)

// table holds the worst-case unit cost per site, derived from the
// largest single-copy chunk each site's loop body touches (one page
// per iteration for the user-copy paths, one block for filesystem
// paths).
var table = [B_NUM]int{
	B_ASPACE_T_K2USER_INNER:    1,
	B_ASPACE_T_USER2K_INNER:    1,
	B_ASPACE_T_USERREADN_INNER: 1,
	B_USERBUF_T__TX:            1,
	B_USERIOVEC_T_IOV_INIT:     1,
	B_USERIOVEC_T__TX:          1,
	B_VM_T_SYS_PGFAULT:         2,
	B_VM_T_PAGE_INSERT:         1,
	B_VFS_T_RESOLVE_STEP:       1,
	B_EXT2_T_BLOCK_RESOLVE:     2,
}

// Bounds returns the reservation size a call site requires.
func Bounds(b Bound_t) int {
	return table[b]
}
