// Package vm implements the per-process virtual address space: the
// gap/mapping partition, map/unmap, copy-on-write fork, and the
// page-fault state machine described in spec.md §4.3. The physical
// side is a refcounted frame allocator generalized from
// biscuit/src/mem/mem.go's Physmem_t, with the per-CPU free-list
// sharding dropped: a hosted []byte arena has no cache-line contention
// to shard away from. Each page is a fresh Go slice and one mutex
// guards the reference counts; there is no free list.
package vm

import "sync"

import "github.com/sirupsen/logrus"

import "github.com/galette-os/galette/src/defs"
import "github.com/galette-os/galette/src/limits"
import "github.com/galette-os/galette/src/oommsg"

// PGSHIFT/PGSIZE mirror biscuit/src/mem/mem.go's page geometry.
const PGSHIFT = 12
const PGSIZE = 1 << PGSHIFT

// PROCESS_END bounds the user portion of the address space; addresses
// at or above it are never returned by map() and always fault.
const PROCESS_END = uintptr(1) << 46

// Frame is a single physical page, refcounted so copy-on-write
// mappings can share one backing allocation until a write unshares it.
type Frame struct {
	Bytes []byte
	refs  int
}

// FrameAllocator owns the arena of physical pages available to user
// mappings. Refpg_new and friends hand back zeroed pages the way
// Physmem_t.Refpg_new did; reference counting is identical in spirit,
// just without the per-CPU list sharding.
type FrameAllocator struct {
	mu    sync.Mutex
	log   *logrus.Entry
	zero  *Frame
}

// NewFrameAllocator constructs an allocator. Its zero page is shared by every
// freshly-faulted anonymous read-only mapping, mirroring
// biscuit/src/mem/mem.go's P_zeropg/Zeropg singleton.
func NewFrameAllocator() *FrameAllocator {
	fa := &FrameAllocator{log: logrus.WithField("component", "vm.frame")}
	fa.zero = &Frame{Bytes: make([]byte, PGSIZE), refs: 1}
	return fa
}

// Zero returns the shared, read-only zero page.
func (fa *FrameAllocator) Zero() *Frame { return fa.zero }

// New allocates and zeroes a fresh page with one reference, counted
// against limits.Syslimit.Mfspgs the way biscuit/src/mem/mem.go's
// Refpg_new charged every fresh page against the system's page
// budget. Exhaustion is reported on oommsg.OomCh exactly as
// oommsg.Oommsg_t documents, so a running reclaim loop gets a chance
// to free pages and Resume the caller before New gives up with
// ENOMEM; with nobody listening on OomCh the send falls through
// immediately via select/default.
func (fa *FrameAllocator) New() (*Frame, defs.Err_t) {
	if !limits.Syslimit.Mfspgs.Take() {
		resume := make(chan bool)
		select {
		case oommsg.OomCh <- oommsg.Oommsg_t{Need: 1, Resume: resume}:
			<-resume
			if !limits.Syslimit.Mfspgs.Take() {
				return nil, -defs.ENOMEM
			}
		default:
			return nil, -defs.ENOMEM
		}
	}
	return &Frame{Bytes: make([]byte, PGSIZE), refs: 1}, 0
}

// Refup increments f's reference count, used when a COW mapping
// shares an existing frame instead of copying it.
func (fa *FrameAllocator) Refup(f *Frame) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	f.refs++
}

// Refdown decrements f's reference count and returns true once it
// reaches zero, matching Physmem_t.Refdown's return convention.
func (fa *FrameAllocator) Refdown(f *Frame) bool {
	if f == fa.zero {
		return false
	}
	fa.mu.Lock()
	defer fa.mu.Unlock()
	f.refs--
	if f.refs < 0 {
		panic("frame refcount underflow")
	}
	freed := f.refs == 0
	if freed {
		limits.Syslimit.Mfspgs.Give()
	}
	return freed
}

// Refcnt reports f's current reference count.
func (fa *FrameAllocator) Refcnt(f *Frame) int {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return f.refs
}

// Clone copies f into a fresh frame with one reference, used to
// unshare a copy-on-write page on a write fault.
func (fa *FrameAllocator) Clone(f *Frame) (*Frame, defs.Err_t) {
	nf, err := fa.New()
	if err != 0 {
		return nil, err
	}
	copy(nf.Bytes, f.Bytes)
	return nf, 0
}
