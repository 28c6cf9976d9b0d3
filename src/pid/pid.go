// Package pid hands out process identifiers from a dense bit set,
// grounded on biscuit/src/msi/msi.go's mutex-protected alloc/free map
// (there sized for eight MSI vectors; here sized for MAX_PID and
// backed by a bitset instead of a map since the id space is large and
// dense).
package pid

import "runtime"
import "sync"

import "github.com/sirupsen/logrus"

import "github.com/galette-os/galette/src/accnt"
import "github.com/galette-os/galette/src/limits"

// MAX_PID bounds the id space; PID 1 is reserved for init, matching
// spec.md §4.7 and §8's "first alloc returns 2" boundary.
const MAX_PID = 32768

// Pid_t is a process identifier.
type Pid_t int

// Allocator_t is a dense bitset PID allocator.
type Allocator_t struct {
	sync.Mutex
	bits  []uint64
	count int
	log   *logrus.Entry
}

// New returns an Allocator_t with PID 1 pre-reserved for init.
func New() *Allocator_t {
	a := &Allocator_t{
		bits: make([]uint64, (MAX_PID+63)/64),
		log:  logrus.WithField("component", "pid"),
	}
	a.setbit(1)
	return a
}

func (a *Allocator_t) setbit(p Pid_t) {
	a.bits[p/64] |= 1 << (uint(p) % 64)
}

func (a *Allocator_t) clearbit(p Pid_t) {
	a.bits[p/64] &^= 1 << (uint(p) % 64)
}

func (a *Allocator_t) testbit(p Pid_t) bool {
	return a.bits[p/64]&(1<<(uint(p)%64)) != 0
}

// Handle is a must-release PID lease: the caller owns it until Release
// is called. Dropping it without releasing leaks the id, mirroring
// spec.md §4.7's "#[must_use]-like contract"; since Go has no
// must-use enforcement, a finalizer logs the leak instead. Accnt
// accumulates the process's own CPU usage (biscuit/src/accnt/accnt.go's
// Accnt_t), which sysleaf's Getrusage reads through Rusage without a
// separate accounting table threaded through pid.
type Handle struct {
	Pid      Pid_t
	Accnt    accnt.Accnt_t
	alloc    *Allocator_t
	released bool
}

// Rusage returns the handle's accumulated CPU usage serialized as an
// rusage structure, suitable for copying to userspace.
func (h *Handle) Rusage() []uint8 {
	return h.Accnt.Fetch()
}

// Release frees the PID. It is idempotent.
func (h *Handle) Release() {
	if h.released {
		return
	}
	h.released = true
	runtime.SetFinalizer(h, nil)
	h.alloc.free(h.Pid)
}

// finalize runs if the GC collects a Handle that was never released,
// standing in for the must-use enforcement Go lacks at compile time.
func (h *Handle) finalize() {
	if h.released {
		return
	}
	h.alloc.log.Warnf("pid %d garbage-collected without Release", h.Pid)
}

// Alloc returns the lowest unused PID ≥ 2 as a must-release Handle.
// It fails once limits.Syslimit.Sysprocs outstanding PIDs are held,
// the same system-wide process cap biscuit/src/limits/limits.go's
// Syslimit_t.Sysprocs names.
func (a *Allocator_t) Alloc() (*Handle, bool) {
	a.Lock()
	defer a.Unlock()
	if a.count >= limits.Syslimit.Sysprocs {
		return nil, false
	}
	for wi, w := range a.bits {
		if w == ^uint64(0) {
			continue
		}
		for bi := 0; bi < 64; bi++ {
			p := Pid_t(wi*64 + bi)
			if p == 0 || int(p) >= MAX_PID {
				continue
			}
			if !a.testbit(p) {
				a.setbit(p)
				a.count++
				h := &Handle{Pid: p, alloc: a}
				runtime.SetFinalizer(h, (*Handle).finalize)
				return h, true
			}
		}
	}
	return nil, false
}

func (a *Allocator_t) free(p Pid_t) {
	a.Lock()
	defer a.Unlock()
	if p == 1 {
		panic("freeing reserved init pid")
	}
	if !a.testbit(p) {
		panic("double free of pid")
	}
	a.clearbit(p)
	a.count--
}

// Reserved reports whether p is PID 1, the permanently reserved init
// process id.
func Reserved(p Pid_t) bool {
	return p == 1
}
