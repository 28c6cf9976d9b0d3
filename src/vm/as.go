package vm

import "sort"
import "sync"

import "github.com/sirupsen/logrus"

import "github.com/galette-os/galette/src/bounds"
import "github.com/galette-os/galette/src/defs"
import "github.com/galette-os/galette/src/fdops"
import "github.com/galette-os/galette/src/res"
import "github.com/galette-os/galette/src/util"

// Constraint picks where Map places a new mapping, per spec.md §4.3.
type Constraint struct {
	kind constraintKind
	addr uintptr
}

type constraintKind int

const (
	cNone constraintKind = iota
	cHint
	cFixed
)

// Fixed requires the mapping to land at exactly addr.
func Fixed(addr uintptr) Constraint { return Constraint{cFixed, addr} }

// Hint prefers addr but tolerates the resolver picking elsewhere.
func Hint(addr uintptr) Constraint { return Constraint{cHint, addr} }

// None leaves the placement entirely to the resolver.
func None() Constraint { return Constraint{kind: cNone} }

// MapFlags describes the permissions and sharing mode of a mapping.
type MapFlags uint

const (
	FlagWrite MapFlags = 1 << iota
	FlagShared
)

// FileBacking ties a mapping to an open file-descriptor backend, read
// a page at a time on first fault.
type FileBacking struct {
	Fops   fdops.Fdops_i
	Offset int
}

type memGap struct {
	base  uintptr
	pages int
}

type pte_t struct {
	frame    *Frame
	present  bool
	writable bool
	cow      bool
}

type mapping struct {
	base  uintptr
	pages int
	flags MapFlags
	file  *FileBacking
	ptes  map[int]*pte_t
}

func (m *mapping) end() uintptr { return m.base + uintptr(m.pages)*PGSIZE }

// AddressSpace is one process's virtual memory: an ordered partition
// of [0, PROCESS_END) into gaps and mappings, generalized from
// biscuit/src/vm/as.go's Vm_t/Vmregion_t. There is no real page table
// to walk; the partition itself is the authority, and ptes record
// per-page frame bindings lazily, populated on first fault exactly as
// Sys_pgfault did there.
type AddressSpace struct {
	sync.Mutex
	gaps   []*memGap
	maps   []*mapping
	frames *FrameAllocator
	log    *logrus.Entry
}

// New creates an address space that is entirely one gap.
func New(frames *FrameAllocator) *AddressSpace {
	return &AddressSpace{
		gaps:   []*memGap{{base: 0, pages: int(PROCESS_END >> PGSHIFT)}},
		frames: frames,
		log:    logrus.WithField("component", "vm"),
	}
}

func pageAlign(v uintptr) uintptr { return v &^ (PGSIZE - 1) }

// Map allocates pages pages of address space per the constraint and
// records the mapping, splitting the chosen gap into up to two
// residual gaps (zero-length residuals are dropped), per spec.md §4.3.
func (as *AddressSpace) Map(c Constraint, pages int, flags MapFlags, file *FileBacking) (uintptr, defs.Err_t) {
	if pages <= 0 {
		panic("bad page count")
	}
	as.Lock()
	defer as.Unlock()

	idx, base, ok := as.findGap(c, pages)
	if !ok {
		return 0, -defs.ENOMEM
	}
	as.splitGap(idx, base, pages)

	m := &mapping{base: base, pages: pages, flags: flags, file: file, ptes: make(map[int]*pte_t)}
	as.insertMapping(m)
	return base, 0
}

func (as *AddressSpace) findGap(c Constraint, pages int) (int, uintptr, bool) {
	need := uintptr(pages) * PGSIZE

	switch c.kind {
	case cFixed:
		want := pageAlign(c.addr)
		for i, g := range as.gaps {
			gbase, gend := g.base, g.base+uintptr(g.pages)*PGSIZE
			if want >= gbase && want+need <= gend {
				return i, want, true
			}
		}
		return 0, 0, false
	case cHint:
		want := pageAlign(c.addr)
		for i, g := range as.gaps {
			gbase, gend := g.base, g.base+uintptr(g.pages)*PGSIZE
			if want >= gbase && want < gend && want+need <= gend {
				return i, want, true
			}
		}
		// falls back to None below, matching the caller retry policy
		// spec.md §4.3 describes at the resolver boundary.
		fallthrough
	default:
		for i, g := range as.gaps {
			if uintptr(g.pages)*PGSIZE >= need {
				return i, g.base, true
			}
		}
		return 0, 0, false
	}
}

// splitGap removes the gap at idx and reinserts the residual gaps left
// after carving [base, base+pages) out of it.
func (as *AddressSpace) splitGap(idx int, base uintptr, pages int) {
	g := as.gaps[idx]
	gend := g.base + uintptr(g.pages)*PGSIZE
	allocEnd := base + uintptr(pages)*PGSIZE

	as.gaps = append(as.gaps[:idx], as.gaps[idx+1:]...)
	if before := base - g.base; before > 0 {
		as.gaps = append(as.gaps, &memGap{base: g.base, pages: int(before / PGSIZE)})
	}
	if after := gend - allocEnd; after > 0 {
		as.gaps = append(as.gaps, &memGap{base: allocEnd, pages: int(after / PGSIZE)})
	}
	sort.Slice(as.gaps, func(i, j int) bool { return as.gaps[i].base < as.gaps[j].base })
}

func (as *AddressSpace) insertMapping(m *mapping) {
	as.maps = append(as.maps, m)
	sort.Slice(as.maps, func(i, j int) bool { return as.maps[i].base < as.maps[j].base })
}

func (as *AddressSpace) mappingAt(addr uintptr) (*mapping, bool) {
	for _, m := range as.maps {
		if addr >= m.base && addr < m.end() {
			return m, true
		}
	}
	return nil, false
}

// Unmap releases [addr, addr+pages*PGSIZE), splitting any mapping that
// straddles a boundary, dropping every frame reference in the freed
// range, and merging the new gap with its neighbors, per spec.md
// §4.3's freeing rules.
func (as *AddressSpace) Unmap(addr uintptr, pages int) defs.Err_t {
	as.Lock()
	defer as.Unlock()

	start := pageAlign(addr)
	end := start + uintptr(pages)*PGSIZE

	var kept []*mapping
	for _, m := range as.maps {
		if m.end() <= start || m.base >= end {
			kept = append(kept, m)
			continue
		}
		if m.base < start {
			kept = append(kept, as.truncateMapping(m, m.base, start))
		}
		as.dropPtesInRange(m, util.Max(m.base, start), util.Min(m.end(), end))
		if m.end() > end {
			kept = append(kept, as.truncateMapping(m, end, m.end()))
		}
	}
	as.maps = kept

	as.gaps = append(as.gaps, &memGap{base: start, pages: pages})
	sort.Slice(as.gaps, func(i, j int) bool { return as.gaps[i].base < as.gaps[j].base })
	as.mergeGaps()
	return 0
}

// truncateMapping returns a new mapping covering [newBase, newEnd) of
// m, carrying over only the ptes that still fall within the new range.
func (as *AddressSpace) truncateMapping(m *mapping, newBase, newEnd uintptr) *mapping {
	nm := &mapping{
		base:  newBase,
		pages: int((newEnd - newBase) / PGSIZE),
		flags: m.flags,
		file:  m.file,
		ptes:  make(map[int]*pte_t),
	}
	for idx, p := range m.ptes {
		va := m.base + uintptr(idx)*PGSIZE
		if va >= newBase && va < newEnd {
			nm.ptes[int((va-newBase)/PGSIZE)] = p
		}
	}
	return nm
}

func (as *AddressSpace) dropPtesInRange(m *mapping, from, to uintptr) {
	for idx, p := range m.ptes {
		va := m.base + uintptr(idx)*PGSIZE
		if va >= from && va < to {
			as.frames.Refdown(p.frame)
		}
	}
}

func (as *AddressSpace) mergeGaps() {
	if len(as.gaps) == 0 {
		return
	}
	merged := as.gaps[:1]
	for _, g := range as.gaps[1:] {
		last := merged[len(merged)-1]
		if last.base+uintptr(last.pages)*PGSIZE == g.base {
			last.pages += g.pages
		} else {
			merged = append(merged, g)
		}
	}
	as.gaps = merged
}

// Fork builds a child address space sharing every mapping's frames
// with the parent. Writable private mappings are marked copy-on-write
// in both spaces, per spec.md §4.3; shared mappings keep their write
// permission directly since there is nothing to unshare.
func (as *AddressSpace) Fork() *AddressSpace {
	as.Lock()
	defer as.Unlock()

	child := &AddressSpace{frames: as.frames, log: as.log}
	for _, g := range as.gaps {
		child.gaps = append(child.gaps, &memGap{base: g.base, pages: g.pages})
	}
	for _, m := range as.maps {
		cm := &mapping{base: m.base, pages: m.pages, flags: m.flags, file: m.file, ptes: make(map[int]*pte_t)}
		private := m.flags&FlagWrite != 0 && m.flags&FlagShared == 0
		for idx, p := range m.ptes {
			if private && p.present {
				p.writable = false
				p.cow = true
			}
			as.frames.Refup(p.frame)
			np := *p
			cm.ptes[idx] = &np
		}
		child.maps = append(child.maps, cm)
	}
	return child
}

// PageFault resolves a fault at addr, per spec.md §4.3's three cases:
// delivering SIGSEGV for a gap (translated to EFAULT here; the process
// layer is responsible for turning that into a signal), unsharing a
// COW page on a write fault, and demand-paging a file-backed mapping.
func (as *AddressSpace) PageFault(addr uintptr, write bool) defs.Err_t {
	as.Lock()
	defer as.Unlock()

	m, ok := as.mappingAt(addr)
	if !ok {
		return -defs.EFAULT
	}
	if write && m.flags&FlagWrite == 0 {
		return -defs.EFAULT
	}

	idx := int((pageAlign(addr) - m.base) / PGSIZE)
	p, faulted := m.ptes[idx]
	if faulted && p.present {
		if write && p.cow {
			return as.unshare(p)
		}
		// already resolved; two threads raced on the same fault.
		return 0
	}

	var np *pte_t
	var err defs.Err_t
	if m.file != nil {
		np, err = as.faultFile(m, idx, write)
	} else {
		np, err = as.faultAnon(write)
	}
	if err != 0 {
		return err
	}
	m.ptes[idx] = np
	return 0
}

func (as *AddressSpace) unshare(p *pte_t) defs.Err_t {
	if as.frames.Refcnt(p.frame) == 1 {
		p.cow = false
		p.writable = true
		return 0
	}
	nf, err := as.frames.Clone(p.frame)
	if err != 0 {
		return err
	}
	as.frames.Refdown(p.frame)
	p.frame = nf
	p.cow = false
	p.writable = true
	return 0
}

func (as *AddressSpace) faultAnon(write bool) (*pte_t, defs.Err_t) {
	if !write {
		as.frames.Refup(as.frames.Zero())
		return &pte_t{frame: as.frames.Zero(), present: true, writable: false, cow: false}, 0
	}
	f, err := as.frames.New()
	if err != 0 {
		return nil, err
	}
	return &pte_t{frame: f, present: true, writable: true}, 0
}

func (as *AddressSpace) faultFile(m *mapping, idx int, write bool) (*pte_t, defs.Err_t) {
	va := m.base + uintptr(idx)*PGSIZE
	off := util.Rounddown(m.file.Offset+int(va-m.base), PGSIZE)
	if _, err := m.file.Fops.Lseek(off, fdops.SEEK_SET); err != 0 {
		return nil, err
	}
	f, err := as.frames.New()
	if err != 0 {
		return nil, err
	}
	fb := &Fakeubuf_t{}
	fb.Fake_init(f.Bytes)
	if _, err := m.file.Fops.Read(fb); err != 0 {
		return nil, err
	}
	shared := m.flags&FlagShared != 0
	return &pte_t{frame: f, present: true, writable: write || (shared && m.flags&FlagWrite != 0), cow: !shared}, 0
}

// resolvePage returns the byte slice backing addr, faulting the page
// in first if necessary. Callers must hold as.Lock.
func (as *AddressSpace) resolvePage(addr uintptr, write bool) ([]byte, defs.Err_t) {
	m, ok := as.mappingAt(addr)
	if !ok {
		return nil, -defs.EFAULT
	}
	idx := int((pageAlign(addr) - m.base) / PGSIZE)
	p, ok := m.ptes[idx]
	if !ok || !p.present || (write && p.cow) || (write && !p.writable) {
		as.Unlock()
		err := as.PageFault(addr, write)
		as.Lock()
		if err != 0 {
			return nil, err
		}
		p = m.ptes[idx]
	}
	voff := int(addr) & (PGSIZE - 1)
	return p.frame.Bytes[voff:], 0
}

// CopyToUser copies src into the address space starting at uva,
// generalizing biscuit/src/vm/as.go's K2user_inner; each page-sized
// chunk is throttled through the reservation pool exactly as there.
func (as *AddressSpace) CopyToUser(src []uint8, uva uintptr) defs.Err_t {
	as.Lock()
	defer as.Unlock()
	for len(src) != 0 {
		if !res.Resadd_noblock(bounds.Bounds(bounds.B_ASPACE_T_K2USER_INNER)) {
			return -defs.ENOHEAP
		}
		dst, err := as.resolvePage(uva, true)
		if err != 0 {
			return err
		}
		n := copy(dst, src)
		src = src[n:]
		uva += uintptr(n)
	}
	return 0
}

// CopyFromUser copies from the address space starting at uva into
// dst, generalizing User2k_inner.
func (as *AddressSpace) CopyFromUser(dst []uint8, uva uintptr) defs.Err_t {
	as.Lock()
	defer as.Unlock()
	for len(dst) != 0 {
		if !res.Resadd_noblock(bounds.Bounds(bounds.B_ASPACE_T_USER2K_INNER)) {
			return -defs.ENOHEAP
		}
		src, err := as.resolvePage(uva, false)
		if err != 0 {
			return err
		}
		n := copy(dst, src)
		dst = dst[n:]
		uva += uintptr(n)
	}
	return 0
}
