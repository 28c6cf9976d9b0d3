// Package smp brings up secondary cores: trampoline relocation,
// per-core stack allocation, and the INIT-SIPI-SIPI fan-out, per
// spec.md §4.2. Per-core accounting is grounded on
// biscuit/src/mem/mem.go's pcpuphys_t (there: a per-CPU free-list
// shard; here: a per-CPU stack-ownership record), and the parallel
// fan-out uses golang.org/x/sync/errgroup instead of a hand-rolled
// WaitGroup, mirroring how a service would fan out independent RPCs.
package smp

import "fmt"
import "time"

import "golang.org/x/sync/errgroup"

import "github.com/sirupsen/logrus"

import "github.com/galette-os/galette/src/apic"
import "github.com/galette-os/galette/src/arch"

// TrampolinePhysAddr is the fixed physical page the blob is relocated
// to, per spec.md §4.2.
const TrampolinePhysAddr = 0x8000

// StackPages is the per-core stack size in pages, per spec.md §4.2.
const StackPages = 8

const PageSize = 4096

// stacksPtrOffset/pageDirOffset are the byte offsets, inside the
// trampoline blob image, of the two symbols the bring-up sequence
// must publish before relocating: the stacks-array pointer and the
// kernel page-directory physical address.
const (
	stacksPtrOffset = 8
	pageDirOffset   = 16
)

// CPUDescriptor describes one entry from the MADT.
type CPUDescriptor struct {
	ApicID     uint32
	IsBSP      bool
	EnableCap  bool
}

// CoreStack records the stack allocated for one AP, leaked
// deliberately per spec.md §4.2 ("stacks are intentionally leaked").
type CoreStack struct {
	CPU   uint32
	Base  uintptr
	Pages int
}

// Bringup owns the multicore bring-up sequence for one boot.
type Bringup struct {
	prims  arch.Primitives
	apics  map[uint32]*apic.Apic_t
	log    *logrus.Entry
	sleep  func(apic.SleepDuration)
	Stacks []CoreStack
}

// New constructs a Bringup whose wait function really sleeps; SetSleep
// replaces it. Stack allocation is supplied per call to AllocateStacks
// and InitMulticore as allocFrame.
func New(prims arch.Primitives, apics map[uint32]*apic.Apic_t) *Bringup {
	return &Bringup{
		prims: prims,
		apics: apics,
		log:   logrus.WithField("component", "smp"),
		sleep: func(d apic.SleepDuration) {
			time.Sleep(time.Duration(d.Millis)*time.Millisecond + time.Duration(d.Micros)*time.Microsecond)
		},
	}
}

// SetSleep overrides the wait function, used by tests to avoid real
// delays.
func (b *Bringup) SetSleep(f func(apic.SleepDuration)) {
	b.sleep = f
}

// RelocateTrampoline publishes the stacks-array pointer and the
// kernel page-directory physical address into the blob image, then
// copies the blob to TrampolinePhysAddr.
func (b *Bringup) RelocateTrampoline(blob []byte, stacksPtr, pageDirPhys uintptr) []byte {
	img := append([]byte(nil), blob...)
	for len(img) < pageDirOffset+8 {
		img = append(img, 0)
	}
	putU64(img, stacksPtrOffset, uint64(stacksPtr))
	putU64(img, pageDirOffset, uint64(pageDirPhys))
	b.prims.WritePhys(TrampolinePhysAddr, img)
	return img
}

func putU64(b []byte, off int, v uint64) {
	for i := 0; i < 8; i++ {
		b[off+i] = byte(v >> (8 * i))
	}
}

// AllocateStacks assigns one StackPages-page stack per non-BSP core,
// via allocFrame, called once per such core, whose result is recorded as
// the base of that core's StackPages-page stack.
// Stacks are recorded but never freed, matching spec.md's leak-by-design
// note.
func (b *Bringup) AllocateStacks(cpus []CPUDescriptor, allocFrame func() uintptr) {
	for _, c := range cpus {
		if c.IsBSP {
			continue
		}
		base := allocFrame()
		b.Stacks = append(b.Stacks, CoreStack{CPU: c.ApicID, Base: base, Pages: StackPages})
	}
}

// InitMulticore performs the full bring-up: relocate the trampoline,
// allocate stacks, then start one errgroup goroutine per enable-capable
// non-BSP core to send it INIT-SIPI-SIPI. BringUpAP holds the BSP
// APIC's lock for a whole sequence, so the sequences themselves reach
// the ICR one after another.
func (b *Bringup) InitMulticore(cpus []CPUDescriptor, blob []byte, stacksPtr, pageDirPhys uintptr, allocFrame func() uintptr) error {
	b.RelocateTrampoline(blob, stacksPtr, pageDirPhys)
	b.AllocateStacks(cpus, allocFrame)

	var bsp *apic.Apic_t
	for _, c := range cpus {
		if c.IsBSP {
			bsp = b.apics[c.ApicID]
		}
	}
	if bsp == nil {
		return fmt.Errorf("smp: no BSP found in cpu list")
	}

	var g errgroup.Group
	for _, c := range cpus {
		c := c
		if c.IsBSP || !c.EnableCap {
			continue
		}
		g.Go(func() error {
			b.log.WithField("cpu", c.ApicID).Info("bringing up AP")
			bsp.BringUpAP(c.ApicID, TrampolinePhysAddr>>12, b.sleep)
			return nil
		})
	}
	return g.Wait()
}
