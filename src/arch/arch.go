// Package arch defines the low-level x86 primitives the rest of the
// kernel is built on: port I/O, MSRs, control registers, CPUID, the
// timestamp counter, and the interrupt-mask flag. A real kernel issues
// these as bare instructions; this module targets hosted Go, so they
// are expressed as a consumed interface the way
// biscuit/src/mem/dmap.go consumes runtime.Cpuid/runtime.Rcr4/
// runtime.Vtop from a patched Go runtime, and biscuit/src/ufs/driver.go
// simulates an AHCI disk with an *os.File instead of MMIO. Primitives plays
// the role that patched runtime played there; Hosted plays the role
// ahci_disk_t played for disk I/O.
package arch

import "sync"

// Primitives is the contract every other component programs against
// instead of touching hardware directly.
type Primitives interface {
	// Inb/Outb/Inl/Outl perform port-mapped I/O.
	Inb(port uint16) uint8
	Outb(port uint16, v uint8)
	Inl(port uint16) uint32
	Outl(port uint16, v uint32)

	// Rdmsr/Wrmsr access model-specific registers, used by the APIC
	// base MSR and the x2APIC interface registers.
	Rdmsr(reg uint32) uint64
	Wrmsr(reg uint32, v uint64)

	// Control registers.
	Rcr0() uint64
	Rcr3() uint64
	Wcr3(v uint64)
	Rcr4() uint64

	// Cpuid returns eax/ebx/ecx/edx for the given leaf/subleaf.
	Cpuid(leaf, subleaf uint32) (uint32, uint32, uint32, uint32)

	// Rdtsc reads the timestamp counter.
	Rdtsc() uint64

	// IntrOff/IntrOn mask and unmask maskable interrupts on the
	// calling core (cli/sti), returning the prior state from IntrOff
	// so callers can nest correctly.
	IntrOff() bool
	IntrOn()

	// Halt executes hlt, returning once an interrupt wakes the core.
	Halt()

	// MMIORead32/MMIOWrite32 access a memory-mapped register, used by the
	// APIC and PCI BAR windows.
	MMIORead32(addr uintptr) uint32
	MMIOWrite32(addr uintptr, v uint32)

	// NumCPU reports the number of logical cores discovered at boot.
	NumCPU() int

	// WritePhys/ReadPhys access physical memory directly, used to
	// relocate the real-mode trampoline blob to a known physical page.
	WritePhys(addr uintptr, data []byte)
	ReadPhys(addr uintptr, n int) []byte

	// CPULoopReset transfers a parked application processor onto sp
	// and into its idle loop. Resolves the stack-reset open question
	// by using one generalized entry point rather than a separate
	// esp0-based variant: every core, BSP or AP, resets through the
	// same call shape.
	CPULoopReset(cpu int, sp uintptr, entry uintptr)

	// StartAP issues the INIT-SIPI-SIPI sequence to bring up cpu,
	// pointing it at the real-mode trampoline loaded at vector.
	StartAP(cpu int, vector uint8) error
}

// IntrMutex_t serializes access to a resource that is also touched
// from interrupt context, mirroring the teacher's pattern of pairing a
// sync.Mutex with explicit cli/sti around the critical section so an
// interrupt handler on the same core can never deadlock against
// itself.
type IntrMutex_t struct {
	mu sync.Mutex
	p  Primitives
}

// NewIntrMutex binds an IntrMutex_t to a Primitives implementation.
func NewIntrMutex(p Primitives) *IntrMutex_t {
	return &IntrMutex_t{p: p}
}

// Lock disables interrupts on this core before taking the lock.
func (m *IntrMutex_t) Lock() bool {
	en := m.p.IntrOff()
	m.mu.Lock()
	return en
}

// Unlock releases the lock and restores the interrupt state Lock
// reported.
func (m *IntrMutex_t) Unlock(wasEnabled bool) {
	m.mu.Unlock()
	if wasEnabled {
		m.p.IntrOn()
	}
}
