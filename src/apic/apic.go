// Package apic implements local APIC control: enable sequence, IPI
// send, and timer programming, per spec.md §4.2. MMIO access is
// grounded on biscuit/src/mem/dmap.go's typed, alignment-checked
// accessor style (there: page-table entries over the direct map;
// here: 32-bit APIC registers over a physically-mapped base supplied
// by arch.Primitives.MMIORead32/MMIOWrite32).
package apic

import "sync"

import "github.com/sirupsen/logrus"

import "github.com/galette-os/galette/src/arch"

// Register byte offsets within the APIC MMIO window.
const (
	REG_EOI        = 0xb0
	REG_SIV        = 0xf0
	REG_ERR_STATUS = 0x280
	REG_ICR0       = 0x300
	REG_ICR1       = 0x310
	REG_LVT_TIMER  = 0x320
	REG_ICR        = 0x380
	REG_DCR        = 0x3e0
)

const apicBaseMSR = 0x1b

// Dest selects an IPI destination.
type Dest struct {
	kind destKind
	id   uint32
}

type destKind int

const (
	destNumber destKind = iota
	destSelf
	destAllIncl
	destAllExcl
)

func Number(id uint32) Dest { return Dest{kind: destNumber, id: id} }
func Self() Dest            { return Dest{kind: destSelf} }
func AllIncl() Dest         { return Dest{kind: destAllIncl} }
func AllExcl() Dest         { return Dest{kind: destAllExcl} }

// Apic_t is per-core local APIC state.
type Apic_t struct {
	sync.Mutex
	Id      uint32
	Enabled bool
	base    uintptr
	prims   arch.Primitives
	log     *logrus.Entry
}

// New constructs an Apic_t for the given core id, deriving its MMIO
// base from the APIC_BASE MSR (upper address bits) as spec.md §4.2
// mandates.
func New(prims arch.Primitives, id uint32) *Apic_t {
	raw := prims.Rdmsr(apicBaseMSR)
	base := uintptr(raw &^ 0xfff)
	return &Apic_t{
		Id:    id,
		base:  base,
		prims: prims,
		log:   logrus.WithField("component", "apic").WithField("id", id),
	}
}

func (a *Apic_t) read(off uintptr) uint32 {
	return a.prims.MMIORead32(a.base + off)
}

func (a *Apic_t) write(off uintptr, v uint32) {
	a.prims.MMIOWrite32(a.base+off, v)
}

// Enable performs the enable sequence: set the APIC_BASE enable bit,
// then set SIV bit 8. It is a no-op on a core other than the owning
// one, per spec.md's "APIC.id == current_core_id() precondition".
func (a *Apic_t) Enable(currentCoreID uint32) bool {
	if a.Id != currentCoreID {
		return false
	}
	a.Lock()
	defer a.Unlock()

	raw := a.prims.Rdmsr(apicBaseMSR)
	raw |= 1 << 11
	a.prims.Wrmsr(apicBaseMSR, raw)

	siv := a.read(REG_SIV)
	siv |= 1 << 8
	a.write(REG_SIV, siv)

	a.Enabled = true
	a.log.Info("apic enabled")
	return true
}

// EOI acknowledges the current interrupt to this APIC.
func (a *Apic_t) EOI() {
	a.write(REG_EOI, 0)
}

// SendIPI implements spec.md §4.2's three-step IPI send: write the
// destination field, write ICR0 with the shorthand/vector, then poll
// the delivery-pending bit.
func (a *Apic_t) SendIPI(vector uint8, dest Dest) {
	a.Lock()
	defer a.Unlock()

	destID := uint32(0)
	if dest.kind == destNumber {
		destID = dest.id
	}
	icr1 := a.read(REG_ICR1)
	icr1 = (icr1 &^ (0xff << 24)) | (destID << 24)
	a.write(REG_ICR1, icr1)

	icr0 := uint32(vector)
	switch dest.kind {
	case destSelf:
		icr0 |= 1 << 18
	case destAllIncl:
		icr0 |= 2 << 18
	case destAllExcl:
		icr0 |= 3 << 18
	}
	a.write(REG_ICR0, icr0)
	a.waitDelivery()
}

func (a *Apic_t) waitDelivery() {
	for a.read(REG_ICR0)&(1<<12) != 0 {
	}
}

// clearErr clears the APIC error-status register, the first step of
// the secondary-core bring-up sequence.
func (a *Apic_t) clearErr() {
	a.write(REG_ERR_STATUS, 0)
}

// BringUpAP performs the INIT-deassert-SIPI-SIPI sequence against the
// AP identified by destID, exactly as spec.md §4.2 prescribes, with
// sleeps abstracted into the sleep callback so callers control wall
// time (production: real delay; tests: no-op).
func (a *Apic_t) BringUpAP(destID uint32, trampolinePage uint8, sleep func(d SleepDuration)) {
	a.Lock()
	defer a.Unlock()

	dest := Number(destID)

	a.clearErr()
	a.sendRaw(0xC500, dest)
	a.waitDelivery()

	a.sendRaw(0x8500, dest)
	a.waitDelivery()

	sleep(SleepDuration{Millis: 10})

	for i := 0; i < 2; i++ {
		a.clearErr()
		sipi := uint32(0x000608) | uint32(trampolinePage)
		a.sendRaw(sipi, dest)
		sleep(SleepDuration{Micros: 200})
		a.waitDelivery()
	}
}

func (a *Apic_t) sendRaw(icr0Low uint32, dest Dest) {
	destID := uint32(0)
	if dest.kind == destNumber {
		destID = dest.id
	}
	icr1 := a.read(REG_ICR1)
	icr1 = (icr1 &^ (0xff << 24)) | (destID << 24)
	a.write(REG_ICR1, icr1)
	a.write(REG_ICR0, icr0Low)
}

// SleepDuration lets callers express a wait without importing time
// into the register-programming hot path.
type SleepDuration struct {
	Millis int
	Micros int
}

// ProgramTimer converts a requested frequency into the (divider,
// count) pair spec.md §4.2 describes and programs DCR, the initial
// count register, and LVT_TIMER. crystalHz is the core crystal
// frequency discovered via CPUID.
func (a *Apic_t) ProgramTimer(vector uint8, periodic bool, crystalHz uint64, fReq uint64) {
	a.Lock()
	defer a.Unlock()

	if fReq == 0 {
		fReq = 1
	}
	count := crystalHz / fReq
	divBits := trailingZeroBitsCapped(count, 7)
	divEncoding := divEncodingTable[divBits]
	count >>= divBits

	a.write(REG_DCR, divEncoding)
	// Initial count goes to the Initial Count Register (ICR, offset
	// 0x380), not DCR: one retrieved draft wrote the count to DCR,
	// which spec.md's design notes flag as a bug to not repeat.
	a.write(REG_ICR, uint32(count))

	lvt := uint32(vector)
	if periodic {
		lvt |= 1 << 17
	}
	a.write(REG_LVT_TIMER, lvt)
}

// divEncodingTable maps extracted trailing-zero-bit counts (0..7) to
// the DCR divider encoding spec.md §4.2 specifies.
var divEncodingTable = [8]uint32{0b111, 0b000, 0b001, 0b010, 0b011, 0b100, 0b101, 0b110}

// trailingZeroBitsCapped counts trailing zero bits of count, up to max.
func trailingZeroBitsCapped(count uint64, max uint) uint {
	bits := uint(0)
	for bits < max && count&1 == 0 && count > 1 {
		count >>= 1
		bits++
	}
	return bits
}
