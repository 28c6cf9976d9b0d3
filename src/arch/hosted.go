package arch

import "sync"
import "sync/atomic"

import "github.com/sirupsen/logrus"

// Hosted implements Primitives entirely in Go state, the way
// biscuit/src/ufs/driver.go's ahci_disk_t answers AHCI commands with
// os.File reads instead of real disk DMA. Ports, MSRs, and MMIO
// registers are backed by maps; interrupts are a plain flag; Rdtsc is
// a monotonically increasing counter rather than the real TSC.
type Hosted struct {
	mu       sync.Mutex
	ports8   map[uint16]uint8
	ports32  map[uint16]uint32
	msrs     map[uint32]uint64
	mmio     map[uintptr]uint32
	intrsOn  atomic.Bool
	tsc      atomic.Uint64
	ncpu     int
	log      *logrus.Entry
	apState  map[int]apStatus
	phys     map[uintptr][]byte
}

type apStatus int

const (
	apParked apStatus = iota
	apStarted
)

// NewHosted constructs a Hosted arch backend with ncpu logical cores,
// all interrupts enabled, matching the post-boot state a real machine
// hands the kernel.
func NewHosted(ncpu int, log *logrus.Logger) *Hosted {
	h := &Hosted{
		ports8:  make(map[uint16]uint8),
		ports32: make(map[uint16]uint32),
		msrs:    make(map[uint32]uint64),
		mmio:    make(map[uintptr]uint32),
		ncpu:    ncpu,
		apState: make(map[int]apStatus),
		phys:    make(map[uintptr][]byte),
	}
	h.intrsOn.Store(true)
	if log == nil {
		log = logrus.StandardLogger()
	}
	h.log = log.WithField("component", "arch")
	for i := 1; i < ncpu; i++ {
		h.apState[i] = apParked
	}
	return h
}

func (h *Hosted) Inb(port uint16) uint8 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ports8[port]
}

func (h *Hosted) Outb(port uint16, v uint8) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ports8[port] = v
}

func (h *Hosted) Inl(port uint16) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ports32[port]
}

func (h *Hosted) Outl(port uint16, v uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ports32[port] = v
}

func (h *Hosted) Rdmsr(reg uint32) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.msrs[reg]
}

func (h *Hosted) Wrmsr(reg uint32, v uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msrs[reg] = v
}

func (h *Hosted) Rcr0() uint64 { return 0x80000011 } // PG|ET|PE set
func (h *Hosted) Rcr3() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.msrs[0xcccc0003]
}
func (h *Hosted) Wcr3(v uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msrs[0xcccc0003] = v
}
func (h *Hosted) Rcr4() uint64 { return 1 << 7 } // PGE set, matches dmap_init's global-page check

// Cpuid answers with enough structure for the APIC/SMP bring-up path
// to believe it is running on real hardware: leaf 1 reports an APIC
// id and the global-page/x2APIC feature bits, leaf 0x80000001 reports
// 1GB pages unsupported (forces the 2MB-page dmap path, exercising
// both branches across the corpus of callers).
func (h *Hosted) Cpuid(leaf, subleaf uint32) (uint32, uint32, uint32, uint32) {
	switch leaf {
	case 0x1:
		return 0, uint32(h.ncpu) << 16, 1 << 21, 1<<13 | 1<<9 // ecx: x2APIC, edx: PGE|APIC
	case 0x80000001:
		return 0, 0, 0, 0
	default:
		return 0, 0, 0, 0
	}
}

func (h *Hosted) Rdtsc() uint64 {
	return h.tsc.Add(1000)
}

func (h *Hosted) IntrOff() bool {
	return h.intrsOn.Swap(false)
}

func (h *Hosted) IntrOn() {
	h.intrsOn.Store(true)
}

func (h *Hosted) Halt() {
	// hosted mode has no idle wakeup source; yield is sufficient since
	// callers only use Halt inside a loop that rechecks a condition.
}

func (h *Hosted) MMIORead32(addr uintptr) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mmio[addr]
}

func (h *Hosted) MMIOWrite32(addr uintptr, v uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mmio[addr] = v
	h.log.WithField("addr", addr).WithField("value", v).Trace("mmio write")
}

func (h *Hosted) NumCPU() int {
	return h.ncpu
}

func (h *Hosted) WritePhys(addr uintptr, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	h.phys[addr] = cp
	h.log.WithField("addr", addr).WithField("len", len(data)).Debug("phys write")
}

func (h *Hosted) ReadPhys(addr uintptr, n int) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.phys[addr]
	if !ok {
		return make([]byte, n)
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (h *Hosted) CPULoopReset(cpu int, sp uintptr, entry uintptr) {
	h.mu.Lock()
	h.apState[cpu] = apStarted
	h.mu.Unlock()
	h.log.WithField("cpu", cpu).WithField("sp", sp).WithField("entry", entry).
		Debug("cpu loop reset")
}

func (h *Hosted) StartAP(cpu int, vector uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cpu <= 0 || cpu >= h.ncpu {
		return errBadCPU
	}
	h.apState[cpu] = apStarted
	h.log.WithField("cpu", cpu).WithField("vector", vector).Info("init-sipi-sipi")
	return nil
}
