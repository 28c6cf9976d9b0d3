// Package intr implements the interrupt/event dispatcher: per-vector
// ordered callback chains with well-defined post-handler actions,
// grounded on biscuit's interrupt-masking mutex pattern (arch.IntrMutex_t,
// itself adapted from the style of biscuit/src/mem/dmap.go's
// runtime-consumed primitives) and on biscuit/src/circbuf/circbuf.go
// for the entropy feed. CallbackHook identity uses google/uuid since
// Go has no RAII drop: the teacher's "dropping the CallbackHook"
// contract becomes an explicit Unregister call here.
package intr

import "fmt"
import "sync"

import "github.com/google/uuid"
import "github.com/pkg/errors"
import "github.com/sirupsen/logrus"

import "github.com/galette-os/galette/src/arch"
import "github.com/galette-os/galette/src/caller"
import "github.com/galette-os/galette/src/circbuf"
import "github.com/galette-os/galette/src/defs"
import "github.com/galette-os/galette/src/stats"

// EXCEPTION_COUNT is the number of architecture-defined exception
// vectors preceding the IRQ range.
const EXCEPTION_COUNT = 32

// ENTRIES_COUNT is the total number of IDT vectors.
const ENTRIES_COUNT = 256

// Result is what a callback reports back to the dispatcher.
type Result int

const (
	Continue Result = iota
	Idle
	Panic
)

// Regs is a snapshot of the saved register file at interrupt entry.
// Only the fields interrupt dispatch itself needs are modeled; the
// rest of the kernel receives the same pointer and may interpret
// further bytes via its own view.
type Regs struct {
	Raw [32]uint64
}

// Callback is invoked once per registered hook, in registration
// order, for every interrupt on its vector.
type Callback func(vector int, errcode uint64, regs *Regs, prevRing int) Result

// CallbackHook is the handle returned by Register. Unregister removes
// the callback from its chain; it is idempotent, mirroring
// spec.md's "unregistration never fails".
type CallbackHook struct {
	vector int
	id     uuid.UUID
	disp   *Dispatcher
}

// Unregister removes the callback this hook refers to.
func (h *CallbackHook) Unregister() {
	h.disp.unregister(h.vector, h.id)
}

type entry_t struct {
	id uuid.UUID
	cb Callback
}

type chain_t struct {
	mu      *arch.IntrMutex_t
	entries []entry_t
	plain   sync.Mutex // serializes entries slice mutation; the intr-mutex guards dispatch itself
}

// Dispatcher owns the per-vector callback chains and routes dispatched
// interrupts into them.
type Dispatcher struct {
	chains  [ENTRIES_COUNT]*chain_t
	entropy *circbuf.Circbuf_t
	eoi     func(irq int)
	resetSP func()
	prims   arch.Primitives
	log     *logrus.Entry
}

// exceptionNames is the fixed 32-entry exception name table; unknown
// (reserved) slots render as "Unknown" per spec.md §4.1.
var exceptionNames = [EXCEPTION_COUNT]string{
	0:  "Divide-by-zero Error",
	1:  "Debug",
	2:  "Non-Maskable Interrupt",
	3:  "Breakpoint",
	4:  "Overflow",
	5:  "Bound Range Exceeded",
	6:  "Invalid Opcode",
	7:  "Device Not Available",
	8:  "Double Fault",
	9:  "Coprocessor Segment Overrun",
	10: "Invalid TSS",
	11: "Segment Not Present",
	12: "Stack-Segment Fault",
	13: "General Protection Fault",
	14: "Page Fault",
	16: "x87 Floating-Point Exception",
	17: "Alignment Check",
	18: "Machine Check",
	19: "SIMD Floating-Point Exception",
	20: "Virtualization Exception",
	30: "Security Exception",
}

// panicPaths recognizes repeat occurrences of the same fatal call
// chain, adapted from biscuit/src/caller/caller.go's
// Distinct_caller_t, so a handler that panics on every interrupt of a
// given vector logs its stack trace once instead of flooding the log.
var panicPaths = &caller.Distinct_caller_t{Enabled: true}

// ExceptionName returns the human-readable name for exception vector
// v, or "Unknown" if v is unassigned or out of range.
func ExceptionName(v int) string {
	if v < 0 || v >= EXCEPTION_COUNT {
		return "Unknown"
	}
	if n := exceptionNames[v]; n != "" {
		return n
	}
	return "Unknown"
}

// New constructs a Dispatcher. eoi is invoked with the IRQ number
// (vector - EXCEPTION_COUNT) when a callback returns Idle for an IRQ
// vector; resetSP resets the kernel stack pointer to the TSS's kernel
// stack before entering the halt loop.
func New(prims arch.Primitives, eoi func(irq int), resetSP func()) *Dispatcher {
	d := &Dispatcher{
		prims:   prims,
		eoi:     eoi,
		resetSP: resetSP,
		log:     logrus.WithField("component", "intr"),
	}
	for i := range d.chains {
		d.chains[i] = &chain_t{mu: arch.NewIntrMutex(prims)}
	}
	cb := &circbuf.Circbuf_t{}
	cb.Cb_init(circbuf.MaxBufsz)
	d.entropy = cb
	return d
}

// Register appends callback to the tail of vector's chain. It returns
// a non-nil "out of range" error for a vector outside [0, ENTRIES_COUNT).
func (d *Dispatcher) Register(vector int, cb Callback) (*CallbackHook, error) {
	if vector < 0 || vector >= ENTRIES_COUNT {
		return nil, errors.Errorf("intr: vector %d out of range", vector)
	}
	id := uuid.New()
	c := d.chains[vector]
	c.plain.Lock()
	c.entries = append(c.entries, entry_t{id: id, cb: cb})
	c.plain.Unlock()
	return &CallbackHook{vector: vector, id: id, disp: d}, nil
}

func (d *Dispatcher) unregister(vector int, id uuid.UUID) {
	c := d.chains[vector]
	c.plain.Lock()
	defer c.plain.Unlock()
	for i, e := range c.entries {
		if e.id == id {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			return
		}
	}
	// missing entries are tolerated: unregistration never fails.
}

// Dispatch routes one interrupt occurrence through vector v's chain.
// It implements spec.md §4.1's feed/acquire/iterate/act sequence.
func (d *Dispatcher) Dispatch(v int, errcode uint64, regs *Regs, prevRing int) {
	d.feedEntropy(v, errcode, prevRing, regs)
	if stats.Stats {
		stats.Irqs++
		if v >= 0 && v < len(stats.Nirqs) {
			stats.Nirqs[v]++
		}
	}

	c := d.chains[v]
	en := c.mu.Lock()
	c.plain.Lock()
	snapshot := append([]entry_t(nil), c.entries...)
	c.plain.Unlock()

	for _, e := range snapshot {
		switch e.cb(v, errcode, regs, prevRing) {
		case Continue:
			continue
		case Idle:
			if v >= EXCEPTION_COUNT && d.eoi != nil {
				d.eoi(v - EXCEPTION_COUNT)
			}
			c.mu.Unlock(en)
			if d.resetSP != nil {
				d.resetSP()
			}
			d.idleLoop()
			return
		case Panic:
			c.mu.Unlock(en)
			if fresh, stack := panicPaths.Distinct(); fresh {
				d.log.Errorf("fatal: %s (vector %d)\n%s", ExceptionName(v), v, stack)
			}
			panic(fmt.Sprintf("fatal: %s (vector %d)", ExceptionName(v), v))
		}
	}
	c.mu.Unlock(en)
}

func (d *Dispatcher) idleLoop() {
	for {
		d.prims.Halt()
	}
}

func (d *Dispatcher) feedEntropy(v int, errcode uint64, prevRing int, regs *Regs) {
	buf := make([]byte, 0, 24)
	buf = append(buf, byte(v), byte(v>>8), byte(errcode), byte(errcode>>8), byte(prevRing))
	for i := 0; i < 2 && i < len(regs.Raw); i++ {
		r := regs.Raw[i]
		buf = append(buf, byte(r), byte(r>>8))
	}
	d.entropy.Copyin(&rawUio{data: buf})
}

// rawUio is a minimal fdops.Userio_i adapter over a plain byte slice,
// letting Dispatch push interrupt-context bytes through
// Circbuf_t.Copyin without circbuf needing to know about Regs.
type rawUio struct {
	data []byte
	off  int
}

func (r *rawUio) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, r.data[r.off:])
	r.off += n
	return n, 0
}
func (r *rawUio) Uiowrite(src []uint8) (int, defs.Err_t) { return 0, 0 }
func (r *rawUio) Remain() int                            { return len(r.data) - r.off }
func (r *rawUio) Totalsz() int                           { return len(r.data) }
