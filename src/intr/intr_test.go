package intr

import "testing"

import "github.com/stretchr/testify/require"

import "github.com/galette-os/galette/src/arch"

// haltOnce wraps a Primitives so the idle loop's first Halt panics
// instead of spinning forever, making the Idle path's "does not
// return" behavior observable in a test.
type haltOnce struct {
	arch.Primitives
}

func (h *haltOnce) Halt() {
	panic("halted")
}

func TestCallbackOrderingIdleStopsChain(t *testing.T) {
	prims := &haltOnce{Primitives: arch.NewHosted(1, nil)}
	eoiIRQ := -1
	d := New(prims, func(irq int) { eoiIRQ = irq }, func() {})

	var ran []string
	hA, err := d.Register(0x20, func(v int, c uint64, r *Regs, pr int) Result {
		ran = append(ran, "A")
		return Continue
	})
	require.NoError(t, err)
	hB, err := d.Register(0x20, func(v int, c uint64, r *Regs, pr int) Result {
		ran = append(ran, "B")
		return Idle
	})
	require.NoError(t, err)
	_, err = d.Register(0x20, func(v int, c uint64, r *Regs, pr int) Result {
		ran = append(ran, "C")
		return Continue
	})
	require.NoError(t, err)

	require.PanicsWithValue(t, "halted", func() {
		d.Dispatch(0x20, 0, &Regs{}, 3)
	})

	require.Equal(t, []string{"A", "B"}, ran)
	require.Equal(t, 0x20-EXCEPTION_COUNT, eoiIRQ)

	hA.Unregister()
	hB.Unregister()
}

func TestUnregisterIsIdempotent(t *testing.T) {
	prims := arch.NewHosted(1, nil)
	d := New(prims, func(int) {}, func() {})
	h, err := d.Register(0x21, func(v int, c uint64, r *Regs, pr int) Result {
		return Continue
	})
	require.NoError(t, err)
	h.Unregister()
	require.NotPanics(t, func() { h.Unregister() })
}

func TestRegisterOutOfRangeVector(t *testing.T) {
	prims := arch.NewHosted(1, nil)
	d := New(prims, func(int) {}, func() {})
	_, err := d.Register(ENTRIES_COUNT, func(v int, c uint64, r *Regs, pr int) Result {
		return Continue
	})
	require.Error(t, err)
}

func TestExceptionNameTable(t *testing.T) {
	require.Equal(t, "Page Fault", ExceptionName(14))
	require.Equal(t, "Unknown", ExceptionName(15))
	require.Equal(t, "Unknown", ExceptionName(-1))
	require.Equal(t, "Unknown", ExceptionName(EXCEPTION_COUNT))
}

func TestPanicResultPropagatesExceptionName(t *testing.T) {
	prims := arch.NewHosted(1, nil)
	d := New(prims, func(int) {}, func() {})
	_, err := d.Register(14, func(v int, c uint64, r *Regs, pr int) Result {
		return Panic
	})
	require.NoError(t, err)
	require.Panics(t, func() {
		d.Dispatch(14, 0, &Regs{}, 0)
	})
}
