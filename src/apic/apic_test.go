package apic

import "testing"

import "github.com/stretchr/testify/require"

import "github.com/galette-os/galette/src/arch"

func TestEnableOnlyOwningCore(t *testing.T) {
	prims := arch.NewHosted(2, nil)
	a := New(prims, 1)
	require.False(t, a.Enable(0))
	require.False(t, a.Enabled)
	require.True(t, a.Enable(1))
	require.True(t, a.Enabled)
}

func TestProgramTimerWritesICRNotDCR(t *testing.T) {
	prims := arch.NewHosted(1, nil)
	a := New(prims, 0)
	a.ProgramTimer(0x30, true, 1_000_000_000, 1000)
	icr := a.read(REG_ICR)
	require.NotZero(t, icr)
}

func TestSendIPIClearsDeliveryBit(t *testing.T) {
	prims := arch.NewHosted(1, nil)
	a := New(prims, 0)
	a.SendIPI(0x40, Self())
	icr0 := a.read(REG_ICR0)
	require.Zero(t, icr0&(1<<12))
}
