package vm

import "testing"

import "github.com/stretchr/testify/require"

import "github.com/galette-os/galette/src/defs"
import "github.com/galette-os/galette/src/limits"
import "github.com/galette-os/galette/src/oommsg"

func TestFrameNewChargesAndFreeRefundsMfspgs(t *testing.T) {
	orig := int64(limits.Syslimit.Mfspgs)
	defer setMfspgs(orig)

	setMfspgs(1)
	fa := NewFrameAllocator()

	f, err := fa.New()
	require.Zero(t, err)
	require.NotNil(t, f)

	_, err = fa.New()
	require.Equal(t, -defs.ENOMEM, err)

	require.True(t, fa.Refdown(f))

	f2, err := fa.New()
	require.Zero(t, err)
	require.NotNil(t, f2)
}

func TestFrameNewNotifiesOomChWhenReclaimerListens(t *testing.T) {
	orig := int64(limits.Syslimit.Mfspgs)
	defer setMfspgs(orig)
	setMfspgs(0)

	fa := NewFrameAllocator()
	ready := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(ready)
		msg := <-oommsg.OomCh
		setMfspgs(1)
		msg.Resume <- true
		close(done)
	}()
	<-ready

	f, err := fa.New()
	require.Zero(t, err)
	require.NotNil(t, f)
	<-done
}

func setMfspgs(n int64) {
	for limits.Syslimit.Mfspgs.Take() {
	}
	limits.Syslimit.Mfspgs.Given(uint(n))
}
