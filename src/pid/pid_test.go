package pid

import "testing"

import "github.com/stretchr/testify/require"

import "github.com/galette-os/galette/src/limits"

func TestFirstAllocIsTwo(t *testing.T) {
	a := New()
	h, ok := a.Alloc()
	require.True(t, ok)
	require.Equal(t, Pid_t(2), h.Pid)
}

func TestAllocDistinctWhileHeld(t *testing.T) {
	a := New()
	seen := make(map[Pid_t]bool)
	var handles []*Handle
	for i := 0; i < 100; i++ {
		h, ok := a.Alloc()
		require.True(t, ok)
		require.False(t, seen[h.Pid])
		seen[h.Pid] = true
		handles = append(handles, h)
	}
	for _, h := range handles {
		h.Release()
	}
}

func TestAllocAfterFreeMayReusePid(t *testing.T) {
	a := New()
	h1, _ := a.Alloc()
	freed := h1.Pid
	h1.Release()

	h2, ok := a.Alloc()
	require.True(t, ok)
	require.Equal(t, freed, h2.Pid)
}

func TestReleaseIsIdempotent(t *testing.T) {
	a := New()
	h, _ := a.Alloc()
	h.Release()
	require.NotPanics(t, func() { h.Release() })
}

func TestPid1Reserved(t *testing.T) {
	a := New()
	require.True(t, Reserved(1))
	require.Panics(t, func() { a.free(1) })
}

func TestDoubleFreePanics(t *testing.T) {
	a := New()
	h, _ := a.Alloc()
	h.Release()
	require.Panics(t, func() { a.free(h.Pid) })
}

func TestAllocFailsOnceSysprocsExhausted(t *testing.T) {
	orig := limits.Syslimit.Sysprocs
	limits.Syslimit.Sysprocs = 2
	defer func() { limits.Syslimit.Sysprocs = orig }()

	a := New()
	var handles []*Handle
	for i := 0; i < 2; i++ {
		h, ok := a.Alloc()
		require.True(t, ok)
		handles = append(handles, h)
	}
	_, ok := a.Alloc()
	require.False(t, ok)

	handles[0].Release()
	h, ok := a.Alloc()
	require.True(t, ok)
	require.Equal(t, handles[0].Pid, h.Pid)
}

func TestRusageReflectsAccountedTime(t *testing.T) {
	a := New()
	h, _ := a.Alloc()
	h.Accnt.Utadd(5000)
	ru := h.Rusage()
	require.Len(t, ru, 32)
}
