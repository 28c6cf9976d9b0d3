package vm

import "testing"

import "github.com/stretchr/testify/require"

import "github.com/galette-os/galette/src/defs"

func TestMapSplitsGapAndUnmapMerges(t *testing.T) {
	as := New(NewFrameAllocator())
	base, err := as.Map(None(), 4, FlagWrite, nil)
	require.Zero(t, err)
	require.Zero(t, base)

	// the single initial gap must now be split around the mapping.
	require.Len(t, as.maps, 1)
	require.NotEmpty(t, as.gaps)

	require.Zero(t, as.Unmap(base, 4))
	require.Empty(t, as.maps)
	// merging must collapse back to a single gap covering the address space.
	require.Len(t, as.gaps, 1)
	require.Equal(t, uintptr(0), as.gaps[0].base)
}

func TestAnonWriteFaultThenReadIsVisible(t *testing.T) {
	as := New(NewFrameAllocator())
	base, err := as.Map(None(), 1, FlagWrite, nil)
	require.Zero(t, err)

	require.Zero(t, as.CopyToUser([]byte{0xAA, 0xBB}, base))
	out := make([]byte, 2)
	require.Zero(t, as.CopyFromUser(out, base))
	require.Equal(t, []byte{0xAA, 0xBB}, out)
}

func TestForkMarksPrivateWritableMappingCOW(t *testing.T) {
	as := New(NewFrameAllocator())
	base, _ := as.Map(None(), 1, FlagWrite, nil)
	require.Zero(t, as.CopyToUser([]byte{1, 2, 3}, base))

	child := as.Fork()

	parentBuf := make([]byte, 3)
	require.Zero(t, as.CopyFromUser(parentBuf, base))
	childBuf := make([]byte, 3)
	require.Zero(t, child.CopyFromUser(childBuf, base))
	require.Equal(t, parentBuf, childBuf)

	// writing in the child must not disturb the parent's page.
	require.Zero(t, child.CopyToUser([]byte{9, 9, 9}, base))
	require.Zero(t, as.CopyFromUser(parentBuf, base))
	require.Equal(t, []byte{1, 2, 3}, parentBuf)
}

func TestPageFaultOnGapIsEFAULT(t *testing.T) {
	as := New(NewFrameAllocator())
	err := as.PageFault(0x1000, false)
	require.Equal(t, -defs.EFAULT, err)
}

func TestWriteFaultOnReadOnlyMappingIsEFAULT(t *testing.T) {
	as := New(NewFrameAllocator())
	base, _ := as.Map(None(), 1, 0, nil)
	err := as.CopyToUser([]byte{1}, base)
	require.NotZero(t, err)
}

func TestFixedConstraintRejectsOccupiedRange(t *testing.T) {
	as := New(NewFrameAllocator())
	base, err := as.Map(None(), 2, FlagWrite, nil)
	require.Zero(t, err)

	_, err = as.Map(Fixed(base), 1, FlagWrite, nil)
	require.NotZero(t, err)
}
