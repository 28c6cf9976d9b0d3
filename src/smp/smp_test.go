package smp

import "testing"

import "github.com/stretchr/testify/require"

import "github.com/galette-os/galette/src/apic"
import "github.com/galette-os/galette/src/arch"

func TestInitMulticoreBringsUpAllNonBSP(t *testing.T) {
	prims := arch.NewHosted(4, nil)
	apics := map[uint32]*apic.Apic_t{
		0: apic.New(prims, 0),
		1: apic.New(prims, 1),
		2: apic.New(prims, 2),
		3: apic.New(prims, 3),
	}
	cpus := []CPUDescriptor{
		{ApicID: 0, IsBSP: true, EnableCap: true},
		{ApicID: 1, EnableCap: true},
		{ApicID: 2, EnableCap: true},
		{ApicID: 3, EnableCap: true},
	}

	b := New(prims, apics)
	b.SetSleep(func(apic.SleepDuration) {})

	next := uintptr(0x100000)
	alloc := func() uintptr {
		got := next
		next += PageSize * StackPages
		return got
	}

	blob := []byte{0xEB, 0xFE} // trivial placeholder "jmp $" real-mode stub
	err := b.InitMulticore(cpus, blob, 0x200000, 0x300000, alloc)
	require.NoError(t, err)
	require.Len(t, b.Stacks, 3)

	img := prims.ReadPhys(TrampolinePhysAddr, pageDirOffset+8)
	require.Equal(t, byte(0xEB), img[0])
}

func TestRelocateTrampolinePublishesSymbols(t *testing.T) {
	prims := arch.NewHosted(1, nil)
	b := New(prims, nil)
	blob := make([]byte, 4)
	img := b.RelocateTrampoline(blob, 0xdeadbeef, 0xcafef00d)
	require.Equal(t, uint64(0xdeadbeef), readU64(img, stacksPtrOffset))
	require.Equal(t, uint64(0xcafef00d), readU64(img, pageDirOffset))
}

func readU64(b []byte, off int) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[off+i]) << (8 * i)
	}
	return v
}
