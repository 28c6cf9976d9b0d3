package pci

import "testing"

import "github.com/stretchr/testify/require"

import "github.com/galette-os/galette/src/defs"

// fakeConfigSpace implements arch.Primitives, routing the CONFIG_ADDRESS
// / CONFIG_DATA register dance to a backing map keyed by the decoded
// (bus,dev,fn,reg) tuple, the way arch.Hosted's flat port map can't
// (it has no notion of a two-step indirect register file). Every
// method besides Inl/Outl panics if called, since pci.Scan never
// touches them.
type fakeConfigSpace struct {
	selected uint32
	space    map[uint32]uint32
}

func newFakeConfigSpace() *fakeConfigSpace {
	return &fakeConfigSpace{space: make(map[uint32]uint32)}
}

func (f *fakeConfigSpace) put(bus, dev, fn, reg uint8, v uint32) {
	f.space[configAddr(bus, dev, fn, reg)] = v
}

func (f *fakeConfigSpace) Outl(port uint16, v uint32) {
	switch port {
	case configAddress:
		f.selected = v
	case configData:
		f.space[f.selected&^0x3] = v
	default:
		panic("unexpected port")
	}
}

func (f *fakeConfigSpace) Inl(port uint16) uint32 {
	if port != configData {
		panic("unexpected port")
	}
	// an unpopulated slot's config space reads back as all-ones on
	// real hardware; the zero value of a Go map would otherwise look
	// like a device with vendor ID 0x0000.
	v, ok := f.space[f.selected&^0x3]
	if !ok {
		return 0xFFFFFFFF
	}
	return v
}

func (f *fakeConfigSpace) Inb(port uint16) uint8        { panic("unused") }
func (f *fakeConfigSpace) Outb(port uint16, v uint8)    { panic("unused") }
func (f *fakeConfigSpace) Rdmsr(reg uint32) uint64      { panic("unused") }
func (f *fakeConfigSpace) Wrmsr(reg uint32, v uint64)   { panic("unused") }
func (f *fakeConfigSpace) Rcr0() uint64                 { panic("unused") }
func (f *fakeConfigSpace) Rcr3() uint64                 { panic("unused") }
func (f *fakeConfigSpace) Wcr3(v uint64)                { panic("unused") }
func (f *fakeConfigSpace) Rcr4() uint64                 { panic("unused") }
func (f *fakeConfigSpace) Cpuid(leaf, subleaf uint32) (uint32, uint32, uint32, uint32) {
	panic("unused")
}
func (f *fakeConfigSpace) Rdtsc() uint64                        { panic("unused") }
func (f *fakeConfigSpace) IntrOff() bool                        { panic("unused") }
func (f *fakeConfigSpace) IntrOn()                              { panic("unused") }
func (f *fakeConfigSpace) Halt()                                { panic("unused") }
func (f *fakeConfigSpace) MMIORead32(addr uintptr) uint32       { panic("unused") }
func (f *fakeConfigSpace) MMIOWrite32(addr uintptr, v uint32)   { panic("unused") }
func (f *fakeConfigSpace) NumCPU() int                          { panic("unused") }
func (f *fakeConfigSpace) WritePhys(addr uintptr, data []byte)  { panic("unused") }
func (f *fakeConfigSpace) ReadPhys(addr uintptr, n int) []byte  { panic("unused") }
func (f *fakeConfigSpace) CPULoopReset(cpu int, sp uintptr, entry uintptr) { panic("unused") }
func (f *fakeConfigSpace) StartAP(cpu int, vector uint8) error  { panic("unused") }

func TestScanFindsSingleFunctionDevice(t *testing.T) {
	f := newFakeConfigSpace()
	f.put(0, 3, 0, 0x00, 0x1234<<16|0x10EC) // device:vendor
	f.put(0, 3, 0, 0x08, 0x01<<24|0x06<<16) // class=1 (mass storage), subclass=6
	f.put(0, 3, 0, 0x0C, 0)                 // header type 0, single function

	devs := Scan(f)
	require.Len(t, devs, 1)
	require.EqualValues(t, 0x10EC, devs[0].VendorID)
	require.EqualValues(t, 0x1234, devs[0].DeviceID)
	require.EqualValues(t, 1, devs[0].Class)
	require.EqualValues(t, 6, devs[0].Subclass)
}

func TestScanSkipsAbsentVendor(t *testing.T) {
	f := newFakeConfigSpace()
	devs := Scan(f)
	require.Empty(t, devs)
}

func TestScanFindsMultiFunctionDevice(t *testing.T) {
	f := newFakeConfigSpace()
	f.put(0, 5, 0, 0x00, 0xBEEF<<16|0x8086)
	f.put(0, 5, 0, 0x0C, uint32(headerTypeMultiFunction)<<16)
	f.put(0, 5, 1, 0x00, 0xCAFE<<16|0x8086)
	f.put(0, 5, 1, 0x0C, 0)

	devs := Scan(f)
	require.Len(t, devs, 2)
	require.EqualValues(t, 0, devs[0].Fn)
	require.EqualValues(t, 1, devs[1].Fn)
}

func TestDecodeBARDistinguishesIOAndMemory(t *testing.T) {
	io := decodeBAR(0xC001)
	require.True(t, io.IsIO)
	require.EqualValues(t, 0xC000, io.Addr)

	mem := decodeBAR(0xFEBF000C) // memory, 64-bit, prefetchable
	require.False(t, mem.IsIO)
	require.True(t, mem.Is64)
	require.True(t, mem.Prefetchable)
}

func TestDevNodePacksBusSlot(t *testing.T) {
	d := Device{Bus: 2, Slot: 5}
	maj, min := defs.Unmkdev(d.DevNode(8))
	require.Equal(t, 8, maj)
	require.Equal(t, 2<<5|5, min)
}

func TestMSIVectorAllocDoesNotReuseUntilReleased(t *testing.T) {
	seen := make(map[int]bool)
	for i := 0; i < 8; i++ {
		v, err := AllocMSIVector()
		require.Zero(t, err)
		require.False(t, seen[v])
		seen[v] = true
	}
	_, err := AllocMSIVector()
	require.Equal(t, -defs.ENODEV, err)

	for v := range seen {
		require.Zero(t, ReleaseMSIVector(v))
	}
	v, err := AllocMSIVector()
	require.Zero(t, err)
	require.True(t, seen[v])
}
