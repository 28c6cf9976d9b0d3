package pci

import "sync"

import "github.com/galette-os/galette/src/defs"

// msiVectors holds the pool of IDT vectors set aside for
// message-signaled interrupts, adapted from the teacher's
// msi/msi.go Msivecs_t map-based slot allocator: a MSI-capable PCI
// function calls AllocMSIVector instead of sharing a legacy INTx
// line, and ReleaseMSIVector returns the slot when the device is torn
// down. The teacher's panic-on-exhaustion/panic-on-double-free
// behavior is replaced by ordinary Err_t returns, since a failed
// allocation here is an ordinary runtime condition a caller should be
// able to handle, not a programming-error invariant violation.
type msiVectors struct {
	sync.Mutex
	avail map[int]bool
}

var msiPool = msiVectors{
	avail: map[int]bool{56: true, 57: true, 58: true, 59: true, 60: true,
		61: true, 62: true, 63: true},
}

// AllocMSIVector reserves one IDT vector for a device's MSI
// capability, returning -defs.ENODEV once the pool is exhausted.
func AllocMSIVector() (int, defs.Err_t) {
	msiPool.Lock()
	defer msiPool.Unlock()
	for v := range msiPool.avail {
		delete(msiPool.avail, v)
		return v, 0
	}
	return 0, -defs.ENODEV
}

// ReleaseMSIVector returns vector to the pool.
func ReleaseMSIVector(vector int) defs.Err_t {
	msiPool.Lock()
	defer msiPool.Unlock()
	if msiPool.avail[vector] {
		return -defs.EINVAL
	}
	msiPool.avail[vector] = true
	return 0
}
