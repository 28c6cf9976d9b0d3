// Package res throttles resource-hungry loops with a single global,
// non-blocking reservation counter, generalizing
// biscuit/src/limits/limits.go's Sysatomic_t Taken/Given pattern (there
// scoped to per-resource counters like Socks/Pipes/Mfspgs; here a single
// pool guarding user-copy and block-resolution loops against unbounded
// concurrent reservation).
package res

import "sync/atomic"

// pool is the number of reservation units presently available. It is
// seeded generously since it models scheduling fairness, not a hard
// memory limit; physical exhaustion is enforced separately by the
// frame allocator.
var pool int64 = 1 << 20

// Resadd_noblock attempts to reserve n units without blocking. It
// returns false, leaving the pool unchanged, when the reservation
// would drive the pool negative.
func Resadd_noblock(n int) bool {
	if n <= 0 {
		return true
	}
	left := atomic.AddInt64(&pool, -int64(n))
	if left >= 0 {
		return true
	}
	atomic.AddInt64(&pool, int64(n))
	return false
}

// Resgive returns n previously reserved units to the pool.
func Resgive(n int) {
	if n <= 0 {
		return
	}
	atomic.AddInt64(&pool, int64(n))
}

// Available reports the current pool size, for diagnostics.
func Available() int64 {
	return atomic.LoadInt64(&pool)
}
