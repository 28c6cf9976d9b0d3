// Package stats implements lightweight runtime counters, adapted from
// biscuit/src/stats/stats.go. The original read cycle counts via
// runtime.Rdtsc(), a patched-Go-runtime primitive unavailable in
// hosted mode, and updated its counters through a raw unsafe.Pointer
// cast to *int64; both are replaced here, the former by a pluggable
// cycle source and the latter by sync/atomic's Int64 type.
package stats

import "reflect"
import "strconv"
import "strings"
import "sync/atomic"

// Stats and Timing gate whether counters actually accumulate, matching
// the teacher's zero-cost-when-disabled design.
const Stats = false
const Timing = false

var Nirqs [100]int
var Irqs int

// cycleSource supplies the current cycle count. It returns 0 until a
// caller installs a reader with SetCycleSource.
var cycleSource func() uint64 = func() uint64 { return 0 }

// SetCycleSource installs the platform cycle-count reader.
func SetCycleSource(f func() uint64) {
	cycleSource = f
}

// Rdtsc returns the current cycle count when statistics are enabled.
func Rdtsc() uint64 {
	if Stats {
		return cycleSource()
	}
	return 0
}

// Counter_t is a statistical counter.
type Counter_t struct{ v atomic.Int64 }

// Cycles_t holds a cycle count.
type Cycles_t struct{ v atomic.Int64 }

// Inc increments the counter.
func (c *Counter_t) Inc() {
	if Stats {
		c.v.Add(1)
	}
}

// Add adds elapsed cycles, measured since m, to the counter.
func (c *Cycles_t) Add(m uint64) {
	if Timing {
		c.v.Add(int64(Rdtsc() - m))
	}
}

// Stats2String converts a struct of counters to a printable string.
func Stats2String(st interface{}) string {
	if !Stats {
		return ""
	}
	v := reflect.ValueOf(st)
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		if strings.HasSuffix(t, "Counter_t") {
			n := v.Field(i).Addr().Interface().(*Counter_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(n.v.Load(), 10)
		}
		if strings.HasSuffix(t, "Cycles_t") {
			n := v.Field(i).Addr().Interface().(*Cycles_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(n.v.Load(), 10)
		}
	}
	return s + "\n"
}
