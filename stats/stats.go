// Package stats backs the kernel's internal counters: IRQ counts,
// syscall counts, page faults, heap growths, laid out with a
// Counter_t/Cycles_t/Stats2String design, but always enabled: a
// bare-metal kernel can turn counters off at compile time via dead-code
// elimination over build constants, but this kernel runs as an
// ordinary host-testable Go module, so the counters just always run.
package stats

import (
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unsafe"
)

// Nirqs counts deliveries per IRQ vector; Irqs is the running total.
var Nirqs [256]int64
var Irqs int64

// Counter_t is an atomically-updated event counter.
type Counter_t int64

// Cycles_t accumulates elapsed nanoseconds (a stand-in for a TSC-cycle
// counter; a real rdtsc read has no standard-library equivalent here,
// so wall-clock nanoseconds via time.Now serve the same "how much time
// did this cost" role).
type Cycles_t int64

func (c *Counter_t) aptr() *int64 { return (*int64)(unsafe.Pointer(c)) }
func (c *Cycles_t) aptr() *int64  { return (*int64)(unsafe.Pointer(c)) }

// Inc increments the counter by one.
func (c *Counter_t) Inc() {
	atomic.AddInt64(c.aptr(), 1)
}

// Now returns a timestamp suitable for passing to (*Cycles_t).Add.
func Now() int64 {
	return time.Now().UnixNano()
}

// Add adds the nanoseconds elapsed since start to the accumulator.
func (c *Cycles_t) Add(start int64) {
	atomic.AddInt64(c.aptr(), Now()-start)
}

// RecordIRQ increments both the per-vector and total IRQ counters.
func RecordIRQ(vector int) {
	if vector >= 0 && vector < len(Nirqs) {
		atomic.AddInt64(&Nirqs[vector], 1)
	}
	atomic.AddInt64(&Irqs, 1)
}

// Stats2String renders every Counter_t/Cycles_t field of st (a struct
// value, not a pointer) as a human-readable report, used by tests
// asserting a counter moved.
func Stats2String(st interface{}) string {
	v := reflect.ValueOf(st)
	var s strings.Builder
	for i := 0; i < v.NumField(); i++ {
		ft := v.Field(i).Type().String()
		name := v.Type().Field(i).Name
		switch {
		case strings.HasSuffix(ft, "Counter_t"):
			n := v.Field(i).Interface().(Counter_t)
			s.WriteString("\n\t#" + name + ": " + strconv.FormatInt(int64(n), 10))
		case strings.HasSuffix(ft, "Cycles_t"):
			n := v.Field(i).Interface().(Cycles_t)
			s.WriteString("\n\t#" + name + ": " + strconv.FormatInt(int64(n), 10) + "ns")
		}
	}
	return s.String() + "\n"
}
