// Package res guards against runaway loops in code that iterates a
// caller-controlled number of times: copying a huge user buffer one page
// at a time, retrying a heap grow, walking a malformed path. Without a
// cap a hostile or buggy count turns into an unkillable kernel loop; res
// turns that into a bounded error instead.
package res

import "spikeos/bounds"

// perBoundLimit is generous enough that no legitimate single call comes
// close to it (the largest realistic user copy is well under a few
// thousand pages) while still bounding a runaway loop to a fixed number
// of iterations.
const perBoundLimit = 1 << 20

// Counter tracks iterations consumed against a single bound within one
// call chain. Callers construct one (zero value is ready to use) at the
// top of the bounded loop and call Add on each iteration.
type Counter struct {
	n int
}

// Add consumes one iteration of bound b. It returns false once the call
// has exceeded the bound's iteration budget, at which point the caller
// must abort (typically with -defs.ENOHEAP).
func (c *Counter) Add(b bounds.Bound_t) bool {
	bounds.Bounds(b) // validates b; panics on programmer error
	c.n++
	return c.n <= perBoundLimit
}
