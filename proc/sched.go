package proc

import (
	"spikeos/hal"
	"spikeos/trap"
)

// current is the process the scheduler last selected. Idle until the
// first Tick runs.
var current = Idle

// Current returns the process the scheduler most recently selected.
func Current() *Process {
	tableMu.Lock()
	defer tableMu.Unlock()
	return current
}

// SetCurrentForTest pins the scheduler's notion of "currently running
// process" directly, bypassing the round-robin scan. Callers outside
// package proc (the syscall dispatcher's tests) have no other way to
// control which process a bare Dispatch call runs against, since the
// real selection normally only changes via a timer tick.
func SetCurrentForTest(p *Process) {
	tableMu.Lock()
	current = p
	tableMu.Unlock()
}

// Tick is the timer-IRQ scheduler: pick the next READY process (round
// robin over the table, wrapping back to Idle if nothing else is
// READY), switch CR3 if the winner's address space differs from the
// one currently loaded, and if the winner is a ring3 process, hand the
// TSS its kernel stack top so the next ring3->ring0 trap lands there.
// Registered as the IRQ0 handler; Dispatch calls this on every timer
// interrupt.
func Tick(tf *trap.TrapFrame) {
	tableMu.Lock()
	prev := current
	if prev != Idle {
		prev.mu.Lock()
		prev.Tf = tf
		if prev.State == RUNNING {
			prev.State = READY
		}
		prev.mu.Unlock()
	}

	next := pickNext(prev)
	next.mu.Lock()
	next.State = RUNNING
	next.mu.Unlock()
	current = next
	tableMu.Unlock()

	if next.Cr3() != hal.Current.GetCR3() {
		hal.Current.SetCR3(next.Cr3())
	}
	if next.Ring3 {
		hal.Current.SetTSSEsp0(next.KstackTop)
	}
	if !next.Ring3 && next != Idle {
		select {
		case next.runCh <- struct{}{}:
		default:
		}
	}
}

// pickNext scans the table starting just after prev for the next READY
// process, falling back to Idle if none is found. Caller holds tableMu.
func pickNext(prev *Process) *Process {
	n := len(table)
	start := 0
	for i, p := range table {
		if p == prev {
			start = i + 1
			break
		}
	}
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		p := table[idx]
		if p != nil && p.State == READY {
			return p
		}
	}
	return Idle
}

// Init registers Tick as the IRQ0 (timer) handler and handlePageFault
// as the vector-14 exception handler.
func Init() {
	trap.RegisterIRQ(0, Tick)
	trap.RegisterException(trap.VecPageFault, handlePageFault)
}
