package proc

import (
	"spikeos/defs"
	"spikeos/wait"
)

// Signal raises sig against pid: sets the bit in its pending set and,
// if the target is currently BLOCKED, promotes it to READY so it can
// observe delivery at the next safe point. Kernel threads (Ring3 ==
// false) never receive signals.
func Signal(pid defs.Pid_t, sig int) defs.Err_t {
	p := Find(pid)
	if p == nil || pid == 0 {
		return -defs.ESRCH
	}
	if !p.Ring3 {
		return 0
	}
	p.Sig.Raise(sig)
	p.mu.Lock()
	if p.State == BLOCKED {
		p.State = READY
	}
	p.mu.Unlock()
	return 0
}

// CheckPendingSignals is the signal_check_pending hook, called at
// well-known safe points (return from syscall, return from page
// fault, scheduler resume): it inspects and clears the lowest-numbered
// pending signal and, if it has no custom handler (the only case this
// kernel implements), terminates the process with exit_status = 128 +
// sig. Returns true if p was terminated.
func CheckPendingSignals(p *Process) bool {
	if !p.Ring3 {
		return false
	}
	sig, ok := p.Sig.TakeLowest()
	if !ok {
		return false
	}
	status, terminate := wait.DefaultAction(sig)
	if terminate {
		finish(p, status)
		return true
	}
	return false
}
