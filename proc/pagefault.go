package proc

import (
	"spikeos/defs"
	"spikeos/hal"
	"spikeos/mem"
	"spikeos/trap"
	"spikeos/vm"
)

// handlePageFault services vector 14 (trap.VecPageFault). A ring-3
// fault the current process's address space recognizes (brk/mmap/ELF
// segment growth awaiting its first touch) is zero-filled in place and
// execution resumes. An unserviceable ring-3 fault raises SIGSEGV on
// the faulting process and terminates it immediately rather than
// panicking the kernel — there is no later "return from syscall" safe
// point to deliver the signal at, since a fault happens mid
// instruction. A fault taken in kernel mode is never serviceable here;
// returning false sends it to trap.Dispatch's HaltForever panic path.
func handlePageFault(tf *trap.TrapFrame) bool {
	if !tf.Ring3 {
		return false
	}
	p := Current()
	if p == nil || p.As == nil {
		return false
	}

	va := hal.Current.GetFaultAddr()
	p.As.Lock_pmap()
	err := vm.PageFault(p.As, va, mem.Pa_t(tf.ErrCode), true)
	p.As.Unlock_pmap()

	if err != 0 {
		Signal(p.Pid, defs.SIGSEGV)
		CheckPendingSignals(p)
	}
	return true
}
