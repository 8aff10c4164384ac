// Package trap is the interrupt and exception dispatcher: the uniform
// trap-frame layout, the vector table, and the registries exceptions,
// IRQs, and the syscall gate are dispatched through. Per-vector
// assembly stubs have no meaning in a hosted Go build, so Dispatch plays
// their role directly — callers (the scheduler's tick simulation, the
// paging subsystem's fault path, the syscall-gate test harness) invoke
// it with an already-built TrapFrame instead of trapping from real
// hardware. Grounded on defs.Err_t/stats.RecordIRQ idioms for the
// surrounding plumbing; see DESIGN.md for the Vec/AllocVec/FreeVec
// registry's provenance.
package trap

import (
	"fmt"
	"sync"

	"spikeos/hal"
	"spikeos/stats"
)

// TrapFrame is the fixed-layout register snapshot; field order must
// not be rearranged, since it stands in for the per-vector assembly
// stubs' push sequence.
type TrapFrame struct {
	Gs, Fs, Es, Ds                   uint32
	Edi, Esi, Ebp, EspDummy          uint32
	Ebx, Edx, Ecx, Eax               uint32
	IntNo, ErrCode                   uint32
	Eip, Cs, Eflags                  uint32
	Useresp, Ss                      uint32 // valid only when Ring3 is true
	Ring3                            bool
}

const (
	VecDivideError   = 0
	VecPageFault     = 14
	VecSyscall       = 0x80
	VecIRQBase       = 32
	VecIRQTimer      = VecIRQBase + 0
	VecIRQEnd        = 48
)

// ExceptionHandler services CPU exceptions (vectors 0..31). It returns
// true if the fault was handled and execution may resume (used only by
// the page-fault handler, which resolves on-demand mappings); false
// means the kernel must panic.
type ExceptionHandler func(tf *TrapFrame) bool

// IRQHandler services a hardware interrupt (vectors 32..47).
type IRQHandler func(tf *TrapFrame)

// SyscallHandler dispatches vector 0x80, reading tf.Eax as the syscall
// number and writing the result back into it.
type SyscallHandler func(tf *TrapFrame)

var mu sync.Mutex
var exceptions [32]ExceptionHandler
var irqs [VecIRQEnd - VecIRQBase]IRQHandler
var syscallHandler SyscallHandler
var eoiHandler func(irq int)

// RegisterException installs the handler for a CPU exception vector.
func RegisterException(vector int, h ExceptionHandler) {
	mu.Lock()
	defer mu.Unlock()
	exceptions[vector] = h
}

// RegisterIRQ installs the handler for IRQ line irq (0-based, i.e. IRQ0
// is the timer).
func RegisterIRQ(irq int, h IRQHandler) {
	mu.Lock()
	defer mu.Unlock()
	irqs[irq] = h
}

// RegisterSyscallHandler installs the vector-0x80 dispatcher.
func RegisterSyscallHandler(h SyscallHandler) {
	mu.Lock()
	defer mu.Unlock()
	syscallHandler = h
}

// RegisterEOI installs the PIC end-of-interrupt collaborator called
// after every serviced IRQ.
func RegisterEOI(h func(irq int)) {
	mu.Lock()
	defer mu.Unlock()
	eoiHandler = h
}

// Dispatch routes a trap frame to the registered handler for its
// vector, mirroring the shared assembly stub's dispatch table: 0..31
// exceptions, 0x80 syscall gate, 32..47 IRQs (with EOI and
// stats.RecordIRQ bookkeeping). Unregistered exceptions panic via
// hal.HaltForever: kernel-mode faults always panic, since there's
// nothing the kernel can do to recover from one it doesn't explicitly
// know how to handle.
func Dispatch(tf *TrapFrame) {
	switch {
	case tf.IntNo < VecIRQBase:
		mu.Lock()
		h := exceptions[tf.IntNo]
		mu.Unlock()
		if h == nil || !h(tf) {
			hal.HaltForever(fmt.Sprintf("unhandled exception %d", tf.IntNo), tfStringer{tf})
		}
	case tf.IntNo == VecSyscall:
		mu.Lock()
		h := syscallHandler
		mu.Unlock()
		if h == nil {
			panic("syscall gate invoked with no handler registered")
		}
		h(tf)
	case tf.IntNo >= VecIRQBase && tf.IntNo < VecIRQEnd:
		irq := int(tf.IntNo) - VecIRQBase
		mu.Lock()
		h := irqs[irq]
		eoi := eoiHandler
		mu.Unlock()
		stats.RecordIRQ(irq)
		if h != nil {
			h(tf)
		}
		if eoi != nil {
			eoi(irq)
		}
	default:
		hal.HaltForever(fmt.Sprintf("trap vector out of range: %d", tf.IntNo), tfStringer{tf})
	}
}

type tfStringer struct{ tf *TrapFrame }

func (s tfStringer) String() string {
	return fmt.Sprintf(
		"eip=%#x cs=%#x eflags=%#x eax=%#x ebx=%#x ecx=%#x edx=%#x int_no=%d err_code=%#x",
		s.tf.Eip, s.tf.Cs, s.tf.Eflags, s.tf.Eax, s.tf.Ebx, s.tf.Ecx, s.tf.Edx, s.tf.IntNo, s.tf.ErrCode)
}
