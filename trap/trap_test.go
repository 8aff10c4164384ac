package trap

import "testing"

func resetForTest() {
	mu.Lock()
	for i := range exceptions {
		exceptions[i] = nil
	}
	for i := range irqs {
		irqs[i] = nil
	}
	syscallHandler = nil
	eoiHandler = nil
	mu.Unlock()
}

func TestDispatchSyscall(t *testing.T) {
	resetForTest()
	called := false
	RegisterSyscallHandler(func(tf *TrapFrame) {
		called = true
		tf.Eax = 42
	})
	tf := &TrapFrame{IntNo: VecSyscall}
	Dispatch(tf)
	if !called || tf.Eax != 42 {
		t.Fatalf("expected syscall handler to run and set eax, got called=%v eax=%d", called, tf.Eax)
	}
}

func TestDispatchIRQAcksAndCounts(t *testing.T) {
	resetForTest()
	fired := false
	acked := -1
	RegisterIRQ(0, func(tf *TrapFrame) { fired = true })
	RegisterEOI(func(irq int) { acked = irq })
	Dispatch(&TrapFrame{IntNo: VecIRQTimer})
	if !fired {
		t.Fatal("expected IRQ handler to fire")
	}
	if acked != 0 {
		t.Fatalf("expected EOI for IRQ 0, got %d", acked)
	}
}

func TestDispatchExceptionHandledReturnsNormally(t *testing.T) {
	resetForTest()
	RegisterException(VecPageFault, func(tf *TrapFrame) bool { return true })
	Dispatch(&TrapFrame{IntNo: VecPageFault}) // must not panic
}

func TestAllocVecNoDoubleAlloc(t *testing.T) {
	seen := map[Vec]bool{}
	for i := 0; i < 8; i++ {
		v := AllocVec()
		if seen[v] {
			t.Fatalf("vector %d allocated twice", v)
		}
		seen[v] = true
	}
	for v := range seen {
		FreeVec(v)
	}
}
