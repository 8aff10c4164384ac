package proc

import (
	"testing"

	"spikeos/hal"
	"spikeos/trap"
)

func resetSched() {
	tableMu.Lock()
	for i := range table {
		table[i] = nil
	}
	current = Idle
	tableMu.Unlock()
}

func TestTickRoundRobinsBetweenReadyProcesses(t *testing.T) {
	resetSched()
	defer resetSched()

	gate := make(chan struct{})
	pid1, _ := CreateKernelThread(func() { <-gate })
	pid2, _ := CreateKernelThread(func() { <-gate })

	tf := &trap.TrapFrame{}
	Tick(tf)
	first := Current().Pid
	Tick(tf)
	second := Current().Pid

	if first == second {
		t.Fatalf("expected scheduler to alternate, got %d then %d", first, second)
	}
	if first != pid1 && first != pid2 {
		t.Fatalf("unexpected first pid %d", first)
	}
	close(gate)
}

func TestTickFallsBackToIdleWhenNothingReady(t *testing.T) {
	resetSched()
	defer resetSched()

	Tick(&trap.TrapFrame{})
	if Current() != Idle {
		t.Fatal("expected idle fallback with empty table")
	}
}

func TestTickSwitchesCR3ForRing3Process(t *testing.T) {
	resetSched()
	defer resetSched()
	hal.Current.SetCR3(0)

	pid, err := CreateUserProcess(0x8000, 0x1000, 0x2000, nil)
	if err != 0 {
		t.Fatalf("CreateUserProcess: %d", err)
	}
	_ = pid

	Tick(&trap.TrapFrame{})

	if hal.Current.GetCR3() != 0x8000 {
		t.Fatalf("expected cr3 switched to 0x8000, got %#x", hal.Current.GetCR3())
	}
	p := Current()
	if hal.Current.GetTSSEsp0() != p.KstackTop {
		t.Fatalf("expected esp0 set to kstack top %#x, got %#x", p.KstackTop, hal.Current.GetTSSEsp0())
	}
}
