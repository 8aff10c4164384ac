package proc

import (
	"testing"
	"time"

	"spikeos/defs"
)

func waitProcDone(t *testing.T, p *Process) {
	t.Helper()
	select {
	case <-p.done:
	case <-time.After(time.Second):
		t.Fatal("process never finished")
	}
}

func TestForklessSpawnAndWaitpid(t *testing.T) {
	init := &Process{Pid: 1}
	out := make([]byte, 0, 2)

	childPid, err := CreateKernelThread(func() {
		out = append(out, 'A')
		out = append(out, 'B')
	})
	if err != 0 {
		t.Fatalf("CreateKernelThread: %d", err)
	}
	child := Find(childPid)
	child.ParentPid = init.Pid
	child.runCh <- struct{}{}

	waitProcDone(t, child)
	if string(out) != "AB" {
		t.Fatalf("expected AB, got %q", out)
	}

	gotPid, status, werr := Waitpid(init, childPid)
	if werr != 0 {
		t.Fatalf("Waitpid: %d", werr)
	}
	if gotPid != childPid {
		t.Fatalf("expected pid %d, got %d", childPid, gotPid)
	}
	if status != 0 {
		t.Fatalf("expected exit status 0, got %d", status)
	}
	if Find(childPid) != nil {
		t.Fatal("expected zombie slot freed after waitpid")
	}
}

func TestWaitpidBlocksUntilChildExits(t *testing.T) {
	// The parent is a process-table entry, so finish can find it and
	// wake it off its ChildWait queue.
	initPid, _ := CreateKernelThread(func() { select {} })
	init := Find(initPid)
	done := make(chan struct{})

	childPid, _ := CreateKernelThread(func() {
		time.Sleep(20 * time.Millisecond)
	})
	child := Find(childPid)
	child.ParentPid = init.Pid
	child.runCh <- struct{}{}

	go func() {
		Waitpid(init, childPid)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("waitpid returned before child exited")
	case <-time.After(5 * time.Millisecond):
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waitpid never unblocked after child exited")
	}
}

func TestWaitpidNoChildrenReturnsECHILD(t *testing.T) {
	lonely := &Process{Pid: 3}
	_, _, err := Waitpid(lonely, -1)
	if err != -defs.ECHILD {
		t.Fatalf("expected ECHILD, got %d", err)
	}
}

func TestKillMarksZombieAndWakesParent(t *testing.T) {
	init := &Process{Pid: 4}
	childPid, _ := CreateKernelThread(func() {
		select {} // park forever; Kill ends it without the body returning
	})
	child := Find(childPid)
	child.ParentPid = init.Pid
	child.runCh <- struct{}{}

	if err := Kill(childPid, 139); err != 0 {
		t.Fatalf("Kill: %d", err)
	}

	child.mu.Lock()
	st := child.State
	status := child.ExitStatus
	child.mu.Unlock()
	if st != ZOMBIE {
		t.Fatalf("expected ZOMBIE, got %v", st)
	}
	if status != 139 {
		t.Fatalf("expected exit status 139 (SIGSEGV), got %d", status)
	}

	gotPid, gotStatus, err := Waitpid(init, childPid)
	if err != 0 || gotPid != childPid || gotStatus != 139 {
		t.Fatalf("waitpid after kill: pid=%d status=%d err=%d", gotPid, gotStatus, err)
	}
}

func TestKillUnknownPidFails(t *testing.T) {
	if err := Kill(9999, 0); err != -defs.ESRCH {
		t.Fatalf("expected ESRCH, got %d", err)
	}
	if err := Kill(0, 0); err != -defs.ESRCH {
		t.Fatalf("expected ESRCH killing idle, got %d", err)
	}
}

func TestCreateUserProcessWiresConsoleStdio(t *testing.T) {
	pid, err := CreateUserProcess(0x8000, 0x1000, 0x2000, nil)
	if err != 0 {
		t.Fatalf("CreateUserProcess: %d", err)
	}
	p := Find(pid)
	for fdn := 0; fdn < 3; fdn++ {
		if p.Fdtable.Get(fdn) == nil {
			t.Fatalf("expected fd %d to be wired to console stdio", fdn)
		}
	}
}

func TestFindIdleIsPidZero(t *testing.T) {
	if Find(0) != Idle {
		t.Fatal("expected Find(0) to return Idle")
	}
}
