package fd

import (
	"testing"

	"spikeos/defs"
	"spikeos/fdops"
)

type stubFops struct{ closed bool }

func (s *stubFops) Close() defs.Err_t                                  { s.closed = true; return 0 }
func (s *stubFops) Read(fdops.Userio_i) (int, defs.Err_t)              { return 0, 0 }
func (s *stubFops) Write(fdops.Userio_i) (int, defs.Err_t)             { return 0, 0 }
func (s *stubFops) Lseek(off, whence int) (int, defs.Err_t)            { return 0, 0 }
func (s *stubFops) Fstat(fdops.StatAccessor) defs.Err_t                { return 0 }
func (s *stubFops) Truncate(newlen uint) defs.Err_t                    { return 0 }
func (s *stubFops) Reopen() defs.Err_t                                 { return 0 }
func (s *stubFops) Pathi() fdops.Inoder                                { return nil }
func (s *stubFops) Pollone(fdops.Ready_t) (fdops.Ready_t, defs.Err_t)   { return 0, 0 }

func TestAllocCloseFd(t *testing.T) {
	tbl := MkFdtable()
	f := &Fd_t{Fops: &stubFops{}}
	n, err := tbl.Alloc_fd(0, f)
	if err != 0 || n != 0 {
		t.Fatalf("expected fd 0, got %d err %d", n, err)
	}
	if tbl.Get(0) != f {
		t.Fatal("expected Get to return the installed fd")
	}
	if err := tbl.Close_fd(0); err != 0 {
		t.Fatalf("unexpected close error %d", err)
	}
	if tbl.Get(0) != nil {
		t.Fatal("expected slot freed after close")
	}
}

func TestCloseUnopenedFdFails(t *testing.T) {
	tbl := MkFdtable()
	if err := tbl.Close_fd(3); err == 0 {
		t.Fatal("expected EBADF closing an unopened fd")
	}
}

func TestAllocFdSkipsOccupiedSlots(t *testing.T) {
	tbl := MkFdtable()
	tbl.Alloc_fd(0, &Fd_t{Fops: &stubFops{}})
	tbl.Alloc_fd(0, &Fd_t{Fops: &stubFops{}})
	n, err := tbl.Alloc_fd(0, &Fd_t{Fops: &stubFops{}})
	if err != 0 || n != 2 {
		t.Fatalf("expected fd 2, got %d err %d", n, err)
	}
}

func TestDupBumpsRefcountAndClosesOldOccupant(t *testing.T) {
	tbl := MkFdtable()
	target := &stubFops{}
	tbl.Alloc_fd(0, &Fd_t{Fops: target})
	old := &stubFops{}
	tbl.Alloc_fd(0, &Fd_t{Fops: old}) // fd 1
	if err := tbl.Dup(0, 1); err != 0 {
		t.Fatalf("unexpected dup error %d", err)
	}
	if !old.closed {
		t.Fatal("expected the fd previously at slot 1 to be closed")
	}
	// Closing fd 0 must not close the underlying fops yet: fd 1 still
	// holds a reference.
	tbl.Close_fd(0)
	if target.closed {
		t.Fatal("expected fops to stay open while fd 1 still references it")
	}
	tbl.Close_fd(1)
	if !target.closed {
		t.Fatal("expected fops closed once the last reference drops")
	}
}

func TestCloseAllClosesEveryOpenFd(t *testing.T) {
	tbl := MkFdtable()
	a := &stubFops{}
	b := &stubFops{}
	tbl.Alloc_fd(0, &Fd_t{Fops: a})
	tbl.Alloc_fd(0, &Fd_t{Fops: b})
	tbl.CloseAll()
	if !a.closed || !b.closed {
		t.Fatal("expected CloseAll to close every installed fops")
	}
}
