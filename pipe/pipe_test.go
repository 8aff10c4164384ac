package pipe

import (
	"testing"
	"time"

	"spikeos/defs"
	"spikeos/proc"
)

type memIO struct{ buf []byte; off int }

func (m *memIO) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, m.buf[m.off:])
	m.off += n
	return n, 0
}
func (m *memIO) Uiowrite(src []uint8) (int, defs.Err_t) {
	m.buf = append(m.buf, src...)
	return len(src), 0
}
func (m *memIO) Remain() int   { return len(m.buf) - m.off }
func (m *memIO) Totalsz() int  { return len(m.buf) }

func newTestProc(t *testing.T) *proc.Process {
	t.Helper()
	pid, err := proc.CreateKernelThread(func() { select {} })
	if err != 0 {
		t.Fatalf("CreateKernelThread: %d", err)
	}
	p := proc.Find(pid)
	proc.SetCurrentForTest(p)
	return p
}

func TestPipeWriteThenRead(t *testing.T) {
	newTestProc(t)
	r, w, merr := Mk()
	if merr != 0 {
		t.Fatalf("Mk: %d", merr)
	}

	src := &memIO{buf: []byte("hello")}
	n, err := w.Write(src)
	if err != 0 || n != 5 {
		t.Fatalf("write: n=%d err=%d", n, err)
	}

	dst := &memIO{}
	n, err = r.Read(dst)
	if err != 0 || n != 5 {
		t.Fatalf("read: n=%d err=%d", n, err)
	}
	if string(dst.buf[:n]) != "hello" {
		t.Fatalf("expected hello, got %q", dst.buf[:n])
	}
}

func TestPipeReadReturnsEOFWhenWriterClosed(t *testing.T) {
	newTestProc(t)
	r, w, merr := Mk()
	if merr != 0 {
		t.Fatalf("Mk: %d", merr)
	}

	if err := w.Close(); err != 0 {
		t.Fatalf("Close: %d", err)
	}
	dst := &memIO{buf: make([]byte, 5)}
	n, err := r.Read(dst)
	if err != 0 || n != 0 {
		t.Fatalf("expected EOF (0,0), got n=%d err=%d", n, err)
	}
}

func TestPipeWriteWithNoReadersRaisesSigpipe(t *testing.T) {
	// Kernel threads never receive signals, so the writer here is a
	// ring-3 process.
	pid, perr := proc.CreateUserProcess(0x8000, 0x1000, 0x2000, nil)
	if perr != 0 {
		t.Fatalf("CreateUserProcess: %d", perr)
	}
	p := proc.Find(pid)
	proc.SetCurrentForTest(p)
	r, w, merr := Mk()
	if merr != 0 {
		t.Fatalf("Mk: %d", merr)
	}

	if err := r.Close(); err != 0 {
		t.Fatalf("Close: %d", err)
	}
	src := &memIO{buf: []byte("x")}
	_, err := w.Write(src)
	if err != -defs.EPIPE {
		t.Fatalf("expected -EPIPE, got %d", err)
	}
	if _, ok := p.Sig.TakeLowest(); !ok {
		t.Fatal("expected SIGPIPE to have been raised against the writer")
	}
}

func TestPipeReadBlocksUntilWriteWakesIt(t *testing.T) {
	newTestProc(t)
	r, w, merr := Mk()
	if merr != 0 {
		t.Fatalf("Mk: %d", merr)
	}
	done := make(chan struct{})
	var n int
	var rerr defs.Err_t

	dst := &memIO{buf: make([]byte, 3)}
	go func() {
		n, rerr = r.Read(dst)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("read returned before any data was written")
	case <-time.After(5 * time.Millisecond):
	}

	src := &memIO{buf: []byte("abc")}
	if _, err := w.Write(src); err != 0 {
		t.Fatalf("write: %d", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("read never unblocked after write")
	}
	if rerr != 0 || n != 3 {
		t.Fatalf("read: n=%d err=%d", n, rerr)
	}
}

func TestReopenBumpsRefcountSoOneCloseKeepsPipeAlive(t *testing.T) {
	newTestProc(t)
	r, w, merr := Mk()
	if merr != 0 {
		t.Fatalf("Mk: %d", merr)
	}

	if err := w.Reopen(); err != 0 {
		t.Fatalf("Reopen: %d", err)
	}
	if err := w.Close(); err != 0 {
		t.Fatalf("Close: %d", err)
	}

	src := &memIO{buf: []byte("y")}
	if _, err := w.Write(src); err != 0 {
		t.Fatalf("expected write to still succeed with one writer ref left, got %d", err)
	}
	_ = r
}
