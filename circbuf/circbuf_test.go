package circbuf

import (
	"testing"

	"spikeos/mem"
	"spikeos/vm"
)

func TestCopyinCopyoutRoundtrip(t *testing.T) {
	mem.Physmem.Reset()
	var cb Circbuf_t
	cb.Cb_init(64)

	var src vm.Fakeubuf_t
	src.Fake_init([]byte("hello"))
	n, err := cb.Copyin(&src)
	if err != 0 || n != 5 {
		t.Fatalf("copyin: n=%d err=%v", n, err)
	}
	if cb.Used() != 5 {
		t.Fatalf("expected used=5, got %d", cb.Used())
	}

	dst := make([]byte, 5)
	var fb vm.Fakeubuf_t
	fb.Fake_init(dst)
	n, err = cb.Copyout(&fb)
	if err != 0 || n != 5 {
		t.Fatalf("copyout: n=%d err=%v", n, err)
	}
	if string(dst) != "hello" {
		t.Fatalf("got %q", dst)
	}
	if !cb.Empty() {
		t.Fatal("expected empty after full copyout")
	}
}

func TestFullStopsCopyin(t *testing.T) {
	mem.Physmem.Reset()
	var cb Circbuf_t
	cb.Cb_init(4)
	var src vm.Fakeubuf_t
	src.Fake_init([]byte("abcdef"))
	n, err := cb.Copyin(&src)
	if err != 0 || n != 4 {
		t.Fatalf("expected to fill to capacity 4, got n=%d err=%v", n, err)
	}
	if !cb.Full() {
		t.Fatal("expected full")
	}
}
