package vm

import (
	"testing"

	"spikeos/mem"
)

func setupPaging(t *testing.T) {
	t.Helper()
	mem.Physmem.Reset()
	kernelPD = 0
	kernelPTs = [3]mem.Pa_t{}
	mmioNextPDE = MMIOBasePDE
	PagingInit()
}

func TestPagingInitIdentityMapsLowMemory(t *testing.T) {
	setupPaging(t)
	pa, ok := VirtToPhys(kernelPD, KernelBase+0x1000)
	if !ok || pa != 0x1000 {
		t.Fatalf("expected identity map at 0x1000, got pa=%d ok=%v", pa, ok)
	}
}

func TestMapPageAndUnmap(t *testing.T) {
	setupPaging(t)
	pd, err := PgdirCreate()
	if err != 0 {
		t.Fatal(err)
	}
	frame, ferr := mem.Physmem.AllocFrame()
	if ferr != nil {
		t.Fatal(ferr)
	}
	va := uintptr(0x1000)
	if rc := MapPage(pd, va, frame, P_USER|P_WRITE); rc != 0 {
		t.Fatalf("map failed: %v", rc)
	}
	got, ok := VirtToPhys(pd, va)
	if !ok || got != frame {
		t.Fatalf("expected %d, got %d ok=%v", frame, got, ok)
	}
	UnmapPage(pd, va)
	if _, ok := VirtToPhys(pd, va); ok {
		t.Fatal("expected unmapped after UnmapPage")
	}
}

func TestTempMapDoubleMapPanics(t *testing.T) {
	setupPaging(t)
	frame, _ := mem.Physmem.AllocFrame()
	_, unmap := TempMap(frame)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on nested temp_map")
		}
		unmap()
	}()
	TempMap(frame)
}

func TestPgdirDestroyFreesUserFrames(t *testing.T) {
	setupPaging(t)
	before := mem.Physmem.Nfree()
	pd, _ := PgdirCreate()
	frame, _ := mem.Physmem.AllocFrame()
	MapPage(pd, 0x2000, frame, P_USER|P_WRITE)
	PgdirDestroy(pd)
	if mem.Physmem.Nfree() != before {
		t.Fatalf("expected all frames reclaimed, free=%d want=%d", mem.Physmem.Nfree(), before)
	}
}

func TestUserbufRoundtrip(t *testing.T) {
	setupPaging(t)
	as, err := NewAddressSpace()
	if err != 0 {
		t.Fatal(err)
	}
	va := uintptr(0x400000)
	as.Vmregion.Add(va, uintptr(mem.PGSIZE), true)

	src := []byte("hello, spikeos")
	ub := &Userbuf_t{}
	ub.Ub_init(as, va, len(src))
	n, werr := ub.Uiowrite(src)
	if werr != 0 || n != len(src) {
		t.Fatalf("write failed: n=%d err=%v", n, werr)
	}

	dst := make([]byte, len(src))
	ub2 := &Userbuf_t{}
	ub2.Ub_init(as, va, len(src))
	n, rerr := ub2.Uioread(dst)
	if rerr != 0 || n != len(src) {
		t.Fatalf("read failed: n=%d err=%v", n, rerr)
	}
	if string(dst) != string(src) {
		t.Fatalf("roundtrip mismatch: got %q", dst)
	}
}
