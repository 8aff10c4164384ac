package mem

import "testing"

func TestAllocFreeFrame(t *testing.T) {
	p := newPhysmem(16)
	pa, err := p.AllocFrame()
	if err != nil {
		t.Fatal(err)
	}
	if pa != 0 {
		t.Fatalf("expected first frame at 0, got %d", pa)
	}
	if p.Nfree() != 15 {
		t.Fatalf("expected 15 free, got %d", p.Nfree())
	}
	p.FreeFrame(pa)
	if p.Nfree() != 16 {
		t.Fatalf("expected 16 free after FreeFrame, got %d", p.Nfree())
	}
}

func TestAllocExhaustion(t *testing.T) {
	p := newPhysmem(4)
	for i := 0; i < 4; i++ {
		if _, err := p.AllocFrame(); err != nil {
			t.Fatalf("unexpected OOM at frame %d", i)
		}
	}
	if _, err := p.AllocFrame(); err != ErrOOM {
		t.Fatalf("expected ErrOOM, got %v", err)
	}
}

func TestAllocFramesContiguous(t *testing.T) {
	p := newPhysmem(8)
	if _, err := p.AllocFrame(); err != nil {
		t.Fatal(err)
	}
	pa, err := p.AllocFramesContiguous(4)
	if err != nil {
		t.Fatal(err)
	}
	if pa != Pa_t(PGSIZE) {
		t.Fatalf("expected contiguous run to start at frame 1, got pa=%d", pa)
	}
}

func TestDoubleFreePanics(t *testing.T) {
	p := newPhysmem(2)
	pa, _ := p.AllocFrame()
	p.FreeFrame(pa)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double free")
		}
	}()
	p.FreeFrame(pa)
}

func TestReserveRegion(t *testing.T) {
	p := newPhysmem(8)
	p.ReserveRegion(0, 3)
	if p.Nfree() != 5 {
		t.Fatalf("expected 5 free after reserving 3, got %d", p.Nfree())
	}
}

func TestBytesOfUnallocatedPanics(t *testing.T) {
	p := newPhysmem(2)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic reading unallocated frame")
		}
	}()
	p.Bytes(0)
}
