package console

import (
	"bytes"
	"testing"

	"spikeos/defs"
	"spikeos/fdops"
	"spikeos/stat"
)

type memIO struct {
	buf []uint8
}

func (m *memIO) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, m.buf)
	m.buf = m.buf[n:]
	return n, 0
}
func (m *memIO) Uiowrite(src []uint8) (int, defs.Err_t) { m.buf = append(m.buf, src...); return len(src), 0 }
func (m *memIO) Remain() int                            { return len(m.buf) }
func (m *memIO) Totalsz() int                           { return len(m.buf) }

var _ fdops.Userio_i = (*memIO)(nil)

func TestWriteCopiesIntoOut(t *testing.T) {
	var out bytes.Buffer
	c := &Console_t{Out: &out}

	src := &memIO{buf: []byte("hello\n")}
	n, err := c.Write(src)
	if err != 0 {
		t.Fatalf("Write: %d", err)
	}
	if n != 6 {
		t.Fatalf("expected 6 bytes written, got %d", n)
	}
	if out.String() != "hello\n" {
		t.Fatalf("expected Out to contain %q, got %q", "hello\n", out.String())
	}
}

func TestWriteWithNilOutDiscards(t *testing.T) {
	c := &Console_t{}
	n, err := c.Write(&memIO{buf: []byte("x")})
	if err != 0 || n != 1 {
		t.Fatalf("expected (1, 0), got (%d, %d)", n, err)
	}
}

func TestReadReturnsEOF(t *testing.T) {
	c := &Console_t{}
	n, err := c.Read(nil)
	if n != 0 || err != 0 {
		t.Fatalf("expected (0, 0), got (%d, %d)", n, err)
	}
}

func TestFstatReportsConsoleDevice(t *testing.T) {
	c := &Console_t{}
	var st stat.Stat_t
	if err := c.Fstat(&st); err != 0 {
		t.Fatalf("Fstat: %d", err)
	}
	maj, min := defs.Unmkdev(st.Rdev())
	if maj != defs.D_CONSOLE || min != 0 {
		t.Fatalf("expected major=%d minor=0, got major=%d minor=%d", defs.D_CONSOLE, maj, min)
	}
}

func TestMkUsesPackageOut(t *testing.T) {
	var out bytes.Buffer
	Out = &out
	defer func() { Out = nil }()

	c := Mk()
	if c.Out != &out {
		t.Fatal("expected Mk to pick up the package-level Out")
	}
}
