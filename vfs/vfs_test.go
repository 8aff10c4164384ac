package vfs

import (
	"spikeos/defs"
	"spikeos/fd"
	"spikeos/ustr"
	"testing"
)

func rootCwd() *fd.Cwd_t {
	return fd.MkRootCwd(nil)
}

type memIO struct{ buf []uint8 }

func (m *memIO) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, m.buf)
	m.buf = m.buf[n:]
	return n, 0
}
func (m *memIO) Uiowrite(src []uint8) (int, defs.Err_t) { m.buf = append(m.buf, src...); return len(src), 0 }
func (m *memIO) Remain() int                            { return len(m.buf) }
func (m *memIO) Totalsz() int                            { return len(m.buf) }

func TestRootHasDotAndDotDot(t *testing.T) {
	Init()
	entries, err := ReadDir(0)
	if err != 0 {
		t.Fatalf("ReadDir: %d", err)
	}
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	if !names["."] || !names[".."] {
		t.Fatal("expected root to contain . and ..")
	}
}

func TestCreateWriteReadRoundtrip(t *testing.T) {
	Init()
	cwd := rootCwd()

	f, err := Open(cwd, ustr.Ustr("/foo"), defs.O_CREAT|defs.O_RDWR)
	if err != 0 {
		t.Fatalf("Open: %d", err)
	}
	n, werr := f.Write(&memIO{buf: []byte("abc\n")})
	if werr != 0 || n != 4 {
		t.Fatalf("Write: n=%d err=%d", n, werr)
	}

	f2, err := Open(cwd, ustr.Ustr("/foo"), defs.O_RDONLY)
	if err != 0 {
		t.Fatalf("reopen: %d", err)
	}
	out := &memIO{}
	n, rerr := f2.Read(out)
	if rerr != 0 || n != 4 || string(out.buf) != "abc\n" {
		t.Fatalf("expected to read back %q, got %q (n=%d err=%d)", "abc\n", out.buf, n, rerr)
	}
}

func TestMkdirNestedAndResolve(t *testing.T) {
	Init()
	cwd := rootCwd()

	if err := Mkdir(cwd, ustr.Ustr("/d")); err != 0 {
		t.Fatalf("Mkdir: %d", err)
	}
	f, err := Open(cwd, ustr.Ustr("/d/bar"), defs.O_CREAT|defs.O_RDWR)
	if err != 0 {
		t.Fatalf("Open nested: %d", err)
	}
	f.Write(&memIO{buf: []byte("xyz")})

	ino, err := Resolve(cwd, ustr.Ustr("/d/bar"))
	if err != 0 {
		t.Fatalf("Resolve: %d", err)
	}
	if ino == 0 {
		t.Fatal("expected a non-root inode for /d/bar")
	}
}

func TestRemoveRefusesNonEmptyDir(t *testing.T) {
	Init()
	cwd := rootCwd()
	Mkdir(cwd, ustr.Ustr("/d"))
	Open(cwd, ustr.Ustr("/d/bar"), defs.O_CREAT)

	if err := Remove(cwd, ustr.Ustr("/d"), true); err != -defs.ENOTEMPTY {
		t.Fatalf("expected -ENOTEMPTY, got %d", err)
	}
}

func TestRemoveRefusesRoot(t *testing.T) {
	Init()
	cwd := rootCwd()
	if err := Remove(cwd, ustr.Ustr("/"), true); err == 0 {
		t.Fatal("expected removing root to fail")
	}
}

func TestRenameUpdatesDotDot(t *testing.T) {
	Init()
	cwd := rootCwd()
	Mkdir(cwd, ustr.Ustr("/a"))
	Mkdir(cwd, ustr.Ustr("/b"))
	Mkdir(cwd, ustr.Ustr("/a/child"))

	if err := Rename(cwd, ustr.Ustr("/a/child"), ustr.Ustr("/b/child")); err != 0 {
		t.Fatalf("Rename: %d", err)
	}

	childIno, err := Resolve(cwd, ustr.Ustr("/b/child"))
	if err != 0 {
		t.Fatalf("Resolve moved dir: %d", err)
	}
	entries, _ := ReadDir(childIno)
	bIno, _ := Resolve(cwd, ustr.Ustr("/b"))
	for _, e := range entries {
		if e.Name == ".." && e.Ino != bIno {
			t.Fatalf("expected .. to point at /b (%d), got %d", bIno, e.Ino)
		}
	}
}

func TestCreateExistingFails(t *testing.T) {
	Init()
	cwd := rootCwd()
	Open(cwd, ustr.Ustr("/foo"), defs.O_CREAT)
	if _, err := Create(cwd, ustr.Ustr("/foo")); err != -defs.EEXIST {
		t.Fatalf("expected -EEXIST, got %d", err)
	}
}

func TestReadPastEndOfFileReturnsZero(t *testing.T) {
	Init()
	cwd := rootCwd()
	f, _ := Open(cwd, ustr.Ustr("/foo"), defs.O_CREAT|defs.O_RDWR)
	f.Lseek(100, defs.SEEK_SET)
	n, err := f.Read(&memIO{})
	if err != 0 || n != 0 {
		t.Fatalf("expected EOF-like (0, 0), got (%d, %d)", n, err)
	}
}
