package limits

import "testing"

func TestSysatomicTakenGiven(t *testing.T) {
	var s Sysatomic_t = 2
	if !s.Take() {
		t.Fatal("expected first take to succeed")
	}
	if !s.Take() {
		t.Fatal("expected second take to succeed")
	}
	if s.Take() {
		t.Fatal("expected third take to fail once exhausted")
	}
	s.Give()
	if !s.Take() {
		t.Fatal("expected take to succeed after give")
	}
}

func TestMkSysLimitDefaults(t *testing.T) {
	l := MkSysLimit()
	if l.Sysprocs <= 0 || l.MaxFds <= 0 || l.HeapMax <= 0 || l.FrameBits <= 0 {
		t.Fatal("expected positive defaults")
	}
	if l.InodeInitial > l.InodeCap {
		t.Fatal("initial inode count must not exceed cap")
	}
}
