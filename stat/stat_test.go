package stat

import "testing"

func TestStatFields(t *testing.T) {
	var st Stat_t
	st.Wdev(1)
	st.Wino(42)
	st.Wmode(0755)
	st.Wsize(4096)
	st.Wrdev(0)
	st.Wblocks(1)
	st.Wmtime(100, 200)

	if st.Dev() != 1 || st.Rino() != 42 || st.Mode() != 0755 || st.Size() != 4096 {
		t.Fatal("field mismatch")
	}
	if st.Blocks() != 1 {
		t.Fatal("blocks mismatch")
	}
	sec, nsec := st.Mtime()
	if sec != 100 || nsec != 200 {
		t.Fatal("mtime mismatch")
	}
	if len(st.Bytes()) == 0 {
		t.Fatal("expected non-empty byte view")
	}
}
