package caller

import "testing"

func TestDistinctCallerTracksNewChains(t *testing.T) {
	dc := &Distinct_caller_t{Enabled: true}
	seen1, trace1 := dc.Distinct()
	if !seen1 || trace1 == "" {
		t.Fatal("expected first call chain to be distinct")
	}
	seen2, _ := dc.Distinct()
	if seen2 {
		t.Fatal("expected identical call chain to not be distinct twice")
	}
	if dc.Len() != 1 {
		t.Fatalf("expected 1 distinct chain recorded, got %d", dc.Len())
	}
}

func TestDistinctCallerDisabled(t *testing.T) {
	dc := &Distinct_caller_t{}
	seen, trace := dc.Distinct()
	if seen || trace != "" {
		t.Fatal("expected disabled tracker to report nothing")
	}
}

func TestDistinctCallerWhitelist(t *testing.T) {
	dc := &Distinct_caller_t{Enabled: true, Whitel: map[string]bool{
		"testing.tRunner": true,
	}}
	seen, _ := dc.Distinct()
	if seen {
		t.Fatal("expected whitelisted caller to be suppressed")
	}
}
