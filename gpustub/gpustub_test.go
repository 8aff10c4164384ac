package gpustub

import (
	"testing"

	"spikeos/defs"
)

func TestInitAndFlipAlwaysReturnENOSYS(t *testing.T) {
	if err := Init(); err != -defs.ENOSYS {
		t.Fatalf("expected -ENOSYS from Init, got %d", err)
	}
	if err := Flip(); err != -defs.ENOSYS {
		t.Fatalf("expected -ENOSYS from Flip, got %d", err)
	}
}
