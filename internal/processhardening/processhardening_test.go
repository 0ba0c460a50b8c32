package processhardening

import "testing"

func TestHardenProcess(t *testing.T) {
	ph := New()
	if !ph.IsEnabled() {
		t.Fatal("hardening should be enabled by default")
	}
	ph.HardenProcess()

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	ph.KeepAlive(key)
}

func TestDisable(t *testing.T) {
	ph := New()
	ph.Disable()
	if ph.IsEnabled() {
		t.Error("hardening should report disabled after Disable")
	}
	// HardenProcess must be a no-op once disabled, not a panic.
	ph.HardenProcess()
}
