//go:build !linux && !darwin

package processhardening

import "runtime"

// HardenProcess is a no-op on platforms with no known core-dump or
// memory-lock syscall wired up here.
func (ph *ProcessHardening) HardenProcess() {}

// KeepAlive only prevents garbage collection on this platform; there
// is no mlock equivalent wired up.
func (ph *ProcessHardening) KeepAlive(data []byte) {
	runtime.KeepAlive(data)
}
