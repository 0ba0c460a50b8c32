//go:build darwin

package processhardening

import (
	"runtime"
	"syscall"
	"unsafe"

	"github.com/d42ejh/ilnyaplus-dev/internal/tlog"
)

// HardenProcess disables core dumps and locks the pages backing any
// key material passed to KeepAlive.
func (ph *ProcessHardening) HardenProcess() {
	if !ph.enabled {
		return
	}
	ph.disableCoreDumps()
	tlog.Debug.Printf("processhardening: applied (darwin)")
}

func (ph *ProcessHardening) disableCoreDumps() {
	_ = syscall.Setrlimit(syscall.RLIMIT_CORE, &syscall.Rlimit{Cur: 0, Max: 0})
}

// KeepAlive pins data in memory and attempts to lock its pages out of
// swap.
func (ph *ProcessHardening) KeepAlive(data []byte) {
	if len(data) == 0 {
		return
	}
	runtime.KeepAlive(data)
	_ = mlock(unsafe.Pointer(&data[0]), uintptr(len(data)))
}

func mlock(ptr unsafe.Pointer, size uintptr) error {
	_, _, errno := syscall.Syscall(syscall.SYS_MLOCK, uintptr(ptr), size, 0)
	if errno != 0 {
		return errno
	}
	return nil
}
