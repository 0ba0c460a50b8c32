//go:build linux

package processhardening

import (
	"runtime"
	"syscall"
	"unsafe"

	"github.com/d42ejh/ilnyaplus-dev/internal/tlog"
)

// HardenProcess marks the process non-dumpable, disables core dumps
// and locks the pages backing any key material passed to KeepAlive.
func (ph *ProcessHardening) HardenProcess() {
	if !ph.enabled {
		return
	}
	ph.setDumpable(false)
	ph.disableCoreDumps()
	tlog.Debug.Printf("processhardening: applied (linux)")
}

func (ph *ProcessHardening) setDumpable(dumpable bool) {
	_ = prctl(syscall.PR_SET_DUMPABLE, boolToInt(dumpable), 0, 0, 0)
}

func (ph *ProcessHardening) disableCoreDumps() {
	_ = syscall.Setrlimit(syscall.RLIMIT_CORE, &syscall.Rlimit{Cur: 0, Max: 0})
}

// KeepAlive pins data in memory and attempts to lock its pages out of
// swap, so a convergent key never lands on disk unencrypted even
// under memory pressure.
func (ph *ProcessHardening) KeepAlive(data []byte) {
	if len(data) == 0 {
		return
	}
	runtime.KeepAlive(data)
	_ = mlock(unsafe.Pointer(&data[0]), uintptr(len(data)))
}

func prctl(option int, arg2, arg3, arg4, arg5 uintptr) error {
	_, _, errno := syscall.Syscall6(syscall.SYS_PRCTL, uintptr(option), arg2, arg3, arg4, arg5, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func mlock(ptr unsafe.Pointer, size uintptr) error {
	_, _, errno := syscall.Syscall(syscall.SYS_MLOCK, uintptr(ptr), size, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func boolToInt(b bool) uintptr {
	if b {
		return 1
	}
	return 0
}
