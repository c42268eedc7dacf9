//go:build linux

package topology

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// currentCPU returns the CPU the calling goroutine is executing on. x/sys
// carries no getcpu wrapper, only the syscall number, so this goes through
// RawSyscall. getcpu is vDSO-backed on modern kernels, cheap enough for the
// access path; on error the caller degrades to node 0.
func currentCPU() int {
	var cpu, node uint32
	_, _, errno := unix.RawSyscall(unix.SYS_GETCPU,
		uintptr(unsafe.Pointer(&cpu)), uintptr(unsafe.Pointer(&node)), 0)
	if errno != 0 {
		return 0
	}
	return int(cpu)
}
