//go:build linux

package sysprops

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// futexWait/futexWake block on and wake a 32-bit word in a shared mapping
// via the raw futex(2) syscall; golang.org/x/sys/unix exposes the syscall
// number and timespec conversion but no typed futex wrapper, so the
// operation codes are defined locally.
const (
	futexOpWait = 0
	futexOpWake = 1
)

func futexWait(addr *uint32, expected uint32, deadline *time.Time) error {
	var ts *unix.Timespec
	if deadline != nil {
		remaining := time.Until(*deadline)
		if remaining <= 0 {
			return nil
		}
		t := unix.NsecToTimespec(remaining.Nanoseconds())
		ts = &t
	}
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(futexOpWait),
		uintptr(expected),
		uintptr(unsafe.Pointer(ts)),
		0, 0,
	)
	switch errno {
	case 0, unix.EAGAIN, unix.EINTR, unix.ETIMEDOUT:
		return nil
	default:
		return IOf(errno, "futex wait")
	}
}

func futexWake(addr *uint32, count int) error {
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(futexOpWake),
		uintptr(count),
		0, 0, 0,
	)
	if errno != 0 {
		return IOf(errno, "futex wake")
	}
	return nil
}
