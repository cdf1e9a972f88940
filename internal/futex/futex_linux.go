//go:build linux && (amd64 || arm64)

// Package futex wraps the Linux futex(2) syscall used to wake and park
// goroutines on a shared-memory word without spinning. This is the same
// primitive the shared-memory transport in the teacher module uses to
// synchronize its ring buffers; here it backs LightIPC's named binary
// semaphore (and through it the lock paired with every SharedMemory
// region) and the message queue's wake-up word.
package futex

import (
	"errors"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrTimeout is returned by WaitTimeout when the wait times out.
var ErrTimeout = errors.New("futex: wait timed out")

// The words live in memory mapped by several processes, so the shared
// (non-private) operations are used: a private futex only reaches
// waiters in the calling process.
const (
	futexWait = 0 // FUTEX_WAIT
	futexWake = 1 // FUTEX_WAKE
)

// Wait blocks while *addr == val. It must only be called when the caller
// has already observed addr == val; spurious wakeups are possible, so
// callers must re-check their condition in a loop after Wait returns.
func Wait(addr *uint32, val uint32) error {
	if atomic.LoadUint32(addr) != val {
		return nil
	}
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWait,
		uintptr(val),
		0, 0, 0,
	)
	if errno != 0 && errno != unix.EAGAIN && errno != unix.EINTR {
		return errno
	}
	return nil
}

// WaitTimeout is Wait bounded by timeout. timeout<=0 waits indefinitely.
func WaitTimeout(addr *uint32, val uint32, timeout int64) error {
	if timeout <= 0 {
		return Wait(addr, val)
	}
	if atomic.LoadUint32(addr) != val {
		return nil
	}
	ts := unix.NsecToTimespec(timeout)
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWait,
		uintptr(val),
		uintptr(unsafe.Pointer(&ts)),
		0, 0,
	)
	switch errno {
	case 0, unix.EAGAIN, unix.EINTR:
		return nil
	case unix.ETIMEDOUT:
		return ErrTimeout
	default:
		return errno
	}
}

// Wake wakes up to n goroutines parked in Wait/WaitTimeout on addr,
// returning how many were actually woken.
func Wake(addr *uint32, n int) (int, error) {
	r1, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWake,
		uintptr(n),
		0, 0, 0,
	)
	if errno != 0 {
		return 0, errno
	}
	return int(r1), nil
}
