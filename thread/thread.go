// Package thread models the named, cancellable worker used throughout
// LightIPC (socket receive loops, the abstract polling worker) as a thin
// wrapper over a goroutine plus a cooperative-cancellation context.Context.
//
// Go has no notion of an OS thread id a goroutine can query, and no
// goroutine-local storage; per the spec's own design note this
// implementation takes the "cleaner" alternative it names — a
// context.Context value carries the running Thread instead of a
// process-wide id->handle table keyed off a TLS-less thread id. A small
// registry keyed by a synthetic id is still kept (see registry.go) because
// the spec calls for one explicitly and it is useful for introspection
// independent of any particular goroutine's context.
package thread

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// maxNameLen mirrors the original's 15-character (+ terminator) thread
// name limit.
const maxNameLen = 15

// RunFunc is the user-supplied worker body. ctx is cancelled when Cancel
// is called; well-behaved run functions poll ctx.Done() cooperatively
// (see spec's Design Notes preference for cooperative shutdown) but the
// spec also allows a run function to simply return.
type RunFunc func(ctx context.Context, param any)

// CleanupFunc runs exactly once per Start, whether the run function
// returned normally, was cancelled, or panicked.
type CleanupFunc func(param any)

// Thread is a named, cancellable worker. The zero Thread is idle and
// ready to be configured with SetRunner and started.
type Thread struct {
	mu      sync.Mutex
	name    string
	id      uint64
	active  bool
	param   any
	run     RunFunc
	cleanup CleanupFunc
	cancel  context.CancelFunc
	done    chan struct{}
}

// New returns a Thread configured with run, cleanup and param. cleanup may
// be nil.
func New(run RunFunc, cleanup CleanupFunc, param any) *Thread {
	return &Thread{run: run, cleanup: cleanup, param: param}
}

// SetRunner configures the run function, cleanup hook and parameter. It
// must be called before Start.
func (t *Thread) SetRunner(run RunFunc, cleanup CleanupFunc, param any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.run = run
	t.cleanup = cleanup
	t.param = param
}

// Parameter returns the opaque parameter passed to the run function.
func (t *Thread) Parameter() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.param
}

// SetName sets the thread's name, silently truncated to 15 characters.
func (t *Thread) SetName(name string) {
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	t.mu.Lock()
	t.name = name
	t.mu.Unlock()
}

// Name returns the thread's name, "" by default.
func (t *Thread) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.name
}

// ID returns the synthetic thread id, 0 before the first Start.
func (t *Thread) ID() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

// IsActive reports whether the worker is currently running.
func (t *Thread) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Start spawns the worker goroutine. A no-op if the thread is already
// active.
func (t *Thread) Start() {
	t.mu.Lock()
	if t.active {
		t.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.active = true
	t.id = nextID()
	done := make(chan struct{})
	t.done = done
	run, cleanup, param, id := t.run, t.cleanup, t.param, t.id
	t.mu.Unlock()

	registerThread(id, t)
	ctx = withCurrent(ctx, t)

	go func() {
		defer func() {
			recover() // guarantee the cleanup hook still runs once
			if cleanup != nil {
				cleanup(param)
			}
			unregisterThread(id)
			t.mu.Lock()
			t.active = false
			t.mu.Unlock()
			close(done)
		}()
		if run != nil {
			run(ctx, param)
		}
	}()
}

// Cancel asynchronously requests the worker stop. A no-op if the thread is
// idle. It does not wait for the worker to finish; call Join for that.
// Cancel does not release any locks the worker holds — the cleanup hook
// must do that.
func (t *Thread) Cancel() {
	t.mu.Lock()
	cancel := t.cancel
	active := t.active
	t.mu.Unlock()
	if active && cancel != nil {
		cancel()
	}
}

// Join blocks until the worker's cleanup hook has completed. A no-op if
// the thread is idle.
func (t *Thread) Join() {
	t.mu.Lock()
	done := t.done
	active := t.active
	t.mu.Unlock()
	if !active || done == nil {
		return
	}
	<-done
}

// CancelAndJoin cancels the worker and blocks until it has fully stopped.
func (t *Thread) CancelAndJoin() {
	t.Cancel()
	t.Join()
}

// Yield relinquishes the calling goroutine's remaining time slice.
func Yield() {
	runtime.Gosched()
}

// Sleep pauses the calling goroutine for the given number of seconds.
func Sleep(seconds uint) {
	time.Sleep(time.Duration(seconds) * time.Second)
}

// MilliSleep pauses the calling goroutine for the given number of
// milliseconds.
func MilliSleep(millis uint) {
	time.Sleep(time.Duration(millis) * time.Millisecond)
}

// MicroSleep pauses the calling goroutine for the given number of
// microseconds.
func MicroSleep(micros uint) {
	time.Sleep(time.Duration(micros) * time.Microsecond)
}

// NanoSleep pauses the calling goroutine for the given number of
// nanoseconds.
func NanoSleep(nanos uint) {
	time.Sleep(time.Duration(nanos))
}
