package thread

import (
	"context"
	"sync"
	"sync/atomic"
)

// idCounter issues synthetic thread ids; 0 is reserved for "never started".
var idCounter atomic.Uint64

func nextID() uint64 {
	return idCounter.Add(1)
}

// registry maps a synthetic thread id to its Thread, guarded implicitly by
// sync.Map's own internal locking. Entries are inserted at worker entry
// and removed by the cleanup hook, per spec.
var registry sync.Map // map[uint64]*Thread

func registerThread(id uint64, t *Thread) {
	registry.Store(id, t)
}

func unregisterThread(id uint64) {
	registry.Delete(id)
}

// ByID looks up a still-active thread by its synthetic id.
func ByID(id uint64) (*Thread, bool) {
	v, ok := registry.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Thread), true
}

// currentKey is the context.Context key a Thread stores itself under when
// it starts its worker goroutine.
type currentKey struct{}

func withCurrent(ctx context.Context, t *Thread) context.Context {
	return context.WithValue(ctx, currentKey{}, t)
}

// Current returns the Thread running the goroutine that owns ctx, or nil
// if ctx was not derived from a Thread's run context. This is this
// package's TLS-free equivalent of Thread::CurrentThread(): a caller
// inside a RunFunc has ctx in hand already, so it costs nothing extra.
func Current(ctx context.Context) *Thread {
	t, _ := ctx.Value(currentKey{}).(*Thread)
	return t
}
