package thread

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStartRunsAndCleanupRunsOnce(t *testing.T) {
	var cleanupCount atomic.Int32
	var ranOnCurrentGoroutine atomic.Bool

	th := New(func(ctx context.Context, param any) {
		require.Equal(t, "hello", param)
		if Current(ctx) != nil {
			ranOnCurrentGoroutine.Store(true)
		}
	}, func(param any) {
		cleanupCount.Add(1)
	}, "hello")

	th.SetName("worker-name-too-long")
	require.LessOrEqual(t, len(th.Name()), maxNameLen)

	th.Start()
	th.Join()

	require.True(t, ranOnCurrentGoroutine.Load())
	require.Equal(t, int32(1), cleanupCount.Load())
	require.False(t, th.IsActive())
}

func TestStartIsNoOpWhenActive(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	th := New(func(ctx context.Context, _ any) {
		close(started)
		<-release
	}, nil, nil)

	th.Start()
	<-started
	firstID := th.ID()
	th.Start() // no-op: already active
	require.Equal(t, firstID, th.ID())

	close(release)
	th.Join()
}

func TestCancelAndJoinIdleIsNoOp(t *testing.T) {
	th := New(func(context.Context, any) {}, nil, nil)
	require.NotPanics(t, func() {
		th.Cancel()
		th.Join()
	})
}

func TestCleanupRunsOnPanic(t *testing.T) {
	var cleaned atomic.Bool
	th := New(func(context.Context, any) {
		panic("boom")
	}, func(any) {
		cleaned.Store(true)
	}, nil)

	th.Start()
	th.Join()
	require.True(t, cleaned.Load())
}

func TestCancelStopsCooperativeLoop(t *testing.T) {
	var iterations atomic.Int32
	th := New(func(ctx context.Context, _ any) {
		for {
			select {
			case <-ctx.Done():
				return
			default:
				iterations.Add(1)
				time.Sleep(time.Millisecond)
			}
		}
	}, nil, nil)

	th.Start()
	time.Sleep(20 * time.Millisecond)
	th.CancelAndJoin()
	require.Greater(t, iterations.Load(), int32(0))
	require.False(t, th.IsActive())
}

func TestRegistryLookup(t *testing.T) {
	found := make(chan bool, 1)
	release := make(chan struct{})
	th := New(func(ctx context.Context, _ any) {
		self := Current(ctx)
		_, ok := ByID(self.ID())
		found <- ok
		<-release
	}, nil, nil)

	th.Start()
	require.True(t, <-found)
	close(release)
	th.Join()

	_, ok := ByID(th.ID())
	require.False(t, ok, "cleanup must remove the thread from the registry")
}

type countingHooks struct {
	startCalled  atomic.Int32
	loopCount    atomic.Int32
	stopCalled   atomic.Int32
	startResult  bool
	stopAfterN   int32
}

func (h *countingHooks) OnStart() bool {
	h.startCalled.Add(1)
	return h.startResult
}

func (h *countingHooks) OnLooping() bool {
	n := h.loopCount.Add(1)
	return n < h.stopAfterN
}

func (h *countingHooks) OnStop() {
	h.stopCalled.Add(1)
}

func TestAbstractWorkerHaltsBeforeFirstLoopWhenOnStartFalse(t *testing.T) {
	h := &countingHooks{startResult: false, stopAfterN: 100}
	w := NewAbstractWorker(h, 5)
	w.StartThread("t", true)

	require.Equal(t, int32(1), h.startCalled.Load())
	require.Equal(t, int32(0), h.loopCount.Load())
	require.Equal(t, int32(1), h.stopCalled.Load())
}

func TestAbstractWorkerLoopsUntilOnLoopingFalse(t *testing.T) {
	h := &countingHooks{startResult: true, stopAfterN: 3}
	w := NewAbstractWorker(h, 5)
	w.StartThread("t", true)

	require.GreaterOrEqual(t, h.loopCount.Load(), int32(3))
	require.Equal(t, int32(1), h.stopCalled.Load())
}
