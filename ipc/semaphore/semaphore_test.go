package semaphore

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func uniqueName(t *testing.T) string {
	return "/lightipc-test-sem-" + t.Name()
}

func TestExistReflectsOwnerLifetime(t *testing.T) {
	name := uniqueName(t)
	require.False(t, Exist(name))

	owner := New(name, true)
	require.True(t, owner.Valid())
	require.True(t, Exist(name))

	require.NoError(t, owner.Close())
	require.False(t, Exist(name))
}

func TestInvalidNameLeavesHandleInert(t *testing.T) {
	s := New("no-leading-slash", true)
	require.False(t, s.Valid())
	require.NotPanics(t, func() {
		s.Wait()
		s.Post()
	})
	require.NoError(t, s.Close())
}

func TestDoublePostCollapses(t *testing.T) {
	name := uniqueName(t)
	owner := New(name, true)
	defer owner.Close()
	require.True(t, owner.Valid())

	owner.Wait() // claim it once so Post has something to release
	owner.Post()
	owner.Post() // second Post without an intervening Wait: collapsed

	claimed := make(chan struct{}, 2)
	go func() {
		owner.Wait()
		claimed <- struct{}{}
	}()
	go func() {
		owner.Wait()
		claimed <- struct{}{}
	}()

	<-claimed
	select {
	case <-claimed:
		t.Fatal("second waiter claimed the semaphore without an intervening Post")
	default:
	}
}

func TestNonOwnerOpensExisting(t *testing.T) {
	name := uniqueName(t)
	owner := New(name, true)
	defer owner.Close()
	require.True(t, owner.Valid())

	nonOwner := New(name, false)
	require.True(t, nonOwner.Valid())
	require.NoError(t, nonOwner.Close())
	require.True(t, Exist(name), "non-owner Close must not unlink")
}

func TestCrossHandleMutualExclusion(t *testing.T) {
	name := uniqueName(t)
	owner := New(name, true)
	defer owner.Close()

	counter := 0
	const goroutines = 10
	const perGoroutine = 200

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			sem := New(name, false)
			defer sem.Close()
			for j := 0; j < perGoroutine; j++ {
				sem.Wait()
				counter++
				sem.Post()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, goroutines*perGoroutine, counter)
}

func TestWaitBlocksUntilPost(t *testing.T) {
	name := uniqueName(t)
	owner := New(name, true)
	defer owner.Close()

	owner.Wait() // now locked

	var acquired atomic.Bool
	done := make(chan struct{})
	go func() {
		owner.Wait()
		acquired.Store(true)
		close(done)
	}()

	require.False(t, acquired.Load())
	owner.Post()
	<-done
	require.True(t, acquired.Load())
}
