package shm

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type counterPayload struct {
	Value int64
	Flag  byte
}

func uniqueName(t *testing.T) string {
	return "/lightipc-test-shm-" + t.Name()
}

func TestExistReflectsOwnerLifetime(t *testing.T) {
	name := uniqueName(t)
	require.False(t, Exist(name))

	owner := New(name, 64, true)
	require.True(t, owner.Valid())
	require.True(t, Exist(name))

	require.NoError(t, owner.Close())
	require.False(t, Exist(name))
}

func TestInvalidNameLeavesHandleInert(t *testing.T) {
	s := New("no-leading-slash", 64, true)
	require.False(t, s.Valid())
	require.Nil(t, View[counterPayload](s))
	require.NoError(t, s.Close())
}

func TestNonOwnerOpensAtActualSize(t *testing.T) {
	name := uniqueName(t)
	owner := New(name, 4096, true)
	defer owner.Close()
	require.True(t, owner.Valid())

	nonOwner := New(name, 8, false)
	defer nonOwner.Close()
	require.True(t, nonOwner.Valid())
	require.Equal(t, 4096, nonOwner.Size())
}

func TestNonOwnerRejectsUndersizedExistingRegion(t *testing.T) {
	name := uniqueName(t)
	owner := New(name, 8, true)
	defer owner.Close()
	require.True(t, owner.Valid())

	nonOwner := New(name, 4096, false)
	require.False(t, nonOwner.Valid())
}

func TestViewSharesUnderlyingMemory(t *testing.T) {
	name := uniqueName(t)
	owner := New(name, 4096, true)
	defer owner.Close()
	require.True(t, owner.Valid())

	writer := View[counterPayload](owner)
	require.NotNil(t, writer)
	writer.Value = 42
	writer.Flag = 1

	reader := New(name, 4096, false)
	defer reader.Close()
	require.True(t, reader.Valid())

	view := View[counterPayload](reader)
	require.NotNil(t, view)
	require.Equal(t, int64(42), view.Value)
	require.Equal(t, byte(1), view.Flag)
}

func TestViewTooSmallReturnsNil(t *testing.T) {
	name := uniqueName(t)
	owner := New(name, 1, true)
	defer owner.Close()
	require.True(t, owner.Valid())
	require.Nil(t, View[counterPayload](owner))
}

func TestSharedLockMutualExclusion(t *testing.T) {
	name := uniqueName(t)
	owner := New(name, 4096, true)
	defer owner.Close()
	require.True(t, owner.Valid())

	const goroutines = 10
	const perGoroutine = 200

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			region := New(name, 4096, false)
			defer region.Close()
			for j := 0; j < perGoroutine; j++ {
				lock := Lock[counterPayload](region, false)
				lock.Value().Value++
				lock.Release()
			}
		}()
	}
	wg.Wait()

	final := View[counterPayload](owner)
	require.Equal(t, int64(goroutines*perGoroutine), final.Value)
}

func TestContextBindCachesRegion(t *testing.T) {
	name := uniqueName(t)
	ctx := NewContext()
	defer ctx.Close()

	first := Bind[counterPayload](ctx, name, true)
	require.NotNil(t, first)
	second := Bind[counterPayload](ctx, name, true)
	require.Same(t, first, second)
}

func TestContextBindNonOwnerMissingReturnsNil(t *testing.T) {
	ctx := NewContext()
	defer ctx.Close()
	require.Nil(t, Bind[counterPayload](ctx, uniqueName(t), false))
}

func TestContextCloseUnlinksOwnedRegions(t *testing.T) {
	name := uniqueName(t)
	ctx := NewContext()
	region := Bind[counterPayload](ctx, name, true)
	require.NotNil(t, region)
	require.True(t, Exist(name))

	require.NoError(t, ctx.Close())
	require.False(t, Exist(name))
}
