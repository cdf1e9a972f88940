package mq

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func uniqueName(t *testing.T) string {
	return "/lightipc-test-mq-" + t.Name()
}

func TestExistReflectsOwnerLifetime(t *testing.T) {
	name := uniqueName(t)
	require.False(t, Exist(name))

	owner := New(name, 4, 64, true)
	require.True(t, owner.Valid())
	require.True(t, Exist(name))

	require.NoError(t, owner.Close())
	require.False(t, Exist(name))
}

func TestInvalidNameLeavesHandleInert(t *testing.T) {
	q := New("no-leading-slash", 4, 64, true)
	require.False(t, q.Valid())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := q.Send(ctx, []byte("x"))
	require.ErrorIs(t, err, ErrClosed)
	require.NoError(t, q.Close())
}

func TestCapacityRoundsUpToPowerOfTwo(t *testing.T) {
	q := New(uniqueName(t), 5, 64, true)
	defer q.Close()
	require.True(t, q.Valid())
	require.Equal(t, 8, q.Capacity())
}

func TestSendReceiveRoundTrip(t *testing.T) {
	name := uniqueName(t)
	q := New(name, 4, 64, true)
	defer q.Close()
	require.True(t, q.Valid())

	require.NoError(t, q.Send(context.Background(), []byte("hello")))
	msg, err := q.Receive(context.Background())
	require.NoError(t, err)
	require.Equal(t, "hello", string(msg))
}

func TestSendRejectsOversizedMessage(t *testing.T) {
	q := New(uniqueName(t), 4, 4, true)
	defer q.Close()
	err := q.Send(context.Background(), []byte("toolong"))
	require.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestReceiveBlocksUntilSend(t *testing.T) {
	name := uniqueName(t)
	q := New(name, 4, 64, true)
	defer q.Close()

	result := make(chan string, 1)
	go func() {
		msg, err := q.Receive(context.Background())
		if err == nil {
			result <- string(msg)
		}
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-result:
		t.Fatal("receive returned before any send")
	default:
	}

	require.NoError(t, q.Send(context.Background(), []byte("payload")))
	select {
	case msg := <-result:
		require.Equal(t, "payload", msg)
	case <-time.After(time.Second):
		t.Fatal("receive never woke up after send")
	}
}

func TestSendBlocksWhenFull(t *testing.T) {
	name := uniqueName(t)
	q := New(name, 1, 8, true)
	defer q.Close()

	require.NoError(t, q.Send(context.Background(), []byte("a")))

	done := make(chan struct{})
	go func() {
		require.NoError(t, q.Send(context.Background(), []byte("b")))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second send completed while queue was full")
	case <-time.After(30 * time.Millisecond):
	}

	_, err := q.Receive(context.Background())
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second send never completed after space freed")
	}
}

func TestSendRespectsContextCancellation(t *testing.T) {
	q := New(uniqueName(t), 1, 8, true)
	defer q.Close()
	require.NoError(t, q.Send(context.Background(), []byte("a")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Send(ctx, []byte("b"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseUnblocksWaitingReceiver(t *testing.T) {
	name := uniqueName(t)
	q := New(name, 4, 64, true)

	errc := make(chan error, 1)
	go func() {
		_, err := q.Receive(context.Background())
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Close())

	select {
	case err := <-errc:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("receive never unblocked after close")
	}
}

func TestNonOwnerAdoptsCapacityAndMessageSize(t *testing.T) {
	name := uniqueName(t)
	owner := New(name, 4, 128, true)
	defer owner.Close()
	require.True(t, owner.Valid())

	nonOwner := New(name, 1, 1, false)
	defer nonOwner.Close()
	require.True(t, nonOwner.Valid())
	require.Equal(t, owner.Capacity(), nonOwner.Capacity())
	require.Equal(t, owner.MessageSize(), nonOwner.MessageSize())
}

func TestCrossHandleFIFOUnderConcurrency(t *testing.T) {
	name := uniqueName(t)
	owner := New(name, 8, 32, true)
	defer owner.Close()

	const producers = 4
	const perProducer = 50
	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(id int) {
			defer wg.Done()
			sender := New(name, 8, 32, false)
			defer sender.Close()
			for i := 0; i < perProducer; i++ {
				require.NoError(t, sender.Send(context.Background(), []byte{byte(id)}))
			}
		}(p)
	}

	received := 0
	done := make(chan struct{})
	go func() {
		for received < producers*perProducer {
			if _, err := owner.Receive(context.Background()); err != nil {
				return
			}
			received++
		}
		close(done)
	}()

	wg.Wait()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("only received %d of %d messages", received, producers*perProducer)
	}
}
