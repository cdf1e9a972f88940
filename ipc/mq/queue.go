// Package mq implements a bounded, named message queue: a fixed number
// of fixed-size slots arranged as a circular buffer in shared memory,
// with producers and consumers parked on a futex word instead of
// spinning or polling a kernel mqueue. It is grounded on the same
// mmap-plus-futex approach as ipc/semaphore and ipc/shm, and on the
// circular-buffer layout (monotonic write/read sequence counters,
// power-of-two capacity) the teacher's shared-memory ring buffer uses
// for its transport frames.
package mq

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/henaiguo/lightipc/internal/futex"
)

// ErrMessageTooLarge is returned by Send when payload exceeds the
// queue's configured message size.
var ErrMessageTooLarge = errors.New("mq: message exceeds queue message size")

// ErrClosed is returned by Send and Receive once the local handle has
// been closed.
var ErrClosed = errors.New("mq: queue closed")

const headerSize = 64 // room for the fields below plus alignment padding

// header is the fixed-layout control block at the start of the mapped
// region. Fields are accessed with the atomic package so producers and
// consumers in different processes can share it without a separate lock.
type header struct {
	writeSeq   uint64
	readSeq    uint64
	capacity   uint64
	msgSize    uint64
	notifyWord uint32
	closedWord uint32
}

// slotStride is the number of bytes each slot occupies: a 4-byte length
// prefix followed by the queue's fixed message size.
func slotStride(msgSize int) int { return 4 + msgSize }

// roundUpPowerOfTwo mirrors the capacity rounding the teacher's ring
// buffer applies, so a queue's slot count is always a power of two and
// index-mod-capacity can use a bitmask.
func roundUpPowerOfTwo(n int) uint64 {
	if n < 1 {
		return 1
	}
	x := uint64(n)
	if x&(x-1) == 0 {
		return x
	}
	x--
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	x |= x >> 32
	return x + 1
}

// Queue is a named, bounded message queue backed by shared memory.
type Queue struct {
	logger   *zap.SugaredLogger
	name     string
	path     string
	owner    bool
	valid    bool
	closed   atomic.Bool
	capacity uint64
	msgSize  int
	file     *os.File
	mem      []byte
	hdr      *header
}

// Option configures a Queue at construction.
type Option func(*Queue)

// WithLogger injects a logger for diagnostics written on construction
// failure.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(q *Queue) { q.logger = logger }
}

func basePath() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

func queuePath(name string) string {
	sanitized := strings.ReplaceAll(strings.TrimPrefix(name, "/"), "/", "_")
	return filepath.Join(basePath(), "lightipc_mq_"+sanitized)
}

func validName(name string) bool {
	return len(name) > 0 && strings.HasPrefix(name, "/")
}

// Exist reports whether a queue of this name currently exists.
func Exist(name string) bool {
	if !validName(name) {
		return false
	}
	_, err := os.Stat(queuePath(name))
	return err == nil
}

// New constructs a Queue holding up to capacity messages of at most
// msgSize bytes each (capacity is rounded up to a power of two). An
// owner unlinks any stale queue of the same name and creates a fresh
// one; a non-owner opens an existing one and adopts its actual capacity
// and message size. Like the other named resources in this module,
// construction never fails the caller's program: a failure leaves the
// handle inert and logs a diagnostic.
func New(name string, capacity, msgSize int, owner bool, opts ...Option) *Queue {
	q := &Queue{name: name, owner: owner, msgSize: msgSize, logger: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(q)
	}
	if !validName(name) {
		q.logger.Errorw("mq: invalid name", "name", name)
		return q
	}
	q.path = queuePath(name)
	q.capacity = roundUpPowerOfTwo(capacity)

	var err error
	if owner {
		err = q.createOwned()
	} else {
		err = q.openExisting()
	}
	if err != nil {
		q.logger.Errorw("mq: open/create failed", "name", name, "error", err)
		return q
	}
	q.valid = true
	return q
}

func (q *Queue) regionSize() int {
	return headerSize + int(q.capacity)*slotStride(q.msgSize)
}

func (q *Queue) createOwned() error {
	os.Remove(q.path)
	size := q.regionSize()
	f, err := os.OpenFile(q.path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("create %s: %w", q.path, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(q.path)
		return fmt.Errorf("truncate %s: %w", q.path, err)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(q.path)
		return fmt.Errorf("mmap %s: %w", q.path, err)
	}
	q.file, q.mem = f, mem
	q.hdr = (*header)(unsafe.Pointer(&q.mem[0]))
	q.hdr.capacity = q.capacity
	q.hdr.msgSize = uint64(q.msgSize)
	return nil
}

func (q *Queue) openExisting() error {
	f, err := os.OpenFile(q.path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", q.path, err)
	}
	// Map just the header first to learn the real capacity/message size.
	head, err := unix.Mmap(int(f.Fd()), 0, headerSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return fmt.Errorf("mmap header %s: %w", q.path, err)
	}
	h := (*header)(unsafe.Pointer(&head[0]))
	q.capacity = atomic.LoadUint64(&h.capacity)
	q.msgSize = int(atomic.LoadUint64(&h.msgSize))
	unix.Munmap(head)

	size := q.regionSize()
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return fmt.Errorf("mmap %s: %w", q.path, err)
	}
	q.file, q.mem = f, mem
	q.hdr = (*header)(unsafe.Pointer(&q.mem[0]))
	return nil
}

func (q *Queue) slot(index uint64) []byte {
	i := index & (q.capacity - 1)
	stride := slotStride(q.msgSize)
	start := headerSize + int(i)*stride
	return q.mem[start : start+stride]
}

// Name returns the queue's name.
func (q *Queue) Name() string { return q.name }

// Capacity returns the queue's slot count (a power of two).
func (q *Queue) Capacity() int { return int(q.capacity) }

// MessageSize returns the maximum payload size accepted by Send.
func (q *Queue) MessageSize() int { return q.msgSize }

// IsOwner reports whether this handle owns the queue.
func (q *Queue) IsOwner() bool { return q.owner }

// Valid reports whether construction succeeded.
func (q *Queue) Valid() bool { return q.valid }

const notifyPollInterval = 2 * time.Millisecond

// Send enqueues payload, blocking while the queue is full. It returns
// ctx.Err() if ctx is cancelled first, ErrClosed if the queue is closed
// (locally or by another handle), and ErrMessageTooLarge if payload
// exceeds MessageSize.
func (q *Queue) Send(ctx context.Context, payload []byte) error {
	if !q.valid {
		return ErrClosed
	}
	if len(payload) > q.msgSize {
		return ErrMessageTooLarge
	}
	for {
		if q.closed.Load() || atomic.LoadUint32(&q.hdr.closedWord) != 0 {
			return ErrClosed
		}
		w := atomic.LoadUint64(&q.hdr.writeSeq)
		r := atomic.LoadUint64(&q.hdr.readSeq)
		if w-r < q.capacity {
			slot := q.slot(w)
			binaryPutLen(slot, len(payload))
			copy(slot[4:], payload)
			atomic.StoreUint64(&q.hdr.writeSeq, w+1)
			atomic.AddUint32(&q.hdr.notifyWord, 1)
			futex.Wake(&q.hdr.notifyWord, 1<<30)
			return nil
		}
		if err := q.parkUntilNotified(ctx); err != nil {
			return err
		}
	}
}

// Receive dequeues the oldest message, blocking while the queue is
// empty. It returns ctx.Err() if ctx is cancelled first and ErrClosed
// once the queue is closed and drained.
func (q *Queue) Receive(ctx context.Context) ([]byte, error) {
	if !q.valid {
		return nil, ErrClosed
	}
	for {
		w := atomic.LoadUint64(&q.hdr.writeSeq)
		r := atomic.LoadUint64(&q.hdr.readSeq)
		if r < w {
			slot := q.slot(r)
			n := binaryGetLen(slot)
			msg := make([]byte, n)
			copy(msg, slot[4:4+n])
			atomic.StoreUint64(&q.hdr.readSeq, r+1)
			atomic.AddUint32(&q.hdr.notifyWord, 1)
			futex.Wake(&q.hdr.notifyWord, 1<<30)
			return msg, nil
		}
		if q.closed.Load() || atomic.LoadUint32(&q.hdr.closedWord) != 0 {
			return nil, ErrClosed
		}
		if err := q.parkUntilNotified(ctx); err != nil {
			return nil, err
		}
	}
}

func (q *Queue) parkUntilNotified(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	snapshot := atomic.LoadUint32(&q.hdr.notifyWord)
	err := futex.WaitTimeout(&q.hdr.notifyWord, snapshot, notifyPollInterval.Nanoseconds())
	if err != nil && !errors.Is(err, futex.ErrTimeout) {
		return err
	}
	return nil
}

// Close releases the local handle and, if any waiters are parked in
// Send/Receive, wakes them with ErrClosed. An owner also unlinks the
// backing file so no future process observes the queue as existing.
func (q *Queue) Close() error {
	if !q.valid {
		return nil
	}
	q.closed.Store(true)
	if q.owner {
		atomic.StoreUint32(&q.hdr.closedWord, 1)
	}
	atomic.AddUint32(&q.hdr.notifyWord, 1)
	futex.Wake(&q.hdr.notifyWord, 1<<30)

	q.valid = false
	err := unix.Munmap(q.mem)
	if cerr := q.file.Close(); err == nil {
		err = cerr
	}
	if q.owner {
		if rerr := os.Remove(q.path); err == nil {
			err = rerr
		}
	}
	return err
}

func binaryPutLen(slot []byte, n int) {
	slot[0] = byte(n)
	slot[1] = byte(n >> 8)
	slot[2] = byte(n >> 16)
	slot[3] = byte(n >> 24)
}

func binaryGetLen(slot []byte) int {
	return int(slot[0]) | int(slot[1])<<8 | int(slot[2])<<16 | int(slot[3])<<24
}
