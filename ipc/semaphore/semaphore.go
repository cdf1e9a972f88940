// Package semaphore implements the named, cross-process binary
// semaphore every other IPC primitive in this module uses as its
// mutual-exclusion token.
//
// There is no sem_open binding anywhere in the retrieved corpus — the one
// cgo-based shared-memory example embeds an unnamed sem_t inside a mapped
// region rather than calling sem_open — so this follows the teacher's own
// approach to every synchronization primitive in this domain instead: a
// small mmap'd file holding one futex word, parked and woken with the raw
// futex syscall. Existence becomes a stat() of that file, which sidesteps
// the racy static Exist() the spec's Open Questions flag.
package semaphore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/henaiguo/lightipc/internal/futex"
)

const wordSize = 4096 // one page; only the first 4 bytes are meaningful

const (
	stateLocked    uint32 = 0
	stateAvailable uint32 = 1
)

// Semaphore is a named binary lock: Wait blocks until available then
// claims it, Post makes it available again but collapses a second Post
// without an intervening Wait (it models a mutex, not a counting
// semaphore, so waiters never see a count above 1).
type Semaphore struct {
	logger *zap.SugaredLogger
	name   string
	path   string
	owner  bool
	valid  bool
	file   *os.File
	mem    []byte
}

// Option configures a Semaphore at construction.
type Option func(*Semaphore)

// WithLogger injects a logger for the diagnostic messages construction
// failures write instead of failing the caller's program.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *Semaphore) { s.logger = logger }
}

// basePath returns the directory backing named LightIPC kernel resources,
// preferring the tmpfs-backed /dev/shm the way the teacher's segment path
// resolution does, falling back to os.TempDir.
func basePath() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

func semPath(name string) string {
	sanitized := strings.ReplaceAll(strings.TrimPrefix(name, "/"), "/", "_")
	return filepath.Join(basePath(), "lightipc_sem_"+sanitized)
}

func validName(name string) bool {
	return len(name) > 0 && strings.HasPrefix(name, "/")
}

// Exist reports whether a semaphore of this name currently exists.
func Exist(name string) bool {
	if !validName(name) {
		return false
	}
	_, err := os.Stat(semPath(name))
	return err == nil
}

// New constructs a Semaphore. An owner unlinks any stale object of the
// same name and creates a fresh one initialized to available; a
// non-owner opens an existing one. Construction never fails the caller's
// program: an invalid name or a failed open/create leaves the returned
// handle inert (Wait/Post become no-ops) and logs a diagnostic.
func New(name string, owner bool, opts ...Option) *Semaphore {
	s := &Semaphore{name: name, owner: owner, logger: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(s)
	}
	if !validName(name) {
		s.logger.Errorw("semaphore: invalid name", "name", name)
		return s
	}
	s.path = semPath(name)

	if owner {
		if err := s.createOwned(); err != nil {
			s.logger.Errorw("semaphore: create failed", "name", name, "error", err)
			return s
		}
	} else {
		if err := s.openExisting(); err != nil {
			s.logger.Errorw("semaphore: open failed", "name", name, "error", err)
			return s
		}
	}
	s.valid = true
	return s
}

func (s *Semaphore) createOwned() error {
	os.Remove(s.path)
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("create %s: %w", s.path, err)
	}
	if err := f.Truncate(wordSize); err != nil {
		f.Close()
		os.Remove(s.path)
		return fmt.Errorf("truncate %s: %w", s.path, err)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, wordSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(s.path)
		return fmt.Errorf("mmap %s: %w", s.path, err)
	}
	s.file, s.mem = f, mem
	atomic.StoreUint32(s.word(), stateAvailable)
	return nil
}

func (s *Semaphore) openExisting() error {
	f, err := os.OpenFile(s.path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, wordSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return fmt.Errorf("mmap %s: %w", s.path, err)
	}
	s.file, s.mem = f, mem
	return nil
}

func (s *Semaphore) word() *uint32 {
	return (*uint32)(unsafe.Pointer(&s.mem[0]))
}

// Wait blocks until the semaphore is available, then claims it.
func (s *Semaphore) Wait() {
	if !s.valid {
		return
	}
	word := s.word()
	for {
		if atomic.CompareAndSwapUint32(word, stateAvailable, stateLocked) {
			return
		}
		futex.Wait(word, stateLocked)
	}
}

// Post makes the semaphore available, waking one waiter. A second Post
// without an intervening Wait is collapsed: the value never exceeds 1.
func (s *Semaphore) Post() {
	if !s.valid {
		return
	}
	word := s.word()
	if atomic.CompareAndSwapUint32(word, stateLocked, stateAvailable) {
		futex.Wake(word, 1)
	}
}

// Name returns the semaphore's name.
func (s *Semaphore) Name() string { return s.name }

// IsOwner reports whether this handle owns (and will unlink) the
// semaphore.
func (s *Semaphore) IsOwner() bool { return s.owner }

// Valid reports whether construction succeeded.
func (s *Semaphore) Valid() bool { return s.valid }

// Close releases the local handle. An owner additionally unlinks the
// name so no future process observes the semaphore as existing.
func (s *Semaphore) Close() error {
	if !s.valid {
		return nil
	}
	s.valid = false
	err := unix.Munmap(s.mem)
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	if s.owner {
		if rerr := os.Remove(s.path); err == nil {
			err = rerr
		}
	}
	return err
}
