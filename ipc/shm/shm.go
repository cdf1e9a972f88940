// Package shm implements named shared-memory regions paired one-to-one
// with a named binary semaphore of the same name, so the region and its
// lock are created and destroyed together and there is never an ordering
// hazard between the two (spec §4.6).
package shm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/henaiguo/lightipc/ipc/semaphore"
)

// SharedMemory is a named, memory-mapped region plus the semaphore used
// to serialize access to it.
type SharedMemory struct {
	logger *zap.SugaredLogger
	name   string
	path   string
	owner  bool
	valid  bool
	size   int
	file   *os.File
	mem    []byte
	sem    *semaphore.Semaphore
}

// Option configures a SharedMemory at construction.
type Option func(*SharedMemory)

// WithLogger injects a logger for diagnostics written on construction
// failure.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *SharedMemory) { s.logger = logger }
}

func basePath() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

func regionPath(name string) string {
	sanitized := strings.ReplaceAll(strings.TrimPrefix(name, "/"), "/", "_")
	return filepath.Join(basePath(), "lightipc_shm_"+sanitized)
}

func validName(name string) bool {
	return len(name) > 0 && strings.HasPrefix(name, "/")
}

// Exist reports whether a region of this name currently exists.
func Exist(name string) bool {
	if !validName(name) {
		return false
	}
	_, err := os.Stat(regionPath(name))
	return err == nil
}

// New constructs a SharedMemory region of at least size bytes. An owner
// unlinks any stale region of the same name, creates and sizes a fresh
// one, and creates the paired semaphore; a non-owner opens both as they
// already exist. Like semaphore.New, construction never fails the
// caller's program: a failure leaves the handle inert (Valid() == false)
// and logs a diagnostic instead of returning an error.
func New(name string, size int, owner bool, opts ...Option) *SharedMemory {
	s := &SharedMemory{name: name, owner: owner, size: size, logger: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(s)
	}
	if !validName(name) {
		s.logger.Errorw("shm: invalid name", "name", name)
		return s
	}
	s.path = regionPath(name)

	var err error
	if owner {
		err = s.createOwned()
	} else {
		err = s.openExisting()
	}
	if err != nil {
		s.logger.Errorw("shm: open/create failed", "name", name, "error", err)
		return s
	}

	s.sem = semaphore.New(name, owner, semaphore.WithLogger(s.logger))
	if !s.sem.Valid() {
		s.logger.Errorw("shm: paired semaphore invalid, tearing down region", "name", name)
		unix.Munmap(s.mem)
		s.file.Close()
		if owner {
			os.Remove(s.path)
		}
		return s
	}

	s.valid = true
	return s
}

func (s *SharedMemory) createOwned() error {
	os.Remove(s.path)
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("create %s: %w", s.path, err)
	}
	if err := f.Truncate(int64(s.size)); err != nil {
		f.Close()
		os.Remove(s.path)
		return fmt.Errorf("truncate %s: %w", s.path, err)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, s.size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(s.path)
		return fmt.Errorf("mmap %s: %w", s.path, err)
	}
	s.file, s.mem = f, mem
	return nil
}

func (s *SharedMemory) openExisting() error {
	f, err := os.OpenFile(s.path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat %s: %w", s.path, err)
	}
	actual := int(info.Size())
	if actual < s.size {
		f.Close()
		return fmt.Errorf("region %s is %d bytes, need at least %d", s.path, actual, s.size)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, actual, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return fmt.Errorf("mmap %s: %w", s.path, err)
	}
	s.file, s.mem, s.size = f, mem, actual
	return nil
}

// Name returns the region's name.
func (s *SharedMemory) Name() string { return s.name }

// Size returns the mapped region's size in bytes.
func (s *SharedMemory) Size() int { return s.size }

// IsOwner reports whether this handle owns the region.
func (s *SharedMemory) IsOwner() bool { return s.owner }

// Valid reports whether construction succeeded.
func (s *SharedMemory) Valid() bool { return s.valid }

// Bytes returns the raw mapped bytes. Callers should prefer View for
// typed access; Bytes is for building custom layouts on top of a region.
func (s *SharedMemory) Bytes() []byte { return s.mem }

// Wait claims the region's paired semaphore.
func (s *SharedMemory) Wait() { s.sem.Wait() }

// Post releases the region's paired semaphore.
func (s *SharedMemory) Post() { s.sem.Post() }

// Close unmaps the region and closes its paired semaphore. An owner also
// unlinks the region's backing file. Region and semaphore are destroyed
// together, mirroring how they were created together.
func (s *SharedMemory) Close() error {
	if !s.valid {
		return nil
	}
	s.valid = false
	err := unix.Munmap(s.mem)
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	if serr := s.sem.Close(); err == nil {
		err = serr
	}
	if s.owner {
		if rerr := os.Remove(s.path); err == nil {
			err = rerr
		}
	}
	return err
}

// View returns a pointer to the base of the mapping interpreted as *T.
// The caller is responsible for T being trivially copyable (no pointers,
// slices, strings, maps or interfaces) and fitting within the region; View
// returns nil rather than panicking when it does not fit.
func View[T any](s *SharedMemory) *T {
	var zero T
	need := int(unsafe.Sizeof(zero))
	if !s.valid || len(s.mem) < need {
		return nil
	}
	return (*T)(unsafe.Pointer(&s.mem[0]))
}
