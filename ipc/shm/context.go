package shm

import (
	"sync"
	"unsafe"

	"go.uber.org/zap"
)

// Context caches SharedMemory regions by name so repeated binds to the
// same name within a process share one mapping rather than mapping the
// same file twice.
type Context struct {
	mu      sync.Mutex
	logger  *zap.SugaredLogger
	regions map[string]*SharedMemory
}

// ContextOption configures a Context at construction.
type ContextOption func(*Context)

// WithContextLogger injects a logger passed through to every region the
// context creates.
func WithContextLogger(logger *zap.SugaredLogger) ContextOption {
	return func(c *Context) { c.logger = logger }
}

// NewContext constructs an empty Context.
func NewContext(opts ...ContextOption) *Context {
	c := &Context{logger: zap.NewNop().Sugar(), regions: make(map[string]*SharedMemory)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bind returns the SharedMemory region named name, sized to hold a T,
// creating and caching it on first use. A non-owner bind to a region
// that does not yet exist returns nil rather than creating one.
func Bind[T any](ctx *Context, name string, owner bool) *SharedMemory {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	if region, ok := ctx.regions[name]; ok {
		return region
	}
	if !owner && !Exist(name) {
		return nil
	}
	var zero T
	size := int(unsafe.Sizeof(zero))
	region := New(name, size, owner, WithLogger(ctx.logger))
	if !region.Valid() {
		return nil
	}
	ctx.regions[name] = region
	return region
}

// Release closes and forgets the named region if the context holds one.
func (c *Context) Release(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	region, ok := c.regions[name]
	if !ok {
		return nil
	}
	delete(c.regions, name)
	return region.Close()
}

// Close closes every region the context has bound.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	for name, region := range c.regions {
		if cerr := region.Close(); err == nil {
			err = cerr
		}
		delete(c.regions, name)
	}
	return err
}
