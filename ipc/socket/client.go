package socket

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/henaiguo/lightipc/internal/wire"
	"github.com/henaiguo/lightipc/lock"
	"github.com/henaiguo/lightipc/thread"
)

// ErrInactive is returned by SendReceive/Ping once the client's worker
// has stopped.
var ErrInactive = errors.New("socket: client inactive")

// NotifyFunc receives the body of an unsolicited server notification.
// It runs on the client's worker goroutine and must not call
// SendReceive or Ping on the same Client — doing so would re-enter the
// send mutex from the very goroutine that is about to signal it.
type NotifyFunc func(update []byte)

type responseSlot struct {
	arrived bool
	err     error
	header  []byte
	body    []byte
}

// Client is the request/response/notify counterpart to Server: at most
// one SendReceive is ever in flight (serialized by the send mutex), and
// notifications from the peer are delivered on the client's own worker
// goroutine.
type Client struct {
	logger   *zap.SugaredLogger
	endpoint *Endpoint
	sendMu   *lock.Mutex
	respMu   *lock.Mutex
	slot     responseSlot
	notify   NotifyFunc
	worker   *thread.Thread
	active   atomic.Bool
}

// NewClient opens the non-owning side of base and starts the response
// worker.
func NewClient(base string, notify NotifyFunc, logger *zap.SugaredLogger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	c := &Client{
		endpoint: Open(base, false, opts...),
		sendMu:   lock.New(),
		respMu:   lock.New(),
		notify:   notify,
		logger:   logger,
	}
	c.worker = thread.New(c.run, nil, nil)
	c.worker.SetName("responseThread")
	if c.endpoint.Valid() {
		c.active.Store(true)
		c.worker.Start()
	}
	return c
}

// Valid reports whether the underlying endpoint opened successfully.
func (c *Client) Valid() bool { return c.endpoint.Valid() }

// Close stops the worker, wakes any goroutine blocked in SendReceive or
// Ping with ErrInactive, and closes the underlying endpoint.
func (c *Client) Close() error {
	c.active.Store(false)
	scoped := lock.Acquire(c.respMu, false)
	c.respMu.ConditionBroadcast()
	scoped.Release()

	c.worker.CancelAndJoin()
	return c.endpoint.Close()
}

// SendReceive sends request with type tag wire.TypeRequest and blocks
// for the matching response, returning the received body itself (not a
// copy).
func (c *Client) SendReceive(request []byte) (response []byte, err error) {
	return c.privateSendReceive(wire.TypeRequest, request)
}

// Ping sends a client-originated ping with body "PING" and blocks until
// the server acknowledges it. The server's reply body is discarded: a
// successful Ping only confirms liveness, it never invokes the server's
// Handler and carries no response payload back to the caller.
func (c *Client) Ping() error {
	_, err := c.privateSendReceive(wire.TypeClientPing, []byte("PING"))
	return err
}

func (c *Client) privateSendReceive(tag uint32, body []byte) ([]byte, error) {
	scoped := lock.Acquire(c.sendMu, false)
	defer scoped.Release()

	header := wire.EncodeHeaderTag(tag, nil)
	if err := c.endpoint.Send(header, body); err != nil {
		return nil, err
	}

	respScoped := lock.Acquire(c.respMu, false)
	defer respScoped.Release()

	c.slot = responseSlot{}
	for !c.slot.arrived && c.active.Load() {
		c.respMu.ConditionWait()
	}
	if !c.active.Load() {
		return nil, ErrInactive
	}
	if c.slot.err != nil {
		err := c.slot.err
		c.slot = responseSlot{}
		return nil, err
	}

	respTag, _ := wire.DecodeHeaderTag(c.slot.header)
	var response []byte
	if respTag == wire.TypeRequest || respTag == wire.TypeClientPing {
		response = c.slot.body
	}
	c.slot = responseSlot{}
	return response, nil
}

func (c *Client) run(ctx context.Context, _ any) {
	for {
		header, body, err := c.endpoint.ReceiveContext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			scoped := lock.Acquire(c.respMu, false)
			c.slot.err = err
			c.slot.arrived = true
			c.respMu.ConditionSignal()
			scoped.Release()
			continue
		}

		tag, err := wire.DecodeHeaderTag(header)
		if err != nil {
			c.logger.Debugw("socket client: malformed header", "error", err)
			continue
		}

		switch tag {
		case wire.TypeRequest, wire.TypeClientPing:
			scoped := lock.Acquire(c.respMu, false)
			c.slot.header = header
			c.slot.body = body
			c.slot.arrived = true
			c.respMu.ConditionSignal()
			scoped.Release()
		case wire.TypeNotify:
			if c.notify != nil {
				c.notify(body)
			}
		case wire.TypeServerPing:
			// discarded
		default:
			// discarded
		}
	}
}
