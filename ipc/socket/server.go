package socket

import (
	"context"

	"go.uber.org/zap"

	"github.com/henaiguo/lightipc/internal/wire"
	"github.com/henaiguo/lightipc/lock"
	"github.com/henaiguo/lightipc/thread"
)

// Handler reacts to inbound requests and transport-level errors on a
// Server. Received fills in the response body for a request; the
// caller must not retain request beyond the call.
type Handler interface {
	Received(request []byte) []byte
	OnReceiveError(err error)
	OnResponseError(err error)
}

// Server answers requests, fires notifications, and answers pings over
// one Endpoint. Outbound sends are serialized by a send mutex so a
// response is never interleaved on the wire with a Notify.
type Server struct {
	logger   *zap.SugaredLogger
	endpoint *Endpoint
	handler  Handler
	sendMu   *lock.Mutex
	worker   *thread.Thread
	active   bool
}

// NewServer opens the owning side of base and returns a Server ready to
// Start.
func NewServer(base string, handler Handler, logger *zap.SugaredLogger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		endpoint: Open(base, true, opts...),
		handler:  handler,
		sendMu:   lock.New(),
		logger:   logger,
	}
	s.worker = thread.New(s.run, nil, nil)
	s.worker.SetName("receiveThread")
	return s
}

// Valid reports whether the underlying endpoint opened successfully.
func (s *Server) Valid() bool { return s.endpoint.Valid() }

// Start spawns the receive worker. If block is true, Start does not
// return until Stop is called from another goroutine.
func (s *Server) Start(block bool) {
	if !s.endpoint.Valid() {
		return
	}
	s.active = true
	s.worker.Start()
	if block {
		s.worker.Join()
	}
}

// Stop clears the active flag, cancels the worker, and waits for it to
// finish.
func (s *Server) Stop() {
	s.active = false
	s.worker.CancelAndJoin()
}

// Close stops the worker if running and closes the underlying endpoint.
func (s *Server) Close() error {
	s.Stop()
	return s.endpoint.Close()
}

// Notify asynchronously sends update to the peer with type tag
// wire.TypeNotify. No response is expected.
func (s *Server) Notify(update []byte) error {
	header := wire.EncodeHeaderTag(wire.TypeNotify, nil)
	scoped := lock.Acquire(s.sendMu, false)
	defer scoped.Release()
	return s.endpoint.Send(header, update)
}

// Ping sends a server-originated ping with body "PING"; no response is
// expected.
func (s *Server) Ping() error {
	header := wire.EncodeHeaderTag(wire.TypeServerPing, nil)
	scoped := lock.Acquire(s.sendMu, false)
	defer scoped.Release()
	return s.endpoint.Send(header, []byte("PING"))
}

func (s *Server) run(ctx context.Context, _ any) {
	for {
		header, body, err := s.endpoint.ReceiveContext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Debugw("socket server: receive failed", "error", err)
			if s.handler != nil {
				s.handler.OnReceiveError(err)
			}
			continue
		}

		tag, err := wire.DecodeHeaderTag(header)
		if err != nil {
			s.logger.Debugw("socket server: malformed header", "error", err)
			if s.handler != nil {
				s.handler.OnReceiveError(err)
			}
			continue
		}

		isPing := tag == wire.TypeClientPing
		var response []byte
		if isPing {
			response = []byte("OK")
		} else if s.handler != nil {
			response = s.handler.Received(body)
		}

		scoped := lock.Acquire(s.sendMu, false)
		sendErr := s.endpoint.Send(header, response)
		scoped.Release()
		if sendErr != nil && !isPing && s.handler != nil {
			s.handler.OnResponseError(sendErr)
		}
	}
}
