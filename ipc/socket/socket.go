// Package socket implements the crossed-datagram-pair transport every
// LightIPC client/server connection runs over, plus the framed
// Send/Receive algorithm and the Server/Client request-response-notify
// protocol layered on top of it (per the crossing rule: files P.tx and
// P.rx exist for the lifetime of a connection, and each endpoint sends
// on the path it does not itself listen on).
package socket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/henaiguo/lightipc/internal/wire"
)

// ErrClosed is returned by Send/Receive once the endpoint has been
// closed.
var ErrClosed = errors.New("socket: closed")

// ErrHeaderTooLarge is returned by Send when the application header
// exceeds wire.HeaderMaxSize.
var ErrHeaderTooLarge = errors.New("socket: application header exceeds 512 bytes")

// ErrBodyTooLarge is returned by Send, or observed by Receive, when the
// body exceeds the endpoint's configured limit.
var ErrBodyTooLarge = errors.New("socket: body exceeds configured limit")

// Endpoint is a pair of crossed Unix datagram sockets: one bound to this
// process's own receive path, and one bound to no filesystem path that
// addresses every datagram it sends to the peer's path.
type Endpoint struct {
	logger    *zap.SugaredLogger
	base      string
	owner     bool
	rxPath    string
	txPath    string
	limitSize int
	valid     bool
	rx        *net.UnixConn
	tx        *net.UnixConn
}

// Option configures an Endpoint at construction.
type Option func(*Endpoint)

// WithLogger injects a logger for diagnostics written on construction
// failure.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(e *Endpoint) { e.logger = logger }
}

// WithLimit overrides the default body-size limit. A limit of 0
// disables the check.
func WithLimit(limit int) Option {
	return func(e *Endpoint) { e.limitSize = limit }
}

// Open constructs an Endpoint at base path P. The owner binds its
// receive side at P.rx and sends to P.tx; a non-owner binds at P.tx and
// sends to P.rx, so a request written by either side always lands on
// the other's bound path. The receive path is unlinked before binding,
// so re-opening after Close succeeds. Like the other named resources in
// this module, Open never fails the caller's program: a failure leaves
// the handle inert and logs a diagnostic.
func Open(base string, owner bool, opts ...Option) *Endpoint {
	e := &Endpoint{base: base, owner: owner, limitSize: wire.DefaultLimit, logger: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(e)
	}
	if owner {
		e.rxPath, e.txPath = base+".rx", base+".tx"
	} else {
		e.rxPath, e.txPath = base+".tx", base+".rx"
	}

	os.Remove(e.rxPath)
	rx, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: e.rxPath, Net: "unixgram"})
	if err != nil {
		e.logger.Errorw("socket: bind failed", "path", e.rxPath, "error", err)
		return e
	}
	// The send side is not connected, so the peer need not exist yet.
	tx, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Net: "unixgram"})
	if err != nil {
		rx.Close()
		os.Remove(e.rxPath)
		e.logger.Errorw("socket: send socket failed", "path", e.txPath, "error", err)
		return e
	}
	e.rx, e.tx = rx, tx
	e.valid = true
	return e
}

// Valid reports whether construction succeeded.
func (e *Endpoint) Valid() bool { return e.valid }

// IsOwner reports whether this handle bound the ".rx" path.
func (e *Endpoint) IsOwner() bool { return e.owner }

// Send transmits header as one datagram preceded by the protocol
// header, followed by body split into wire.ChunkSize datagrams (a
// 0-length body yields no body datagrams). Every datagram is addressed to
// the peer's path, so Send fails while no peer has bound it. The receiver
// treats each datagram it reads as one whole chunk in sending order; if
// the kernel split or merged datagrams the body would be reassembled
// wrongly.
func (e *Endpoint) Send(header, body []byte) error {
	if !e.valid {
		return ErrClosed
	}
	if len(header) > wire.HeaderMaxSize {
		return ErrHeaderTooLarge
	}
	if e.limitSize > 0 && len(body) > e.limitSize {
		return ErrBodyTooLarge
	}

	to := &net.UnixAddr{Name: e.txPath, Net: "unixgram"}
	proto := wire.EncodeProtocolHeader(uint32(len(body)))
	if _, err := e.tx.WriteToUnix(proto[:], to); err != nil {
		return fmt.Errorf("socket: send protocol header: %w", err)
	}
	if _, err := e.tx.WriteToUnix(header, to); err != nil {
		return fmt.Errorf("socket: send application header: %w", err)
	}
	for offset := 0; offset < len(body); offset += wire.ChunkSize {
		end := offset + wire.ChunkSize
		if end > len(body) {
			end = len(body)
		}
		if _, err := e.tx.WriteToUnix(body[offset:end], to); err != nil {
			return fmt.Errorf("socket: send body chunk: %w", err)
		}
	}
	return nil
}

// Receive reads one framed message: the protocol header, the
// application header, and the chunked body. It blocks indefinitely.
func (e *Endpoint) Receive() (header, body []byte, err error) {
	if !e.valid {
		return nil, nil, ErrClosed
	}
	e.rx.SetReadDeadline(time.Time{})
	return e.receiveOnce(nil)
}

// workerReadTimeout bounds each individual datagram read ReceiveContext
// performs, so it can re-check ctx between reads. Go has no way to
// interrupt a blocking Read with a context directly, so this polls
// instead — the same tradeoff the futex fallback and the message
// queue's blocking Send/Receive make on platforms without a native
// wait primitive.
const workerReadTimeout = 200 * time.Millisecond

// ReceiveContext is Receive but responsive to ctx cancellation between
// individual datagram reads, for use by long-running worker loops.
func (e *Endpoint) ReceiveContext(ctx context.Context) (header, body []byte, err error) {
	if !e.valid {
		return nil, nil, ErrClosed
	}
	extendDeadline := func() { e.rx.SetReadDeadline(time.Now().Add(workerReadTimeout)) }
	for {
		if cerr := ctx.Err(); cerr != nil {
			return nil, nil, cerr
		}
		header, body, err = e.receiveOnce(extendDeadline)
		if isTimeout(err) {
			continue
		}
		return header, body, err
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (e *Endpoint) receiveOnce(beforeRead func()) (header, body []byte, err error) {
	var scratch [wire.ChunkSize]byte

	if beforeRead != nil {
		beforeRead()
	}
	n, err := e.rx.Read(scratch[:])
	if err != nil {
		return nil, nil, fmt.Errorf("socket: receive protocol header: %w", err)
	}
	bodySize, err := wire.DecodeProtocolHeader(scratch[:n])
	if err != nil {
		return nil, nil, err
	}

	if beforeRead != nil {
		beforeRead()
	}
	n, err = e.rx.Read(scratch[:])
	if err != nil {
		return nil, nil, fmt.Errorf("socket: receive application header: %w", err)
	}
	if n > wire.HeaderMaxSize {
		return nil, nil, ErrHeaderTooLarge
	}
	header = append([]byte(nil), scratch[:n]...)

	if e.limitSize > 0 && int(bodySize) > e.limitSize {
		return nil, nil, ErrBodyTooLarge
	}
	if bodySize == 0 {
		return header, nil, nil
	}

	body = make([]byte, bodySize)
	gathered := 0
	for gathered < len(body) {
		if beforeRead != nil {
			beforeRead()
		}
		n, err := e.rx.Read(scratch[:])
		if err != nil {
			return nil, nil, fmt.Errorf("socket: receive body chunk: %w", err)
		}
		copied := copy(body[gathered:], scratch[:n])
		gathered += copied
	}
	return header, body, nil
}

// Close closes both descriptors and unlinks the receive path.
func (e *Endpoint) Close() error {
	if !e.valid {
		return nil
	}
	e.valid = false
	var err error
	if e.tx != nil {
		err = e.tx.Close()
	}
	if e.rx != nil {
		if cerr := e.rx.Close(); err == nil {
			err = cerr
		}
	}
	if rerr := os.Remove(e.rxPath); err == nil && rerr != nil && !os.IsNotExist(rerr) {
		err = rerr
	}
	return err
}
