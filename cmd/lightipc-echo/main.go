// Command lightipc-echo runs a request/response server that exercises
// the socket, shared-memory, and message-queue packages together: every
// request increments a shared counter and is logged to a message queue
// consumers can drain independently of the request path.
package main

import (
	"context"
	"encoding/binary"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/henaiguo/lightipc/internal/config"
	"github.com/henaiguo/lightipc/ipc/mq"
	"github.com/henaiguo/lightipc/ipc/shm"
	"github.com/henaiguo/lightipc/ipc/socket"
)

type counter struct {
	Value int64
}

const eventPushTimeout = 100 * time.Millisecond

type echoHandler struct {
	logger  *zap.SugaredLogger
	region  *shm.SharedMemory
	events  *mq.Queue
	traceID string
}

func (h *echoHandler) Received(request []byte) []byte {
	l := shm.Lock[counter](h.region, false)
	l.Value().Value++
	total := l.Value().Value
	l.Release()

	response := make([]byte, 8+len(request))
	binary.LittleEndian.PutUint64(response[0:8], uint64(total))
	copy(response[8:], request)

	ctx, cancel := context.WithTimeout(context.Background(), eventPushTimeout)
	defer cancel()
	if err := h.events.Send(ctx, request); err != nil {
		h.logger.Warnw("dropped event, queue full or closed", "trace", h.traceID, "error", err)
	}
	return response
}

func (h *echoHandler) OnReceiveError(err error) {
	h.logger.Debugw("receive error", "trace", h.traceID, "error", err)
}

func (h *echoHandler) OnResponseError(err error) {
	h.logger.Warnw("response error", "trace", h.traceID, "error", err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := config.NewLogger(cfg).With("component", "lightipc-echo")
	traceID := uuid.NewString()

	region := shm.New(cfg.SharedMemory, 64, true, shm.WithLogger(logger))
	if !region.Valid() {
		logger.Fatalw("failed to create shared-memory counter", "name", cfg.SharedMemory)
	}
	defer region.Close()

	events := mq.New(cfg.QueueName, cfg.QueueDepth, 256, true, mq.WithLogger(logger))
	if !events.Valid() {
		logger.Fatalw("failed to create event queue", "name", cfg.QueueName)
	}
	defer events.Close()

	drainCtx, stopDrain := context.WithCancel(context.Background())
	defer stopDrain()
	go drainEvents(drainCtx, events, logger)

	handler := &echoHandler{logger: logger, region: region, events: events, traceID: traceID}
	server := socket.NewServer(cfg.SocketBase, handler, logger)
	if !server.Valid() {
		logger.Fatalw("failed to open socket endpoint", "base", cfg.SocketBase)
	}
	defer server.Close()

	logger.Infow("lightipc-echo listening",
		"socket", cfg.SocketBase, "shm", cfg.SharedMemory, "mq", cfg.QueueName, "trace", traceID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server.Start(false)
	<-ctx.Done()
	logger.Infow("shutting down")
	server.Stop()
}

func drainEvents(ctx context.Context, events *mq.Queue, logger *zap.SugaredLogger) {
	for {
		msg, err := events.Receive(ctx)
		if err != nil {
			return
		}
		logger.Debugw("event", "payload", string(msg))
	}
}
