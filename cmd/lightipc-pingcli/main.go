// Command lightipc-pingcli exercises the client side of the
// lightipc-echo protocol: it pings the server, then sends a handful of
// requests and prints the counter total each one returns. Any
// notification pushed by the server is logged on its own line.
package main

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/henaiguo/lightipc/internal/config"
	"github.com/henaiguo/lightipc/ipc/socket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := config.NewLogger(cfg).With("component", "lightipc-pingcli")

	onNotify := func(update []byte) {
		logger.Infow("notification received", "payload", string(update))
	}

	client := socket.NewClient(cfg.SocketBase, onNotify, logger)
	if !client.Valid() {
		logger.Fatalw("failed to open socket endpoint", "base", cfg.SocketBase)
	}
	defer client.Close()

	if err := client.Ping(); err != nil {
		logger.Fatalw("ping failed", "error", err)
	}
	fmt.Println("ping ok")

	for i := 0; i < 5; i++ {
		request := []byte(fmt.Sprintf("request-%d", i))
		response, err := client.SendReceive(request)
		if err != nil {
			logger.Fatalw("send/receive failed", "error", err)
		}
		if len(response) < 8 {
			fmt.Fprintln(os.Stderr, "short response")
			os.Exit(1)
		}
		total := binary.LittleEndian.Uint64(response[0:8])
		fmt.Printf("echo %q -> total=%d\n", response[8:], total)
		time.Sleep(50 * time.Millisecond)
	}
}
