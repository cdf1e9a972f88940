// Package config loads the demo binaries' settings from the
// environment, in the style the pack's env-driven services use.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds settings shared by the lightipc-echo server and
// lightipc-pingcli client demos.
type Config struct {
	SocketBase   string `envconfig:"LIGHTIPC_SOCKET_BASE" default:"/tmp/lightipc-demo"`
	SharedMemory string `envconfig:"LIGHTIPC_SHM_NAME" default:"/lightipc-demo-counter"`
	QueueName    string `envconfig:"LIGHTIPC_MQ_NAME" default:"/lightipc-demo-events"`
	QueueDepth   int    `envconfig:"LIGHTIPC_MQ_DEPTH" default:"16"`
	LogLevel     string `envconfig:"LIGHTIPC_LOG_LEVEL" default:"info"`
	Development  bool   `envconfig:"LIGHTIPC_LOG_DEV" default:"false"`
}

// Load reads Config from the environment, applying the defaults above
// for anything unset.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}
