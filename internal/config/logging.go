package config

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap logger from the level/development settings in
// cfg, falling back to a no-op logger if the level string is invalid.
func NewLogger(cfg *Config) *zap.SugaredLogger {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return zap.NewNop().Sugar()
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Development,
		Encoding:         encoding(cfg.Development),
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := zapCfg.Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return logger.Sugar()
}

func encoding(development bool) string {
	if development {
		return "console"
	}
	return "json"
}
