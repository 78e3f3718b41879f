package bootstrap

import (
	"fmt"

	"position_trader/pkg/logging"
)

// InitLogger builds the zap logger from configuration
func InitLogger(cfg *Config) (*logging.ZapLogger, error) {
	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return logger, nil
}
