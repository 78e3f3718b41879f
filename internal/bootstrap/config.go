package bootstrap

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"position_trader/internal/config"
)

// Config is an alias for the project's main configuration struct
type Config = config.Config

// LoadConfig loads .env next to the working directory, then the YAML file
func LoadConfig(path string) (*Config, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}

	return cfg, nil
}

// checkPreFlight performs environment checks beyond schema validation
func checkPreFlight(cfg *Config) error {
	if cfg.App.Exchange != "mock" {
		exch, err := cfg.GetCurrentExchangeConfig()
		if err != nil {
			return err
		}
		if _, err := base64.StdEncoding.DecodeString(string(exch.SecretKey)); err != nil {
			return fmt.Errorf("exchanges.%s.secret_key is not valid base64", cfg.App.Exchange)
		}
	}

	if cfg.Journal.Path != "" {
		dir := filepath.Dir(cfg.Journal.Path)
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("journal directory %s: %w", dir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("journal directory %s is not a directory", dir)
		}
	}

	return nil
}
