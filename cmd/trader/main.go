package main

import (
	"flag"
	"fmt"
	"os"

	"position_trader/internal/bootstrap"

	"github.com/coreos/go-systemd/v22/daemon"
)

var configFile = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	if envConfig := os.Getenv("CONFIG_FILE"); envConfig != "" {
		*configFile = envConfig
	}

	app, err := bootstrap.NewApp(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start: %v\n", err)
		os.Exit(1)
	}

	runErr := app.Run(func() {
		if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
			app.Logger.Warn("sd_notify ready failed", "error", err)
		}
		app.Logger.Info("Position trader started", "exchange", app.Cfg.App.Exchange, "products", app.Cfg.ProductIDs())
	})

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if err := app.Close(); err != nil {
		app.Logger.Error("shutdown error", "error", err)
	}
	if runErr != nil {
		os.Exit(1)
	}
}
