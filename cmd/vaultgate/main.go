package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/tuxedoai/vaultgate/internal/app"
	"github.com/tuxedoai/vaultgate/internal/platform/cmd"
	"github.com/tuxedoai/vaultgate/internal/platform/config"
)

func main() {
	cfg, err := app.LoadConfigFromEnv()
	if err != nil {
		config.Exitf("parse config: %v", err)
	}
	if strings.TrimSpace(cfg.MasterKey) == "" {
		config.Exitf("master key missing: set VAULTGATE_MASTER_KEY")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.RunWithTelemetry(ctx, cmd.ServiceVaultgate, func(ctx context.Context) error {
		return app.Run(ctx, cfg)
	}); err != nil {
		config.Exitf("failed to serve: %v", err)
	}
}
