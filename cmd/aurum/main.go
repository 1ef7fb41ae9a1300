// Command aurum runs the storefront API and its maintenance tasks.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"aurum/api/internal/config"
	"aurum/api/internal/db"
	"aurum/api/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "aurum",
		Short:         "Aurum jewelry storefront API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), migrateCmd(), seedCmd(), reconcileCmd())

	if err := root.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("aurum")
		stop()
		os.Exit(1)
	}
}

// setup loads config, configures logging and opens the migrated database.
func setup(ctx context.Context) (*config.Config, *db.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)

	d, err := db.Open(cfg.DBDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(ctx, d); err != nil {
		_ = d.Close()
		return nil, nil, err
	}
	return cfg, d, nil
}
