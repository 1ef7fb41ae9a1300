package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"aurum/api/internal/db"
	"aurum/api/internal/db/seeds"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, d, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer d.Close()
			v, err := db.SchemaVersion(cmd.Context(), d)
			if err != nil {
				return err
			}
			log.Info().Int("version", v).Msg("schema up to date")
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Reset the database to the demo catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, d, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer d.Close()
			if cfg.Env == "production" {
				log.Warn().Msg("seeding a production database")
			}
			if err := seeds.Run(cmd.Context(), d); err != nil {
				return err
			}
			log.Info().Str("password", seeds.Password).Msg("seeds completed")
			return nil
		},
	}
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass over pending orders",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, d, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer d.Close()
			sum, err := newApp(cfg, d).reconciler.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			log.Info().Interface("summary", sum).Msg("reconcile done")
			return nil
		},
	}
}
