package main

import (
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/meikuraledutech/workflow/config"
	"github.com/meikuraledutech/workflow/logger"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	var drop bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the postgres tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.App.Name); err != nil {
				return err
			}
			if cfg.Store.Driver != "postgres" {
				return errors.New("migrate: store.driver is not postgres")
			}

			ctx := cmd.Context()
			pg, closePool, err := openPostgres(ctx, cfg)
			if err != nil {
				return err
			}
			defer closePool()

			if drop {
				if err := pg.DropSchema(ctx); err != nil {
					return err
				}
				log.Warn().Msg("schema dropped")
			}
			if err := pg.CreateSchema(ctx); err != nil {
				return err
			}
			log.Info().Msg("schema created")
			return nil
		},
	}
	cmd.Flags().BoolVar(&drop, "drop", false, "drop existing tables first")
	return cmd
}
