package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drblury/commentflow/internal/runtime/logging"
	"github.com/drblury/commentflow/internal/store"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the comment tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			cfg, log, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			if cfg.DB.DSN == "" {
				return errors.New("db.dsn is required")
			}

			db, err := store.Open(cfg.DB, log)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, store.Close(db))
			}()

			if err := store.Migrate(db); err != nil {
				return fmt.Errorf("migrate %s database: %w", cfg.DB.Dialect, err)
			}
			log.Info("Schema up to date", logging.LogFields{"dialect": cfg.DB.Dialect})
			return nil
		},
	}
}
