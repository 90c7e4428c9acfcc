package main

import (
	"errors"

	"github.com/spf13/cobra"

	"memetrader/internal/storage/migrations"
	pgstore "memetrader/internal/storage/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	Long: `Apply the embedded schema migrations to every configured database:
POSTGRES_DSN (run, decision and trade mirrors) and CLICKHOUSE_DSN (snapshot
archive). Migrations are idempotent.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(_ *cobra.Command, _ []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	if e.cfg.Storage.PostgresDSN == "" && e.cfg.Storage.ClickhouseDSN == "" {
		return errors.New("set POSTGRES_DSN and/or CLICKHOUSE_DSN")
	}

	ctx, stop := signalContext()
	defer stop()

	if dsn := e.cfg.Storage.PostgresDSN; dsn != "" {
		pool, err := pgstore.NewPool(ctx, dsn)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return err
		}
		e.logger.Info().Msg("postgres migrations applied")
	}

	if dsn := e.cfg.Storage.ClickhouseDSN; dsn != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, dsn)
		if err != nil {
			return err
		}
		defer conn.Close()
		e.logger.Info().Msg("clickhouse migrations applied")
	}
	return nil
}
