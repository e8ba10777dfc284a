package main

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	appmigrations "github.com/zhouzirui/heartline/backend/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down|force <version>]",
	Short: "Apply the Postgres schema migrations",
	Long: `Applies the embedded migrations to DATABASE_URL.

  heartline migrate            apply all pending migrations
  heartline migrate down       roll back every migration
  heartline migrate force 1    mark version 1 as applied after a failed run`,
	Args: cobra.RangeArgs(0, 2),
	RunE: runMigrate,
}

func runMigrate(_ *cobra.Command, args []string) error {
	if cfg.Store.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}

	db, err := sql.Open("pgx", cfg.Store.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("db driver: %w", err)
	}

	srcDriver, err := iofs.New(appmigrations.FS, ".")
	if err != nil {
		return fmt.Errorf("source driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	action := "up"
	if len(args) > 0 {
		action = args[0]
	}

	switch action {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "force":
		if len(args) != 2 {
			return errors.New("force needs a version")
		}
		version, convErr := strconv.Atoi(args[1])
		if convErr != nil {
			return fmt.Errorf("invalid version: %w", convErr)
		}
		err = m.Force(version)
	default:
		return fmt.Errorf("unknown migrate action %q", action)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: %w", action, err)
	}

	version, dirty, verr := m.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		return fmt.Errorf("read version: %w", verr)
	}
	logger.Info("migrations complete", zap.String("action", action), zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}
