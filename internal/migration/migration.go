package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

const (
	migrationsDir   = "migrations"
	advisoryLockKey = int64(7_306_114_211)
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Run applies every embedded migration under a postgres advisory lock so that
// concurrent deployments do not race. It returns the resulting schema version.
func Run(ctx context.Context, db *sql.DB) (uint, error) {
	if db == nil {
		return 0, errors.New("migration database handle is required")
	}

	unlock, err := acquireAdvisoryLock(ctx, db)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = unlock(context.Background())
	}()

	latestVersion, err := LatestVersion()
	if err != nil {
		return 0, err
	}

	migrator, err := newMigrator(db)
	if err != nil {
		return 0, err
	}
	if _, err := ensureNotDirty(migrator); err != nil {
		return 0, err
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return 0, fmt.Errorf("apply migrations: %w", upErr)
	}

	currentVersion, err := ensureNotDirty(migrator)
	if err != nil {
		return 0, err
	}
	if currentVersion != latestVersion {
		return 0, fmt.Errorf("schema version mismatch after migrate: got %d want %d", currentVersion, latestVersion)
	}
	return currentVersion, nil
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("create migration driver: %w", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return migrator, nil
}

func ensureNotDirty(migrator *migrate.Migrate) (uint, error) {
	version, dirty, err := migrator.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, nil
		}
		return 0, fmt.Errorf("read migration version: %w", err)
	}
	if dirty {
		return 0, fmt.Errorf("database migrations are dirty at version %d", version)
	}
	return version, nil
}

type unlockFunc func(ctx context.Context) error

func acquireAdvisoryLock(ctx context.Context, db *sql.DB) (unlockFunc, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire advisory lock connection: %w", err)
	}
	var locked bool
	if err := conn.QueryRowContext(ctx, "select pg_try_advisory_lock($1)", advisoryLockKey).Scan(&locked); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !locked {
		_ = conn.Close()
		return nil, errors.New("another migration is in progress")
	}
	return func(ctx context.Context) error {
		defer conn.Close()
		if _, err := conn.ExecContext(ctx, "select pg_advisory_unlock($1)", advisoryLockKey); err != nil {
			return fmt.Errorf("release advisory lock: %w", err)
		}
		return nil
	}, nil
}
