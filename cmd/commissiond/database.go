package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarkoPoloResearchLab/commissions/internal/migration"
	"github.com/MarkoPoloResearchLab/commissions/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/commissions/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/commissions/pkg/commission"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
)

// openStore connects the configured backend and brings its schema up to date.
func openStore(ctx context.Context, cfg *runtimeConfig, logger *zap.Logger) (commission.Store, func(), error) {
	driver, _, err := resolveDriver(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if cfg.StoreBackend == backendPgx {
		if driver != driverPostgres {
			return nil, nil, fmt.Errorf("store backend %s requires a postgres database url", backendPgx)
		}
		return openPgxStore(ctx, cfg.DatabaseURL, logger)
	}
	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database open: %w", err)
	}
	if err := prepareSchema(ctx, gormDB, driver, logger); err != nil {
		_ = cleanup()
		return nil, nil, err
	}
	return gormstore.New(gormDB), func() { _ = cleanup() }, nil
}

func openPgxStore(ctx context.Context, databaseURL string, logger *zap.Logger) (commission.Store, func(), error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("pgx pool: %w", err)
	}
	sqlDB := stdlib.OpenDBFromPool(pool)
	cleanup := func() {
		_ = sqlDB.Close()
		pool.Close()
	}
	if err := runMigrations(ctx, sqlDB, logger); err != nil {
		cleanup()
		return nil, nil, err
	}
	return pgstore.New(pool), cleanup, nil
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	cfg := &gorm.Config{}
	switch driver {
	case driverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case driverSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath), cfg)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	if driver == driverSQLite {
		// SQLite allows a single writer.
		sqlDB.SetMaxOpenConns(1)
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return driverPostgres, "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		parsed, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := parsed.Path
		if path == "" {
			path = parsed.Host
		}
		if path == "" || path == "/" {
			path = "commissions.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return driverSQLite, sqlitePath, err
	}
	// Anything else is a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return driverSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

// prepareSchema auto-migrates SQLite and applies the versioned migrations on PostgreSQL.
func prepareSchema(ctx context.Context, db *gorm.DB, driver string, logger *zap.Logger) error {
	if driver == driverSQLite {
		if err := gormstore.AutoMigrate(db); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return runMigrations(ctx, sqlDB, logger)
}

func runMigrations(ctx context.Context, sqlDB *sql.DB, logger *zap.Logger) error {
	version, err := migration.Run(ctx, sqlDB)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("schema ready", zap.Uint("version", version))
	return nil
}
