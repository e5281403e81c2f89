package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarkoPoloResearchLab/pixmind/internal/store/gormstore"
	"github.com/glebarez/sqlite"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	defaultSQLiteFile  = "pixmind.db"
	migrationsDir      = "migrations"
	migrateSourceName  = "iofs"
	migratePgxScheme   = "pgx5://"
	sqliteMemoryTarget = ":memory:"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Handle bundles an open database with its driver name and close function.
type Handle struct {
	DB     *gorm.DB
	Driver string
	DSN    string
	Close  func() error
}

// Open connects to Postgres or SQLite depending on the DSN scheme.
func Open(ctx context.Context, dsn string) (Handle, error) {
	driver, sqlitePath, err := ResolveDriver(dsn)
	if err != nil {
		return Handle{}, err
	}

	var db *gorm.DB
	cfg := &gorm.Config{}
	switch driver {
	case DriverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case DriverSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath), cfg)
	default:
		return Handle{}, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return Handle{}, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return Handle{}, err
	}
	if driver == DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	return Handle{
		DB:     db.WithContext(ctx),
		Driver: driver,
		DSN:    dsn,
		Close:  sqlDB.Close,
	}, nil
}

// ResolveDriver maps a DSN to a driver name and, for SQLite, a filesystem path.
func ResolveDriver(dsn string) (string, string, error) {
	trimmed := strings.TrimSpace(dsn)
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		return DriverPostgres, "", nil
	}
	if strings.HasPrefix(trimmed, "sqlite://") {
		if strings.TrimPrefix(trimmed, "sqlite://") == sqliteMemoryTarget {
			return DriverSQLite, sqliteMemoryTarget, nil
		}
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := parsed.Path
		if path == "" {
			path = parsed.Host
		}
		if path == "" || path == "/" {
			path = defaultSQLiteFile
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return DriverSQLite, sqlitePath, err
	}
	if trimmed == "" {
		return "", "", fmt.Errorf("database url is required")
	}
	sqlitePath, err := normalizeSQLitePath(trimmed)
	return DriverSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == sqliteMemoryTarget {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	relative := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(relative), 0o755); err != nil {
		return "", err
	}
	return relative, nil
}

// Migrate brings the schema up to date: SQL migrations on Postgres, AutoMigrate on SQLite.
func Migrate(handle Handle) error {
	switch handle.Driver {
	case DriverSQLite:
		if err := handle.DB.AutoMigrate(gormstore.Models()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	case DriverPostgres:
		return migratePostgres(handle.DSN)
	default:
		return fmt.Errorf("unsupported database driver %q", handle.Driver)
	}
}

func migratePostgres(dsn string) error {
	source, err := iofs.New(migrationFiles, migrationsDir)
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	migrator, err := migrate.NewWithSourceInstance(migrateSourceName, source, pgxMigrateURL(dsn))
	if err != nil {
		return fmt.Errorf("migration init: %w", err)
	}
	defer func() {
		_, _ = migrator.Close()
	}()
	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up: %w", err)
	}
	return nil
}

func pgxMigrateURL(dsn string) string {
	trimmed := strings.TrimSpace(dsn)
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(trimmed, prefix) {
			return migratePgxScheme + strings.TrimPrefix(trimmed, prefix)
		}
	}
	return trimmed
}
