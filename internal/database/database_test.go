package database

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveDriver(test *testing.T) {
	test.Parallel()
	dir := test.TempDir()
	testCases := []struct {
		name           string
		dsn            string
		expectedDriver string
		expectedPath   string
	}{
		{name: "postgres", dsn: "postgres://u:p@localhost/db", expectedDriver: DriverPostgres},
		{name: "postgresql", dsn: "postgresql://localhost/db", expectedDriver: DriverPostgres},
		{name: "memory", dsn: "sqlite://:memory:", expectedDriver: DriverSQLite, expectedPath: ":memory:"},
		{name: "absolute sqlite url", dsn: "sqlite://" + filepath.Join(dir, "a.db"), expectedDriver: DriverSQLite, expectedPath: filepath.Join(dir, "a.db")},
		{name: "bare path", dsn: filepath.Join(dir, "nested", "b.db"), expectedDriver: DriverSQLite, expectedPath: filepath.Join(dir, "nested", "b.db")},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			driver, path, err := ResolveDriver(testCase.dsn)
			if err != nil {
				test.Fatalf("resolve: %v", err)
			}
			if driver != testCase.expectedDriver || path != testCase.expectedPath {
				test.Fatalf("expected %s %q, got %s %q", testCase.expectedDriver, testCase.expectedPath, driver, path)
			}
		})
	}
	if _, _, err := ResolveDriver("  "); err == nil {
		test.Fatalf("expected error for empty dsn")
	}
}

func TestOpenAndMigrateSQLite(test *testing.T) {
	test.Parallel()
	handle, err := Open(context.Background(), "sqlite://:memory:")
	if err != nil {
		test.Fatalf("open: %v", err)
	}
	test.Cleanup(func() { _ = handle.Close() })
	if handle.Driver != DriverSQLite {
		test.Fatalf("expected sqlite driver, got %s", handle.Driver)
	}
	if err := Migrate(handle); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	for _, table := range []string{"credit_accounts", "credit_history", "users", "orders", "apikeys"} {
		if !handle.DB.Migrator().HasTable(table) {
			test.Fatalf("expected table %s", table)
		}
	}
}

func TestPgxMigrateURL(test *testing.T) {
	test.Parallel()
	if got := pgxMigrateURL("postgres://u@h/db?sslmode=disable"); got != "pgx5://u@h/db?sslmode=disable" {
		test.Fatalf("unexpected url %s", got)
	}
	if got := pgxMigrateURL("postgresql://h/db"); got != "pgx5://h/db" {
		test.Fatalf("unexpected url %s", got)
	}
}

func TestEmbeddedMigrationsPaired(test *testing.T) {
	test.Parallel()
	entries, err := fs.ReadDir(migrationFiles, migrationsDir)
	if err != nil {
		test.Fatalf("read migrations: %v", err)
	}
	ups, downs := 0, 0
	for _, entry := range entries {
		switch {
		case strings.HasSuffix(entry.Name(), ".up.sql"):
			ups++
		case strings.HasSuffix(entry.Name(), ".down.sql"):
			downs++
		}
	}
	if ups == 0 || ups != downs {
		test.Fatalf("expected paired migrations, got %d up and %d down", ups, downs)
	}
	body, err := fs.ReadFile(migrationFiles, migrationsDir+"/0001_init.up.sql")
	if err != nil {
		test.Fatalf("read init migration: %v", err)
	}
	if !strings.Contains(string(body), "credit_history_user_business_no_key") {
		test.Fatalf("init migration must declare the business number constraint")
	}
}
