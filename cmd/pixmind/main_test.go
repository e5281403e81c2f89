package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/pixmind/internal/config"
	"github.com/MarkoPoloResearchLab/pixmind/pkg/credits"
	"github.com/spf13/viper"
)

func TestLoadConfigReadsPrefixedEnvironment(test *testing.T) {
	test.Setenv("PIXMIND_DATABASE_URL", "sqlite://:memory:")
	test.Setenv("PIXMIND_SESSION_SIGNING_KEY", "signing-key")
	test.Setenv("PIXMIND_ALLOWED_ORIGINS", "https://pixmind.io, https://www.pixmind.io")
	test.Setenv("PIXMIND_VENDOR_TIMEOUT", "45s")
	test.Setenv("PIXMIND_RATE_LIMIT_BURST", "9")

	root := newRootCommand()
	if err := root.ParseFlags([]string{"--listen-addr", ":9090"}); err != nil {
		test.Fatalf("parse flags: %v", err)
	}
	cfg := &config.Config{}
	if err := loadConfig(root, viper.New(), cfg); err != nil {
		test.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("validate: %v", err)
	}
	if cfg.ListenAddr != ":9090" || cfg.DatabaseURL != "sqlite://:memory:" || cfg.SessionSigningKey != "signing-key" {
		test.Fatalf("unexpected config %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://www.pixmind.io" {
		test.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
	if cfg.VendorTimeout != 45*time.Second || cfg.RateLimitBurst != 9 {
		test.Fatalf("unexpected tuning %s %d", cfg.VendorTimeout, cfg.RateLimitBurst)
	}
}

func TestMigrateAndGrant(test *testing.T) {
	databaseURL := "sqlite://" + filepath.Join(test.TempDir(), "pixmind.db")

	migrate := newRootCommand()
	migrate.SetArgs([]string{"migrate", "--database-url", databaseURL})
	var migrateOutput bytes.Buffer
	migrate.SetOut(&migrateOutput)
	if err := migrate.Execute(); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(migrateOutput.String(), "sqlite") {
		test.Fatalf("unexpected migrate output %q", migrateOutput.String())
	}

	grant := newRootCommand()
	grant.SetArgs([]string{"grant", "--database-url", databaseURL, "--user", "user-7", "--points", "25", "--reason", "support"})
	var grantOutput bytes.Buffer
	grant.SetOut(&grantOutput)
	if err := grant.Execute(); err != nil {
		test.Fatalf("grant: %v", err)
	}
	if !strings.Contains(grantOutput.String(), "now 25") {
		test.Fatalf("unexpected grant output %q", grantOutput.String())
	}

	deduct := newRootCommand()
	deduct.SetArgs([]string{"grant", "--database-url", databaseURL, "--user", "user-7", "--points=-40"})
	deduct.SetOut(&bytes.Buffer{})
	if err := deduct.Execute(); err == nil {
		test.Fatalf("expected deduction below zero to fail")
	}
}

func TestLoadPricing(test *testing.T) {
	test.Parallel()
	missing, err := loadPricing(filepath.Join(test.TempDir(), "absent.yaml"))
	if err != nil || len(missing) != 0 {
		test.Fatalf("expected empty pricing for missing file, got %v %v", missing, err)
	}

	path := filepath.Join(test.TempDir(), "consumption-items.yaml")
	document := "Gemini2_5FlashImage:\n  name: Nano Banana\n  pricingMode: fixed\n  pricing:\n    standard: 4\n"
	if err := os.WriteFile(path, []byte(document), 0o600); err != nil {
		test.Fatalf("write: %v", err)
	}
	items, err := loadPricing(path)
	if err != nil {
		test.Fatalf("load: %v", err)
	}
	if got := items.CreditsFor("Gemini2_5FlashImage", "", credits.PricingParams{}); got != 4 {
		test.Fatalf("expected 4 points, got %d", got)
	}
}

func TestServeRejectsIncompleteConfig(test *testing.T) {
	test.Setenv("PIXMIND_SESSION_SIGNING_KEY", "")
	root := newRootCommand()
	root.SetArgs([]string{"serve", "--database-url", "sqlite://:memory:"})
	done := make(chan error, 1)
	go func() { done <- root.Execute() }()
	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "signing key") {
			test.Fatalf("expected signing key error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		test.Fatalf("serve did not fail fast")
	}
}

func TestLoadPlans(test *testing.T) {
	test.Parallel()
	missing, err := loadPlans(filepath.Join(test.TempDir(), "absent.yaml"))
	if err != nil || len(missing) != 0 {
		test.Fatalf("expected no plans for missing file, got %v %v", missing, err)
	}
	plans, err := loadPlans(filepath.Join("..", "..", "data", "plans.yaml"))
	if err != nil {
		test.Fatalf("load shipped plans: %v", err)
	}
	plan, err := plans.Lookup("points_small")
	if err != nil || plan.AmountCents != 990 || plan.GiftPoints != 200 || plan.Currency != "USD" {
		test.Fatalf("unexpected plan %+v %v", plan, err)
	}
}
