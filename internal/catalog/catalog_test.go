package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCatalogReadsFiles(test *testing.T) {
	test.Parallel()
	dir := test.TempDir()
	if err := os.WriteFile(filepath.Join(dir, effectsFile), []byte(`[{"id":"zoom"}]`), 0o600); err != nil {
		test.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, channelsFile), []byte(`{"channels":`), 0o600); err != nil {
		test.Fatalf("write: %v", err)
	}
	catalog, err := New(dir)
	if err != nil {
		test.Fatalf("new: %v", err)
	}

	effects, err := catalog.Effects()
	if err != nil || string(effects) != `[{"id":"zoom"}]` {
		test.Fatalf("unexpected effects %s (%v)", effects, err)
	}
	if _, err := catalog.Channels(); !errors.Is(err, ErrInvalidCatalog) {
		test.Fatalf("expected ErrInvalidCatalog for broken json, got %v", err)
	}

	empty, _ := New(test.TempDir())
	if _, err := empty.Effects(); !errors.Is(err, ErrInvalidCatalog) {
		test.Fatalf("expected ErrInvalidCatalog for missing file, got %v", err)
	}
	if _, err := New(""); err == nil {
		test.Fatalf("expected error for empty dir")
	}
}
