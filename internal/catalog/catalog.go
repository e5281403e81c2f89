package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	effectsFile  = "effects.json"
	channelsFile = "effects-channels.json"
)

// ErrInvalidCatalog reports a catalog file that is missing or not JSON.
var ErrInvalidCatalog = errors.New("catalog: invalid catalog file")

// Catalog serves the video-effects JSON documents from a directory.
// Files are read on every call so edits show up without a restart.
type Catalog struct {
	dir string
}

// New returns a Catalog rooted at dir.
func New(dir string) (*Catalog, error) {
	if dir == "" {
		return nil, fmt.Errorf("catalog: directory is required")
	}
	return &Catalog{dir: dir}, nil
}

// Effects returns effects.json.
func (catalog *Catalog) Effects() (json.RawMessage, error) {
	return catalog.read(effectsFile)
}

// Channels returns effects-channels.json.
func (catalog *Catalog) Channels() (json.RawMessage, error) {
	return catalog.read(channelsFile)
}

func (catalog *Catalog) read(name string) (json.RawMessage, error) {
	contents, err := os.ReadFile(filepath.Join(catalog.dir, name))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCatalog, name, err)
	}
	if !json.Valid(contents) {
		return nil, fmt.Errorf("%w: %s is not json", ErrInvalidCatalog, name)
	}
	return json.RawMessage(contents), nil
}
