package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Store loads the snapshot at startup and persists it at shutdown.
type Store interface {
	// Load returns the stored snapshot, or Default() when none exists yet.
	Load(ctx context.Context) (*Config, error)
	// Save overwrites the stored snapshot with cfg.
	Save(ctx context.Context, cfg *Config) error
}

// FileStore keeps the snapshot in a single file on disk.
type FileStore struct {
	Path string
}

var _ Store = FileStore{}

func (f FileStore) Load(_ context.Context) (*Config, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			zap.S().Warnf("Snapshot %s not found; using default config", f.Path)
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read snapshot %s: %w", f.Path, err)
	}

	zap.S().Infof("Reading config from %s", f.Path)
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", f.Path, err)
	}
	return cfg, nil
}

// Save writes the snapshot next to the old one and renames it into place, so
// a crash mid-write never leaves a half-written snapshot behind.
func (f FileStore) Save(_ context.Context, cfg *Config) error {
	data, err := f.marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.Path), filepath.Base(f.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("failed to replace snapshot %s: %w", f.Path, err)
	}
	return nil
}

func (f FileStore) marshal(cfg *Config) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(f.Path)) {
	case ".yaml", ".yml":
		return yaml.Marshal(cfg)
	default:
		return json.MarshalIndent(cfg, "", "  ")
	}
}
