package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/chanscribe/chanscribe/internal/config"
	"github.com/chanscribe/chanscribe/internal/mirror"
)

// openStore opens the configured SQLite store, creating its directory on
// first use.
func openStore(cfg *config.Config) (*mirror.Store, error) {
	path, err := config.ExpandPath(cfg.Paths.Database)
	if err != nil {
		return nil, fmt.Errorf("resolve database path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	return mirror.Open(path, mirror.Options{
		MaxConns:      cfg.Store.MaxConns,
		BusyTimeoutMS: cfg.Store.BusyTimeoutMS,
	})
}
