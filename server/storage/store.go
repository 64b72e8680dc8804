package storage

import (
	"fmt"
	"strings"
)

// DatabaseConfig selects the history backend.
type DatabaseConfig struct {
	Driver string `toml:"driver" json:"driver"`
	Path   string `toml:"path" json:"path"`
}

// NewStore creates the Store for cfg. SQLite is the only backend; an empty
// path falls back to GetDefaultDBPath.
func NewStore(cfg DatabaseConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite", "sqlite3", "modernc":
		path := cfg.Path
		if path == "" {
			path = GetDefaultDBPath()
		}
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unsupported database driver: %q (supported: sqlite)", cfg.Driver)
	}
}
