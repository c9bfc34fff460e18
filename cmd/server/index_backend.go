package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tacarena.ai/internal/persistence/indexdb"
)

// openIndex returns nil when indexing is disabled.
func openIndex(dataDir, dbPath string, disable bool) (*indexdb.SQLiteIndex, error) {
	if disable {
		return nil, nil
	}
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("TAC_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}
	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		if dbPath == "" {
			dbPath = filepath.Join("index", "tac.sqlite")
		}
		if !filepath.IsAbs(dbPath) {
			dbPath = filepath.Join(dataDir, dbPath)
		}
		return indexdb.OpenSQLite(dbPath)
	default:
		return nil, fmt.Errorf("unsupported TAC_INDEX_BACKEND: %s", backend)
	}
}
