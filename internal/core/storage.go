package core

import (
	"fmt"
	"io"
	"strings"

	"github.com/salehzaid/slamaty-sub000/internal/infra/persistence/memory"
	"github.com/salehzaid/slamaty-sub000/internal/infra/persistence/mysql"
	"github.com/salehzaid/slamaty-sub000/internal/infra/persistence/postgres"
	"github.com/salehzaid/slamaty-sub000/internal/infra/persistence/sqlite"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
	StorageMySQL    StorageDriver = "mysql"    // MySQL server
)

// StorageConfig selects and configures a backend. An empty driver selects
// sqlite.
type StorageConfig struct {
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
	MySQLDSN    string
}

// OpenPersistentStore opens the configured backend with engine attached.
func OpenPersistentStore(cfg StorageConfig, engine *RulesEngine) (PersistentStore, error) {
	driver := StorageDriver(strings.ToLower(string(cfg.Driver)))
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		return sqlite.NewStore(cfg.SQLitePath, engine)
	case StoragePostgres:
		return postgres.NewStore(cfg.PostgresDSN, engine)
	case StorageMySQL:
		return mysql.NewStore(cfg.MySQLDSN, engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}

// CloseStore releases the store's connection when it holds one.
func CloseStore(store PersistentStore) error {
	if c, ok := store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
