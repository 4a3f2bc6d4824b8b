// Package postgres mirrors the in-memory store into a Postgres JSONB bucket
// table. A transaction is published in memory only after its snapshot has
// been written.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/salehzaid/slamaty-sub000/internal/infra/persistence/memory"
	"github.com/salehzaid/slamaty-sub000/internal/infra/persistence/sqlstate"
	"github.com/salehzaid/slamaty-sub000/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver  = "pgx"
	defaultDSN     = "postgres://localhost/slamaty?sslmode=disable"
	connectTimeout = 10 * time.Second
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store is a memory.Store whose commits are gated on a Postgres write.
type Store struct {
	*memory.Store
	db     *sql.DB
	commit memory.CommitHook
}

// NewStore connects to dsn (defaultDSN when empty), creates the bucket table
// and hydrates the in-memory state from it.
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	snapshot, err := bootstrap(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore(engine)
	mem.ImportState(snapshot)
	return &Store{Store: mem, db: db, commit: sqlstate.Committer(db, sqlstate.Postgres)}, nil
}

func bootstrap(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	if err := db.PingContext(ctx); err != nil {
		return memory.Snapshot{}, fmt.Errorf("ping postgres: %w", err)
	}
	if err := sqlstate.EnsureTable(ctx, db, sqlstate.Postgres); err != nil {
		return memory.Snapshot{}, err
	}
	return sqlstate.Load(ctx, db)
}

// RunInTransaction runs fn and publishes its result only once the snapshot
// is stored in Postgres.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	return s.Store.RunInTransactionWithCommit(ctx, fn, s.commit)
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

// OverrideSQLOpen swaps the sql.Open used by NewStore and returns a restore func.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
