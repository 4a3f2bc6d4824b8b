// Package mysql snapshots committed in-memory state into a MySQL bucket table.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"sync"
	"time"

	driver "github.com/go-sql-driver/mysql"

	"github.com/salehzaid/slamaty-sub000/internal/infra/persistence/memory"
	"github.com/salehzaid/slamaty-sub000/internal/infra/persistence/sqlstate"
	"github.com/salehzaid/slamaty-sub000/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

const (
	driverName     = "mysql"
	connectTimeout = 10 * time.Second
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Config holds connection settings for the MySQL backend.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// DSN renders the configuration as a go-sql-driver DSN. Times are parsed in UTC.
func (c Config) DSN() string {
	cfg := driver.NewConfig()
	cfg.User = c.Username
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	host := c.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := c.Port
	if port == "" {
		port = "3306"
	}
	cfg.Addr = net.JoinHostPort(host, port)
	cfg.DBName = c.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN()
}

// Store is a memory.Store whose commits are gated on a MySQL write.
type Store struct {
	*memory.Store
	db     *sql.DB
	commit memory.CommitHook
}

// NewStore opens the database described by dsn and hydrates the in-memory store.
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	if _, err := driver.ParseDSN(dsn); err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	openMu.Lock()
	db, err := sqlOpen(driverName, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	if err := sqlstate.EnsureTable(ctx, db, sqlstate.MySQL); err != nil {
		_ = db.Close()
		return nil, err
	}
	snapshot, err := sqlstate.Load(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore(engine)
	mem.ImportState(snapshot)
	return &Store{Store: mem, db: db, commit: sqlstate.Committer(db, sqlstate.MySQL)}, nil
}

// RunInTransaction applies fn and publishes the result once MySQL accepted
// the snapshot.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	return s.Store.RunInTransactionWithCommit(ctx, fn, s.commit)
}

// DB exposes the underlying sql.DB.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
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
