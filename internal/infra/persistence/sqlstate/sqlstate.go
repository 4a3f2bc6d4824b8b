// Package sqlstate reads and writes the bucket table that the SQL backends
// use to mirror the in-memory store.
package sqlstate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/salehzaid/slamaty-sub000/internal/infra/persistence/memory"
)

// Dialect holds the statements that differ between databases.
type Dialect struct {
	Name        string
	CreateTable string
	// Upsert takes (bucket, payload).
	Upsert string
}

var (
	SQLite = Dialect{
		Name: "sqlite",
		CreateTable: `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`,
		Upsert: `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`,
	}
	Postgres = Dialect{
		Name: "postgres",
		CreateTable: `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`,
		Upsert: `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`,
	}
	MySQL = Dialect{
		Name: "mysql",
		CreateTable: `CREATE TABLE IF NOT EXISTS state (
		bucket VARCHAR(64) NOT NULL PRIMARY KEY,
		payload LONGBLOB NOT NULL
	)`,
		Upsert: `INSERT INTO state(bucket,payload) VALUES(?,?) ON DUPLICATE KEY UPDATE payload=VALUES(payload)`,
	}
)

// Execer is satisfied by *sql.DB and *sqlx.DB.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Querier is satisfied by *sql.DB and *sqlx.DB.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Beginner is satisfied by *sql.DB and *sqlx.DB.
type Beginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// EnsureTable creates the bucket table when missing.
func EnsureTable(ctx context.Context, db Execer, d Dialect) error {
	if _, err := db.ExecContext(ctx, d.CreateTable); err != nil {
		return fmt.Errorf("ensure %s state table: %w", d.Name, err)
	}
	return nil
}

// Load decodes every stored bucket into a snapshot.
func Load(ctx context.Context, db Querier) (memory.Snapshot, error) {
	rows, err := db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return memory.Snapshot{}, fmt.Errorf("scan state: %w", err)
		}
		if err := snapshot.DecodeBucket(bucket, payload); err != nil {
			return memory.Snapshot{}, err
		}
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate state: %w", err)
	}
	return snapshot, nil
}

// Save upserts every bucket of snapshot in one database transaction.
func Save(ctx context.Context, db Beginner, d Dialect, snapshot memory.Snapshot) (retErr error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range memory.Buckets {
		data, err := snapshot.EncodeBucket(bucket)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, d.Upsert, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Committer returns a memory.CommitHook that writes the pending snapshot
// before the in-memory store publishes it.
func Committer(db Beginner, d Dialect) memory.CommitHook {
	return func(ctx context.Context, next memory.Snapshot) error {
		if err := Save(ctx, db, d, next); err != nil {
			return fmt.Errorf("persist %s snapshot: %w", d.Name, err)
		}
		return nil
	}
}
