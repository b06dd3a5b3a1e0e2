package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repo stores JSON blobs in the SQLite kv table.
type Repo struct {
	DB  *sql.DB
	Now func() time.Time
}

var ErrNotFound = errors.New("not found")

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r Repo) Get(ctx context.Context, key string) ([]byte, error) {
	return get(ctx, r.DB, key)
}

func (r Repo) Put(ctx context.Context, key string, value []byte) error {
	return put(ctx, r.DB, key, value, r.now())
}

func (r Repo) Delete(ctx context.Context, key string) error {
	return del(ctx, r.DB, key)
}

// Atomic runs fn inside one transaction; nothing fn writes is visible unless it returns nil.
func (r Repo) Atomic(ctx context.Context, fn func(ctx context.Context, s Store) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(ctx, txStore{tx: tx, now: r.now}); err != nil {
		return err
	}
	return tx.Commit()
}

// Keys lists stored keys, for diagnostics.
func (r Repo) Keys(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT key FROM kv ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

type txStore struct {
	tx  *sql.Tx
	now func() time.Time
}

func (s txStore) Get(ctx context.Context, key string) ([]byte, error) {
	return get(ctx, s.tx, key)
}

func (s txStore) Put(ctx context.Context, key string, value []byte) error {
	return put(ctx, s.tx, key, value, s.now())
}

func (s txStore) Delete(ctx context.Context, key string) error {
	return del(ctx, s.tx, key)
}

// Atomic on an open transaction joins it.
func (s txStore) Atomic(ctx context.Context, fn func(ctx context.Context, s Store) error) error {
	return fn(ctx, s)
}

func get(ctx context.Context, q execQuerier, key string) ([]byte, error) {
	var payload string
	err := q.QueryRowContext(ctx, `SELECT value_json FROM kv WHERE key=?`, key).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

func put(ctx context.Context, q execQuerier, key string, value []byte, now time.Time) error {
	_, err := q.ExecContext(ctx, `INSERT INTO kv(key,value_json,updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value_json=excluded.value_json, updated_at=excluded.updated_at`,
		key, string(value), now.UTC().Format(time.RFC3339))
	return err
}

func del(ctx context.Context, q execQuerier, key string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM kv WHERE key=?`, key)
	return err
}
