package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lexconsult/client/internal/db"
)

// KVRepo defines the durable string key-value storage used for session and
// ownership state
type KVRepo interface {
	// Get returns the value for key; found is false when the key is absent
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	// Delete removes key; deleting an absent key is not an error
	Delete(ctx context.Context, key string) error
}

type kvRepo struct {
	db     *sql.DB
	getSQL string
	setSQL string
	delSQL string
}

// NewKVRepo creates a KVRepo over the kv_entries table
func NewKVRepo(conn *sql.DB, dialect db.Dialect) KVRepo {
	p1, p2 := dialect.Placeholder(1), dialect.Placeholder(2)
	return &kvRepo{
		db:     conn,
		getSQL: `SELECT value FROM kv_entries WHERE key = ` + p1,
		setSQL: `
			INSERT INTO kv_entries (key, value, updated_at)
			VALUES (` + p1 + `, ` + p2 + `, CURRENT_TIMESTAMP)
			ON CONFLICT (key) DO UPDATE
			SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
		`,
		delSQL: `DELETE FROM kv_entries WHERE key = ` + p1,
	}
}

// Get retrieves the value stored under key
func (r *kvRepo) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, r.getSQL, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("query %q: %w", key, err)
	}
	return value, true, nil
}

// Set inserts or replaces the value stored under key
func (r *kvRepo) Set(ctx context.Context, key, value string) error {
	if _, err := r.db.ExecContext(ctx, r.setSQL, key, value); err != nil {
		return fmt.Errorf("upsert %q: %w", key, err)
	}
	return nil
}

// Delete removes key
func (r *kvRepo) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, r.delSQL, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}
