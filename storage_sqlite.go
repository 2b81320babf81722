package posoffline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// SQLiteStorage persists items in a single SQLite table. Each SetItem is one
// UPSERT statement, so a failed write leaves the previous value in place.
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLiteStorage opens (or creates) the database at path and runs migrations.
// Use ":memory:" for a throwaway store.
func OpenSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	s := &SQLiteStorage{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStorage) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS kv_items (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS kv_leases (
			name       TEXT PRIMARY KEY,
			holder     TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) GetItem(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_items WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &StorageError{Op: "get", Key: key, Err: err}
	}
	return value, true, nil
}

func (s *SQLiteStorage) SetItem(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return &StorageError{Op: "set", Key: key, Err: ErrInvalidKey}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_items (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.now().UnixMilli())
	if err != nil {
		return &StorageError{Op: "set", Key: key, Err: mapSQLiteErr(err)}
	}
	return nil
}

func (s *SQLiteStorage) RemoveItem(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_items WHERE key = ?`, key); err != nil {
		return &StorageError{Op: "remove", Key: key, Err: mapSQLiteErr(err)}
	}
	return nil
}

func (s *SQLiteStorage) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv_items WHERE substr(key, 1, length(?)) = ? ORDER BY key`, prefix, prefix)
	if err != nil {
		return nil, &StorageError{Op: "keys", Key: prefix, Err: err}
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, &StorageError{Op: "keys", Key: prefix, Err: err}
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "keys", Key: prefix, Err: err}
	}
	return keys, nil
}

// AcquireLease grants the lease in a single UPSERT: the row is only overwritten
// when the current holder matches or the previous lease has expired.
func (s *SQLiteStorage) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_leases (name, holder, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		WHERE kv_leases.holder = excluded.holder OR kv_leases.expires_at <= ?`,
		name, holder, now.Add(ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return false, &StorageError{Op: "lease", Key: name, Err: mapSQLiteErr(err)}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &StorageError{Op: "lease", Key: name, Err: err}
	}
	return n > 0, nil
}

func (s *SQLiteStorage) ReleaseLease(ctx context.Context, name, holder string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv_leases WHERE name = ? AND holder = ?`, name, holder)
	if err != nil {
		return &StorageError{Op: "release", Key: name, Err: err}
	}
	return nil
}

func mapSQLiteErr(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrFull {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}
	return err
}
