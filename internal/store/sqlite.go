package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS documents (
	key        TEXT PRIMARY KEY,
	body       BLOB NOT NULL,
	updated_at TEXT NOT NULL
)`

// SQLiteBackend stores documents as rows in an embedded SQLite database.
// Transactions use BEGIN IMMEDIATE so writers from other processes are
// serialized by SQLite's own locking.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating directory for %s: %w", path, err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, DefaultLockTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing sqlite store %s: %w", path, err)
	}
	return &SQLiteBackend{db: db}, nil
}

// Close releases the underlying database handle.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func (b *SQLiteBackend) Transact(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) (retErr error) {
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring sqlite connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("beginning sqlite transaction: %w", err)
	}
	defer func() {
		if retErr != nil {
			if _, err := conn.ExecContext(context.Background(), "ROLLBACK"); err != nil {
				retErr = errors.Join(retErr, fmt.Errorf("rolling back: %w", err))
			}
		}
	}()

	current, err := selectBody(ctx, conn, key)
	if err != nil {
		return err
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	if next != nil {
		_, err := conn.ExecContext(ctx,
			`INSERT INTO documents (key, body, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
			key, next, time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("writing document %s: %w", key, err)
		}
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("committing sqlite transaction: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Load(ctx context.Context, key string) ([]byte, error) {
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring sqlite connection: %w", err)
	}
	defer conn.Close()
	return selectBody(ctx, conn, key)
}

func selectBody(ctx context.Context, conn *sql.Conn, key string) ([]byte, error) {
	var body []byte
	err := conn.QueryRowContext(ctx, `SELECT body FROM documents WHERE key = ?`, key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading document %s: %w", key, err)
	}
	return body, nil
}
