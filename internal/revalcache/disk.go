package revalcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// errCorruptRecord marks a disk row whose record blob could not be decoded.
var errCorruptRecord = errors.New("corrupt cache record")

// record is the JSON blob stored per disk row.
type record struct {
	Body     []byte    `json:"body"`
	StoredAt time.Time `json:"storedAt"`
	TTL      int64     `json:"ttlMillis"`
}

func (r record) expired(now time.Time) bool {
	return now.Sub(r.StoredAt) >= time.Duration(r.TTL)*time.Millisecond
}

// DiskStore is the SQLite-backed tier of the revalidation cache.
type DiskStore struct {
	db *sql.DB
}

// OpenDisk opens (or creates) the cache database at path and applies migrations.
func OpenDisk(ctx context.Context, path string) (*DiskStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create cache db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &DiskStore{db: db}, nil
}

// Close releases the database handle.
func (d *DiskStore) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *DiskStore) load(ctx context.Context, key string) (record, bool, error) {
	var blob []byte
	err := d.db.QueryRowContext(ctx, `SELECT record FROM cache_entries WHERE cache_key = ?`, key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return record{}, false, nil
	}
	if err != nil {
		return record{}, false, fmt.Errorf("select cache entry: %w", err)
	}
	var rec record
	if err := json.Unmarshal(blob, &rec); err != nil {
		return record{}, false, fmt.Errorf("%w: %v", errCorruptRecord, err)
	}
	return rec, true, nil
}

func (d *DiskStore) store(ctx context.Context, key string, rec record) error {
	blob, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode cache record: %w", err)
	}
	_, err = d.db.ExecContext(ctx, `
INSERT INTO cache_entries(cache_key, record, stored_at)
VALUES (?, ?, ?)
ON CONFLICT(cache_key) DO UPDATE SET
	record=excluded.record,
	stored_at=excluded.stored_at
`, key, blob, rec.StoredAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

func (d *DiskStore) delete(ctx context.Context, key string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = ?`, key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

func (d *DiskStore) deleteAll(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("truncate cache entries: %w", err)
	}
	return nil
}
