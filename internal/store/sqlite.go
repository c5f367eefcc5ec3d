// Package store persists scan results: a SQLite index of completed scans and a
// zstd-compressed JSON export of accepted tiles.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ironsheep/wsi-tools-mcp/internal/scan"
	"github.com/ironsheep/wsi-tools-mcp/internal/tiles"
)

// ErrNotFound is returned by LoadScan for an unknown id.
var ErrNotFound = errors.New("scan not found")

// Record is one stored scan.
type Record struct {
	ID        int64        `json:"id"`
	SlidePath string       `json:"slide_path"`
	CreatedAt time.Time    `json:"created_at"`
	Result    *scan.Result `json:"result"`
}

// Summary is a Record without its tiles.
type Summary struct {
	ID        int64     `json:"id"`
	SlidePath string    `json:"slide_path"`
	CreatedAt time.Time `json:"created_at"`
	Level     int       `json:"level"`
	PatchSize int       `json:"patch_size"`
	Tiles     int       `json:"tiles"`
	Accepted  int       `json:"accepted"`
	Complete  bool      `json:"complete"`
}

// SQLiteStore is a scan index backed by a single SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	once sync.Once
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scans (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			slide_path TEXT NOT NULL,
			created_at TEXT NOT NULL,
			level INTEGER NOT NULL,
			patch_size INTEGER NOT NULL,
			tiles INTEGER NOT NULL,
			accepted INTEGER NOT NULL,
			complete INTEGER NOT NULL,
			result_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tiles (
			scan_id INTEGER NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			PRIMARY KEY (scan_id, y, x)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database. It is safe to call more than once.
func (s *SQLiteStore) Close() error {
	var err error
	s.once.Do(func() {
		err = s.db.Close()
	})
	return err
}

// SaveScan stores res and its accepted tiles in one transaction and returns
// the new scan id.
func (s *SQLiteStore) SaveScan(ctx context.Context, slidePath string, res *scan.Result) (int64, error) {
	if res == nil {
		return 0, fmt.Errorf("nil scan result")
	}

	// Tiles live in their own table.
	meta := *res
	meta.Accepted = nil
	body, err := json.Marshal(&meta)
	if err != nil {
		return 0, fmt.Errorf("failed to encode result: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	r, err := tx.ExecContext(ctx,
		`INSERT INTO scans (slide_path, created_at, level, patch_size, tiles, accepted, complete, result_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		slidePath, time.Now().UTC().Format(time.RFC3339Nano), res.Level, res.PatchSize,
		res.Tiles, len(res.Accepted), res.Complete, string(body))
	if err != nil {
		return 0, fmt.Errorf("failed to insert scan: %w", err)
	}
	id, err := r.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO tiles (scan_id, x, y) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	for _, c := range res.Accepted {
		if _, err := stmt.ExecContext(ctx, id, c.X, c.Y); err != nil {
			return 0, fmt.Errorf("failed to insert tile (%d,%d): %w", c.X, c.Y, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// LoadScan returns the scan with the given id, accepted tiles sorted row-major.
func (s *SQLiteStore) LoadScan(ctx context.Context, id int64) (*Record, error) {
	var (
		rec     = Record{ID: id}
		created string
		body    string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT slide_path, created_at, result_json FROM scans WHERE id = ?`, id).
		Scan(&rec.SlidePath, &created, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("bad created_at for scan %d: %w", id, err)
	}

	rec.Result = &scan.Result{}
	if err := json.Unmarshal([]byte(body), rec.Result); err != nil {
		return nil, fmt.Errorf("failed to decode result for scan %d: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT x, y FROM tiles WHERE scan_id = ? ORDER BY y, x`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	rec.Result.Accepted = tiles.List{}
	for rows.Next() {
		var c tiles.Coord
		if err := rows.Scan(&c.X, &c.Y); err != nil {
			return nil, err
		}
		rec.Result.Accepted = append(rec.Result.Accepted, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListScans returns up to limit summaries, newest first. limit <= 0 means all.
func (s *SQLiteStore) ListScans(ctx context.Context, limit int) ([]Summary, error) {
	q := `SELECT id, slide_path, created_at, level, patch_size, tiles, accepted, complete
		FROM scans ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var (
			sum     Summary
			created string
		)
		if err := rows.Scan(&sum.ID, &sum.SlidePath, &created, &sum.Level, &sum.PatchSize, &sum.Tiles, &sum.Accepted, &sum.Complete); err != nil {
			return nil, err
		}
		if sum.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("bad created_at for scan %d: %w", sum.ID, err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}
