package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// createdAtLayout keeps a fixed width so text ordering matches time ordering.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteHistory implements History using SQLite via modernc.org/sqlite (pure Go).
type SQLiteHistory struct {
	db *sql.DB
}

var _ History = (*SQLiteHistory)(nil)

// NewSQLiteHistory opens or creates the history database at dbPath; use
// ":memory:" for testing.
func NewSQLiteHistory(dbPath string) (*SQLiteHistory, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	// Each :memory: connection is a separate database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	createTableSQL := `
		CREATE TABLE IF NOT EXISTS quotes (
			id          TEXT PRIMARY KEY,
			fipe_code   TEXT NOT NULL,
			quote_json  TEXT NOT NULL,
			file_path   TEXT DEFAULT '',
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create table: %w", err)
	}

	createIndexSQL := `CREATE INDEX IF NOT EXISTS idx_quotes_fipe_code ON quotes(fipe_code);`
	if _, err := db.Exec(createIndexSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create index: %w", err)
	}

	return &SQLiteHistory{db: db}, nil
}

// Save inserts rec, assigning a UUID and creation time when missing.
func (s *SQLiteHistory) Save(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	quoteJSON, err := json.Marshal(rec.Quote)
	if err != nil {
		return fmt.Errorf("store: marshal quote: %w", err)
	}

	query := `
		INSERT INTO quotes (id, fipe_code, quote_json, file_path, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			fipe_code  = excluded.fipe_code,
			quote_json = excluded.quote_json,
			file_path  = excluded.file_path
	`
	_, err = s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Quote.FipeCode,
		string(quoteJSON),
		rec.FilePath,
		rec.CreatedAt.UTC().Format(createdAtLayout),
	)
	if err != nil {
		return fmt.Errorf("store: save quote: %w", err)
	}
	return nil
}

// Get returns the record with id, or (nil, nil) when none exists.
func (s *SQLiteHistory) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, quote_json, file_path, created_at FROM quotes WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// List returns every record, newest first.
func (s *SQLiteHistory) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, quote_json, file_path, created_at FROM quotes ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list quotes: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate rows: %w", err)
	}
	return records, nil
}

// Delete removes the record with id.
func (s *SQLiteHistory) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM quotes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete quote: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteHistory) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec       Record
		quoteJSON string
		createdAt string
	)
	if err := row.Scan(&rec.ID, &quoteJSON, &rec.FilePath, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("store: scan row: %w", err)
	}

	if err := json.Unmarshal([]byte(quoteJSON), &rec.Quote); err != nil {
		return nil, fmt.Errorf("store: unmarshal quote: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		// Fall back to SQLite default format.
		t, err = time.Parse("2006-01-02 15:04:05", createdAt)
		if err != nil {
			return nil, fmt.Errorf("store: parse created_at %q: %w", createdAt, err)
		}
	}
	rec.CreatedAt = t
	return &rec, nil
}
