// Package store persists saved quotes: as the plain-text file the menu
// offers to write, and as rows in a SQLite history.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nczempin/httpc-fipe/fipe"
)

// Record is one saved quote.
type Record struct {
	ID        string     `json:"id"`
	Quote     fipe.Quote `json:"quote"`
	FilePath  string     `json:"file_path"`
	CreatedAt time.Time  `json:"created_at"`
}

// History persists and retrieves saved quotes.
type History interface {
	Save(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context) ([]*Record, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// FileExporter writes quote summaries into Dir.
type FileExporter struct {
	Dir string
}

// FileName returns "<Modelo> (<AnoModelo>) - <MesReferencia>.txt" with
// path separators replaced.
func FileName(q *fipe.Quote) string {
	name := fmt.Sprintf("%s (%d) - %s.txt", q.Model, q.ModelYear, strings.TrimSpace(q.ReferenceMonth))
	return strings.NewReplacer("/", "-", `\`, "-", "\x00", "").Replace(name)
}

// Export writes the quote summary followed by a newline and returns the path.
func (e FileExporter) Export(q *fipe.Quote) (string, error) {
	dir := e.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("store: create %s: %w", dir, err)
	}

	path := filepath.Join(dir, FileName(q))
	if err := os.WriteFile(path, []byte(q.Summary()+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("store: write %s: %w", path, err)
	}
	return path, nil
}

// QuoteSaver exports a quote to a file and, when History is set, records it.
type QuoteSaver struct {
	Exporter FileExporter
	History  History
}

// Save returns the path of the exported file.
func (s QuoteSaver) Save(ctx context.Context, q *fipe.Quote) (string, error) {
	path, err := s.Exporter.Export(q)
	if err != nil {
		return "", err
	}
	if s.History == nil {
		return path, nil
	}
	if err := s.History.Save(ctx, &Record{Quote: *q, FilePath: path}); err != nil {
		return path, err
	}
	return path, nil
}
