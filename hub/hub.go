// Package hub connects the scraping engine to the outside world: it supplies
// pending book queries and records the per-site results. The file-backed hub
// reads queries from CSV and exports results as CSV, JSONL or both.
package hub

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mizutanik/go-book-links/models"
)

// Hub is the engine's view of the surrounding catalogue system.
type Hub interface {
	// PendingQueries returns the books awaiting a link refresh.
	PendingQueries(ctx context.Context) ([]models.BookQuery, error)
	// RecordResults persists one query's complete batch.
	RecordResults(ctx context.Context, query models.BookQuery, results []models.SiteResult) error
	Close() error
}

// Record is one flattened query-site row as it appears in the export files.
type Record struct {
	QueryID    string  `json:"query_id"`
	Site       string  `json:"site"`
	Outcome    string  `json:"outcome"`
	URL        string  `json:"url,omitempty"`
	Title      string  `json:"title,omitempty"`
	Price      string  `json:"price,omitempty"`
	Publisher  string  `json:"publisher,omitempty"`
	Similarity float64 `json:"similarity,omitempty"`
	ErrorKind  string  `json:"error_kind,omitempty"`
	Attempts   int     `json:"attempts"`
	ElapsedMS  int64   `json:"elapsed_ms"`
	ScrapedAt  time.Time
}

func newRecord(query models.BookQuery, res models.SiteResult, now time.Time) Record {
	rec := Record{
		QueryID:   query.ID,
		Site:      res.Site,
		Outcome:   string(res.Outcome),
		ErrorKind: res.ErrorKind,
		Attempts:  res.Attempts,
		ElapsedMS: res.Elapsed.Milliseconds(),
		ScrapedAt: now,
	}
	if res.Page != nil {
		rec.URL = res.Page.URL
		rec.Title = res.Page.Title
		rec.Price = res.Page.Price
		rec.Publisher = res.Page.Publisher
		rec.Similarity = res.Page.Similarity
	}
	return rec
}

// FileHub reads queries from a CSV file and writes results through a
// ResultWriter. Safe for concurrent RecordResults calls.
type FileHub struct {
	queriesPath string
	writer      ResultWriter
	mu          sync.Mutex
}

// NewFileHub builds a hub for the given queries file and output target.
// Format is csv, json or dual; dual writes a JSONL sibling next to the CSV.
func NewFileHub(queriesPath, outputFile, format string) (*FileHub, error) {
	var writer ResultWriter
	var err error
	switch format {
	case "csv":
		writer, err = NewCSVWriter(outputFile)
	case "json":
		writer, err = NewJSONWriter(outputFile)
	case "dual":
		writer, err = NewDualWriter(outputFile, siblingJSONPath(outputFile))
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
	if err != nil {
		return nil, err
	}
	return &FileHub{queriesPath: queriesPath, writer: writer}, nil
}

func siblingJSONPath(csvPath string) string {
	if strings.HasSuffix(csvPath, ".csv") {
		return strings.TrimSuffix(csvPath, ".csv") + ".jsonl"
	}
	return csvPath + ".jsonl"
}

// PendingQueries loads every query from the hub's CSV file.
func (h *FileHub) PendingQueries(_ context.Context) ([]models.BookQuery, error) {
	return LoadQueries(h.queriesPath)
}

// RecordResults appends one row per site result.
func (h *FileHub) RecordResults(_ context.Context, query models.BookQuery, results []models.SiteResult) error {
	now := time.Now().UTC()
	records := make([]Record, len(results))
	for i, res := range results {
		records[i] = newRecord(query, res, now)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.writer.Write(records)
}

// Close flushes and closes the underlying writers.
func (h *FileHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.writer.Close()
}

// Validate checks the output files carry data beyond their headers.
func (h *FileHub) Validate() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.writer.Validate()
}
