package hub

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mizutanik/go-book-links/models"
)

// LoadQueries parses a query CSV with an id,title,author header. The author
// column is optional; blank lines and rows without an id or title are
// rejected rather than silently skipped.
func LoadQueries(path string) ([]models.BookQuery, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open queries file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read queries header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	idCol, ok := cols["id"]
	if !ok {
		return nil, fmt.Errorf("queries file has no id column")
	}
	titleCol, ok := cols["title"]
	if !ok {
		return nil, fmt.Errorf("queries file has no title column")
	}
	authorCol, hasAuthor := cols["author"]

	var queries []models.BookQuery
	seen := make(map[string]struct{})
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read queries row %d: %w", line, err)
		}

		field := func(i int) string {
			if i < len(row) {
				return strings.TrimSpace(row[i])
			}
			return ""
		}

		q := models.BookQuery{ID: field(idCol), Title: field(titleCol)}
		if hasAuthor {
			q.Author = field(authorCol)
		}
		if q.ID == "" {
			return nil, fmt.Errorf("queries row %d: empty id", line)
		}
		if q.Title == "" {
			return nil, fmt.Errorf("queries row %d (%s): empty title", line, q.ID)
		}
		if _, dup := seen[q.ID]; dup {
			return nil, fmt.Errorf("queries row %d: duplicate id %s", line, q.ID)
		}
		seen[q.ID] = struct{}{}
		queries = append(queries, q)
	}
	return queries, nil
}
