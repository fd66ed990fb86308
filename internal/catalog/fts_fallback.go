//go:build !sqlite_fts5

package catalog

import (
	"database/sql"
	"fmt"

	"github.com/starford/blackhole/internal/models"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not available; search uses LIKE on the artifacts table.
	return nil
}

func ftsUpsert(_ *sql.Tx, _ models.ArtifactMetadata) error {
	return nil
}

func ftsDelete(_ *sql.Tx, _ string) {}

// Search performs a LIKE-based search over artifact names and paths.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	like := likePattern(query)
	rows, err := db.conn.Query(`
		SELECT path, category, name
		FROM artifacts
		WHERE name LIKE ? ESCAPE '\' OR file_name LIKE ? ESCAPE '\'
		ORDER BY path
		LIMIT ?
	`, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog: search: %w", err)
	}
	defer rows.Close()

	out := []SearchResult{}
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Path, &r.Category, &r.Name); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
