//go:build sqlite_fts5

package catalog

import (
	"database/sql"
	"fmt"

	"github.com/starford/blackhole/internal/models"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS artifacts_fts USING fts5(
			path UNINDEXED,
			category UNINDEXED,
			name,
			file_name,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, m models.ArtifactMetadata) error {
	_, _ = tx.Exec(`DELETE FROM artifacts_fts WHERE path = ?`, m.Path)
	_, err := tx.Exec(`INSERT INTO artifacts_fts (path, category, name, file_name) VALUES (?, ?, ?, ?)`,
		m.Path, string(m.Category), m.Name, m.FileName)
	if err != nil {
		return fmt.Errorf("catalog: upsert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, path string) {
	_, _ = tx.Exec(`DELETE FROM artifacts_fts WHERE path = ?`, path)
}

// Search performs an FTS5 prefix search over artifact names.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT path, category, name
		FROM artifacts_fts
		WHERE artifacts_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, `"`+query+`"*`, limit)
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
