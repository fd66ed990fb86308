package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/starford/blackhole/internal/apperr"
	"github.com/starford/blackhole/internal/models"
)

// SearchResult is one search hit.
type SearchResult struct {
	Path     string `json:"path"`
	Category string `json:"category"`
	Name     string `json:"name"`
}

const selectColumns = `path, category, file_name, name, hash, kind, checksum, size, updated_at`

// Upsert inserts or replaces an artifact row and its FTS entry.
func (db *DB) Upsert(m models.ArtifactMetadata) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.Exec(`
		INSERT INTO artifacts (`+selectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			category   = excluded.category,
			file_name  = excluded.file_name,
			name       = excluded.name,
			hash       = excluded.hash,
			kind       = excluded.kind,
			checksum   = excluded.checksum,
			size       = excluded.size,
			updated_at = excluded.updated_at
	`, m.Path, string(m.Category), m.FileName, m.Name, m.Hash, m.Kind, m.Checksum, m.Size, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("catalog: upsert artifact: %w", err)
	}

	if err := ftsUpsert(tx, m); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete removes an artifact and its FTS entry.
func (db *DB) Delete(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, path)
	if _, err := tx.Exec(`DELETE FROM artifacts WHERE path = ?`, path); err != nil {
		return fmt.Errorf("catalog: delete artifact: %w", err)
	}
	return tx.Commit()
}

// Get returns one artifact row or apperr.ErrNotFound.
func (db *DB) Get(path string) (*models.ArtifactMetadata, error) {
	row := db.conn.QueryRow(`SELECT `+selectColumns+` FROM artifacts WHERE path = ?`, path)
	m, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get %s: %w", path, err)
	}
	return m, nil
}

// GetChecksum returns the stored checksum for an artifact, or empty string if
// not found.
func (db *DB) GetChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM artifacts WHERE path = ?`, path).Scan(&cs)
	if err != nil {
		return "", nil // not found is fine
	}
	return cs, nil
}

// List returns artifacts ordered by path, optionally limited to one category,
// together with the total match count.
func (db *DB) List(category string, limit, offset int) ([]models.ArtifactMetadata, int, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	where := ""
	var args []any
	if category != "" {
		where = " WHERE category = ?"
		args = append(args, category)
	}

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM artifacts`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("catalog: count: %w", err)
	}

	rows, err := db.conn.Query(`SELECT `+selectColumns+` FROM artifacts`+where+` ORDER BY path LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("catalog: list: %w", err)
	}
	defer rows.Close()

	out := []models.ArtifactMetadata{}
	for rows.Next() {
		m, err := scanArtifact(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *m)
	}
	return out, total, rows.Err()
}

// AllChecksums returns path -> checksum for every cataloged artifact.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM artifacts`)
	if err != nil {
		return nil, fmt.Errorf("catalog: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanArtifact(s scanner) (*models.ArtifactMetadata, error) {
	var m models.ArtifactMetadata
	var category string
	if err := s.Scan(&m.Path, &category, &m.FileName, &m.Name, &m.Hash, &m.Kind, &m.Checksum, &m.Size, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Category = models.Category(category)
	return &m, nil
}

func likePattern(query string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(query) + "%"
}
