package catalog

import "github.com/starford/blackhole/internal/models"

// Catalog defines the artifact catalog operations. Consumers depend on this
// interface rather than *DB.
type Catalog interface {
	Upsert(m models.ArtifactMetadata) error
	Delete(path string) error
	Get(path string) (*models.ArtifactMetadata, error)
	GetChecksum(path string) (string, error)
	List(category string, limit, offset int) ([]models.ArtifactMetadata, int, error)
	Search(query string, limit int) ([]SearchResult, error)
	AllChecksums() (map[string]string, error)
	Close() error
}

// Verify *DB satisfies Catalog at compile time.
var _ Catalog = (*DB)(nil)
