// Package storage defines the read-only artifact tree abstraction.
package storage

import (
	"context"

	"github.com/starford/blackhole/internal/models"
)

// File is one artifact file read from a category directory.
type File struct {
	Name    string // stored file name, hash included
	Content string // decoded with the store's declared encoding
}

// Provider is the interface for artifact tree access.
type Provider interface {
	// ListCategory reads every entry of the category's directory in listing
	// order. A missing directory yields no files and no error.
	ListCategory(ctx context.Context, category models.Category) ([]File, error)
	// Read returns the raw bytes of the file at path (relative to the root).
	Read(path string) ([]byte, error)
	// Stat describes the artifact file at path (<category>s/<file>).
	Stat(path string) (*models.ArtifactMetadata, error)
	// Walk returns metadata for every regular file in a known category directory.
	Walk(ctx context.Context) ([]models.ArtifactMetadata, error)
	// Root returns the absolute path of the artifact tree.
	Root() string
}
