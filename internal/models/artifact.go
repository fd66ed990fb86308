// Package models defines the domain types for the blackhole gateway.
package models

import "time"

// Category names a class of artifact requested by sync clients.
type Category string

// Known categories.
const (
	CategoryView        Category = "view"
	CategoryController  Category = "controller"
	CategoryStyle       Category = "style"
	CategoryModel       Category = "model"
	CategoryPrintform   Category = "printform"
	CategoryService     Category = "service"
	CategoryTranslation Category = "translation"
	CategoryFile        Category = "file"
)

// Kind is the content kind of a category.
type Kind int

const (
	// KindScript marks categories whose files are JavaScript sources.
	KindScript Kind = iota + 1
	// KindDocument marks categories whose files are JSON documents.
	KindDocument
)

func (k Kind) String() string {
	switch k {
	case KindScript:
		return "script"
	case KindDocument:
		return "document"
	}
	return "unknown"
}

var kinds = map[Category]Kind{
	CategoryController:  KindScript,
	CategoryService:     KindScript,
	CategoryView:        KindDocument,
	CategoryStyle:       KindDocument,
	CategoryModel:       KindDocument,
	CategoryPrintform:   KindDocument,
	CategoryTranslation: KindDocument,
	CategoryFile:        KindDocument,
}

// KindOf returns the content kind of c. ok is false for categories outside the
// fixed table.
func KindOf(c Category) (kind Kind, ok bool) {
	kind, ok = kinds[c]
	return kind, ok
}

// Dir returns the on-disk subdirectory holding the category's files.
func (c Category) Dir() string {
	return string(c) + "s"
}

// Categories returns every known category.
func Categories() []Category {
	return []Category{
		CategoryView, CategoryController, CategoryStyle, CategoryModel,
		CategoryPrintform, CategoryService, CategoryTranslation, CategoryFile,
	}
}

// ScriptRecord is the sync payload for one transpiled script file.
type ScriptRecord struct {
	Name   string  `json:"name"`
	Code   string  `json:"code"`
	Uptime int64   `json:"uptime"`
	ID     *string `json:"id,omitempty"`
}

// ArtifactMetadata is a lightweight description of one stored artifact file.
type ArtifactMetadata struct {
	Path      string    `json:"path"`
	Category  Category  `json:"category"`
	FileName  string    `json:"file_name"`
	Name      string    `json:"name"`
	Hash      string    `json:"hash,omitempty"`
	Kind      string    `json:"kind"`
	Checksum  string    `json:"checksum"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}
