package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/starford/blackhole/internal/checksum"
	"github.com/starford/blackhole/internal/filename"
	"github.com/starford/blackhole/internal/models"
)

// FS implements Provider backed by the local file system.
type FS struct {
	root   string // absolute path to the artifact tree
	enc    encoding.Encoding
	logger *slog.Logger
}

// NewFS creates a new FS provider rooted at the given directory. The directory
// must already exist. charset is a WHATWG encoding label such as "utf-8".
func NewFS(root, charset string, logger *slog.Logger) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	if charset == "" {
		charset = "utf-8"
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("storage: encoding %q: %w", charset, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FS{root: abs, enc: enc, logger: logger}, nil
}

// Root returns the absolute artifact root.
func (f *FS) Root() string {
	return f.root
}

// safePath resolves a relative path against the root and rejects any result
// that escapes it.
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(rel)
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", rel)
	}
	abs, err := filepath.Abs(filepath.Join(f.root, cleaned))
	if err != nil {
		return "", fmt.Errorf("storage: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("storage: path escapes artifact root: %s", rel)
	}
	return abs, nil
}

// ListCategory lists the category directory and reads each entry. Entries come
// back in os.ReadDir order, which is sorted by file name. Any read failure is
// returned as is; callers treat it as fatal for the whole request.
func (f *FS) ListCategory(ctx context.Context, category models.Category) ([]File, error) {
	dir, err := f.safePath(category.Dir())
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			f.logger.Info("category directory does not exist", slog.String("path", dir))
			return []File{}, nil
		}
		return nil, fmt.Errorf("storage: list %s: %w", category.Dir(), err)
	}

	files := make([]File, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := f.readText(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("storage: read %s/%s: %w", category.Dir(), e.Name(), err)
		}
		files = append(files, File{Name: e.Name(), Content: text})
	}
	return files, nil
}

func (f *FS) readText(abs string) (string, error) {
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	decoded, err := f.enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	return string(decoded), nil
}

// Read returns the raw bytes of a file under the root.
func (f *FS) Read(path string) ([]byte, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

// Walk returns metadata for every regular file directly inside a known
// category directory.
func (f *FS) Walk(ctx context.Context) ([]models.ArtifactMetadata, error) {
	var out []models.ArtifactMetadata
	for _, c := range models.Categories() {
		entries, err := os.ReadDir(filepath.Join(f.root, c.Dir()))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("storage: walk %s: %w", c.Dir(), err)
		}
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if !e.Type().IsRegular() {
				continue
			}
			meta, err := f.Stat(filepath.Join(c.Dir(), e.Name()))
			if err != nil {
				return nil, err
			}
			out = append(out, *meta)
		}
	}
	return out, nil
}

// Stat describes the artifact at path, which must be <category>s/<file>.
func (f *FS) Stat(path string) (*models.ArtifactMetadata, error) {
	category, name, ok := SplitPath(path)
	if !ok {
		return nil, fmt.Errorf("storage: not an artifact path: %s", path)
	}
	abs, err := f.safePath(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat %s: %w", path, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	kind, _ := models.KindOf(category)
	hash, _ := filename.ExtractHash(name)
	return &models.ArtifactMetadata{
		Path:      filepath.ToSlash(path),
		Category:  category,
		FileName:  name,
		Name:      filename.LogicalName(name),
		Hash:      hash,
		Kind:      kind.String(),
		Checksum:  checksum.Sum(data),
		Size:      info.Size(),
		UpdatedAt: info.ModTime(),
	}, nil
}

// SplitPath maps a root-relative path of the form <category>s/<file> to its
// category and file name. ok is false for anything else.
func SplitPath(path string) (models.Category, string, bool) {
	dir, name := filepath.Split(filepath.Clean(path))
	dir = strings.TrimSuffix(filepath.ToSlash(dir), "/")
	if dir == "" || strings.Contains(dir, "/") || !strings.HasSuffix(dir, "s") {
		return "", "", false
	}
	c := models.Category(strings.TrimSuffix(dir, "s"))
	if _, ok := models.KindOf(c); !ok {
		return "", "", false
	}
	return c, name, true
}
