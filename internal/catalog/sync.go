package catalog

import (
	"context"
	"log/slog"

	"github.com/starford/blackhole/internal/storage"
)

// Sync walks the artifact tree and brings the catalog up to date:
//   - new/changed files are upserted
//   - files removed from disk are deleted from the catalog
func Sync(ctx context.Context, db Catalog, store storage.Provider, logger *slog.Logger) error {
	metas, err := store.Walk(ctx)
	if err != nil {
		return err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}

		if checksums[m.Path] == m.Checksum {
			continue
		}
		if err := db.Upsert(m); err != nil {
			logger.Warn("sync: upsert failed", slog.String("path", m.Path), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: cataloged", slog.String("path", m.Path))
		}
	}

	for p := range checksums {
		if _, ok := disk[p]; !ok {
			if err := db.Delete(p); err != nil {
				logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("path", p))
			}
		}
	}

	return nil
}
