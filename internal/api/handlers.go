package api

import (
	"bytes"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/blackhole/internal/apperr"
	"github.com/starford/blackhole/internal/catalog"
	"github.com/starford/blackhole/internal/checksum"
	"github.com/starford/blackhole/internal/models"
	"github.com/starford/blackhole/internal/storage"
)

// Handler holds the artifact catalog route handlers.
type Handler struct {
	cat   catalog.Catalog
	store storage.Provider
}

// NewHandler creates a new Handler.
func NewHandler(cat catalog.Catalog, store storage.Provider) *Handler {
	return &Handler{cat: cat, store: store}
}

// ListArtifacts handles GET /artifacts.
//
//	@Summary	List cataloged artifacts
//	@Tags		artifacts
//	@Produce	json
//	@Param		category	query	string	false	"Filter by category"
//	@Param		limit		query	int		false	"Page size"
//	@Param		offset		query	int		false	"Page offset"
//	@Router		/artifacts [get]
func (h *Handler) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	category := q.Get("category")
	if category != "" {
		if _, ok := models.KindOf(models.Category(category)); !ok {
			writeJSON(w, http.StatusBadRequest, errorBody("unknown category"))
			return
		}
	}

	items, total, err := h.cat.List(category, limit, offset)
	if err != nil {
		slog.Error("list artifacts failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"artifacts": items,
		"total":     total,
	})
}

// Search handles GET /artifacts/search.
//
//	@Summary	Search cataloged artifacts
//	@Tags		artifacts
//	@Produce	json
//	@Param		q		query	string	true	"Search query"
//	@Param		limit	query	int		false	"Maximum results"
//	@Router		/artifacts/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.cat.Search(q, limit)
	if err != nil {
		slog.Error("search failed", slog.String("query", q), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
	})
}

// GetArtifact handles GET /artifacts/{category}/{file}: the raw stored bytes,
// with an ETag derived from the content.
//
//	@Summary	Read one artifact's raw content
//	@Tags		artifacts
//	@Produce	octet-stream
//	@Param		category	path	string	true	"Artifact category"
//	@Param		file		path	string	true	"Stored file name"
//	@Router		/artifacts/{category}/{file} [get]
func (h *Handler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	category := models.Category(chi.URLParam(r, "category"))
	file := chi.URLParam(r, "file")
	if _, ok := models.KindOf(category); !ok {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	rel := path.Join(category.Dir(), file)

	meta, err := h.cat.Get(rel)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("get artifact failed", slog.String("path", rel), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}

	data, err := h.store.Read(rel)
	if err != nil {
		slog.Error("read artifact failed", slog.String("path", rel), slog.String("error", err.Error()))
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}

	if ct := mime.TypeByExtension(path.Ext(file)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("ETag", checksum.ETag(data))
	http.ServeContent(w, r, file, meta.UpdatedAt, bytes.NewReader(data))
}
