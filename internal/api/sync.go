package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/starford/blackhole/internal/apperr"
	"github.com/starford/blackhole/internal/syncservice"
)

const maxSyncBody = 1 << 20

// SyncHandler serves POST /sync.
type SyncHandler struct {
	svc    *syncservice.Service
	logger *slog.Logger
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(svc *syncservice.Service, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{svc: svc, logger: logger}
}

// ServeHTTP handles POST /sync. The body is JSON or url-encoded. Any failure is
// reported as a generic plain-text 500.
func (h *SyncHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSyncBody)

	req, err := decodeSyncRequest(r)
	if err != nil {
		h.logger.Error("sync request rejected", slog.String("error", err.Error()))
		writeInternalError(w)
		return
	}

	resp, err := h.svc.Sync(r.Context(), req)
	if err != nil {
		h.logger.Error("sync failed", slog.String("error", err.Error()))
		writeInternalError(w)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeSyncRequest(r *http.Request) (syncservice.Request, error) {
	var req syncservice.Request

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return req, fmt.Errorf("%w: content type: %v", apperr.ErrInvalidRequest, err)
	}

	switch mediaType {
	case "application/json":
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, fmt.Errorf("%w: json body: %v", apperr.ErrInvalidRequest, err)
		}
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return req, fmt.Errorf("%w: form body: %v", apperr.ErrInvalidRequest, err)
		}
		req.Get = interestsFromForm(r.PostForm)
	default:
		return req, fmt.Errorf("%w: unsupported content type %q", apperr.ErrInvalidRequest, mediaType)
	}
	return req, nil
}

// interestsFromForm reads the interest list from bracketed form keys:
// get=a&get=b, get[]=a&get[]=b and get[0]=a&get[1]=b are all accepted. The
// result is nil when no get key is present at all.
func interestsFromForm(form url.Values) syncservice.Interests {
	var out syncservice.Interests
	present := false
	for _, key := range []string{"get", "get[]"} {
		if vals, ok := form[key]; ok {
			present = true
			out = append(out, vals...)
		}
	}

	indexed := map[int]string{}
	for key, vals := range form {
		if !strings.HasPrefix(key, "get[") || !strings.HasSuffix(key, "]") || len(vals) == 0 {
			continue
		}
		n, err := strconv.Atoi(key[len("get[") : len(key)-1])
		if err != nil || n < 0 {
			continue
		}
		indexed[n] = vals[len(vals)-1]
	}
	if len(indexed) > 0 {
		present = true
		idx := make([]int, 0, len(indexed))
		for n := range indexed {
			idx = append(idx, n)
		}
		sort.Ints(idx)
		for _, n := range idx {
			out = append(out, indexed[n])
		}
	}

	if present && out == nil {
		out = syncservice.Interests{}
	}
	return out
}
