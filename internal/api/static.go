package api

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// StaticHandler serves files from a static directory and hands every request
// it cannot satisfy to next.
type StaticHandler struct {
	root string
	next http.Handler
}

// NewStaticHandler creates a handler rooted at dir. An empty dir disables
// static serving.
func NewStaticHandler(dir string, next http.Handler) *StaticHandler {
	root := ""
	if dir != "" {
		if abs, err := filepath.Abs(dir); err == nil {
			root = abs
		}
	}
	return &StaticHandler{root: root, next: next}
}

// resolve maps a URL path to a regular file under root. Directories resolve
// to their index.html.
func (h *StaticHandler) resolve(urlPath string) (string, os.FileInfo, bool) {
	cleaned := path.Clean("/" + urlPath)
	abs := filepath.Join(h.root, filepath.FromSlash(cleaned))
	if abs != h.root && !strings.HasPrefix(abs, h.root+string(os.PathSeparator)) {
		return "", nil, false
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", nil, false
	}
	if info.IsDir() {
		abs = filepath.Join(abs, "index.html")
		if info, err = os.Stat(abs); err != nil {
			return "", nil, false
		}
	}
	if !info.Mode().IsRegular() {
		return "", nil, false
	}
	return abs, info, true
}

// ServeHTTP implements http.Handler.
func (h *StaticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.root == "" || (r.Method != http.MethodGet && r.Method != http.MethodHead) {
		h.next.ServeHTTP(w, r)
		return
	}
	abs, info, ok := h.resolve(r.URL.Path)
	if !ok {
		h.next.ServeHTTP(w, r)
		return
	}
	f, err := os.Open(abs)
	if err != nil {
		h.next.ServeHTTP(w, r)
		return
	}
	defer f.Close()
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// NotFound answers requests that no route, static file or upstream handled.
func NotFound(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte("Route doesn't exist"))
}
