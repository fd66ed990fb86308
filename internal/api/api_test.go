package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/blackhole/internal/catalog"
	"github.com/starford/blackhole/internal/syncservice"
	"github.com/starford/blackhole/internal/testutil"
	"github.com/starford/blackhole/internal/transform"
)

var fixedNow = time.Unix(1700000000, 0)

type env struct {
	root   string
	router http.Handler
}

type envOptions struct {
	files       map[string]string
	authEnabled bool
	token       string
	staticDir   string
	upstream    http.Handler
	events      http.Handler
}

// testEnv sets up a temp artifact tree, SQLite catalog, sync service and gateway.
func testEnv(t *testing.T, o envOptions) env {
	t.Helper()

	root, store := testutil.TestStore(t, o.files)
	db := testutil.TestCatalog(t)
	if err := catalog.Sync(context.Background(), db, store, testutil.Logger()); err != nil {
		t.Fatalf("catalog sync: %v", err)
	}

	tr, err := transform.New(transform.Options{})
	if err != nil {
		t.Fatalf("transform.New: %v", err)
	}
	svc := syncservice.NewService(store, tr, testutil.Logger(),
		syncservice.WithClock(func() time.Time { return fixedNow }))

	router := NewGateway(GatewayConfig{
		Sync:        NewSyncHandler(svc, testutil.Logger()),
		Catalog:     NewHandler(db, store),
		Events:      o.events,
		AuthEnabled: o.authEnabled,
		Token:       o.token,
		StaticDir:   o.staticDir,
		Upstream:    o.upstream,
	})
	return env{root: root, router: router}
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func postJSON(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/sync", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func postForm(form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/sync", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func decodeBundle(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Code int              `json:"code"`
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v (%s)", err, w.Body.String())
	}
	if resp.Code != 200 || len(resp.Data) != 1 {
		t.Fatalf("unexpected envelope: %s", w.Body.String())
	}
	return resp.Data[0]
}

func TestSync_JSONBody(t *testing.T) {
	e := testEnv(t, envOptions{files: map[string]string{
		"models/thing-deadbeef.json": `{"a":1}`,
		"views/main.json":            `{"v":true}`,
	}})

	w := do(t, e.router, postJSON(`{"get":["model","view"],"filters":{"x":1},"lastUptime":5}`))
	bundle := decodeBundle(t, w)

	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("content type = %q", ct)
	}
	if got := bundle["serverUptime"]; got != float64(fixedNow.Unix()) {
		t.Errorf("serverUptime = %v", got)
	}
	models := bundle["model"].([]any)
	if len(models) != 1 || models[0].(map[string]any)["uptime"] != float64(fixedNow.Unix()) {
		t.Errorf("model = %v", models)
	}
	if views := bundle["view"].([]any); len(views) != 1 {
		t.Errorf("view = %v", views)
	}
}

func TestSync_FormBody(t *testing.T) {
	e := testEnv(t, envOptions{files: map[string]string{
		"controllers/main-ab12.js": "var x = 1",
		"styles/base.json":         `{"color":"red"}`,
	}})

	w := do(t, e.router, postForm(url.Values{"get[]": {"controller", "style"}}))
	bundle := decodeBundle(t, w)

	ctrl := bundle["controller"].([]any)
	if len(ctrl) != 1 {
		t.Fatalf("controller = %v", ctrl)
	}
	rec := ctrl[0].(map[string]any)
	if rec["name"] != "main" || rec["id"] != "-ab12" {
		t.Errorf("record = %v", rec)
	}
	if code, _ := rec["code"].(string); !strings.HasPrefix(code, `"use strict";`) {
		t.Errorf("code = %q", code)
	}
	if styles := bundle["style"].([]any); len(styles) != 1 {
		t.Errorf("style = %v", styles)
	}
}

func TestSync_FormIndexedKeys(t *testing.T) {
	e := testEnv(t, envOptions{files: map[string]string{
		"models/a.json": `{"a":1}`,
	}})

	w := do(t, e.router, postForm(url.Values{"get[1]": {"model"}, "get[0]": {"view"}}))
	bundle := decodeBundle(t, w)
	if _, ok := bundle["view"]; !ok {
		t.Error("view key missing")
	}
	if _, ok := bundle["model"]; !ok {
		t.Error("model key missing")
	}
}

func TestSync_KeysExactlyRequested(t *testing.T) {
	e := testEnv(t, envOptions{files: map[string]string{
		"models/a.json":  `{"a":1}`,
		"views/b.json":   `{"b":1}`,
		"styles/c.json":  `{"c":1}`,
		"files/d.json":   `{"d":1}`,
		"services/e.js":  "1",
		"printforms/f.x": `{}`,
	}})

	bundle := decodeBundle(t, do(t, e.router, postJSON(`{"get":["style","nope"]}`)))
	if len(bundle) != 3 {
		t.Errorf("keys = %v, want style, nope and serverUptime", bundle)
	}
	if nope := bundle["nope"].([]any); len(nope) != 0 {
		t.Errorf("unknown category = %v, want empty", nope)
	}
}

func TestSync_EmptyInterests(t *testing.T) {
	e := testEnv(t, envOptions{})
	bundle := decodeBundle(t, do(t, e.router, postJSON(`{"get":[]}`)))
	if len(bundle) != 1 {
		t.Errorf("bundle = %v, want only serverUptime", bundle)
	}
}

func TestSync_Failures(t *testing.T) {
	e := testEnv(t, envOptions{files: map[string]string{
		"services/broken.js": "function (",
	}})

	tests := []struct {
		name string
		req  *http.Request
	}{
		{"missing get", postJSON(`{}`)},
		{"null get", postJSON(`{"get":null}`)},
		{"malformed json", postJSON(`{"get":`)},
		{"script syntax error", postJSON(`{"get":["service"]}`)},
		{"form without get", postForm(url.Values{"other": {"x"}})},
		{"plain text body", func() *http.Request {
			req := httptest.NewRequest(http.MethodPost, "/sync", strings.NewReader("get=model"))
			req.Header.Set("Content-Type", "text/plain")
			return req
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, e.router, tt.req)
			if w.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d, want 500", w.Code)
			}
			if w.Body.String() != internalErrorText {
				t.Errorf("body = %q", w.Body.String())
			}
			if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
				t.Errorf("content type = %q", ct)
			}
		})
	}
}

func TestSync_OversizedBody(t *testing.T) {
	e := testEnv(t, envOptions{})
	body := `{"get":["model"],"filters":"` + strings.Repeat("x", maxSyncBody) + `"}`
	w := do(t, e.router, postJSON(body))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestSync_ReadOnly(t *testing.T) {
	files := map[string]string{
		"models/a-1f.json":  `{"a":1}`,
		"controllers/c.js":  "let y = 2",
		"translations/t.js": `{"t":1}`,
	}
	e := testEnv(t, envOptions{files: files})

	w := do(t, e.router, postJSON(`{"get":["model","controller","translation"]}`))
	decodeBundle(t, w)

	for rel, content := range files {
		got, err := os.ReadFile(filepath.Join(e.root, filepath.FromSlash(rel)))
		if err != nil {
			t.Fatalf("read %s: %v", rel, err)
		}
		if string(got) != content {
			t.Errorf("%s changed: %q", rel, got)
		}
	}
	entries, err := os.ReadDir(e.root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Errorf("root entries = %d, want 3", len(entries))
	}
}

func TestFallback_Upstream(t *testing.T) {
	var gotPath, gotMethod string
	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		_, _ = io.WriteString(w, "from upstream")
	})
	e := testEnv(t, envOptions{upstream: upstream})

	w := do(t, e.router, httptest.NewRequest(http.MethodPut, "/records/7", nil))
	if w.Body.String() != "from upstream" || gotPath != "/records/7" || gotMethod != http.MethodPut {
		t.Errorf("got %q (%s %s)", w.Body.String(), gotMethod, gotPath)
	}

	// GET /sync is not the sync endpoint.
	w = do(t, e.router, httptest.NewRequest(http.MethodGet, "/sync", nil))
	if w.Body.String() != "from upstream" || gotMethod != http.MethodGet {
		t.Errorf("GET /sync = %q", w.Body.String())
	}
}

func TestFallback_NotFoundWithoutUpstream(t *testing.T) {
	e := testEnv(t, envOptions{})

	w := do(t, e.router, httptest.NewRequest(http.MethodGet, "/nothing/here", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if w.Body.String() != "Route doesn't exist" {
		t.Errorf("body = %q", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
}

func TestFallback_StaticBeforeUpstream(t *testing.T) {
	static := t.TempDir()
	testutil.WriteFile(t, static, "index.html", "<h1>home</h1>")
	testutil.WriteFile(t, static, "js/app.js", "console.log(1)")

	upstream := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "from upstream")
	})
	e := testEnv(t, envOptions{staticDir: static, upstream: upstream})

	tests := []struct {
		method, path, want string
	}{
		{http.MethodGet, "/", "<h1>home</h1>"},
		{http.MethodGet, "/js/app.js", "console.log(1)"},
		{http.MethodGet, "/js/", "from upstream"},
		{http.MethodGet, "/missing.css", "from upstream"},
		{http.MethodGet, "/../../etc/passwd", "from upstream"},
		{http.MethodPost, "/js/app.js", "from upstream"},
	}
	for _, tt := range tests {
		w := do(t, e.router, httptest.NewRequest(tt.method, tt.path, nil))
		if w.Body.String() != tt.want {
			t.Errorf("%s %s = %q, want %q", tt.method, tt.path, w.Body.String(), tt.want)
		}
	}
}

func TestCORS_Preflight(t *testing.T) {
	e := testEnv(t, envOptions{})

	req := httptest.NewRequest(http.MethodOptions, "/sync", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := do(t, e.router, req)

	if w.Code >= 300 {
		t.Errorf("preflight status = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow origin = %q", got)
	}
}

func TestHealth(t *testing.T) {
	e := testEnv(t, envOptions{})
	for _, p := range []string{Prefix + "/health/live", Prefix + "/health/ready"} {
		w := do(t, e.router, httptest.NewRequest(http.MethodGet, p, nil))
		if w.Code != http.StatusOK {
			t.Errorf("%s = %d", p, w.Code)
		}
	}
}

func TestListArtifacts(t *testing.T) {
	e := testEnv(t, envOptions{files: map[string]string{
		"models/a.json":   `{"a":1}`,
		"models/b.json":   `{"b":1}`,
		"services/s-1.js": "1",
	}})

	w := do(t, e.router, httptest.NewRequest(http.MethodGet, Prefix+"/api/artifacts?category=model", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 2 {
		t.Errorf("total = %d, want 2", resp.Total)
	}

	w = do(t, e.router, httptest.NewRequest(http.MethodGet, Prefix+"/api/artifacts?category=bogus", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("bogus category = %d, want 400", w.Code)
	}
}

func TestSearchMissingQuery(t *testing.T) {
	e := testEnv(t, envOptions{})
	w := do(t, e.router, httptest.NewRequest(http.MethodGet, Prefix+"/api/artifacts/search", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("search no query = %d, want 400", w.Code)
	}
}

func TestSearch(t *testing.T) {
	e := testEnv(t, envOptions{files: map[string]string{
		"models/invoice-0a.json": `{"a":1}`,
		"models/order.json":      `{"a":1}`,
	}})
	w := do(t, e.router, httptest.NewRequest(http.MethodGet, Prefix+"/api/artifacts/search?q=invoice", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "models/invoice-0a.json") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestGetArtifact(t *testing.T) {
	e := testEnv(t, envOptions{files: map[string]string{
		"models/a.json": `{"a":1}`,
	}})

	w := do(t, e.router, httptest.NewRequest(http.MethodGet, Prefix+"/api/artifacts/model/a.json", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Body.String() != `{"a":1}` {
		t.Errorf("body = %q", w.Body.String())
	}
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatal("missing ETag")
	}

	req := httptest.NewRequest(http.MethodGet, Prefix+"/api/artifacts/model/a.json", nil)
	req.Header.Set("If-None-Match", etag)
	if w := do(t, e.router, req); w.Code != http.StatusNotModified {
		t.Errorf("conditional get = %d, want 304", w.Code)
	}

	w = do(t, e.router, httptest.NewRequest(http.MethodGet, Prefix+"/api/artifacts/model/nope.json", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("missing artifact = %d, want 404", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	e := testEnv(t, envOptions{authEnabled: true, token: "secret123"})

	w := do(t, e.router, httptest.NewRequest(http.MethodGet, Prefix+"/api/artifacts", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	e := testEnv(t, envOptions{authEnabled: true, token: "secret123"})

	req := httptest.NewRequest(http.MethodGet, Prefix+"/api/artifacts", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	if w := do(t, e.router, req); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	e := testEnv(t, envOptions{authEnabled: true, token: "secret123"})

	req := httptest.NewRequest(http.MethodGet, Prefix+"/api/artifacts", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	if w := do(t, e.router, req); w.Code != http.StatusOK {
		t.Errorf("authed = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_SyncStaysOpen(t *testing.T) {
	e := testEnv(t, envOptions{authEnabled: true, token: "secret123"})
	decodeBundle(t, do(t, e.router, postJSON(`{"get":[]}`)))
}

// SSE endpoint auth tests.

func sseStub() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	})
}

func TestSSEEvents_AuthProtected(t *testing.T) {
	e := testEnv(t, envOptions{authEnabled: true, token: "secret", events: sseStub()})

	w := do(t, e.router, httptest.NewRequest(http.MethodGet, Prefix+"/api/events", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	e := testEnv(t, envOptions{authEnabled: true, token: "tok", events: sseStub()})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, Prefix+"/api/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := do(t, e.router, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}
