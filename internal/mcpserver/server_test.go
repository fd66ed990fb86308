package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/blackhole/internal/catalog"
	"github.com/starford/blackhole/internal/syncservice"
	"github.com/starford/blackhole/internal/testutil"
	"github.com/starford/blackhole/internal/transform"
)

func testServer(t *testing.T, files map[string]string) *Server {
	t.Helper()

	_, store := testutil.TestStore(t, files)
	db := testutil.TestCatalog(t)
	if err := catalog.Sync(context.Background(), db, store, testutil.Logger()); err != nil {
		t.Fatal(err)
	}
	tr, err := transform.New(transform.Options{})
	if err != nil {
		t.Fatal(err)
	}
	svc := syncservice.NewService(store, tr, testutil.Logger(),
		syncservice.WithClock(func() time.Time { return time.Unix(1700000000, 0) }))

	return New(store, db, svc, "test")
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no in-process call helper, so dispatch to the handlers directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_artifacts":
		result, err = srv.listArtifacts(ctx, req)
	case "read_artifact":
		result, err = srv.readArtifact(ctx, req)
	case "search_artifacts":
		result, err = srv.searchArtifacts(ctx, req)
	case "sync":
		result, err = srv.runSync(ctx, req)
	case "get_layout_contract":
		result, err = srv.getLayoutContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestListArtifacts(t *testing.T) {
	srv := testServer(t, map[string]string{
		"models/a.json":    `{"a":1}`,
		"models/b-ff.json": `{"b":1}`,
		"services/s.js":    "1",
	})

	r := callTool(t, srv, "list_artifacts", map[string]any{})
	if got := resultText(r); got != "models/a.json\nmodels/b-ff.json\nservices/s.js" {
		t.Errorf("list = %q", got)
	}

	r = callTool(t, srv, "list_artifacts", map[string]any{"category": "service"})
	if got := resultText(r); got != "services/s.js" {
		t.Errorf("list services = %q", got)
	}

	r = callTool(t, srv, "list_artifacts", map[string]any{"category": "widget"})
	if !r.IsError {
		t.Error("expected error for unknown category")
	}
}

func TestReadArtifact(t *testing.T) {
	srv := testServer(t, map[string]string{"views/main.json": `{"v":1}`})

	r := callTool(t, srv, "read_artifact", map[string]any{"path": "views/main.json"})
	if got := resultText(r); got != `{"v":1}` {
		t.Errorf("read = %q", got)
	}
}

func TestReadArtifactMissing(t *testing.T) {
	srv := testServer(t, nil)

	for _, p := range []string{"views/nope.json", "../etc/passwd", "notes/x.md"} {
		r := callTool(t, srv, "read_artifact", map[string]any{"path": p})
		if !r.IsError {
			t.Errorf("expected error for %s", p)
		}
	}
}

func TestSearchArtifacts(t *testing.T) {
	srv := testServer(t, map[string]string{"models/invoice-01.json": `{}`})

	r := callTool(t, srv, "search_artifacts", map[string]any{"query": "invoice"})
	if got := resultText(r); !strings.Contains(got, "models/invoice-01.json") {
		t.Errorf("search = %q", got)
	}
}

func TestSync(t *testing.T) {
	srv := testServer(t, map[string]string{"models/thing-deadbeef.json": `{"a":1}`})

	r := callTool(t, srv, "sync", map[string]any{"interests": []any{"model"}})
	if r.IsError {
		t.Fatalf("sync error: %s", resultText(r))
	}

	var got, want any
	if err := json.Unmarshal([]byte(resultText(r)), &got); err != nil {
		t.Fatal(err)
	}
	_ = json.Unmarshal([]byte(`{"code":200,"data":[{"model":[{"a":1,"uptime":1700000000}],"serverUptime":1700000000}]}`), &want)
	gotRaw, _ := json.Marshal(got)
	wantRaw, _ := json.Marshal(want)
	if string(gotRaw) != string(wantRaw) {
		t.Errorf("sync = %s, want %s", gotRaw, wantRaw)
	}
}

func TestSyncScriptFailure(t *testing.T) {
	srv := testServer(t, map[string]string{"controllers/bad.js": "function ("})

	r := callTool(t, srv, "sync", map[string]any{"interests": []any{"controller"}})
	if !r.IsError {
		t.Error("expected error for broken script")
	}
}

func TestLayoutContract(t *testing.T) {
	srv := testServer(t, nil)

	r := callTool(t, srv, "get_layout_contract", nil)
	if got := resultText(r); !strings.Contains(got, "controllers/") {
		t.Errorf("contract = %q", got)
	}

	contents, err := srv.readLayoutResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if tc, ok := contents[0].(mcp.TextResourceContents); !ok || tc.URI != layoutURI {
		t.Errorf("resource = %#v", contents[0])
	}
}
