// Package mcpserver exposes the artifact store and the sync assembler as MCP
// (Model Context Protocol) tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/blackhole/internal/catalog"
	"github.com/starford/blackhole/internal/models"
	"github.com/starford/blackhole/internal/storage"
	"github.com/starford/blackhole/internal/syncservice"
)

const layoutURI = "blackhole://layout"

// Server wraps the MCP server with the gateway tools.
type Server struct {
	mcp   *server.MCPServer
	store storage.Provider
	db    catalog.Catalog
	sync  *syncservice.Service
}

// New creates a new MCP server with all tools registered.
func New(store storage.Provider, db catalog.Catalog, svc *syncservice.Service, version string) *Server {
	s := &Server{store: store, db: db, sync: svc}

	s.mcp = server.NewMCPServer(
		"Blackhole",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_artifacts",
		mcp.WithDescription("List cataloged artifacts, optionally limited to one category."),
		mcp.WithString("category", mcp.Description("Optional category (e.g. model, controller)")),
	), s.listArtifacts)

	s.mcp.AddTool(mcp.NewTool("read_artifact",
		mcp.WithDescription("Read the raw stored content of an artifact."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Root-relative path (e.g. models/thing-1a2b.json)")),
	), s.readArtifact)

	s.mcp.AddTool(mcp.NewTool("search_artifacts",
		mcp.WithDescription("Search artifacts by logical name or file name."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchArtifacts)

	s.mcp.AddTool(mcp.NewTool("sync",
		mcp.WithDescription("Assemble a sync bundle exactly as POST /sync would. "+
			"Scripts come back transpiled, documents stamped with uptime."),
		mcp.WithArray("interests", mcp.Required(),
			mcp.Description("Categories to collect, in response order"),
			mcp.Items(map[string]any{"type": "string"})),
	), s.runSync)

	s.mcp.AddTool(mcp.NewTool("get_layout_contract",
		mcp.WithDescription("Returns the artifact tree layout and naming convention. "+
			"Read it before referencing artifact paths."),
	), s.getLayoutContract)

	s.mcp.AddResource(
		mcp.NewResource(layoutURI, "Artifact Layout",
			mcp.WithResourceDescription("Directory layout and file naming of the artifact tree."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readLayoutResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) listArtifacts(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	category := req.GetString("category", "")
	if category != "" {
		if _, ok := models.KindOf(models.Category(category)); !ok {
			return mcp.NewToolResultError(fmt.Sprintf("unknown category: %s", category)), nil
		}
	}

	var paths []string
	offset := 0
	for {
		items, total, err := s.db.List(category, 500, offset)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		for _, m := range items {
			paths = append(paths, m.Path)
		}
		offset += len(items)
		if len(items) == 0 || offset >= total {
			break
		}
	}
	if len(paths) == 0 {
		return mcp.NewToolResultText("no artifacts found"), nil
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}

func (s *Server) readArtifact(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, _, ok := storage.SplitPath(path); !ok {
		return mcp.NewToolResultError(fmt.Sprintf("not an artifact path: %s", path)), nil
	}
	data, err := s.store.Read(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) searchArtifacts(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.db.Search(query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(results, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) runSync(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	interests, err := req.RequireStringSlice("interests")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resp, err := s.sync.Sync(ctx, syncservice.Request{Get: syncservice.Interests(interests)})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getLayoutContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(LayoutContract), nil
}

func (s *Server) readLayoutResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      layoutURI,
			MIMEType: "text/markdown",
			Text:     LayoutContract,
		},
	}, nil
}
