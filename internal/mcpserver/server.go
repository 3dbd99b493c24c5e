// Package mcpserver exposes the agent tool registry over the Model Context
// Protocol, so MCP hosts can call the same tools the orchestrator uses.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wargame-agent/backend/internal/agent"
)

const serverName = "wargame-rag"

const instructions = `This server exposes a wargame analysis corpus and a per-user memory store.

Answering a user question:
1. Call memory_search first when a user id is known; stored memories hold prior findings and preferences.
2. Call search_wargame_docs for doctrine and after-action material, then get_doc_span to read around a promising hit.
3. Cite document evidence as [document_id:chunk_index].

Store durable facts with memory_add. Near-duplicates are merged server-side and daily write quotas apply, so save conclusions, not transcripts.`

// New builds an MCP server over the registry's tools. The surface mirrors the
// registry exactly; nothing is added or dropped here.
func New(registry *agent.Registry, version string) *server.MCPServer {
	s := server.NewMCPServer(
		serverName,
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	for _, tool := range registry.List() {
		s.AddTool(definition(tool), wrap(tool))
	}

	return s
}

func definition(tool agent.Tool) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(tool.Description)}
	for _, p := range tool.Params {
		opts = append(opts, paramOption(p))
	}
	return mcp.NewTool(tool.Name, opts...)
}

func paramOption(p agent.Param) mcp.ToolOption {
	var props []mcp.PropertyOption
	if p.Description != "" {
		props = append(props, mcp.Description(p.Description))
	}
	if p.Required {
		props = append(props, mcp.Required())
	}

	switch p.Type {
	case "number":
		if def, ok := p.Default.(float64); ok {
			props = append(props, mcp.DefaultNumber(def))
		}
		return mcp.WithNumber(p.Name, props...)
	case "array":
		props = append(props, mcp.Items(map[string]any{"type": "string"}))
		return mcp.WithArray(p.Name, props...)
	default:
		if def, ok := p.Default.(string); ok && def != "" {
			props = append(props, mcp.DefaultString(def))
		}
		return mcp.WithString(p.Name, props...)
	}
}

// wrap adapts a registry handler to the MCP calling convention. Tool failures
// come back as tool-result errors, not protocol errors, so the host can react
// to them.
func wrap(tool agent.Tool) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out, err := tool.Handler(ctx, request.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		payload, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s result: %w", tool.Name, err)
		}
		return mcp.NewToolResultText(string(payload)), nil
	}
}
