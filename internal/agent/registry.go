// Package agent runs tool-calling sessions over the knowledge and memory
// subsystems: a fixed tool registry, a planner that picks the next step, and
// an orchestrator that executes steps under retry, circuit-breaker and
// timeout discipline.
package agent

import (
	"context"
	"fmt"

	"github.com/wargame-agent/backend/internal/errs"
	"github.com/wargame-agent/backend/internal/memory"
	"github.com/wargame-agent/backend/internal/retrieval"
	"github.com/wargame-agent/backend/internal/storage/models"
)

// Handler executes one tool call against already-decoded arguments.
type Handler func(ctx context.Context, args map[string]any) (any, error)

type Param struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Default     any
}

// Tool describes one entry of the fixed tool surface. Source classifies the
// data source behind the tool; Fallback names the tool to try when this one's
// circuit is open.
type Tool struct {
	Name        string
	Description string
	Source      string
	Fallback    string
	Params      []Param
	Handler     Handler
}

// Source classes.
const (
	SourceKnowledge = "knowledge"
	SourceMemory    = "memory"
)

// Tool names.
const (
	ToolSearchDocs      = "search_wargame_docs"
	ToolGetDocSpan      = "get_doc_span"
	ToolListCollections = "list_collections"
	ToolHealthCheck     = "health_check"
	ToolMemorySearch    = "memory_search"
	ToolMemoryAdd       = "memory_add"
	ToolMemoryDelete    = "memory_delete"
	ToolMemoryList      = "memory_list"
)

type Registry struct {
	tools  []Tool
	byName map[string]Tool
}

// NewRegistry wires the fixed v1 tool surface. The tool set never changes at
// runtime.
func NewRegistry(retriever *retrieval.Retriever, gateway *memory.Gateway) *Registry {
	r := &Registry{byName: make(map[string]Tool)}

	r.add(Tool{
		Name:        ToolSearchDocs,
		Description: "Semantic search over the wargame document corpus. Returns the best-matching chunks with document metadata and similarity scores.",
		Source:      SourceKnowledge,
		Fallback:    ToolMemorySearch,
		Params: []Param{
			{Name: "query", Type: "string", Description: "Natural-language search query", Required: true},
			{Name: "top_k", Type: "number", Description: "Maximum number of chunks to return", Default: float64(retrieval.DefaultTopK)},
			{Name: "min_score", Type: "number", Description: "Minimum similarity score in [0, 1]", Default: 0.0},
			{Name: "collections", Type: "array", Description: "Restrict the search to these collections"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			query, err := requireString(args, "query")
			if err != nil {
				return nil, err
			}
			results, err := retriever.Search(ctx, retrieval.SearchParams{
				Query:       query,
				TopK:        intArg(args, "top_k", retrieval.DefaultTopK),
				MinScore:    floatArg(args, "min_score", 0),
				Collections: stringSliceArg(args, "collections"),
			})
			if err != nil {
				return nil, err
			}
			return SearchDocsResult{Results: results, Count: len(results)}, nil
		},
	})

	r.add(Tool{
		Name:        ToolGetDocSpan,
		Description: "Fetch a window of consecutive chunks from one document, for reading context around a search hit.",
		Source:      SourceKnowledge,
		Params: []Param{
			{Name: "document_id", Type: "string", Description: "Document to read from", Required: true},
			{Name: "center_chunk_index", Type: "number", Description: "Chunk index at the center of the window", Required: true},
			{Name: "span", Type: "number", Description: "Chunks to include on each side of the center", Default: float64(retrieval.DefaultSpan)},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			documentID, err := requireString(args, "document_id")
			if err != nil {
				return nil, err
			}
			center, err := requireInt(args, "center_chunk_index")
			if err != nil {
				return nil, err
			}
			chunks, doc, err := retriever.GetSpan(ctx, documentID, center, intArg(args, "span", retrieval.DefaultSpan))
			if err != nil {
				return nil, err
			}
			return DocSpanResult{
				DocumentID: doc.DocumentID,
				Title:      doc.Title,
				Collection: doc.Collection,
				ChunkCount: doc.ChunkCount,
				Chunks:     chunks,
			}, nil
		},
	})

	r.add(Tool{
		Name:        ToolListCollections,
		Description: "List the document collections with per-collection document counts.",
		Source:      SourceKnowledge,
		Handler: func(ctx context.Context, _ map[string]any) (any, error) {
			infos, err := retriever.ListCollections(ctx)
			if err != nil {
				return nil, err
			}
			return CollectionsResult{Collections: infos}, nil
		},
	})

	r.add(Tool{
		Name:        ToolHealthCheck,
		Description: "Report retrieval subsystem health: ok, degraded or error.",
		Source:      SourceKnowledge,
		Handler: func(ctx context.Context, _ map[string]any) (any, error) {
			return retriever.HealthCheck(ctx), nil
		},
	})

	r.add(Tool{
		Name:        ToolMemorySearch,
		Description: "Semantic search over stored agent memories for a user.",
		Source:      SourceMemory,
		Fallback:    ToolSearchDocs,
		Params: []Param{
			{Name: "query", Type: "string", Description: "Natural-language search query", Required: true},
			{Name: "user_id", Type: "string", Description: "Owner of the memories", Required: true},
			{Name: "limit", Type: "number", Description: "Maximum number of memories to return", Default: float64(5)},
			{Name: "scopes", Type: "array", Description: "Restrict the search to these scopes"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			query, err := requireString(args, "query")
			if err != nil {
				return nil, err
			}
			userID, err := requireString(args, "user_id")
			if err != nil {
				return nil, err
			}
			hits, err := gateway.Search(ctx, memory.SearchParams{
				Query:  query,
				UserID: userID,
				Limit:  intArg(args, "limit", 0),
				Scopes: stringSliceArg(args, "scopes"),
			})
			if err != nil {
				return nil, err
			}
			return MemorySearchResult{Results: hits}, nil
		},
	})

	r.add(Tool{
		Name:        ToolMemoryAdd,
		Description: "Store a memory for a user. Near-duplicates return the existing record instead of creating a new one; daily write quotas apply.",
		Source:      SourceMemory,
		Params: []Param{
			{Name: "user_id", Type: "string", Description: "Owner of the memory", Required: true},
			{Name: "memory", Type: "string", Description: "The fact to remember", Required: true},
			{Name: "scope", Type: "string", Description: "Memory scope: user, scenario or agent", Default: models.ScopeUser},
			{Name: "tags", Type: "array", Description: "Free-form tags"},
			{Name: "source", Type: "string", Description: "Where this fact came from"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			userID, err := requireString(args, "user_id")
			if err != nil {
				return nil, err
			}
			text, err := requireString(args, "memory")
			if err != nil {
				return nil, err
			}
			return gateway.Add(ctx, memory.AddParams{
				UserID: userID,
				Memory: text,
				Scope:  stringArg(args, "scope", ""),
				Tags:   stringSliceArg(args, "tags"),
				Source: stringArg(args, "source", ""),
			})
		},
	})

	r.add(Tool{
		Name:        ToolMemoryDelete,
		Description: "Delete one memory by id.",
		Source:      SourceMemory,
		Params: []Param{
			{Name: "memory_id", Type: "string", Description: "Memory to delete", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			memoryID, err := requireString(args, "memory_id")
			if err != nil {
				return nil, err
			}
			status, err := gateway.Delete(ctx, memoryID)
			if err != nil {
				return nil, err
			}
			return MemoryDeleteResult{MemoryID: memoryID, Status: status}, nil
		},
	})

	r.add(Tool{
		Name:        ToolMemoryList,
		Description: "List a user's memories, newest first, with optional scope and tag filters.",
		Source:      SourceMemory,
		Params: []Param{
			{Name: "user_id", Type: "string", Description: "Owner of the memories", Required: true},
			{Name: "limit", Type: "number", Description: "Maximum number of memories to return", Default: float64(5)},
			{Name: "scope", Type: "string", Description: "Restrict to one scope"},
			{Name: "tags", Type: "array", Description: "Require all of these tags"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			userID, err := requireString(args, "user_id")
			if err != nil {
				return nil, err
			}
			records, err := gateway.List(ctx, memory.ListParams{
				UserID: userID,
				Limit:  intArg(args, "limit", 0),
				Scope:  stringArg(args, "scope", ""),
				Tags:   stringSliceArg(args, "tags"),
			})
			if err != nil {
				return nil, err
			}
			return MemoryListResult{Results: records}, nil
		},
	})

	return r
}

func (r *Registry) add(tool Tool) {
	r.tools = append(r.tools, tool)
	r.byName[tool.Name] = tool
}

func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.byName[name]
	return tool, ok
}

// List returns the tools in registration order.
func (r *Registry) List() []Tool {
	out := make([]Tool, len(r.tools))
	copy(out, r.tools)
	return out
}

type SearchDocsResult struct {
	Results []models.SearchResult `json:"results"`
	Count   int                   `json:"count"`
}

type DocSpanResult struct {
	DocumentID string         `json:"document_id"`
	Title      string         `json:"title"`
	Collection string         `json:"collection"`
	ChunkCount int            `json:"chunk_count"`
	Chunks     []models.Chunk `json:"chunks"`
}

type CollectionsResult struct {
	Collections []models.CollectionInfo `json:"collections"`
}

type MemorySearchResult struct {
	Results []models.MemoryHit `json:"results"`
}

type MemoryListResult struct {
	Results []models.MemoryRecord `json:"results"`
}

type MemoryDeleteResult struct {
	MemoryID string `json:"memory_id"`
	Status   string `json:"status"`
}

func requireString(args map[string]any, key string) (string, error) {
	s := stringArg(args, key, "")
	if s == "" {
		return "", &errs.ValidationError{Field: key, Reason: "must be a non-empty string"}
	}
	return s, nil
}

func requireInt(args map[string]any, key string) (int, error) {
	if _, ok := args[key]; !ok {
		return 0, &errs.ValidationError{Field: key, Reason: "is required"}
	}
	n, ok := numberValue(args[key])
	if !ok {
		return 0, &errs.ValidationError{Field: key, Reason: fmt.Sprintf("must be a number, got %T", args[key])}
	}
	return int(n), nil
}

func stringArg(args map[string]any, key, fallback string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return fallback
}

func intArg(args map[string]any, key string, fallback int) int {
	if v, ok := args[key]; ok {
		if n, ok := numberValue(v); ok {
			return int(n)
		}
	}
	return fallback
}

func floatArg(args map[string]any, key string, fallback float64) float64 {
	if v, ok := args[key]; ok {
		if n, ok := numberValue(v); ok {
			return n
		}
	}
	return fallback
}

func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func stringSliceArg(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
