package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/locussearch/locus-mcp/internal/core"
	"github.com/locussearch/locus-mcp/internal/querycache"
	"github.com/locussearch/locus-mcp/pkg/types"
)

func getArgs(request mcp.CallToolRequest) (map[string]interface{}, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	return args, nil
}

func getString(args map[string]interface{}, key, fallback string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func getBool(args map[string]interface{}, key string, fallback bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return fallback
}

func getInt(args map[string]interface{}, key string, fallback int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return fallback
}

func selectorOf(args map[string]interface{}) (selector, workingDir string) {
	return getString(args, "project", "auto"), getString(args, "working_dir", "")
}

func formatJSON(v interface{}) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

func requireString(args map[string]interface{}, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", newMCPError(ErrorCodeInvalidParams, key+" parameter is required", map[string]interface{}{
			"param": key,
		})
	}
	return v, nil
}

func (s *Server) handleRagSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := getArgs(request)
	if err != nil {
		return nil, err
	}
	query, err := requireString(args, "query")
	if err != nil {
		return nil, err
	}
	selector, workingDir := selectorOf(args)

	res, err := s.core.RagSearch(ctx, core.SearchParams{
		Selector:   selector,
		WorkingDir: workingDir,
		Query:      query,
		K:          getInt(args, "k", 8),
		UseVector:  getBool(args, "use_vector", true),
		AutoIndex:  getBool(args, "auto_index", true),
	})
	if err != nil {
		return nil, mapError(err)
	}
	return mcp.NewToolResultText(formatJSON(res)), nil
}

func (s *Server) handleAnswerGenerate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := getArgs(request)
	if err != nil {
		return nil, err
	}
	query, err := requireString(args, "query")
	if err != nil {
		return nil, err
	}
	selector, workingDir := selectorOf(args)

	res, err := s.core.AnswerGenerate(ctx, core.AnswerParams{
		Selector:   selector,
		WorkingDir: workingDir,
		Query:      query,
		K:          getInt(args, "k", 8),
		Rerank:     getBool(args, "rerank", true),
		Accumulate: getBool(args, "accumulate", false),
	})
	if err != nil {
		return nil, mapError(err)
	}
	return mcp.NewToolResultText(formatJSON(res)), nil
}

func (s *Server) handleIndexStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := getArgs(request)
	if err != nil {
		return nil, err
	}
	selector, workingDir := selectorOf(args)

	st, err := s.core.IndexStatus(ctx, selector, workingDir)
	if err != nil {
		return nil, mapError(err)
	}
	return mcp.NewToolResultText(formatJSON(st)), nil
}

func (s *Server) handleIndexRebuild(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := getArgs(request)
	if err != nil {
		return nil, err
	}
	selector, workingDir := selectorOf(args)

	stats, err := s.core.IndexRebuild(ctx, selector, workingDir, getBool(args, "drop_vectors", false))
	if err != nil {
		return nil, mapError(err)
	}
	return mcp.NewToolResultText(formatJSON(stats)), nil
}

func (s *Server) handleProjectAdd(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := getArgs(request)
	if err != nil {
		return nil, err
	}
	path, err := requireString(args, "path")
	if err != nil {
		return nil, err
	}

	proj, err := s.core.AddProject(getString(args, "name", "auto"), path)
	if err != nil {
		return nil, mapError(err)
	}
	return mcp.NewToolResultText(formatJSON(proj)), nil
}

func (s *Server) handleProjectActivate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := getArgs(request)
	if err != nil {
		return nil, err
	}
	selector, err := requireString(args, "project")
	if err != nil {
		return nil, err
	}

	proj, err := s.core.ActivateProject(selector)
	if err != nil {
		return nil, mapError(err)
	}
	return mcp.NewToolResultText(formatJSON(proj)), nil
}

func (s *Server) handleProjectRemove(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := getArgs(request)
	if err != nil {
		return nil, err
	}
	selector, err := requireString(args, "project")
	if err != nil {
		return nil, err
	}

	proj, err := s.core.RemoveProject(selector)
	if err != nil {
		return nil, mapError(err)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"removed": proj.Name,
		"id":      proj.ID,
	})), nil
}

func (s *Server) handleProjectList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(formatJSON(s.core.ListProjects())), nil
}

func (s *Server) handleCacheClear(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := getArgs(request)
	if err != nil {
		return nil, err
	}
	selector, workingDir := selectorOf(args)
	scope := querycache.Scope(getString(args, "scope", string(querycache.ScopeProject)))

	if err := s.core.CacheClear(ctx, selector, workingDir, scope); err != nil {
		return nil, mapError(err)
	}
	st, err := s.core.CacheStatus(ctx, selector, workingDir)
	if err != nil {
		return nil, mapError(err)
	}
	return mcp.NewToolResultText(formatJSON(st)), nil
}

func (s *Server) handleCacheStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := getArgs(request)
	if err != nil {
		return nil, err
	}
	selector, workingDir := selectorOf(args)

	st, err := s.core.CacheStatus(ctx, selector, workingDir)
	if err != nil {
		return nil, mapError(err)
	}
	return mcp.NewToolResultText(formatJSON(st)), nil
}

func (s *Server) handleCodeSymbols(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := getArgs(request)
	if err != nil {
		return nil, err
	}
	path, err := requireString(args, "path")
	if err != nil {
		return nil, err
	}
	selector, workingDir := selectorOf(args)

	syms, err := s.core.Symbols(ctx, selector, workingDir, path)
	if err != nil {
		return nil, mapError(err)
	}
	return mcp.NewToolResultText(formatJSON(syms)), nil
}

func (s *Server) handleCodeFindSymbol(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := getArgs(request)
	if err != nil {
		return nil, err
	}
	name, err := requireString(args, "name")
	if err != nil {
		return nil, err
	}
	selector, workingDir := selectorOf(args)

	defs, err := s.core.FindSymbol(ctx, selector, workingDir, name,
		types.SymbolKind(getString(args, "kind", "")))
	if err != nil {
		return nil, mapError(err)
	}
	return mcp.NewToolResultText(formatJSON(defs)), nil
}

func (s *Server) handleCodeReferences(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := getArgs(request)
	if err != nil {
		return nil, err
	}
	name, err := requireString(args, "name")
	if err != nil {
		return nil, err
	}
	selector, workingDir := selectorOf(args)

	refs, err := s.core.References(ctx, selector, workingDir, name)
	if err != nil {
		return nil, mapError(err)
	}
	return mcp.NewToolResultText(formatJSON(refs)), nil
}

func (s *Server) handleSearchPattern(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := getArgs(request)
	if err != nil {
		return nil, err
	}
	regex, err := requireString(args, "regex")
	if err != nil {
		return nil, err
	}
	selector, workingDir := selectorOf(args)

	matches, err := s.core.SearchPattern(selector, workingDir, regex, getInt(args, "limit", 50))
	if err != nil {
		return nil, mapError(err)
	}
	return mcp.NewToolResultText(formatJSON(matches)), nil
}

func (s *Server) handleFileRead(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := getArgs(request)
	if err != nil {
		return nil, err
	}
	path, err := requireString(args, "path")
	if err != nil {
		return nil, err
	}
	selector, workingDir := selectorOf(args)

	res, err := s.core.FileRead(selector, workingDir, path,
		getInt(args, "start_line", 0), getInt(args, "end_line", 0))
	if err != nil {
		return nil, mapError(err)
	}
	return mcp.NewToolResultText(formatJSON(res)), nil
}

func (s *Server) handleFileList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := getArgs(request)
	if err != nil {
		return nil, err
	}
	selector, workingDir := selectorOf(args)

	entries, err := s.core.FileList(selector, workingDir, getString(args, "path", "."))
	if err != nil {
		return nil, mapError(err)
	}
	return mcp.NewToolResultText(formatJSON(entries)), nil
}

func (s *Server) handleFileFind(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := getArgs(request)
	if err != nil {
		return nil, err
	}
	glob, err := requireString(args, "glob")
	if err != nil {
		return nil, err
	}
	selector, workingDir := selectorOf(args)

	hits, err := s.core.FileFind(selector, workingDir, glob)
	if err != nil {
		return nil, mapError(err)
	}
	return mcp.NewToolResultText(formatJSON(hits)), nil
}
