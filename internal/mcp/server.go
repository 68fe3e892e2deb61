// Package mcp serves the engine's operations over the Model Context
// Protocol on stdio.
package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"

	"github.com/locussearch/locus-mcp/internal/config"
	"github.com/locussearch/locus-mcp/internal/core"
)

const (
	// ServerName is the MCP server name.
	ServerName = "locus-mcp"
	// ServerVersion is the current server version.
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with the engine context.
type Server struct {
	mcp  *server.MCPServer
	core *core.Core
}

// NewServer builds the engine and registers all tools.
func NewServer(cfg *config.Config) (*Server, error) {
	engine, err := core.New(cfg, core.Options{Watch: true})
	if err != nil {
		return nil, err
	}
	return NewServerWithCore(engine), nil
}

// NewServerWithCore wires an existing engine (used by tests).
func NewServerWithCore(engine *core.Core) *Server {
	s := &Server{
		mcp:  server.NewMCPServer(ServerName, ServerVersion),
		core: engine,
	}
	s.registerTools()
	return s
}

// Serve blocks on stdio until shutdown.
func (s *Server) Serve(ctx context.Context) error {
	defer func() { _ = s.core.Close() }()
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(ragSearchTool(), s.handleRagSearch)
	s.mcp.AddTool(answerGenerateTool(), s.handleAnswerGenerate)
	s.mcp.AddTool(indexStatusTool(), s.handleIndexStatus)
	s.mcp.AddTool(indexRebuildTool(), s.handleIndexRebuild)
	s.mcp.AddTool(projectAddTool(), s.handleProjectAdd)
	s.mcp.AddTool(projectActivateTool(), s.handleProjectActivate)
	s.mcp.AddTool(projectRemoveTool(), s.handleProjectRemove)
	s.mcp.AddTool(projectListTool(), s.handleProjectList)
	s.mcp.AddTool(cacheClearTool(), s.handleCacheClear)
	s.mcp.AddTool(cacheStatusTool(), s.handleCacheStatus)
	s.mcp.AddTool(codeSymbolsTool(), s.handleCodeSymbols)
	s.mcp.AddTool(codeFindSymbolTool(), s.handleCodeFindSymbol)
	s.mcp.AddTool(codeReferencesTool(), s.handleCodeReferences)
	s.mcp.AddTool(searchPatternTool(), s.handleSearchPattern)
	s.mcp.AddTool(fileReadTool(), s.handleFileRead)
	s.mcp.AddTool(fileListTool(), s.handleFileList)
	s.mcp.AddTool(fileFindTool(), s.handleFileFind)
}
