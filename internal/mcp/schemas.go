package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func projectProps() map[string]interface{} {
	return map[string]interface{}{
		"project": map[string]interface{}{
			"type":        "string",
			"description": "Project selector: name, id, path, or 'auto' (default)",
			"default":     "auto",
		},
		"working_dir": map[string]interface{}{
			"type":        "string",
			"description": "Caller working directory, used to resolve 'auto'",
		},
	}
}

func withProjectProps(props map[string]interface{}) map[string]interface{} {
	for k, v := range projectProps() {
		props[k] = v
	}
	return props
}

func ragSearchTool() mcp.Tool {
	return mcp.Tool{
		Name:        "rag_search",
		Description: "Find the code fragments most relevant to a natural-language query",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: withProjectProps(map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural-language search query",
				},
				"k": map[string]interface{}{
					"type":        "integer",
					"description": "Number of results (1-50)",
					"default":     8,
					"minimum":     1,
					"maximum":     50,
				},
				"use_vector": map[string]interface{}{
					"type":        "boolean",
					"description": "Include vector similarity search",
					"default":     true,
				},
				"auto_index": map[string]interface{}{
					"type":        "boolean",
					"description": "Catch the index up with the working tree first",
					"default":     true,
				},
			}),
			Required: []string{"query"},
		},
	}
}

func answerGenerateTool() mcp.Tool {
	return mcp.Tool{
		Name:        "answer_generate",
		Description: "Retrieve candidates with optional LLM rerank and answer synthesis",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: withProjectProps(map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Question about the codebase",
				},
				"k": map[string]interface{}{
					"type":        "integer",
					"description": "Number of final candidates (1-50)",
					"default":     8,
				},
				"rerank": map[string]interface{}{
					"type":        "boolean",
					"description": "Re-rank candidates with the configured LLM",
					"default":     true,
				},
				"accumulate": map[string]interface{}{
					"type":        "boolean",
					"description": "Decompose into sub-queries and synthesize a prose answer",
					"default":     false,
				},
			}),
			Required: []string{"query"},
		},
	}
}

func indexStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_status",
		Description: "Report files, chunks, and vectors indexed for a project",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: projectProps(),
		},
	}
}

func indexRebuildTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_rebuild",
		Description: "Drop and rebuild a project's indexes from the working tree",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: withProjectProps(map[string]interface{}{
				"drop_vectors": map[string]interface{}{
					"type":        "boolean",
					"description": "Also drop stored vectors (forces re-embedding)",
					"default":     false,
				},
			}),
		},
	}
}

func projectAddTool() mcp.Tool {
	return mcp.Tool{
		Name:        "project_add",
		Description: "Register a working tree as a searchable project",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the project root",
				},
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Project name; omit or 'auto' derives it from the directory",
				},
			},
			Required: []string{"path"},
		},
	}
}

func projectActivateTool() mcp.Tool {
	return mcp.Tool{
		Name:        "project_activate",
		Description: "Flag a project as the default for selector-less queries",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: projectProps(),
			Required:   []string{"project"},
		},
	}
}

func projectRemoveTool() mcp.Tool {
	return mcp.Tool{
		Name:        "project_remove",
		Description: "Unregister a project and delete its derived indexes",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: projectProps(),
			Required:   []string{"project"},
		},
	}
}

func projectListTool() mcp.Tool {
	return mcp.Tool{
		Name:        "project_list",
		Description: "List registered projects",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

func cacheClearTool() mcp.Tool {
	return mcp.Tool{
		Name:        "cache_clear",
		Description: "Clear a project's query cache",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: withProjectProps(map[string]interface{}{
				"scope": map[string]interface{}{
					"type":        "string",
					"description": "What to clear",
					"enum":        []string{"project", "expired"},
					"default":     "project",
				},
			}),
		},
	}
}

func cacheStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "cache_status",
		Description: "Report query-cache entry counts",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: projectProps(),
		},
	}
}

func codeSymbolsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "code_symbols",
		Description: "List the definitions extracted from one file",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: withProjectProps(map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Project-relative file path",
				},
			}),
			Required: []string{"path"},
		},
	}
}

func codeFindSymbolTool() mcp.Tool {
	return mcp.Tool{
		Name:        "code_find_symbol",
		Description: "Find symbol definitions by name across the project",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: withProjectProps(map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Symbol name",
				},
				"kind": map[string]interface{}{
					"type":        "string",
					"description": "Optional kind filter",
					"enum":        []string{"function", "method", "class", "type", "variable"},
				},
			}),
			Required: []string{"name"},
		},
	}
}

func codeReferencesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "code_references",
		Description: "Find AST-matched reference sites for a symbol name",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: withProjectProps(map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Symbol name",
				},
			}),
			Required: []string{"name"},
		},
	}
}

func searchPatternTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_pattern",
		Description: "Search project files with a regular expression",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: withProjectProps(map[string]interface{}{
				"regex": map[string]interface{}{
					"type":        "string",
					"description": "Regular expression",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum matches",
					"default":     50,
				},
			}),
			Required: []string{"regex"},
		},
	}
}

func fileReadTool() mcp.Tool {
	return mcp.Tool{
		Name:        "file_read",
		Description: "Read a project file, optionally a line range",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: withProjectProps(map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Project-relative file path",
				},
				"start_line": map[string]interface{}{
					"type":        "integer",
					"description": "First line, 1-based",
				},
				"end_line": map[string]interface{}{
					"type":        "integer",
					"description": "Last line, inclusive",
				},
			}),
			Required: []string{"path"},
		},
	}
}

func fileListTool() mcp.Tool {
	return mcp.Tool{
		Name:        "file_list",
		Description: "List a project directory",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: withProjectProps(map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Project-relative directory",
					"default":     ".",
				},
			}),
		},
	}
}

func fileFindTool() mcp.Tool {
	return mcp.Tool{
		Name:        "file_find",
		Description: "Find project files by glob pattern",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: withProjectProps(map[string]interface{}{
				"glob": map[string]interface{}{
					"type":        "string",
					"description": "Glob pattern, ** supported",
				},
			}),
			Required: []string{"glob"},
		},
	}
}
