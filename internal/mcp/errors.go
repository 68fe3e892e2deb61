package mcp

import (
	"errors"
	"fmt"

	"github.com/locussearch/locus-mcp/pkg/types"
)

// JSON-RPC error codes surfaced by the tool handlers.
const (
	ErrorCodeInvalidParams   = -32602
	ErrorCodeInternalError   = -32603
	ErrorCodeProjectNotFound = -32001
	ErrorCodeAlreadyExists   = -32002
	ErrorCodeNeedsRebuild    = -32003
	ErrorCodeUnavailable     = -32004
)

type mcpError struct {
	Code    int
	Message string
	Data    map[string]interface{}
}

func (e *mcpError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

func newMCPError(code int, message string, data map[string]interface{}) error {
	return &mcpError{Code: code, Message: message, Data: data}
}

// mapError converts the core's typed errors to protocol errors.
func mapError(err error) error {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return newMCPError(ErrorCodeProjectNotFound, err.Error(), nil)
	case errors.Is(err, types.ErrAlreadyExists):
		return newMCPError(ErrorCodeAlreadyExists, err.Error(), nil)
	case errors.Is(err, types.ErrCorrupt):
		return newMCPError(ErrorCodeNeedsRebuild, err.Error(), nil)
	case errors.Is(err, types.ErrUnavailable):
		return newMCPError(ErrorCodeUnavailable, err.Error(), nil)
	default:
		return newMCPError(ErrorCodeInternalError, err.Error(), nil)
	}
}
