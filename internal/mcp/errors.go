// Package mcp exposes SOP retrieval and case matching over the Model Context
// Protocol.
package mcp

import (
	"context"
	"errors"
	"fmt"

	sferrors "github.com/Aman-CERP/sopfusion/internal/errors"
	"github.com/Aman-CERP/sopfusion/internal/search"
)

// Custom MCP error codes for sopfusion.
const (
	// ErrCodeNotReady indicates the engine has no snapshot to serve.
	ErrCodeNotReady = -32001

	// ErrCodeBackendFailed indicates an embedding or generation backend failed.
	ErrCodeBackendFailed = -32002

	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout = -32003

	// ErrCodeCorpusNotFound indicates the corpus file no longer exists.
	ErrCodeCorpusNotFound = -32004

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Sentinel errors for internal use.
var (
	// ErrToolNotFound indicates the requested tool does not exist.
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidParams indicates invalid parameters were provided.
	ErrInvalidParams = errors.New("invalid parameters")

	// ErrResourceNotFound indicates the requested resource does not exist.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrCasesUnavailable indicates no case corpus was configured.
	ErrCasesUnavailable = errors.New("case matcher not configured")
)

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	var sopErr *sferrors.SopError
	if errors.As(err, &sopErr) {
		return mapSopError(sopErr)
	}

	switch {
	case errors.Is(err, search.ErrNotReady):
		return &MCPError{
			Code:    ErrCodeNotReady,
			Message: "Retrieval engine is not ready.",
		}
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{
			Code:    ErrCodeTimeout,
			Message: "Request timed out.",
		}
	case errors.Is(err, context.Canceled):
		return &MCPError{
			Code:    ErrCodeTimeout,
			Message: "Request was canceled.",
		}
	case errors.Is(err, ErrToolNotFound):
		return &MCPError{
			Code:    ErrCodeMethodNotFound,
			Message: "Tool not found.",
		}
	case errors.Is(err, ErrInvalidParams):
		return &MCPError{
			Code:    ErrCodeInvalidParams,
			Message: "Invalid parameters.",
		}
	case errors.Is(err, ErrResourceNotFound):
		return &MCPError{
			Code:    ErrCodeMethodNotFound,
			Message: "Resource not found.",
		}
	case errors.Is(err, ErrCasesUnavailable):
		return &MCPError{
			Code:    ErrCodeNotReady,
			Message: "Case matching is not configured. Set case_match.cases_path.",
		}
	default:
		return &MCPError{
			Code:    ErrCodeInternalError,
			Message: "Internal server error.",
		}
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{
		Code:    ErrCodeInvalidParams,
		Message: msg,
	}
}

// NewMethodNotFoundError creates an error for unknown methods/tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Tool '%s' not found.", name),
	}
}

// NewResourceNotFoundError creates an error for unknown resources.
func NewResourceNotFoundError(uri string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Resource '%s' not found.", uri),
	}
}

func mapSopError(se *sferrors.SopError) *MCPError {
	message := se.Message
	if se.Suggestion != "" {
		message = fmt.Sprintf("%s %s", se.Message, se.Suggestion)
	}

	if se.Code == sferrors.ErrCodeNotReady {
		return &MCPError{Code: ErrCodeNotReady, Message: message}
	}

	switch se.Category {
	case sferrors.CategoryIO:
		if se.Code == sferrors.ErrCodeCorpusNotFound || se.Code == sferrors.ErrCodeFileNotFound {
			return &MCPError{Code: ErrCodeCorpusNotFound, Message: message}
		}
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	case sferrors.CategoryNetwork:
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	case sferrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case sferrors.CategoryInternal:
		switch se.Code {
		case sferrors.ErrCodeEmbeddingFailed, sferrors.ErrCodeGenerateFailed:
			return &MCPError{Code: ErrCodeBackendFailed, Message: message}
		}
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
