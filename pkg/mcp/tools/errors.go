package tools

import (
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/farmer-power/collection-engine/pkg/apperrors"
)

// ErrorResponse represents a structured error in tool results.
// Errors the caller can act on are returned as a tool result with isError
// set, so the details reach the model instead of being swallowed by the
// MCP client.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use this for recoverable errors (bad arguments, unknown document).
// System failures still return Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails creates an error result with additional context.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// asToolError maps service errors the caller can fix to a tool result.
// It returns nil for anything else, which the caller should return as a
// Go error.
func asToolError(err error) *mcp.CallToolResult {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperrors.ErrNotFound):
		return NewErrorResult("not_found", err.Error())
	case errors.Is(err, apperrors.ErrInvalidArgument):
		return NewErrorResult("invalid_parameters", err.Error())
	case errors.Is(err, apperrors.ErrUnknownSource):
		return NewErrorResult("unknown_source", err.Error())
	}
	return nil
}

// IsInputError reports whether err was caused by the caller's input rather
// than a server failure. Input errors are logged at debug level.
func IsInputError(err error) bool {
	return asToolError(err) != nil
}
