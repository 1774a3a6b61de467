package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmer-power/collection-engine/pkg/apperrors"
)

// getTextContent extracts the text string from the first text content item
func getTextContent(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return ""
	}
	// Content holds mcp.Content interface values; round-trip to read the text.
	jsonBytes, _ := json.Marshal(result.Content[0])
	var textContent struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	_ = json.Unmarshal(jsonBytes, &textContent)
	return textContent.Text
}

func TestNewErrorResult(t *testing.T) {
	result := NewErrorResult("test_error", "this is a test error")

	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	assert.True(t, result.IsError)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(getTextContent(result)), &errResp))

	assert.True(t, errResp.Error, "error field should be true")
	assert.Equal(t, "test_error", errResp.Code)
	assert.Equal(t, "this is a test error", errResp.Message)
	assert.Nil(t, errResp.Details, "details should be nil when not provided")
}

func TestNewErrorResultWithDetails(t *testing.T) {
	details := map[string]any{"allowed": []string{"A", "B"}}

	result := NewErrorResultWithDetails("invalid_parameters", "grade not allowed", details)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(getTextContent(result)), &errResp))
	assert.Equal(t, "invalid_parameters", errResp.Code)
	detailsMap, ok := errResp.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{"A", "B"}, detailsMap["allowed"])
}

func TestAsToolError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"not found", fmt.Errorf("get: %w", apperrors.ErrNotFound), "not_found"},
		{"invalid argument", fmt.Errorf("%w: page", apperrors.ErrInvalidArgument), "invalid_parameters"},
		{"unknown source", fmt.Errorf("%w: %q", apperrors.ErrUnknownSource, "x"), "unknown_source"},
		{"server failure", errors.New("connection refused"), ""},
		{"nil", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := asToolError(tt.err)
			if tt.wantCode == "" {
				assert.Nil(t, result)
				assert.False(t, IsInputError(tt.err))
				return
			}
			require.NotNil(t, result)
			var errResp ErrorResponse
			require.NoError(t, json.Unmarshal([]byte(getTextContent(result)), &errResp))
			assert.Equal(t, tt.wantCode, errResp.Code)
			assert.True(t, IsInputError(tt.err))
		})
	}
}
