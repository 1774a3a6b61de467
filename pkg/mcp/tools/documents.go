// Package tools provides the MCP tools that expose stored documents to
// agents: lookup by id, list by farmer or source, and free-text search.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/farmer-power/collection-engine/pkg/models"
	"github.com/farmer-power/collection-engine/pkg/services"
)

// DocumentToolDeps contains dependencies for document tools.
type DocumentToolDeps struct {
	Retrieval services.RetrievalService
	Logger    *zap.Logger
}

// RegisterDocumentTools registers the read-only document tools.
func RegisterDocumentTools(s *server.MCPServer, deps *DocumentToolDeps) {
	registerGetDocumentTool(s, deps)
	registerListDocumentsTool(s, deps)
	registerSearchDocumentsTool(s, deps)
}

func readOnlyAnnotations() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	}
}

func registerGetDocumentTool(s *server.MCPServer, deps *DocumentToolDeps) {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription(
			"Fetch one ingested document by id. Returns the extracted fields, link reference, " +
				"validation warnings and confidence. The original payload is included unless " +
				"include_raw is false.",
		),
		mcp.WithString(
			"document_id",
			mcp.Required(),
			mcp.Description("Document UUID as returned by ingestion or list_documents"),
		),
		mcp.WithBoolean(
			"include_raw",
			mcp.Description("Include the raw payload (default: true)"),
		),
	}, readOnlyAnnotations()...)
	tool := mcp.NewTool("get_document", opts...)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		idStr, err := req.RequireString("document_id")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return NewErrorResult("invalid_parameters", fmt.Sprintf("document_id %q is not a valid UUID", idStr)), nil
		}

		doc, err := deps.Retrieval.GetByID(ctx, id, getOptionalBoolWithDefault(req, "include_raw", true))
		if err != nil {
			return deps.fail("get_document", err)
		}
		return jsonResult(doc)
	})
}

func registerListDocumentsTool(s *server.MCPServer, deps *DocumentToolDeps) {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription(
			"List documents newest first, filtered by farmer (link_reference), source type " +
				"and stored-at range. Example: list_documents(link_reference='WM-4521', " +
				"source_type='qc-analyzer') returns that farmer's quality results.",
		),
		mcp.WithString("link_reference", mcp.Description("Farmer id the document is linked to")),
		mcp.WithString("source_type", mcp.Description("Registered source type, e.g. 'qc-analyzer'")),
		mcp.WithString("from", mcp.Description("Earliest stored_at, RFC 3339 or YYYY-MM-DD (inclusive)")),
		mcp.WithString("to", mcp.Description("Latest stored_at, RFC 3339 or YYYY-MM-DD (exclusive)")),
		mcp.WithNumber("page", mcp.Description("1-based page number (default 1)")),
		mcp.WithNumber("page_size", mcp.Description("Results per page (default 20, max 100)")),
	}, readOnlyAnnotations()...)
	tool := mcp.NewTool("list_documents", opts...)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filter := models.DocumentFilter{
			LinkReference: getOptionalString(req, "link_reference"),
			SourceType:    getOptionalString(req, "source_type"),
		}
		var err error
		if filter.From, err = getOptionalTime(req, "from"); err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		if filter.To, err = getOptionalTime(req, "to"); err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		if filter.Page, err = pageArguments(req); err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}

		page, err := deps.Retrieval.List(ctx, filter)
		if err != nil {
			return deps.fail("list_documents", err)
		}
		return jsonResult(page)
	})
}

func registerSearchDocumentsTool(s *server.MCPServer, deps *DocumentToolDeps) {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription(
			"Free-text search over extracted fields, ranked by relevance. Narrow with " +
				"source_type and exact field matches. Example: search_documents(query='moisture', " +
				"fields={'grade':'D'}) finds low-grade results mentioning moisture.",
		),
		mcp.WithString("query", mcp.Description("Search text; may be empty when filters are given")),
		mcp.WithString("source_type", mcp.Description("Restrict to one source type")),
		mcp.WithObject("fields", mcp.Description("Exact-match filters on extracted fields, e.g. {\"grade\": \"B\"}")),
		mcp.WithNumber("page", mcp.Description("1-based page number (default 1)")),
		mcp.WithNumber("page_size", mcp.Description("Results per page (default 20, max 100)")),
	}, readOnlyAnnotations()...)
	tool := mcp.NewTool("search_documents", opts...)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		fields, err := getOptionalStringMap(req, "fields")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		page, err := pageArguments(req)
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}

		result, err := deps.Retrieval.Search(ctx, models.SearchRequest{
			Query:      getOptionalString(req, "query"),
			SourceType: getOptionalString(req, "source_type"),
			Fields:     fields,
			Page:       page,
		})
		if err != nil {
			return deps.fail("search_documents", err)
		}
		return jsonResult(result)
	})
}

// pageArguments reads page and page_size. Zero values are defaulted by the
// retrieval service.
func pageArguments(req mcp.CallToolRequest) (models.Page, error) {
	page, err := getOptionalInt(req, "page")
	if err != nil {
		return models.Page{}, err
	}
	size, err := getOptionalInt(req, "page_size")
	if err != nil {
		return models.Page{}, err
	}
	return models.Page{Page: page, PageSize: size}, nil
}

// fail turns a service error into a tool error result when the caller can
// act on it, and into a Go error otherwise.
func (d *DocumentToolDeps) fail(tool string, err error) (*mcp.CallToolResult, error) {
	if result := asToolError(err); result != nil {
		d.Logger.Debug("Tool input error", zap.String("tool", tool), zap.Error(err))
		return result, nil
	}
	d.Logger.Error("Tool failed", zap.String("tool", tool), zap.Error(err))
	return nil, fmt.Errorf("%s failed: %w", tool, err)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(body)), nil
}
