package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"

	"github.com/hpungsan/rulesync/internal/apply"
	"github.com/hpungsan/rulesync/internal/config"
	"github.com/hpungsan/rulesync/internal/errors"
	"github.com/hpungsan/rulesync/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	cat    ops.Catalogue
	cfg    *config.Config
	logger zerolog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(cat ops.Catalogue, cfg *config.Config, logger zerolog.Logger) *Handlers {
	return &Handlers{cat: cat, cfg: cfg, logger: logger}
}

// ListRequest represents the arguments for rules_list.
type ListRequest struct {
	Tag            string `json:"tag,omitempty"`
	Query          string `json:"query,omitempty"`
	IncludeContent bool   `json:"include_content,omitempty"`
}

// GetRequest represents the arguments for rules_get.
type GetRequest struct {
	Slug string `json:"slug"`
}

// StatusRequest represents the arguments for rules_status.
type StatusRequest struct {
	Runs int `json:"runs,omitempty"`
}

// ApplyRequest represents the arguments for rules_apply.
type ApplyRequest struct {
	Slug      string `json:"slug"`
	Workspace string `json:"workspace,omitempty"`
	Target    string `json:"target,omitempty"`
	Overwrite bool   `json:"overwrite,omitempty"`
}

// HandleList handles the rules_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.List(ctx, h.cat, ops.ListInput{
		Tag:            input.Tag,
		Query:          input.Query,
		IncludeContent: input.IncludeContent,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleGet handles the rules_get tool call.
func (h *Handlers) HandleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[GetRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Show(ctx, h.cat, ops.ShowInput{Slug: input.Slug})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleCategories handles the rules_categories tool call.
func (h *Handlers) HandleCategories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.Categories(ctx, h.cat)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSync handles the rules_sync tool call. The synced rules are summarized
// by count; use rules_list to read them.
func (h *Handlers) HandleSync(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.Sync(ctx, h.cat)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{
		"count":     result.Count,
		"last_sync": result.LastSync,
	})
}

// HandleStatus handles the rules_status tool call.
func (h *Handlers) HandleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[StatusRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Status(ctx, h.cat, ops.StatusInput{RunLimit: input.Runs})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleApply handles the rules_apply tool call. The overwrite argument stands in
// for the interactive confirmation.
func (h *Handlers) HandleApply(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ApplyRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	applier := &apply.Applier{
		Workspace: apply.Dir(input.Workspace),
		Confirm:   apply.Answer(input.Overwrite),
		FileName:  h.cfg.TargetFile,
		Logger:    h.logger,
	}
	result, err := ops.Apply(ctx, h.cat, applier, ops.ApplyInput{
		Slug:   input.Slug,
		Target: input.Target,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if rErr, ok := errors.As(err); ok {
		errorObj := map[string]any{
			"code":    rErr.Code,
			"message": rErr.Message,
			"status":  rErr.Status,
		}
		if rErr.Code != errors.ErrInternal && rErr.Details != nil {
			errorObj["details"] = rErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
