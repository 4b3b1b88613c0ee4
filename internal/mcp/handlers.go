package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/agora/internal/errors"
	"github.com/hpungsan/agora/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	svc *ops.Service
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(svc *ops.Service) *Handlers {
	return &Handlers{svc: svc}
}

// Request types for each tool

// TopicCreateRequest represents the arguments for topic_create.
type TopicCreateRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	CreatedBy   string `json:"created_by"`
	MaxRounds   int    `json:"max_rounds,omitempty"`
}

// TopicRequest represents the arguments for topic_get and topic_archive.
type TopicRequest struct {
	TopicID string `json:"topic_id"`
}

// TopicExportRequest represents the arguments for topic_export.
type TopicExportRequest struct {
	TopicID string `json:"topic_id"`
	Path    string `json:"path,omitempty"`
}

// CommentAdmitRequest represents the arguments for comment_admit.
type CommentAdmitRequest struct {
	TopicID      string `json:"topic_id"`
	RoundID      string `json:"round_id,omitempty"`
	AuthorID     string `json:"author_id"`
	Content      string `json:"content"`
	PositionType string `json:"position_type,omitempty"`
	IsAnonymous  bool   `json:"is_anonymous,omitempty"`
}

// RoundActionRequest represents the arguments for round_action.
type RoundActionRequest struct {
	TopicID   string `json:"topic_id"`
	Action    string `json:"action"`
	FromRound int    `json:"from_round,omitempty"`
}

// SummaryRequest represents the arguments for summary_request and summary_get.
type SummaryRequest struct {
	RoundID string `json:"round_id"`
	HTML    bool   `json:"html,omitempty"`
}

// Handler implementations

// HandleTopicCreate handles the topic_create tool call.
func (h *Handlers) HandleTopicCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TopicCreateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.svc.CreateTopic(ctx, ops.CreateTopicInput{
		Title:       input.Title,
		Description: input.Description,
		CreatedBy:   input.CreatedBy,
		MaxRounds:   input.MaxRounds,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleTopicGet handles the topic_get tool call.
func (h *Handlers) HandleTopicGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TopicRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.svc.GetTopic(ctx, ops.GetTopicInput{ID: input.TopicID})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleTopicArchive handles the topic_archive tool call.
func (h *Handlers) HandleTopicArchive(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TopicRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.svc.ArchiveTopic(ctx, ops.ArchiveTopicInput{ID: input.TopicID})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleTopicExport handles the topic_export tool call.
func (h *Handlers) HandleTopicExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TopicExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.svc.ExportTopic(ctx, ops.ExportInput{TopicID: input.TopicID, Path: input.Path})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleCommentAdmit handles the comment_admit tool call.
func (h *Handlers) HandleCommentAdmit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CommentAdmitRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.svc.AdmitComment(ctx, ops.AdmitCommentInput{
		TopicID:      input.TopicID,
		RoundID:      input.RoundID,
		AuthorID:     input.AuthorID,
		Content:      input.Content,
		PositionType: input.PositionType,
		IsAnonymous:  input.IsAnonymous,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleRoundAction handles the round_action tool call.
func (h *Handlers) HandleRoundAction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RoundActionRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.svc.PerformRoundAction(ctx, ops.RoundActionInput{
		TopicID:   input.TopicID,
		Action:    input.Action,
		FromRound: input.FromRound,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSummaryRequest handles the summary_request tool call.
func (h *Handlers) HandleSummaryRequest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SummaryRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.svc.RequestSummary(ctx, ops.SummaryInput{RoundID: input.RoundID, HTML: input.HTML})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSummaryGet handles the summary_get tool call.
func (h *Handlers) HandleSummaryGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SummaryRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.svc.GetSummary(ctx, ops.SummaryInput{RoundID: input.RoundID, HTML: input.HTML})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// errorResult converts an error to an MCP error result.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if aErr, ok := errors.As(err); ok {
		msg := aErr.Message
		if err != error(aErr) {
			// Keep the wrapping context of wrapped errors
			msg = err.Error()
		}
		errorObj := map[string]any{
			"code":    aErr.Code,
			"message": msg,
			"status":  aErr.Status,
		}
		// Internal errors may carry file paths or SQL; keep their details out
		if aErr.Code != errors.ErrInternal && aErr.Details != nil {
			errorObj["details"] = aErr.Details
		}
		if aErr.Code == errors.ErrInternal {
			errorObj["message"] = "an internal error occurred"
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
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

// successResult creates a successful MCP result with JSON content.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
