package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mkalen/rapport/internal/journey"
	"github.com/mkalen/rapport/internal/storage"
)

// MCPDeps holds dependencies for the MCP server. LocalUser scopes every tool
// call: MCP runs over stdio for a single local user, so the id comes from
// config rather than a bearer token.
type MCPDeps struct {
	Journeys  *journey.Service
	LocalUser string
}

// NewMCPServer creates an MCP server exposing the local user's journey as
// tools and the rapport document as a resource.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"rapport",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("rapport — guided 30-day reflection journal: journey progress, day transcripts, and the accumulated rapport document."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("journey_status",
			mcp.WithDescription("Report the active journey: current day, start date, and which days are completed."),
		),
		mcpJourneyStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("day_transcript",
			mcp.WithDescription("Return the saved chat transcript and summary for one day of the active journey."),
			mcp.WithNumber("day", mcp.Description("Day number (1-30)"), mcp.Required()),
		),
		mcpDayTranscript(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"journey://rapport",
			"Rapport Document",
			mcp.WithResourceDescription("Cumulative reflection insights across the active journey"),
			mcp.WithMIMEType("text/markdown"),
		),
		mcpResourceRapport(deps),
	)

	return s
}

func mcpJourneyStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		j, err := deps.Journeys.GetActive(deps.LocalUser)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpText(`{"active":false}`), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get journey: %v", err)), nil
		}

		days, err := deps.Journeys.CompletedDays(deps.LocalUser)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list completed days: %v", err)), nil
		}

		status := map[string]any{
			"active":        true,
			"currentDay":    j.CurrentDay,
			"startedAt":     j.StartedAt,
			"completedDays": days,
		}
		b, err := json.Marshal(status)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpDayTranscript(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		day, err := req.RequireInt("day")
		if err != nil {
			return mcpError("day is required"), nil
		}

		rec, err := deps.Journeys.GetDay(deps.LocalUser, day)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpText("{}"), nil
		}
		if errors.Is(err, journey.ErrValidation) {
			return mcpError(err.Error()), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get day: %v", err)), nil
		}

		b, err := json.Marshal(rec)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal reflection: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRapport(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		content := ""
		rap, err := deps.Journeys.Rapport(deps.LocalUser)
		if err == nil {
			content = rap.Content
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("failed to get rapport: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "text/markdown",
				Text:     content,
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
