package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mkalen/rapport/internal/journey"
	"github.com/mkalen/rapport/internal/storage"
)

func newTestMCPDeps(t *testing.T) (MCPDeps, *journey.Service) {
	t.Helper()
	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	svc := journey.NewService(store)
	return MCPDeps{Journeys: svc, LocalUser: "local"}, svc
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPTool_JourneyStatus_NoJourney(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpJourneyStatus(deps)

	result, err := handler(context.Background(), makeCallToolRequest("journey_status", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if got := toolText(t, result); got != `{"active":false}` {
		t.Errorf("text = %q, want inactive status", got)
	}
}

func TestMCPTool_JourneyStatus_Active(t *testing.T) {
	deps, svc := newTestMCPDeps(t)
	if _, err := svc.StartNew("local", 1); err != nil {
		t.Fatalf("starting journey: %v", err)
	}
	if _, err := svc.CompleteDay("local", 1, "S1", "## Day 1\nS1", nil); err != nil {
		t.Fatalf("completing day: %v", err)
	}

	handler := mcpJourneyStatus(deps)
	result, err := handler(context.Background(), makeCallToolRequest("journey_status", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var status struct {
		Active        bool  `json:"active"`
		CurrentDay    int   `json:"currentDay"`
		CompletedDays []int `json:"completedDays"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &status); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if !status.Active {
		t.Error("expected active journey")
	}
	if status.CurrentDay != 2 {
		t.Errorf("currentDay = %d, want 2", status.CurrentDay)
	}
	if len(status.CompletedDays) != 1 || status.CompletedDays[0] != 1 {
		t.Errorf("completedDays = %v, want [1]", status.CompletedDays)
	}
}

func TestMCPTool_DayTranscript_MissingDay(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpDayTranscript(deps)

	result, err := handler(context.Background(), makeCallToolRequest("day_transcript", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for missing day")
	}
}

func TestMCPTool_DayTranscript_Unsaved(t *testing.T) {
	deps, svc := newTestMCPDeps(t)
	if _, err := svc.StartNew("local", 1); err != nil {
		t.Fatalf("starting journey: %v", err)
	}

	handler := mcpDayTranscript(deps)
	result, err := handler(context.Background(), makeCallToolRequest("day_transcript", map[string]interface{}{
		"day": 5,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := toolText(t, result); got != "{}" {
		t.Errorf("text = %q, want {}", got)
	}
}

func TestMCPTool_DayTranscript_Saved(t *testing.T) {
	deps, svc := newTestMCPDeps(t)
	if _, err := svc.StartNew("local", 1); err != nil {
		t.Fatalf("starting journey: %v", err)
	}
	msgs := []journey.Message{
		{Role: "user", Content: "today I noticed a pattern"},
		{Role: "assistant", Content: "tell me more"},
	}
	if _, err := svc.SaveMessageBatch("local", 2, msgs); err != nil {
		t.Fatalf("saving messages: %v", err)
	}

	handler := mcpDayTranscript(deps)
	result, err := handler(context.Background(), makeCallToolRequest("day_transcript", map[string]interface{}{
		"day": 2,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var rec journey.Reflection
	if err := json.Unmarshal([]byte(toolText(t, result)), &rec); err != nil {
		t.Fatalf("decoding reflection: %v", err)
	}
	if rec.DayNumber != 2 {
		t.Errorf("dayNumber = %d, want 2", rec.DayNumber)
	}
	if len(rec.Messages) != 2 || rec.Messages[0].Content != "today I noticed a pattern" {
		t.Errorf("unexpected messages: %v", rec.Messages)
	}
}

func TestMCPTool_DayTranscript_OutOfRange(t *testing.T) {
	deps, svc := newTestMCPDeps(t)
	if _, err := svc.StartNew("local", 1); err != nil {
		t.Fatalf("starting journey: %v", err)
	}
	handler := mcpDayTranscript(deps)

	for _, day := range []int{0, 31} {
		result, err := handler(context.Background(), makeCallToolRequest("day_transcript", map[string]interface{}{
			"day": day,
		}))
		if err != nil {
			t.Fatalf("day %d: unexpected error: %v", day, err)
		}
		if !result.IsError {
			t.Fatalf("day %d: expected tool error", day)
		}
		if text := toolText(t, result); !strings.Contains(text, "out of range") {
			t.Errorf("day %d: error = %q, want range message", day, text)
		}
	}
}

func TestMCPResource_Rapport_Empty(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpResourceRapport(deps)

	contents, err := handler(context.Background(), makeReadResourceRequest("journey://rapport"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents = %d, want 1", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if tc.Text != "" {
		t.Errorf("text = %q, want empty", tc.Text)
	}
	if tc.MIMEType != "text/markdown" {
		t.Errorf("mime type = %q, want text/markdown", tc.MIMEType)
	}
}

func TestMCPResource_Rapport_Content(t *testing.T) {
	deps, svc := newTestMCPDeps(t)
	if _, err := svc.StartNew("local", 1); err != nil {
		t.Fatalf("starting journey: %v", err)
	}
	if _, err := svc.CompleteDay("local", 1, "S1", "## Day 1\nS1", nil); err != nil {
		t.Fatalf("completing day: %v", err)
	}

	handler := mcpResourceRapport(deps)
	contents, err := handler(context.Background(), makeReadResourceRequest("journey://rapport"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc := contents[0].(mcp.TextResourceContents)
	if !strings.Contains(tc.Text, "## Day 1\nS1") {
		t.Errorf("text = %q, want day 1 section", tc.Text)
	}
}
