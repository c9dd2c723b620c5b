package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/triagestack/triage-engine/internal/config"
	"github.com/triagestack/triage-engine/internal/models"
	"github.com/triagestack/triage-engine/internal/runctx"
	"github.com/triagestack/triage-engine/internal/utils"
)

// scriptedModel replays canned responses, one per turn.
type scriptedModel struct {
	responses []*anthropic.Message
	errs      []error
	calls     int
	lastTools int
}

func (m *scriptedModel) CreateMessage(_ context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	i := m.calls
	m.calls++
	m.lastTools = len(params.Tools)
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i >= len(m.responses) {
		return nil, errors.New("scripted model exhausted")
	}
	return m.responses[i], nil
}

// decodeMessage builds an SDK message from raw JSON so the union accessors
// behave exactly as they do on real API responses.
func decodeMessage(t *testing.T, raw string) *anthropic.Message {
	t.Helper()
	var m anthropic.Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	return &m
}

func finalMessage(t *testing.T, text string) *anthropic.Message {
	return decodeMessage(t, `{
		"role": "assistant",
		"stop_reason": "end_turn",
		"content": [{"type": "text", "text": `+jsonString(text)+`}]
	}`)
}

func toolUseMessage(t *testing.T, id, name, input string) *anthropic.Message {
	return decodeMessage(t, `{
		"role": "assistant",
		"stop_reason": "tool_use",
		"content": [
			{"type": "text", "text": "let me check"},
			{"type": "tool_use", "id": "`+id+`", "name": "`+name+`", "input": `+input+`}
		]
	}`)
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

type stubLogs struct {
	logs []models.LogExcerpt
	err  error
}

func (s *stubLogs) FetchByCorrelation(context.Context, models.Scope, string, int) ([]models.LogExcerpt, error) {
	return s.logs, s.err
}

type stubTickets struct {
	tickets []models.TicketRef
	err     error
}

func (s *stubTickets) SearchTickets(context.Context, string, int) ([]models.TicketRef, error) {
	return s.tickets, s.err
}

type stubGraphs struct{}

func (stubGraphs) Build(string, string, string) (models.GraphSummary, error) {
	return models.GraphSummary{Module: "orders"}, nil
}

func testToolset() *Toolset {
	event := models.ErrorEvent{ApplicationName: "checkout", Environment: "prod", CorrelationID: "corr-1"}
	rc := runctx.NewCache().Open("run-1")
	return NewToolset(event, rc, &stubLogs{logs: []models.LogExcerpt{{Message: "boom"}}}, &stubTickets{}, stubGraphs{})
}

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{Model: "claude-sonnet-4-5-20250929", MaxTurns: 3, MaxTokens: 1024}
}

func TestExecutorFinalAnswerFirstTurn(t *testing.T) {
	model := &scriptedModel{responses: []*anthropic.Message{
		finalMessage(t, "Root cause: stale config. Confidence: 0.85"),
	}}
	e := NewExecutor(nil, model, testAgentConfig())

	outcome, err := e.Run(context.Background(), "system", "prompt", testToolset())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Aborted {
		t.Fatalf("unexpected abort: %s", outcome.AbortReason)
	}
	if !strings.Contains(outcome.Resolution, "stale config") {
		t.Fatalf("resolution missing: %q", outcome.Resolution)
	}
	if outcome.Confidence != 0.85 {
		t.Fatalf("expected confidence 0.85, got %f", outcome.Confidence)
	}
	if len(outcome.Transcript) != 1 || outcome.Transcript[0].Role != "model" {
		t.Fatalf("unexpected transcript: %+v", outcome.Transcript)
	}
	if model.lastTools == 0 {
		t.Fatalf("tool definitions must accompany every turn")
	}
}

func TestExecutorToolUseThenFinal(t *testing.T) {
	model := &scriptedModel{responses: []*anthropic.Message{
		toolUseMessage(t, "tu-1", toolSearchLogs, `{"limit": 5}`),
		finalMessage(t, "Root cause found. Confidence: 0.6"),
	}}
	e := NewExecutor(nil, model, testAgentConfig())

	outcome, err := e.Run(context.Background(), "system", "prompt", testToolset())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model.calls != 2 {
		t.Fatalf("expected 2 model turns, got %d", model.calls)
	}

	var toolEntries int
	for _, entry := range outcome.Transcript {
		if entry.Role == "tool" {
			toolEntries++
			if entry.Tool != toolSearchLogs {
				t.Fatalf("unexpected tool name %q", entry.Tool)
			}
			if entry.IsError {
				t.Fatalf("tool should have succeeded: %s", entry.Content)
			}
			if !strings.Contains(entry.Content, "boom") {
				t.Fatalf("tool result missing log content: %q", entry.Content)
			}
		}
	}
	if toolEntries != 1 {
		t.Fatalf("expected 1 tool transcript entry, got %d", toolEntries)
	}
}

func TestExecutorToolErrorFedBack(t *testing.T) {
	event := models.ErrorEvent{ApplicationName: "checkout", Environment: "prod"}
	rc := runctx.NewCache().Open("run-1")
	toolset := NewToolset(event, rc, &stubLogs{err: errors.New("log search down")}, &stubTickets{}, stubGraphs{})

	model := &scriptedModel{responses: []*anthropic.Message{
		toolUseMessage(t, "tu-1", toolSearchLogs, `{}`),
		finalMessage(t, "Insufficient context. Confidence: 0.1"),
	}}
	e := NewExecutor(nil, model, testAgentConfig())

	outcome, err := e.Run(context.Background(), "system", "prompt", toolset)
	if err != nil {
		t.Fatalf("tool failure must not abort the run: %v", err)
	}
	var found bool
	for _, entry := range outcome.Transcript {
		if entry.Role == "tool" && entry.IsError {
			found = true
		}
	}
	if !found {
		t.Fatalf("tool error must appear in the transcript: %+v", outcome.Transcript)
	}
}

func TestExecutorTurnCapAborts(t *testing.T) {
	// The model keeps asking for tools and never answers.
	model := &scriptedModel{responses: []*anthropic.Message{
		toolUseMessage(t, "tu-1", toolSearchLogs, `{}`),
		toolUseMessage(t, "tu-2", toolSearchLogs, `{}`),
		toolUseMessage(t, "tu-3", toolSearchLogs, `{}`),
	}}
	e := NewExecutor(nil, model, testAgentConfig())

	outcome, err := e.Run(context.Background(), "system", "prompt", testToolset())
	if err != nil {
		t.Fatalf("turn-cap exhaustion is not a model failure: %v", err)
	}
	if !outcome.Aborted {
		t.Fatalf("expected aborted outcome")
	}
	if !strings.Contains(outcome.AbortReason, "turn limit") {
		t.Fatalf("unexpected abort reason %q", outcome.AbortReason)
	}
	if len(outcome.Transcript) == 0 {
		t.Fatalf("transcript must be preserved on abort")
	}
	if model.calls != 3 {
		t.Fatalf("expected exactly maxTurns calls, got %d", model.calls)
	}
}

func TestExecutorModelFailureMidRun(t *testing.T) {
	model := &scriptedModel{
		responses: []*anthropic.Message{toolUseMessage(t, "tu-1", toolSearchLogs, `{}`), nil},
		errs:      []error{nil, errors.New("api unavailable")},
	}
	e := NewExecutor(nil, model, testAgentConfig())

	outcome, err := e.Run(context.Background(), "system", "prompt", testToolset())
	if !errors.Is(err, utils.ErrModelService) {
		t.Fatalf("expected model-service error, got %v", err)
	}
	if !outcome.Aborted || !strings.Contains(outcome.AbortReason, "turn 2") {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if len(outcome.Transcript) == 0 {
		t.Fatalf("transcript from completed turns must be preserved")
	}
}

func TestParseConfidence(t *testing.T) {
	cases := []struct {
		text string
		want float64
	}{
		{"Confidence: 0.75", 0.75},
		{"confidence 1", 1},
		{"CONFIDENCE: 0.5 based on logs", 0.5},
		{"no number here", 0},
		{"Confidence: 7", 0},
	}
	for _, tc := range cases {
		if got := parseConfidence(tc.text); got != tc.want {
			t.Fatalf("parseConfidence(%q) = %f, want %f", tc.text, got, tc.want)
		}
	}
}
