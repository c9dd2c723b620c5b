package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/triagestack/triage-engine/internal/models"
	"github.com/triagestack/triage-engine/internal/runctx"
)

// LogSearcher is the log-search capability exposed to the reasoning loop.
type LogSearcher interface {
	FetchByCorrelation(ctx context.Context, scope models.Scope, correlationID string, limit int) ([]models.LogExcerpt, error)
}

// TicketSearcher is the issue-tracker capability exposed to the reasoning loop.
type TicketSearcher interface {
	SearchTickets(ctx context.Context, query string, limit int) ([]models.TicketRef, error)
}

// GraphBuilder rebuilds the dependency graph around a different file on demand.
type GraphBuilder interface {
	Build(checkoutDir, implicatedFile, revision string) (models.GraphSummary, error)
}

// HistorySource exposes commit history from the run's checkout.
type HistorySource interface {
	FileHistory(ctx context.Context, path string, n int) (string, error)
	Location() (dir, branch, revision string)
}

// Toolset binds the per-run tool implementations. One Toolset serves one run;
// its checkout handle comes from the run context populated by enrichment.
type Toolset struct {
	event   models.ErrorEvent
	rc      *runctx.RunContext
	logs    LogSearcher
	tickets TicketSearcher
	graphs  GraphBuilder
}

// NewToolset builds the tool bindings for one run.
func NewToolset(event models.ErrorEvent, rc *runctx.RunContext, logs LogSearcher, tickets TicketSearcher, graphs GraphBuilder) *Toolset {
	return &Toolset{event: event, rc: rc, logs: logs, tickets: tickets, graphs: graphs}
}

const (
	toolSearchLogs      = "search_logs"
	toolDependencyGraph = "dependency_graph"
	toolIssueTracker    = "issue_tracker"
	toolSourceHistory   = "source_history"
)

// Definitions returns the tool declarations sent with every model turn.
func (t *Toolset) Definitions() []anthropic.ToolUnionParam {
	toolParams := []anthropic.ToolParam{
		{
			Name:        toolSearchLogs,
			Description: anthropic.String("Search runtime logs correlated with this error. Returns log lines most recent first."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]interface{}{
					"correlation_id": map[string]interface{}{"type": "string", "description": "Correlation ID to search for (defaults to the event's own)"},
					"limit":          map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 200, "description": "Max log lines (default: 50)"},
				},
			},
		},
		{
			Name:        toolDependencyGraph,
			Description: anthropic.String("Summarise the dependency graph around a source file in the application's checkout: sibling files, imports, and importers."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]interface{}{
					"file": map[string]interface{}{"type": "string", "description": "Path of the file to centre the graph on (required)"},
				},
				Required: []string{"file"},
			},
		},
		{
			Name:        toolIssueTracker,
			Description: anthropic.String("Free-text search of the issue tracker for tickets related to this failure."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]interface{}{
					"query": map[string]interface{}{"type": "string", "description": "Search query (required)"},
					"limit": map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 25, "description": "Max tickets (default: 5)"},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        toolSourceHistory,
			Description: anthropic.String("Show recent commit history for a file in the application's source checkout."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]interface{}{
					"path":  map[string]interface{}{"type": "string", "description": "File path relative to the repository root (required)"},
					"limit": map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 50, "description": "Max commits (default: 10)"},
				},
				Required: []string{"path"},
			},
		},
	}

	tools := make([]anthropic.ToolUnionParam, len(toolParams))
	for i := range toolParams {
		tool := toolParams[i]
		tools[i] = anthropic.ToolUnionParam{OfTool: &tool}
	}
	return tools
}

// Execute dispatches one tool call. Errors are returned to the model as
// error tool results, not surfaced as run failures.
func (t *Toolset) Execute(ctx context.Context, name string, input json.RawMessage) (string, error) {
	var args struct {
		CorrelationID string `json:"correlation_id"`
		File          string `json:"file"`
		Path          string `json:"path"`
		Query         string `json:"query"`
		Limit         int    `json:"limit"`
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("invalid tool input: %w", err)
		}
	}

	switch name {
	case toolSearchLogs:
		return t.searchLogs(ctx, args.CorrelationID, args.Limit)
	case toolDependencyGraph:
		return t.dependencyGraph(args.File)
	case toolIssueTracker:
		return t.issueTracker(ctx, args.Query, args.Limit)
	case toolSourceHistory:
		return t.sourceHistory(ctx, args.Path, args.Limit)
	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

func (t *Toolset) searchLogs(ctx context.Context, correlationID string, limit int) (string, error) {
	if t.logs == nil {
		return "", fmt.Errorf("log search is not available")
	}
	if correlationID == "" {
		correlationID = t.event.CorrelationID
	}
	if limit <= 0 {
		limit = 50
	}
	logs, err := t.logs.FetchByCorrelation(ctx, t.event.Scope(), correlationID, limit)
	if err != nil {
		return "", err
	}
	if len(logs) == 0 {
		return "No log entries found.", nil
	}
	var b strings.Builder
	for _, l := range logs {
		fmt.Fprintf(&b, "%s %s %s\n", l.Timestamp.UTC().Format("2006-01-02T15:04:05Z"), l.Severity, l.Message)
	}
	return b.String(), nil
}

func (t *Toolset) dependencyGraph(file string) (string, error) {
	if file == "" {
		return "", fmt.Errorf("file is required")
	}
	checkout := t.checkout()
	if checkout == nil {
		return "", fmt.Errorf("no source checkout available for this run")
	}
	dir, _, revision := checkout.Location()
	summary, err := t.graphs.Build(dir, file, revision)
	if err != nil {
		return "", err
	}
	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (t *Toolset) issueTracker(ctx context.Context, query string, limit int) (string, error) {
	if t.tickets == nil {
		return "", fmt.Errorf("issue tracker is not available")
	}
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	if limit <= 0 {
		limit = 5
	}
	tickets, err := t.tickets.SearchTickets(ctx, query, limit)
	if err != nil {
		return "", err
	}
	if len(tickets) == 0 {
		return "No matching tickets found.", nil
	}
	var b strings.Builder
	for _, tk := range tickets {
		fmt.Fprintf(&b, "%s [%s] %s %s\n", tk.Key, tk.Status, tk.Summary, tk.URL)
	}
	return b.String(), nil
}

func (t *Toolset) sourceHistory(ctx context.Context, path string, limit int) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	checkout := t.checkout()
	if checkout == nil {
		return "", fmt.Errorf("no source checkout available for this run")
	}
	if limit <= 0 {
		limit = 10
	}
	history, err := checkout.FileHistory(ctx, path, limit)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(history) == "" {
		return "No commits touch that path.", nil
	}
	return history, nil
}

// checkout pulls the run's checkout handle from the run context. Enrichment
// stores the handle when the clone succeeded; a run whose checkout failed
// simply has no source-backed tools.
func (t *Toolset) checkout() HistorySource {
	if t.rc == nil {
		return nil
	}
	v, ok := t.rc.Get(runctx.SlotCheckout)
	if !ok {
		return nil
	}
	co, _ := v.(HistorySource)
	return co
}
