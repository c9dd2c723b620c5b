package prompt

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/triagestack/triage-engine/internal/config"
	"github.com/triagestack/triage-engine/internal/models"
)

// Assembler renders the triage prompt for the reasoning loop. Rendering is
// deterministic: the same event and bundle always produce the same bytes, so
// transcripts stay reproducible and prompt-level caching stays effective.
type Assembler struct {
	maxBytes   int
	maxLogs    int
	maxTickets int
}

// NewAssembler builds an assembler bounded by the prompt configuration.
func NewAssembler(cfg config.PromptConfig) *Assembler {
	a := &Assembler{maxBytes: cfg.MaxBytes, maxLogs: cfg.MaxLogs, maxTickets: cfg.MaxTickets}
	if a.maxBytes <= 0 {
		a.maxBytes = 24 * 1024
	}
	if a.maxLogs <= 0 {
		a.maxLogs = 50
	}
	if a.maxTickets <= 0 {
		a.maxTickets = 5
	}
	return a
}

// SystemPrompt is the fixed instruction preamble for every run.
func (a *Assembler) SystemPrompt() string {
	return strings.TrimSpace(`
You are a senior engineer triaging a production error. Use the provided
context and the available tools to identify the most likely root cause.
When confident, state the root cause, a suggested fix, and a confidence
between 0 and 1. If the context is insufficient even after using tools,
say so explicitly instead of guessing.`)
}

// Assemble renders the user prompt from the event and its context bundle.
// Sections appear in fixed order; when the budget is exceeded, logs are
// trimmed first (oldest dropped), then tickets beyond the first, then the
// dependency-graph edge lists. The event header and stack trace are never
// trimmed below their own budgets.
func (a *Assembler) Assemble(event models.ErrorEvent, bundle models.ContextBundle) string {
	logs := a.selectLogs(bundle.Logs)
	tickets := a.selectTickets(bundle.Tickets)
	graph := bundle.Graph

	for {
		rendered := a.render(event, bundle, logs, tickets, graph)
		if len(rendered) <= a.maxBytes {
			return rendered
		}
		if len(logs) > 0 {
			logs = logs[1:] // oldest first, drop from the front
			continue
		}
		if len(tickets) > 1 {
			tickets = tickets[:len(tickets)-1]
			continue
		}
		if len(graph.Imports) > 0 || len(graph.ImportedBy) > 0 {
			graph.Imports, graph.ImportedBy = nil, nil
			continue
		}
		return truncate(rendered, a.maxBytes)
	}
}

// selectLogs keeps the most recent entries, ordered oldest to newest so the
// narrative reads chronologically.
func (a *Assembler) selectLogs(logs []models.LogExcerpt) []models.LogExcerpt {
	sorted := make([]models.LogExcerpt, len(logs))
	copy(sorted, logs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	if len(sorted) > a.maxLogs {
		sorted = sorted[len(sorted)-a.maxLogs:]
	}
	return sorted
}

// selectTickets caps the ticket list; the fetcher orders by relevance, so the
// head of the slice is the most relevant.
func (a *Assembler) selectTickets(tickets []models.TicketRef) []models.TicketRef {
	if len(tickets) > a.maxTickets {
		tickets = tickets[:a.maxTickets]
	}
	return tickets
}

func (a *Assembler) render(event models.ErrorEvent, bundle models.ContextBundle, logs []models.LogExcerpt, tickets []models.TicketRef, graph models.GraphSummary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Error Event\n")
	fmt.Fprintf(&b, "Application: %s\n", event.ApplicationName)
	fmt.Fprintf(&b, "Environment: %s\n", event.Environment)
	if event.Lob != "" {
		fmt.Fprintf(&b, "Line of business: %s\n", event.Lob)
	}
	if event.OriginMethod != "" {
		fmt.Fprintf(&b, "Origin method: %s\n", event.OriginMethod)
	}
	if event.CorrelationID != "" {
		fmt.Fprintf(&b, "Correlation ID: %s\n", event.CorrelationID)
	}
	if !event.ErrorTimestamp.IsZero() {
		fmt.Fprintf(&b, "Occurred: %s\n", event.ErrorTimestamp.UTC().Format(time.RFC3339))
	}

	fmt.Fprintf(&b, "\n## Stack Trace\n```\n%s\n```\n", strings.TrimSpace(event.StackTrace))

	if bundle.Revision != "" {
		fmt.Fprintf(&b, "\n## Source Checkout\n")
		fmt.Fprintf(&b, "Branch: %s\nRevision: %s\n", bundle.Branch, bundle.Revision)
	}

	if graph.Module != "" {
		fmt.Fprintf(&b, "\n## Dependency Graph (%s, %d files)\n", graph.Module, graph.Files)
		if len(graph.Imports) > 0 {
			fmt.Fprintf(&b, "Imports: %s\n", strings.Join(graph.Imports, ", "))
		}
		if len(graph.ImportedBy) > 0 {
			fmt.Fprintf(&b, "Imported by: %s\n", strings.Join(graph.ImportedBy, ", "))
		}
	}

	if len(tickets) > 0 {
		fmt.Fprintf(&b, "\n## Related Tickets\n")
		for _, t := range tickets {
			fmt.Fprintf(&b, "- %s [%s] %s\n", t.Key, t.Status, t.Summary)
		}
	}

	if len(logs) > 0 {
		fmt.Fprintf(&b, "\n## Correlated Logs\n```\n")
		for _, l := range logs {
			fmt.Fprintf(&b, "%s %s %s\n", l.Timestamp.UTC().Format(time.RFC3339), l.Severity, l.Message)
		}
		fmt.Fprintf(&b, "```\n")
	}

	if degraded := degradedSources(bundle); len(degraded) > 0 {
		fmt.Fprintf(&b, "\n## Missing Context\n")
		fmt.Fprintf(&b, "The following sources were unavailable: %s. Use tools to compensate where possible.\n",
			strings.Join(degraded, ", "))
	}

	return b.String()
}

func degradedSources(bundle models.ContextBundle) []string {
	var names []string
	for name, st := range bundle.Status {
		if st == models.SourceFailed {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// truncate cuts at a rune boundary at or below limit.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := s[:limit]
	for len(cut) > 0 && !strings.HasSuffix(cut, "\n") {
		cut = cut[:len(cut)-1]
	}
	if cut == "" {
		cut = s[:limit]
	}
	return cut
}
