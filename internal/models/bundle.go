package models

import "time"

// SourceStatus describes the outcome of one enrichment source fetch.
type SourceStatus string

const (
	SourceSuccess SourceStatus = "success"
	SourcePartial SourceStatus = "partial"
	SourceFailed  SourceStatus = "failed"
)

// Enrichment source names used for bundle status and metrics labels.
const (
	SourceTickets  = "tickets"
	SourceLogs     = "logs"
	SourceGraph    = "dag"
	SourceCheckout = "checkout"
)

// TicketRef is a single issue-tracker reference correlated with the event.
type TicketRef struct {
	Key     string
	Summary string
	Status  string
	URL     string
	Updated time.Time
}

// LogExcerpt is one correlated runtime log line, possibly redacted.
type LogExcerpt struct {
	Timestamp time.Time
	Severity  string
	Message   string
	Redacted  bool
}

// GraphSummary condenses the dependency/call graph around the implicated
// module of the checkout.
type GraphSummary struct {
	Module     string
	Files      int
	Imports    []string
	ImportedBy []string
	Revision   string
}

// ContextBundle aggregates enrichment results for one run. It is built once
// by the orchestrator and owned exclusively by the run.
type ContextBundle struct {
	Tickets  []TicketRef
	Logs     []LogExcerpt
	Graph    GraphSummary
	Revision string
	Branch   string

	// Status records the per-source fetch outcome; a source that timed out
	// is marked failed regardless of when the others finished.
	Status map[string]SourceStatus
	// Errors carries the terminal error string per failed source.
	Errors map[string]string
}

// UsableSources counts sources that produced at least partial data.
func (b ContextBundle) UsableSources() int {
	n := 0
	for _, st := range b.Status {
		if st == SourceSuccess || st == SourcePartial {
			n++
		}
	}
	return n
}
