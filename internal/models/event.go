package models

import (
	"fmt"
	"strings"
	"time"
)

// ErrorEvent is an immutable record of a single reported failure. It is
// created by the ingestion boundary and consumed read-only by the pipeline.
type ErrorEvent struct {
	Lob             string
	ApplicationName string
	Environment     string
	CorrelationID   string
	SpanID          string
	StackTrace      string
	OriginMethod    string
	SourceURLPath   string
	Links           EventLinks
	ErrorTimestamp  time.Time
	ReceivedAt      time.Time
}

// EventLinks carries optional references supplied with the event.
type EventLinks struct {
	IssueTrackerURL string
	DashboardURL    string
	InfoURL         string
}

// Scope is the (application, environment) pair that partitions similarity
// comparisons and source-control checkouts.
type Scope struct {
	Application string
	Environment string
}

// Key renders the scope as a stable string usable in cache keys and labels.
func (s Scope) Key() string {
	return s.Application + "/" + s.Environment
}

// Scope returns the similarity scope the event belongs to.
func (e ErrorEvent) Scope() Scope {
	return Scope{Application: e.ApplicationName, Environment: e.Environment}
}

// EnvironmentFromPath derives the deployment environment from the event's
// source URL path. The ingestion convention is
// /lob/{lob}/app/{application}/env/{environment}.
func EnvironmentFromPath(path string) (string, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "env" && parts[i+1] != "" {
			return parts[i+1], nil
		}
	}
	return "", fmt.Errorf("no environment segment in path %q", path)
}

// ImplicatedFile extracts the first file reference from the stack trace,
// used to anchor commit history and dependency-graph lookups. Returns an
// empty string when the trace carries no recognisable file reference.
func (e ErrorEvent) ImplicatedFile() string {
	for _, line := range strings.Split(e.StackTrace, "\n") {
		line = strings.TrimSpace(line)
		// Java-style "at pkg.Class.method(File.java:123)" frames.
		if open := strings.LastIndex(line, "("); strings.HasPrefix(line, "at ") && open >= 0 {
			inner := strings.TrimSuffix(line[open+1:], ")")
			if file, _, ok := splitFileLine(inner); ok {
				return file
			}
		}
		// Plain "path/to/file.ext:123" frames.
		if file, _, ok := splitFileLine(line); ok && strings.ContainsAny(file, "/.") {
			return file
		}
	}
	return ""
}

func splitFileLine(s string) (string, int, bool) {
	idx := strings.LastIndex(s, ":")
	if idx <= 0 || idx == len(s)-1 {
		return "", 0, false
	}
	var line int
	if _, err := fmt.Sscanf(s[idx+1:], "%d", &line); err != nil {
		return "", 0, false
	}
	return s[:idx], line, true
}
