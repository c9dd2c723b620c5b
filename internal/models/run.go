package models

import "time"

// RunState is the lifecycle state of a RunRecord.
type RunState string

const (
	RunStateNew             RunState = "NEW"
	RunStatePendingApproval RunState = "PENDING_APPROVAL"
	RunStateProcessing      RunState = "PROCESSING"
	RunStateResolved        RunState = "RESOLVED"
	RunStateAborted         RunState = "ABORTED"
)

// Terminal reports whether the state admits no further transitions.
func (s RunState) Terminal() bool {
	return s == RunStateResolved || s == RunStateAborted
}

// TranscriptEntry is one step of the reasoning transcript: either a model
// turn or a tool invocation with its result.
type TranscriptEntry struct {
	Turn     int       `json:"turn"`
	Role     string    `json:"role"` // "model" or "tool"
	Tool     string    `json:"tool,omitempty"`
	Input    string    `json:"input,omitempty"`
	Content  string    `json:"content"`
	IsError  bool      `json:"is_error,omitempty"`
	Occurred time.Time `json:"occurred"`
}

// RunRecord tracks the processing of one non-duplicate ErrorEvent from
// enrichment through the final reasoning output. Exactly one ErrorEvent and
// at most one StackFingerprint are referenced per record.
type RunRecord struct {
	RunID         string
	LobAppID      int64
	Event         ErrorEvent
	FingerprintID string
	State         RunState

	Prompt     string
	Transcript []TranscriptEntry

	Resolution     string
	Confidence     float64
	PullRequestURL string
	AbortReason    string

	OccurrenceCount int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Feedback is a user's verdict on a run's proposed resolution. Append-only.
type Feedback struct {
	FeedbackID  string
	RunID       string
	Helpful     bool
	Comment     string
	SubmittedAt time.Time
}
