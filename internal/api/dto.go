package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/triagestack/triage-engine/internal/models"
)

// SubmitEventRequest is the ingestion payload.
type SubmitEventRequest struct {
	Lob             string    `json:"lob"`
	ApplicationName string    `json:"application_name" binding:"required"`
	Environment     string    `json:"environment"`
	CorrelationID   string    `json:"correlation_id"`
	SpanID          string    `json:"span_id"`
	StackTrace      string    `json:"stack_trace" binding:"required"`
	OriginMethod    string    `json:"origin_method"`
	SourceURLPath   string    `json:"source_url_path"`
	ErrorTimestamp  time.Time `json:"error_timestamp"`

	Links struct {
		IssueTrackerURL string `json:"issue_tracker_url"`
		DashboardURL    string `json:"dashboard_url"`
		InfoURL         string `json:"info_url"`
	} `json:"links"`
}

// ToEvent validates the request and produces the immutable domain event. The
// environment may arrive explicitly or embedded in the source URL path.
func (r SubmitEventRequest) ToEvent(now time.Time) (models.ErrorEvent, error) {
	env := r.Environment
	if env == "" && r.SourceURLPath != "" {
		derived, err := models.EnvironmentFromPath(r.SourceURLPath)
		if err != nil {
			return models.ErrorEvent{}, err
		}
		env = derived
	}
	if env == "" {
		return models.ErrorEvent{}, fmt.Errorf("environment is required, directly or via source_url_path")
	}
	if strings.TrimSpace(r.StackTrace) == "" {
		return models.ErrorEvent{}, fmt.Errorf("stack_trace must not be blank")
	}
	ts := r.ErrorTimestamp
	if ts.IsZero() {
		ts = now
	}
	return models.ErrorEvent{
		Lob:             r.Lob,
		ApplicationName: r.ApplicationName,
		Environment:     env,
		CorrelationID:   r.CorrelationID,
		SpanID:          r.SpanID,
		StackTrace:      r.StackTrace,
		OriginMethod:    r.OriginMethod,
		SourceURLPath:   r.SourceURLPath,
		Links: models.EventLinks{
			IssueTrackerURL: r.Links.IssueTrackerURL,
			DashboardURL:    r.Links.DashboardURL,
			InfoURL:         r.Links.InfoURL,
		},
		ErrorTimestamp: ts,
		ReceivedAt:     now,
	}, nil
}

// SubmitEventResponse reports the gate verdict.
type SubmitEventResponse struct {
	RunID           string `json:"run_id,omitempty"`
	State           string `json:"state,omitempty"`
	Duplicate       bool   `json:"duplicate"`
	DuplicateOf     string `json:"duplicate_of,omitempty"`
	OccurrenceCount int    `json:"occurrence_count,omitempty"`
}

// OnboardRequest registers a new application scope.
type OnboardRequest struct {
	Lob                 string  `json:"lob" binding:"required"`
	ApplicationName     string  `json:"application_name" binding:"required"`
	Environment         string  `json:"environment" binding:"required"`
	AutoResolve         bool    `json:"auto_resolve"`
	GitRemoteURL        string  `json:"git_remote_url"`
	LookupBranchPattern string  `json:"lookup_branch_pattern"`
	FilterPII           bool    `json:"filter_pii"`
	NotificationDLs     string  `json:"notification_dls"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	ThrottleWindowSecs  int64   `json:"throttle_window_secs"`
	AppInfoActuatorURL  string  `json:"app_info_actuator_url"`
	JiraProjectsURL     string  `json:"jira_projects_url"`
	AppDynamicsURL      string  `json:"app_dynamics_url"`
}

// ToConfig converts the onboarding payload to a registry row.
func (r OnboardRequest) ToConfig() models.AppConfig {
	return models.AppConfig{
		Lob:                 r.Lob,
		ApplicationName:     r.ApplicationName,
		Environment:         r.Environment,
		AutoResolve:         r.AutoResolve,
		GitRemoteURL:        r.GitRemoteURL,
		LookupBranchPattern: r.LookupBranchPattern,
		FilterPII:           r.FilterPII,
		NotificationDLs:     r.NotificationDLs,
		SimilarityThreshold: r.SimilarityThreshold,
		ThrottleWindow:      time.Duration(r.ThrottleWindowSecs) * time.Second,
		AppInfoActuatorURL:  r.AppInfoActuatorURL,
		JiraProjectsURL:     r.JiraProjectsURL,
		AppDynamicsURL:      r.AppDynamicsURL,
	}
}

// FeedbackRequest is a user verdict on a completed run.
type FeedbackRequest struct {
	Helpful bool   `json:"helpful"`
	Comment string `json:"comment"`
}

// RunResponse is the external view of a run record.
type RunResponse struct {
	RunID           string                   `json:"run_id"`
	State           string                   `json:"state"`
	Application     string                   `json:"application"`
	Environment     string                   `json:"environment"`
	FingerprintID   string                   `json:"fingerprint_id,omitempty"`
	Resolution      string                   `json:"resolution,omitempty"`
	Confidence      float64                  `json:"confidence,omitempty"`
	PullRequestURL  string                   `json:"pull_request_url,omitempty"`
	AbortReason     string                   `json:"abort_reason,omitempty"`
	OccurrenceCount int                      `json:"occurrence_count"`
	Transcript      []models.TranscriptEntry `json:"transcript,omitempty"`
	CreatedAt       time.Time                `json:"created_at"`
	UpdatedAt       time.Time                `json:"updated_at"`
}

func toRunResponse(run models.RunRecord) RunResponse {
	return RunResponse{
		RunID:           run.RunID,
		State:           string(run.State),
		Application:     run.Event.ApplicationName,
		Environment:     run.Event.Environment,
		FingerprintID:   run.FingerprintID,
		Resolution:      run.Resolution,
		Confidence:      run.Confidence,
		PullRequestURL:  run.PullRequestURL,
		AbortReason:     run.AbortReason,
		OccurrenceCount: run.OccurrenceCount,
		Transcript:      run.Transcript,
		CreatedAt:       run.CreatedAt,
		UpdatedAt:       run.UpdatedAt,
	}
}

// ApplicationResponse is the external view of a registry row.
type ApplicationResponse struct {
	LobAppID            int64   `json:"lob_app_id"`
	Lob                 string  `json:"lob"`
	ApplicationName     string  `json:"application_name"`
	Environment         string  `json:"environment"`
	AutoResolve         bool    `json:"auto_resolve"`
	GitRemoteURL        string  `json:"git_remote_url,omitempty"`
	LookupBranchPattern string  `json:"lookup_branch_pattern,omitempty"`
	FilterPII           bool    `json:"filter_pii"`
	NotificationDLs     string  `json:"notification_dls,omitempty"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	ThrottleWindowSecs  int64   `json:"throttle_window_secs"`
}

func toApplicationResponse(cfg models.AppConfig) ApplicationResponse {
	return ApplicationResponse{
		LobAppID:            cfg.LobAppID,
		Lob:                 cfg.Lob,
		ApplicationName:     cfg.ApplicationName,
		Environment:         cfg.Environment,
		AutoResolve:         cfg.AutoResolve,
		GitRemoteURL:        cfg.GitRemoteURL,
		LookupBranchPattern: cfg.LookupBranchPattern,
		FilterPII:           cfg.FilterPII,
		NotificationDLs:     cfg.NotificationDLs,
		SimilarityThreshold: cfg.SimilarityThreshold,
		ThrottleWindowSecs:  int64(cfg.ThrottleWindow / time.Second),
	}
}
