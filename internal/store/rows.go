package store

import (
	"encoding/json"
	"time"

	"github.com/triagestack/triage-engine/internal/models"
)

// lobApplicationRow is the persistence shape of the application registry.
type lobApplicationRow struct {
	LobAppID            int64  `gorm:"column:lob_app_id;primaryKey;autoIncrement"`
	ApplicationName     string `gorm:"column:application_name"`
	Lob                 string `gorm:"column:lob"`
	Environment         string `gorm:"column:environment"`
	AutoResolve         bool   `gorm:"column:auto_resolve"`
	GitRemoteURL        string `gorm:"column:git_remote_url"`
	LookupBranchPattern string `gorm:"column:lookup_branch_pattern"`
	FilterPII           bool   `gorm:"column:filter_pii"`
	NotificationDLs     string `gorm:"column:notification_dls"`

	SimilarityThreshold float64 `gorm:"column:similarity_threshold"`
	ThrottleWindowSecs  int64   `gorm:"column:throttle_window_secs"`

	AppInfoActuatorURL string `gorm:"column:app_info_actuator_url"`
	JiraProjectsURL    string `gorm:"column:jira_projects_url"`
	AppDynamicsURL     string `gorm:"column:app_dynamics_url"`

	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (lobApplicationRow) TableName() string { return "lob_applications" }

func (r lobApplicationRow) toModel() models.AppConfig {
	return models.AppConfig{
		LobAppID:            r.LobAppID,
		ApplicationName:     r.ApplicationName,
		Lob:                 r.Lob,
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
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

func fromAppConfig(cfg models.AppConfig) lobApplicationRow {
	return lobApplicationRow{
		LobAppID:            cfg.LobAppID,
		ApplicationName:     cfg.ApplicationName,
		Lob:                 cfg.Lob,
		Environment:         cfg.Environment,
		AutoResolve:         cfg.AutoResolve,
		GitRemoteURL:        cfg.GitRemoteURL,
		LookupBranchPattern: cfg.LookupBranchPattern,
		FilterPII:           cfg.FilterPII,
		NotificationDLs:     cfg.NotificationDLs,
		SimilarityThreshold: cfg.SimilarityThreshold,
		ThrottleWindowSecs:  int64(cfg.ThrottleWindow / time.Second),
		AppInfoActuatorURL:  cfg.AppInfoActuatorURL,
		JiraProjectsURL:     cfg.JiraProjectsURL,
		AppDynamicsURL:      cfg.AppDynamicsURL,
		CreatedAt:           cfg.CreatedAt,
		UpdatedAt:           cfg.UpdatedAt,
	}
}

// triageRunRow is the persistence shape of a run record. Event and
// transcript are stored as JSON documents since they are written once and
// read whole.
type triageRunRow struct {
	RunID         string `gorm:"column:run_id;primaryKey"`
	LobAppID      int64  `gorm:"column:lob_app_id"`
	EventJSON     []byte `gorm:"column:event"`
	FingerprintID string `gorm:"column:fingerprint_id"`
	State         string `gorm:"column:state"`

	Prompt         string `gorm:"column:prompt"`
	TranscriptJSON []byte `gorm:"column:transcript"`

	Resolution     string  `gorm:"column:resolution"`
	Confidence     float64 `gorm:"column:confidence"`
	PullRequestURL string  `gorm:"column:pull_request_url"`
	AbortReason    string  `gorm:"column:abort_reason"`

	OccurrenceCount int       `gorm:"column:occurrence_count"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

func (triageRunRow) TableName() string { return "triage_runs" }

func (r triageRunRow) toModel() (models.RunRecord, error) {
	record := models.RunRecord{
		RunID:           r.RunID,
		LobAppID:        r.LobAppID,
		FingerprintID:   r.FingerprintID,
		State:           models.RunState(r.State),
		Prompt:          r.Prompt,
		Resolution:      r.Resolution,
		Confidence:      r.Confidence,
		PullRequestURL:  r.PullRequestURL,
		AbortReason:     r.AbortReason,
		OccurrenceCount: r.OccurrenceCount,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if len(r.EventJSON) > 0 {
		if err := json.Unmarshal(r.EventJSON, &record.Event); err != nil {
			return models.RunRecord{}, err
		}
	}
	if len(r.TranscriptJSON) > 0 {
		if err := json.Unmarshal(r.TranscriptJSON, &record.Transcript); err != nil {
			return models.RunRecord{}, err
		}
	}
	return record, nil
}

func fromRunRecord(record models.RunRecord) (triageRunRow, error) {
	eventJSON, err := json.Marshal(record.Event)
	if err != nil {
		return triageRunRow{}, err
	}
	var transcriptJSON []byte
	if record.Transcript != nil {
		transcriptJSON, err = json.Marshal(record.Transcript)
		if err != nil {
			return triageRunRow{}, err
		}
	}
	return triageRunRow{
		RunID:           record.RunID,
		LobAppID:        record.LobAppID,
		EventJSON:       eventJSON,
		FingerprintID:   record.FingerprintID,
		State:           string(record.State),
		Prompt:          record.Prompt,
		TranscriptJSON:  transcriptJSON,
		Resolution:      record.Resolution,
		Confidence:      record.Confidence,
		PullRequestURL:  record.PullRequestURL,
		AbortReason:     record.AbortReason,
		OccurrenceCount: record.OccurrenceCount,
		CreatedAt:       record.CreatedAt,
		UpdatedAt:       record.UpdatedAt,
	}, nil
}

// runFeedbackRow is the persistence shape of user feedback. Append-only.
type runFeedbackRow struct {
	FeedbackID  string    `gorm:"column:feedback_id;primaryKey"`
	RunID       string    `gorm:"column:run_id"`
	Helpful     bool      `gorm:"column:helpful"`
	Comment     string    `gorm:"column:comment"`
	SubmittedAt time.Time `gorm:"column:submitted_at"`
}

func (runFeedbackRow) TableName() string { return "run_feedback" }

func (r runFeedbackRow) toModel() models.Feedback {
	return models.Feedback{
		FeedbackID:  r.FeedbackID,
		RunID:       r.RunID,
		Helpful:     r.Helpful,
		Comment:     r.Comment,
		SubmittedAt: r.SubmittedAt,
	}
}
