package models

import "time"

// BranchPatternLatestRelease asks the checkout manager to resolve the most
// recent release tag instead of a fixed branch.
const BranchPatternLatestRelease = "LATEST_RELEASE"

// AppConfig is one row of the lob_applications registry: the per
// (lob, application, environment) configuration loaded once per run and
// immutable for the run's duration.
type AppConfig struct {
	LobAppID            int64
	ApplicationName     string
	Lob                 string
	Environment         string
	AutoResolve         bool
	GitRemoteURL        string
	LookupBranchPattern string
	FilterPII           bool
	NotificationDLs     string

	// Dedup tuning. Threshold is an inclusive cosine-distance bound;
	// ThrottleWindow is the rolling suppression interval.
	SimilarityThreshold float64
	ThrottleWindow      time.Duration

	// Optional links surfaced to prompts and notifications.
	AppInfoActuatorURL string
	JiraProjectsURL    string
	AppDynamicsURL     string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Scope returns the similarity scope governed by this configuration.
func (c AppConfig) Scope() Scope {
	return Scope{Application: c.ApplicationName, Environment: c.Environment}
}
