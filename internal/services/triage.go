package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/triagestack/triage-engine/internal/agent"
	"github.com/triagestack/triage-engine/internal/dedup"
	"github.com/triagestack/triage-engine/internal/metrics"
	"github.com/triagestack/triage-engine/internal/models"
	"github.com/triagestack/triage-engine/internal/runctx"
	"github.com/triagestack/triage-engine/internal/utils"
)

// AppConfigSource resolves per-application configuration.
type AppConfigSource interface {
	FindByScope(ctx context.Context, lob string, scope models.Scope) (models.AppConfig, error)
	FindByID(ctx context.Context, lobAppID int64) (models.AppConfig, error)
}

// RunRepository is the run persistence boundary.
type RunRepository interface {
	Insert(ctx context.Context, record models.RunRecord) error
	GetByID(ctx context.Context, runID string) (models.RunRecord, error)
	FindByFingerprint(ctx context.Context, fingerprintID string) (models.RunRecord, error)
	Transition(ctx context.Context, runID string, from, to models.RunState) error
	Complete(ctx context.Context, runID string, record models.RunRecord) error
	IncrementOccurrence(ctx context.Context, runID string) error
}

// FeedbackRepository appends and lists user feedback.
type FeedbackRepository interface {
	Append(ctx context.Context, runID string, helpful bool, comment string) (models.Feedback, error)
	ListByRun(ctx context.Context, runID string) ([]models.Feedback, error)
}

// Classifier is the similarity gate.
type Classifier interface {
	Classify(ctx context.Context, event models.ErrorEvent, cfg models.AppConfig) dedup.Decision
}

// Enricher gathers the context bundle for a run.
type Enricher interface {
	Enrich(ctx context.Context, event models.ErrorEvent, cfg models.AppConfig, rc *runctx.RunContext) models.ContextBundle
}

// PromptAssembler renders the reasoning request.
type PromptAssembler interface {
	SystemPrompt() string
	Assemble(event models.ErrorEvent, bundle models.ContextBundle) string
}

// Reasoner drives the bounded tool-use loop.
type Reasoner interface {
	Run(ctx context.Context, systemPrompt, userPrompt string, tools *agent.Toolset) (agent.Outcome, error)
}

// SubmitResult is the ingestion verdict returned to the caller.
type SubmitResult struct {
	RunID           string
	State           models.RunState
	Duplicate       bool
	MatchedEventID  string
	OccurrenceCount int
}

// TriageService owns the event lifecycle: gate, persist, enrich, reason,
// complete. One instance serves all scopes.
type TriageService struct {
	logger      *slog.Logger
	appConfigs  AppConfigSource
	runs        RunRepository
	feedback    FeedbackRepository
	gate        Classifier
	enricher    Enricher
	assembler   PromptAssembler
	reasoner    Reasoner
	notifier    Notifier
	pool        *Pool
	runContexts *runctx.Cache

	// Per-run tool backends; the toolset itself is built per run.
	logSearch agent.LogSearcher
	tickets   agent.TicketSearcher
	graphs    agent.GraphBuilder

	latency *utils.LatencyTracker
}

// NewTriageService wires the pipeline stages together.
func NewTriageService(
	logger *slog.Logger,
	appConfigs AppConfigSource,
	runs RunRepository,
	feedback FeedbackRepository,
	gate Classifier,
	enricher Enricher,
	assembler PromptAssembler,
	reasoner Reasoner,
	notifier Notifier,
	pool *Pool,
	runContexts *runctx.Cache,
	logSearch agent.LogSearcher,
	tickets agent.TicketSearcher,
	graphs agent.GraphBuilder,
) *TriageService {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	if runContexts == nil {
		runContexts = runctx.NewCache()
	}
	return &TriageService{
		logger:      logger,
		appConfigs:  appConfigs,
		runs:        runs,
		feedback:    feedback,
		gate:        gate,
		enricher:    enricher,
		assembler:   assembler,
		reasoner:    reasoner,
		notifier:    notifier,
		pool:        pool,
		runContexts: runContexts,
		logSearch:   logSearch,
		tickets:     tickets,
		graphs:      graphs,
		latency:     utils.NewLatencyTracker(512),
	}
}

// Submit ingests one error event. Unregistered scopes are rejected;
// duplicates of an active incident bump the original run's occurrence count;
// everything else opens a new run, queued immediately when the application
// auto-resolves or parked for approval otherwise.
func (s *TriageService) Submit(ctx context.Context, event models.ErrorEvent) (SubmitResult, error) {
	cfg, err := s.appConfigs.FindByScope(ctx, event.Lob, event.Scope())
	if err != nil {
		metrics.ObserveEvent(metrics.OutcomeRejected)
		return SubmitResult{}, err
	}

	decision := s.gate.Classify(ctx, event, cfg)
	if decision.Duplicate {
		return s.recordDuplicate(ctx, event, decision)
	}

	record := models.RunRecord{
		RunID:         uuid.NewString(),
		LobAppID:      cfg.LobAppID,
		Event:         event,
		FingerprintID: decision.FingerprintID,
		State:         models.RunStateNew,
	}
	if err := s.runs.Insert(ctx, record); err != nil {
		metrics.ObserveEvent(metrics.OutcomeRejected)
		return SubmitResult{}, fmt.Errorf("persist run: %w", err)
	}

	if !cfg.AutoResolve {
		if err := s.runs.Transition(ctx, record.RunID, models.RunStateNew, models.RunStatePendingApproval); err != nil {
			return SubmitResult{}, err
		}
		record.State = models.RunStatePendingApproval
		s.notifier.ApprovalRequested(ctx, record, cfg)
		metrics.ObserveEvent(metrics.OutcomePendingApproval)
		return SubmitResult{RunID: record.RunID, State: models.RunStatePendingApproval, OccurrenceCount: 1}, nil
	}

	if err := s.enqueue(record, cfg, models.RunStateNew); err != nil {
		return SubmitResult{}, err
	}
	metrics.ObserveEvent(metrics.OutcomeNew)
	return SubmitResult{RunID: record.RunID, State: models.RunStateProcessing, OccurrenceCount: 1}, nil
}

func (s *TriageService) recordDuplicate(ctx context.Context, event models.ErrorEvent, decision dedup.Decision) (SubmitResult, error) {
	metrics.ObserveEvent(metrics.OutcomeDuplicate)

	run, err := s.runs.FindByFingerprint(ctx, decision.MatchedFingerprintID)
	if err != nil {
		// The fingerprint outlived its run record; log and swallow, the
		// event is still a suppressed duplicate.
		s.logger.Warn("duplicate matched orphan fingerprint",
			slog.String("fingerprint_id", decision.MatchedFingerprintID), slog.Any("error", err))
		return SubmitResult{Duplicate: true, MatchedEventID: decision.MatchedEventID}, nil
	}
	if err := s.runs.IncrementOccurrence(ctx, run.RunID); err != nil {
		return SubmitResult{}, err
	}

	s.logger.Info("duplicate event suppressed",
		slog.String("run_id", run.RunID),
		slog.String("scope", event.Scope().Key()),
		slog.Float64("distance", decision.Distance))

	return SubmitResult{
		RunID:           run.RunID,
		State:           run.State,
		Duplicate:       true,
		MatchedEventID:  decision.MatchedEventID,
		OccurrenceCount: run.OccurrenceCount + 1,
	}, nil
}

// Approve releases a run parked in PENDING_APPROVAL into processing.
func (s *TriageService) Approve(ctx context.Context, runID string) (models.RunRecord, error) {
	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		return models.RunRecord{}, err
	}
	if run.State != models.RunStatePendingApproval {
		return models.RunRecord{}, fmt.Errorf("run %s is %s, not awaiting approval", runID, run.State)
	}
	cfg, err := s.appConfigs.FindByID(ctx, run.LobAppID)
	if err != nil {
		return models.RunRecord{}, err
	}
	if err := s.enqueue(run, cfg, models.RunStatePendingApproval); err != nil {
		return models.RunRecord{}, err
	}
	run.State = models.RunStateProcessing
	return run, nil
}

// GetRun loads one run record.
func (s *TriageService) GetRun(ctx context.Context, runID string) (models.RunRecord, error) {
	return s.runs.GetByID(ctx, runID)
}

// AttachFeedback appends a user verdict to a completed run.
func (s *TriageService) AttachFeedback(ctx context.Context, runID string, helpful bool, comment string) (models.Feedback, error) {
	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		return models.Feedback{}, err
	}
	if !run.State.Terminal() {
		return models.Feedback{}, fmt.Errorf("run %s is still %s", runID, run.State)
	}
	return s.feedback.Append(ctx, runID, helpful, comment)
}

// enqueue transitions the run into PROCESSING and hands it to the pool.
func (s *TriageService) enqueue(record models.RunRecord, cfg models.AppConfig, from models.RunState) error {
	job := func(ctx context.Context) {
		s.process(ctx, record, cfg, from)
	}
	if err := s.pool.Submit(job); err != nil {
		return fmt.Errorf("queue run %s: %w", record.RunID, err)
	}
	return nil
}

// process is the worker-side pipeline for one run: transition, enrich,
// assemble, reason, complete.
func (s *TriageService) process(ctx context.Context, record models.RunRecord, cfg models.AppConfig, from models.RunState) {
	started := time.Now()
	defer func() {
		elapsed := time.Since(started)
		metrics.ObserveRun(elapsed)
		s.latency.Observe(elapsed)
		if s.latency.Count()%20 == 0 {
			s.logger.Info("run latency",
				slog.Duration("p50", s.latency.Percentile(50)),
				slog.Duration("p95", s.latency.Percentile(95)),
				slog.Int("samples", s.latency.Count()))
		}
	}()

	if err := s.runs.Transition(ctx, record.RunID, from, models.RunStateProcessing); err != nil {
		s.logger.Error("run transition failed",
			slog.String("run_id", record.RunID), slog.Any("error", err))
		return
	}

	rc := s.runContexts.Open(record.RunID)
	defer s.runContexts.Drop(record.RunID)

	bundle := s.enricher.Enrich(ctx, record.Event, cfg, rc)
	s.logger.Info("enrichment complete",
		slog.String("run_id", record.RunID),
		slog.Int("usable_sources", bundle.UsableSources()))

	record.Prompt = s.assembler.Assemble(record.Event, bundle)

	toolset := agent.NewToolset(record.Event, rc, s.logSearch, s.tickets, s.graphs)
	outcome, err := s.reasoner.Run(ctx, s.assembler.SystemPrompt(), record.Prompt, toolset)

	record.Transcript = outcome.Transcript
	switch {
	case err != nil:
		record.State = models.RunStateAborted
		record.AbortReason = outcome.AbortReason
		if record.AbortReason == "" {
			record.AbortReason = err.Error()
		}
		s.logger.Error("reasoning failed",
			slog.String("run_id", record.RunID), slog.Any("error", err))
	case outcome.Aborted:
		record.State = models.RunStateAborted
		record.AbortReason = outcome.AbortReason
	default:
		record.State = models.RunStateResolved
		record.Resolution = outcome.Resolution
		record.Confidence = outcome.Confidence
	}

	if err := s.runs.Complete(ctx, record.RunID, record); err != nil {
		s.logger.Error("run completion write failed",
			slog.String("run_id", record.RunID), slog.Any("error", err))
		return
	}
	s.notifier.RunCompleted(ctx, record, cfg)
}
