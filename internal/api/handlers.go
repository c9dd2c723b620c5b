package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/triagestack/triage-engine/internal/models"
	"github.com/triagestack/triage-engine/internal/services"
	"github.com/triagestack/triage-engine/internal/utils"
)

// ApplicationRegistry is the onboarding surface of the app config store.
type ApplicationRegistry interface {
	Onboard(ctx context.Context, cfg models.AppConfig) (models.AppConfig, error)
	ListByLob(ctx context.Context, lob string) ([]models.AppConfig, error)
	List(ctx context.Context) ([]models.AppConfig, error)
}

// Handler serves the triage HTTP API.
type Handler struct {
	logger  *slog.Logger
	triage  *services.TriageService
	apps    ApplicationRegistry
	started time.Time
}

// NewHandler builds the API handler.
func NewHandler(logger *slog.Logger, triage *services.TriageService, apps ApplicationRegistry) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, triage: triage, apps: apps, started: time.Now()}
}

// SubmitEvent ingests one error event.
func (h *Handler) SubmitEvent(c *gin.Context) {
	var req SubmitEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	event, err := req.ToEvent(time.Now().UTC())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.triage.Submit(c.Request.Context(), event)
	if err != nil {
		if errors.Is(err, utils.ErrConfigNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "application scope is not onboarded"})
			return
		}
		h.logger.Error("event submission failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event could not be processed"})
		return
	}

	switch {
	case result.Duplicate:
		c.JSON(http.StatusOK, SubmitEventResponse{
			RunID:           result.RunID,
			State:           string(result.State),
			Duplicate:       true,
			DuplicateOf:     result.MatchedEventID,
			OccurrenceCount: result.OccurrenceCount,
		})
	case result.State == models.RunStatePendingApproval:
		c.JSON(http.StatusConflict, SubmitEventResponse{
			RunID:           result.RunID,
			State:           string(result.State),
			OccurrenceCount: result.OccurrenceCount,
		})
	default:
		c.JSON(http.StatusAccepted, SubmitEventResponse{
			RunID:           result.RunID,
			State:           string(result.State),
			OccurrenceCount: result.OccurrenceCount,
		})
	}
}

// ApproveEvent releases a parked run into processing.
func (h *Handler) ApproveEvent(c *gin.Context) {
	runID := c.Param("id")
	run, err := h.triage.Approve(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, toRunResponse(run))
}

// GetRun returns one run record including its transcript.
func (h *Handler) GetRun(c *gin.Context) {
	runID := c.Param("id")
	run, err := h.triage.GetRun(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		h.logger.Error("run lookup failed", slog.String("run_id", runID), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "run could not be loaded"})
		return
	}
	c.JSON(http.StatusOK, toRunResponse(run))
}

// SubmitFeedback appends a user verdict to a completed run.
func (h *Handler) SubmitFeedback(c *gin.Context) {
	runID := c.Param("id")
	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	feedback, err := h.triage.AttachFeedback(c.Request.Context(), runID, req.Helpful, req.Comment)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"feedback_id":  feedback.FeedbackID,
		"run_id":       feedback.RunID,
		"submitted_at": feedback.SubmittedAt,
	})
}

// OnboardApplication registers a new application scope.
func (h *Handler) OnboardApplication(c *gin.Context) {
	var req OnboardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg, err := h.apps.Onboard(c.Request.Context(), req.ToConfig())
	if err != nil {
		h.logger.Error("onboarding failed",
			slog.String("application", req.ApplicationName), slog.Any("error", err))
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, toApplicationResponse(cfg))
}

// ListApplications lists the registry, optionally for one line of business.
func (h *Handler) ListApplications(c *gin.Context) {
	var (
		configs []models.AppConfig
		err     error
	)
	if lob := c.Param("lob"); lob != "" {
		configs, err = h.apps.ListByLob(c.Request.Context(), lob)
	} else {
		configs, err = h.apps.List(c.Request.Context())
	}
	if err != nil {
		h.logger.Error("application listing failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registry could not be read"})
		return
	}
	out := make([]ApplicationResponse, 0, len(configs))
	for _, cfg := range configs {
		out = append(out, toApplicationResponse(cfg))
	}
	c.JSON(http.StatusOK, gin.H{"applications": out})
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(h.started).String(),
	})
}
