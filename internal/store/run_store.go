package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/triagestack/triage-engine/internal/models"
	"github.com/triagestack/triage-engine/internal/utils"
)

// RunStore persists run records. Records are inserted once at ingestion and
// updated through explicit lifecycle transitions; nothing is ever deleted.
type RunStore struct {
	db *gorm.DB
}

// NewRunStore wraps the shared gorm handle.
func NewRunStore(db *gorm.DB) *RunStore {
	return &RunStore{db: db}
}

// Insert persists a freshly created run record.
func (s *RunStore) Insert(ctx context.Context, record models.RunRecord) error {
	now := time.Now().UTC()
	record.CreatedAt, record.UpdatedAt = now, now
	if record.OccurrenceCount == 0 {
		record.OccurrenceCount = 1
	}

	row, err := fromRunRecord(record)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", record.RunID, err)
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert run %s: %w", record.RunID, err)
	}
	return nil
}

// GetByID loads one run record.
func (s *RunStore) GetByID(ctx context.Context, runID string) (models.RunRecord, error) {
	var row triageRunRow
	err := s.db.WithContext(ctx).First(&row, "run_id = ?", runID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.RunRecord{}, fmt.Errorf("run %s: %w", runID, utils.ErrNotFound)
		}
		return models.RunRecord{}, fmt.Errorf("load run %s: %w", runID, err)
	}
	record, err := row.toModel()
	if err != nil {
		return models.RunRecord{}, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return record, nil
}

// FindByFingerprint returns the most recent run for a similarity fingerprint,
// used to attribute duplicate events to their original run.
func (s *RunStore) FindByFingerprint(ctx context.Context, fingerprintID string) (models.RunRecord, error) {
	var row triageRunRow
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		First(&row, "fingerprint_id = ?", fingerprintID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.RunRecord{}, fmt.Errorf("fingerprint %s: %w", fingerprintID, utils.ErrNotFound)
		}
		return models.RunRecord{}, fmt.Errorf("load run by fingerprint: %w", err)
	}
	record, err := row.toModel()
	if err != nil {
		return models.RunRecord{}, fmt.Errorf("decode run %s: %w", row.RunID, err)
	}
	return record, nil
}

// Transition moves a run between lifecycle states. Transitions out of a
// terminal state are rejected; the update is conditional on the expected
// current state so concurrent transitions cannot race past each other.
func (s *RunStore) Transition(ctx context.Context, runID string, from, to models.RunState) error {
	if from.Terminal() {
		return fmt.Errorf("run %s: state %s is terminal", runID, from)
	}
	result := s.db.WithContext(ctx).
		Model(&triageRunRow{}).
		Where("run_id = ? AND state = ?", runID, string(from)).
		Updates(map[string]interface{}{
			"state":      string(to),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("transition run %s: %w", runID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("run %s not in state %s: %w", runID, from, utils.ErrNotFound)
	}
	return nil
}

// Complete records the reasoning output and moves the run to its terminal
// state in one write.
func (s *RunStore) Complete(ctx context.Context, runID string, record models.RunRecord) error {
	if !record.State.Terminal() {
		return fmt.Errorf("run %s: completion state %s is not terminal", runID, record.State)
	}
	row, err := fromRunRecord(record)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", runID, err)
	}
	result := s.db.WithContext(ctx).
		Model(&triageRunRow{}).
		Where("run_id = ?", runID).
		Updates(map[string]interface{}{
			"state":            row.State,
			"prompt":           row.Prompt,
			"transcript":       row.TranscriptJSON,
			"resolution":       row.Resolution,
			"confidence":       row.Confidence,
			"pull_request_url": row.PullRequestURL,
			"abort_reason":     row.AbortReason,
			"updated_at":       time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("complete run %s: %w", runID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("run %s: %w", runID, utils.ErrNotFound)
	}
	return nil
}

// IncrementOccurrence bumps the duplicate counter on the run owning a
// fingerprint.
func (s *RunStore) IncrementOccurrence(ctx context.Context, runID string) error {
	result := s.db.WithContext(ctx).
		Model(&triageRunRow{}).
		Where("run_id = ?", runID).
		Updates(map[string]interface{}{
			"occurrence_count": gorm.Expr("occurrence_count + 1"),
			"updated_at":       time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("increment occurrence on run %s: %w", runID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("run %s: %w", runID, utils.ErrNotFound)
	}
	return nil
}
