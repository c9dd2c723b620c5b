package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/triagestack/triage-engine/internal/models"
	"github.com/triagestack/triage-engine/internal/utils"
)

// FeedbackStore persists user verdicts on run outcomes. Rows are append-only.
type FeedbackStore struct {
	db *gorm.DB
}

// NewFeedbackStore wraps the shared gorm handle.
func NewFeedbackStore(db *gorm.DB) *FeedbackStore {
	return &FeedbackStore{db: db}
}

// Append attaches feedback to a run. The run's existence is checked inside
// the same transaction as the insert so feedback can never reference a run
// that was never created.
func (s *FeedbackStore) Append(ctx context.Context, runID string, helpful bool, comment string) (models.Feedback, error) {
	row := runFeedbackRow{
		FeedbackID:  uuid.NewString(),
		RunID:       runID,
		Helpful:     helpful,
		Comment:     comment,
		SubmittedAt: time.Now().UTC(),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var run triageRunRow
		if err := tx.Select("run_id").First(&run, "run_id = ?", runID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("run %s: %w", runID, utils.ErrNotFound)
			}
			return fmt.Errorf("check run %s: %w", runID, err)
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return models.Feedback{}, err
	}
	return row.toModel(), nil
}

// ListByRun returns all feedback on a run, oldest first.
func (s *FeedbackStore) ListByRun(ctx context.Context, runID string) ([]models.Feedback, error) {
	var rows []runFeedbackRow
	err := s.db.WithContext(ctx).
		Order("submitted_at").
		Find(&rows, "run_id = ?", runID).Error
	if err != nil {
		return nil, fmt.Errorf("list feedback for run %s: %w", runID, err)
	}
	feedback := make([]models.Feedback, 0, len(rows))
	for _, row := range rows {
		feedback = append(feedback, row.toModel())
	}
	return feedback, nil
}
