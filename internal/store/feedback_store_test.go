package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/gorm"

	"github.com/triagestack/triage-engine/internal/utils"
)

func TestFeedbackAppend(t *testing.T) {
	db, mock, raw := newMockDB(t)
	defer raw.Close()
	store := NewFeedbackStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT "run_id" FROM "triage_runs" WHERE run_id = \$1 ORDER BY .* LIMIT .*`).
		WithArgs("run-1", 1).
		WillReturnRows(sqlmock.NewRows([]string{"run_id"}).AddRow("run-1"))
	mock.ExpectExec(`INSERT INTO "run_feedback"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	feedback, err := store.Append(context.Background(), "run-1", true, "root cause matched the incident")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if feedback.FeedbackID == "" {
		t.Fatal("expected a feedback id")
	}
	if feedback.RunID != "run-1" || !feedback.Helpful {
		t.Fatalf("unexpected feedback: %+v", feedback)
	}
	expectationsMet(t, mock)
}

func TestFeedbackAppendUnknownRun(t *testing.T) {
	db, mock, raw := newMockDB(t)
	defer raw.Close()
	store := NewFeedbackStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT "run_id" FROM "triage_runs" WHERE run_id = \$1 ORDER BY .* LIMIT .*`).
		WithArgs("run-gone", 1).
		WillReturnError(gorm.ErrRecordNotFound)
	mock.ExpectRollback()

	if _, err := store.Append(context.Background(), "run-gone", false, ""); !errors.Is(err, utils.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestFeedbackListByRun(t *testing.T) {
	db, mock, raw := newMockDB(t)
	defer raw.Close()
	store := NewFeedbackStore(db)

	earlier := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	later := earlier.Add(time.Hour)
	mock.ExpectQuery(`SELECT \* FROM "run_feedback" WHERE run_id = \$1 ORDER BY submitted_at`).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"feedback_id", "run_id", "helpful", "comment", "submitted_at"}).
			AddRow("fb-1", "run-1", true, "spot on", earlier).
			AddRow("fb-2", "run-1", false, "missed the config change", later))

	feedback, err := store.ListByRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(feedback) != 2 || feedback[0].FeedbackID != "fb-1" || feedback[1].Helpful {
		t.Fatalf("unexpected feedback: %+v", feedback)
	}
	expectationsMet(t, mock)
}
