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

// AppConfigStore reads and writes the lob_applications registry.
type AppConfigStore struct {
	db *gorm.DB
}

// NewAppConfigStore wraps the shared gorm handle.
func NewAppConfigStore(db *gorm.DB) *AppConfigStore {
	return &AppConfigStore{db: db}
}

// FindByScope loads the configuration governing an (application, environment)
// pair, narrowed to the line of business when the event names one — the
// registry is unique on (lob, application_name, environment) and two lobs
// may onboard applications with the same name. A missing row is
// utils.ErrConfigNotFound: the event's application is not onboarded.
func (s *AppConfigStore) FindByScope(ctx context.Context, lob string, scope models.Scope) (models.AppConfig, error) {
	query := s.db.WithContext(ctx).
		Where("application_name = ? AND environment = ?", scope.Application, scope.Environment)
	if lob != "" {
		query = query.Where("lob = ?", lob)
	}

	var row lobApplicationRow
	err := query.First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.AppConfig{}, fmt.Errorf("scope %s: %w", scope.Key(), utils.ErrConfigNotFound)
		}
		return models.AppConfig{}, fmt.Errorf("load app config: %w", err)
	}
	return row.toModel(), nil
}

// FindByID loads a configuration by its registry identifier.
func (s *AppConfigStore) FindByID(ctx context.Context, lobAppID int64) (models.AppConfig, error) {
	var row lobApplicationRow
	err := s.db.WithContext(ctx).First(&row, "lob_app_id = ?", lobAppID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.AppConfig{}, fmt.Errorf("lob_app_id %d: %w", lobAppID, utils.ErrConfigNotFound)
		}
		return models.AppConfig{}, fmt.Errorf("load app config: %w", err)
	}
	return row.toModel(), nil
}

// List returns all onboarded applications ordered by registration.
func (s *AppConfigStore) List(ctx context.Context) ([]models.AppConfig, error) {
	var rows []lobApplicationRow
	if err := s.db.WithContext(ctx).Order("lob_app_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list app configs: %w", err)
	}
	configs := make([]models.AppConfig, 0, len(rows))
	for _, row := range rows {
		configs = append(configs, row.toModel())
	}
	return configs, nil
}

// ListByLob returns the onboarded applications of one line of business.
func (s *AppConfigStore) ListByLob(ctx context.Context, lob string) ([]models.AppConfig, error) {
	var rows []lobApplicationRow
	if err := s.db.WithContext(ctx).Order("lob_app_id").Find(&rows, "lob = ?", lob).Error; err != nil {
		return nil, fmt.Errorf("list app configs for lob %s: %w", lob, err)
	}
	configs := make([]models.AppConfig, 0, len(rows))
	for _, row := range rows {
		configs = append(configs, row.toModel())
	}
	return configs, nil
}

// Onboard registers a new application scope. The scope must not already be
// onboarded; callers get the assigned identifier back on the config.
func (s *AppConfigStore) Onboard(ctx context.Context, cfg models.AppConfig) (models.AppConfig, error) {
	now := time.Now().UTC()
	cfg.CreatedAt, cfg.UpdatedAt = now, now

	row := fromAppConfig(cfg)
	row.LobAppID = 0
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return models.AppConfig{}, fmt.Errorf("onboard %s: %w", cfg.Scope().Key(), err)
	}
	return row.toModel(), nil
}
