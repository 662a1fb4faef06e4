package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/stwalsh4118/appraisal/internal/models"
)

// AnalysisRepository persists appeal analyses and their comparable selections.
type AnalysisRepository interface {
	// Migrate creates or updates the analysis tables.
	Migrate(ctx context.Context) error

	// Create inserts an analysis together with its selections.
	Create(ctx context.Context, analysis *models.Analysis) error

	// FindByID returns the analysis with selections ordered by rank.
	// Returns nil, nil if it does not exist.
	FindByID(ctx context.Context, id string) (*models.Analysis, error)

	// FindSelection returns one selection of an analysis, or nil, nil.
	FindSelection(ctx context.Context, analysisID string, selectionID uint) (*models.ComparableSelection, error)

	// UpdateSelection saves every column of an existing selection.
	UpdateSelection(ctx context.Context, selection *models.ComparableSelection) error

	// Delete removes an analysis and its selections. It reports whether the
	// analysis existed.
	Delete(ctx context.Context, id string) (bool, error)
}

type analysisRepository struct {
	db *gorm.DB
}

// NewAnalysisRepository creates a gorm-backed AnalysisRepository.
func NewAnalysisRepository(db *gorm.DB) AnalysisRepository {
	return &analysisRepository{db: db}
}

func (r *analysisRepository) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&models.Analysis{}, &models.ComparableSelection{}); err != nil {
		return fmt.Errorf("failed to migrate analysis tables: %w", err)
	}
	return nil
}

func (r *analysisRepository) Create(ctx context.Context, analysis *models.Analysis) error {
	if err := r.db.WithContext(ctx).Create(analysis).Error; err != nil {
		return fmt.Errorf("failed to create analysis %s: %w", analysis.ID, err)
	}
	return nil
}

func (r *analysisRepository) FindByID(ctx context.Context, id string) (*models.Analysis, error) {
	var analysis models.Analysis
	err := r.db.WithContext(ctx).
		Preload("Selections", func(db *gorm.DB) *gorm.DB {
			return db.Order("selection_rank ASC, id ASC")
		}).
		First(&analysis, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load analysis %s: %w", id, err)
	}
	return &analysis, nil
}

func (r *analysisRepository) FindSelection(ctx context.Context, analysisID string, selectionID uint) (*models.ComparableSelection, error) {
	var sel models.ComparableSelection
	err := r.db.WithContext(ctx).
		Where("analysis_id = ? AND id = ?", analysisID, selectionID).
		First(&sel).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load selection %d of analysis %s: %w", selectionID, analysisID, err)
	}
	return &sel, nil
}

func (r *analysisRepository) UpdateSelection(ctx context.Context, selection *models.ComparableSelection) error {
	if selection.ID == 0 {
		return fmt.Errorf("selection has no id")
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(selection).Error; err != nil {
			return fmt.Errorf("failed to update selection %d: %w", selection.ID, err)
		}
		err := tx.Model(&models.Analysis{}).
			Where("id = ?", selection.AnalysisID).
			Update("updated_at", time.Now().UTC()).Error
		if err != nil {
			return fmt.Errorf("failed to touch analysis %s: %w", selection.AnalysisID, err)
		}
		return nil
	})
}

func (r *analysisRepository) Delete(ctx context.Context, id string) (bool, error) {
	var found bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("analysis_id = ?", id).Delete(&models.ComparableSelection{}).Error; err != nil {
			return fmt.Errorf("failed to delete selections of analysis %s: %w", id, err)
		}
		res := tx.Where("id = ?", id).Delete(&models.Analysis{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete analysis %s: %w", id, res.Error)
		}
		found = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}
