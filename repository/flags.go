package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/repository/models"
	"gorm.io/gorm"
)

// CreateFlag records a divergence for later reconciliation
func (r *Repository) CreateFlag(ctx context.Context, flag *models.ReconciliationFlag) *RepositoryError {
	if flag.Status == "" {
		flag.Status = models.FlagOpen
	}
	if err := r.db.WithContext(ctx).Create(flag).Error; err != nil {
		return &RepositoryError{
			Code:    "CREATE_FAILED",
			Message: "Failed to create reconciliation flag",
			Detail:  err.Error(),
		}
	}
	return nil
}

// ListFlags returns flags with the given status (all when empty), oldest first
func (r *Repository) ListFlags(ctx context.Context, status string, limit int) ([]models.ReconciliationFlag, *RepositoryError) {
	var flags []models.ReconciliationFlag
	query := r.db.WithContext(ctx).Order("id ASC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&flags).Error; err != nil {
		return nil, &RepositoryError{
			Code:    "DATABASE_ERROR",
			Message: "Failed to query reconciliation flags",
			Detail:  err.Error(),
		}
	}
	return flags, nil
}

// ListRetryableFlags returns open flags with the fewest failed attempts
// first, so flags that keep failing cannot crowd out the rest of the queue
func (r *Repository) ListRetryableFlags(ctx context.Context, limit int) ([]models.ReconciliationFlag, *RepositoryError) {
	var flags []models.ReconciliationFlag
	query := r.db.WithContext(ctx).
		Where("status = ?", models.FlagOpen).
		Order("attempts ASC").Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&flags).Error; err != nil {
		return nil, &RepositoryError{
			Code:    "DATABASE_ERROR",
			Message: "Failed to query reconciliation flags",
			Detail:  err.Error(),
		}
	}
	return flags, nil
}

// CountOpenFlags returns the number of unresolved flags
func (r *Repository) CountOpenFlags(ctx context.Context) (int64, *RepositoryError) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ReconciliationFlag{}).
		Where("status = ?", models.FlagOpen).Count(&count).Error
	if err != nil {
		return 0, &RepositoryError{
			Code:    "DATABASE_ERROR",
			Message: "Failed to count reconciliation flags",
			Detail:  err.Error(),
		}
	}
	return count, nil
}

// ResolveFlag closes an open flag with the given resolution
func (r *Repository) ResolveFlag(ctx context.Context, flagID uint, resolution, detail string) *RepositoryError {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&models.ReconciliationFlag{}).
		Where("id = ? AND status = ?", flagID, models.FlagOpen).
		Updates(map[string]interface{}{
			"status":      models.FlagResolved,
			"resolution":  resolution,
			"detail":      detail,
			"resolved_at": now,
		})
	if res.Error != nil {
		return &RepositoryError{
			Code:    "UPDATE_FAILED",
			Message: "Failed to resolve reconciliation flag",
			Detail:  res.Error.Error(),
		}
	}
	if res.RowsAffected == 0 {
		return &RepositoryError{
			Code:    "NOT_FOUND",
			Message: "Open flag not found",
			Detail:  fmt.Sprintf("flag %d", flagID),
		}
	}
	return nil
}

// NoteFlag records a failed attempt on a flag that stays open. The
// original detail is kept.
func (r *Repository) NoteFlag(ctx context.Context, flagID uint, lastError string) *RepositoryError {
	res := r.db.WithContext(ctx).Model(&models.ReconciliationFlag{}).
		Where("id = ? AND status = ?", flagID, models.FlagOpen).
		Updates(map[string]interface{}{
			"attempts":     gorm.Expr("attempts + ?", 1),
			"last_error":   lastError,
			"attempted_at": time.Now(),
		})
	if res.Error != nil {
		return &RepositoryError{
			Code:    "UPDATE_FAILED",
			Message: "Failed to update reconciliation flag",
			Detail:  res.Error.Error(),
		}
	}
	if res.RowsAffected == 0 {
		return &RepositoryError{
			Code:    "NOT_FOUND",
			Message: "Open flag not found",
			Detail:  fmt.Sprintf("flag %d", flagID),
		}
	}
	return nil
}
