package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/snapvalue/snapvalue/internal/domain"
)

type AppraisalRepository struct {
	db *gorm.DB
}

func NewAppraisalRepository(db *gorm.DB) *AppraisalRepository {
	return &AppraisalRepository{db: db}
}

func (r *AppraisalRepository) Create(ctx context.Context, appraisal *domain.Appraisal) error {
	return r.db.WithContext(ctx).Create(appraisal).Error
}

func (r *AppraisalRepository) FindByID(ctx context.Context, id, userID string) (*domain.Appraisal, error) {
	var appraisal domain.Appraisal
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&appraisal).Error
	if err != nil {
		return nil, err
	}
	return &appraisal, nil
}

// ListByUser returns the user's appraisals newest first, optionally filtered
// to saved ones.
func (r *AppraisalRepository) ListByUser(ctx context.Context, userID string, page, pageSize int, savedOnly bool) ([]*domain.Appraisal, int, error) {
	query := r.db.WithContext(ctx).Model(&domain.Appraisal{}).Where("user_id = ?", userID)
	if savedOnly {
		query = query.Where("saved = ?", true)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var appraisals []*domain.Appraisal
	offset := (page - 1) * pageSize
	err := query.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&appraisals).Error
	if err != nil {
		return nil, 0, err
	}
	return appraisals, int(total), nil
}

func (r *AppraisalRepository) SetSaved(ctx context.Context, id, userID string, saved bool) error {
	result := r.db.WithContext(ctx).Model(&domain.Appraisal{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("saved", saved)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *AppraisalRepository) Delete(ctx context.Context, id, userID string) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&domain.Appraisal{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *AppraisalRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Appraisal{}).Count(&count).Error
	return count, err
}

// DailyCount is one day's appraisal volume for the admin dashboard.
type DailyCount struct {
	Day   time.Time `json:"day"`
	Count int64     `json:"count"`
}

func (r *AppraisalRepository) CountPerDay(ctx context.Context, since time.Time) ([]DailyCount, error) {
	var rows []DailyCount
	err := r.db.WithContext(ctx).Model(&domain.Appraisal{}).
		Select("date_trunc('day', created_at) AS day, count(*) AS count").
		Where("created_at >= ?", since).
		Group("day").
		Order("day").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
