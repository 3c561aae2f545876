package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/mailtide/mailtide/models"
	"gorm.io/gorm"
)

// ExecutionRecordRepositoryImpl implements ExecutionRecordRepository.
// Records are append-only: there is deliberately no update or delete here.
type ExecutionRecordRepositoryImpl struct {
	*BaseRepository[models.ExecutionRecord, models.ExecutionRecordFilter]
}

func NewExecutionRecordRepository(db *gorm.DB) ExecutionRecordRepository {
	return &ExecutionRecordRepositoryImpl{BaseRepository: NewBaseRepository[models.ExecutionRecord, models.ExecutionRecordFilter](db)}
}

func (r *ExecutionRecordRepositoryImpl) ListBySchedule(ctx context.Context, scheduleID uint, limit, offset int) ([]*models.ExecutionRecord, error) {
	return r.ByFilter(ctx, models.ExecutionRecordFilter{ScheduleID: &scheduleID}, "executed_at ASC, id ASC", limit, offset)
}

func (r *ExecutionRecordRepositoryImpl) CountBySchedule(ctx context.Context, scheduleID uint) (int64, error) {
	return r.Count(ctx, models.ExecutionRecordFilter{ScheduleID: &scheduleID})
}

func (r *ExecutionRecordRepositoryImpl) LatestBySchedule(ctx context.Context, scheduleID uint) (*models.ExecutionRecord, error) {
	db := r.getDB(ctx)
	var row models.ExecutionRecord
	err := db.Where("schedule_id = ?", scheduleID).
		Order("executed_at DESC, id DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find latest execution record: %w", err)
	}
	return &row, nil
}

func (r *ExecutionRecordRepositoryImpl) applyFilter(db *gorm.DB, f models.ExecutionRecordFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.ScheduleID != nil {
		db = db.Where("schedule_id = ?", *f.ScheduleID)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	if f.ExecutedAfter != nil {
		db = db.Where("executed_at >= ?", *f.ExecutedAfter)
	}
	if f.ExecutedBefore != nil {
		db = db.Where("executed_at < ?", *f.ExecutedBefore)
	}
	return db
}

func (r *ExecutionRecordRepositoryImpl) ByFilter(ctx context.Context, filter models.ExecutionRecordFilter, orderBy string, limit, offset int) ([]*models.ExecutionRecord, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.ExecutionRecord{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.ExecutionRecord
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to find execution records by filter: %w", err)
	}
	return rows, nil
}

func (r *ExecutionRecordRepositoryImpl) Count(ctx context.Context, filter models.ExecutionRecordFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.ExecutionRecord{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ExecutionRecordRepositoryImpl) Exists(ctx context.Context, filter models.ExecutionRecordFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
