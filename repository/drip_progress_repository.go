package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/mailtide/mailtide/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DripProgressRepositoryImpl implements DripProgressRepository
type DripProgressRepositoryImpl struct {
	*BaseRepository[models.DripProgress, models.DripProgressFilter]
}

func NewDripProgressRepository(db *gorm.DB) DripProgressRepository {
	return &DripProgressRepositoryImpl{BaseRepository: NewBaseRepository[models.DripProgress, models.DripProgressFilter](db)}
}

// SaveBatch inserts cursors, skipping subscribers that already have one for
// the schedule. A recipient resolving into a drip schedule twice must keep
// its original cursor.
func (r *DripProgressRepositoryImpl) SaveBatch(ctx context.Context, cursors []*models.DripProgress) error {
	if len(cursors) == 0 {
		return nil
	}
	db := r.getDB(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "schedule_id"}, {Name: "subscriber_id"}},
		DoNothing: true,
	}).CreateInBatches(cursors, 100).Error
	if err != nil {
		return fmt.Errorf("failed to save drip cursors: %w", err)
	}
	return nil
}

func (r *DripProgressRepositoryImpl) ListBySchedule(ctx context.Context, scheduleID uint) ([]*models.DripProgress, error) {
	return r.ByFilter(ctx, models.DripProgressFilter{ScheduleID: &scheduleID}, "subscriber_id ASC", 0, 0)
}

func (r *DripProgressRepositoryImpl) Advance(ctx context.Context, id uint, nextStep int, at time.Time) error {
	db := r.getDB(ctx)
	res := db.Model(&models.DripProgress{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"step_index":      nextStep,
			"step_entered_at": at,
			"updated_at":      at,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to advance drip cursor: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("drip cursor %d not found", id)
	}
	return nil
}

func (r *DripProgressRepositoryImpl) Complete(ctx context.Context, id uint, at time.Time) error {
	db := r.getDB(ctx)
	res := db.Model(&models.DripProgress{}).
		Where("id = ?", id).
		Updates(map[string]any{"completed_at": at, "updated_at": at})
	if res.Error != nil {
		return fmt.Errorf("failed to complete drip cursor: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("drip cursor %d not found", id)
	}
	return nil
}

func (r *DripProgressRepositoryImpl) CountOpen(ctx context.Context, scheduleID uint) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	err := db.Model(&models.DripProgress{}).
		Where("schedule_id = ? AND completed_at IS NULL", scheduleID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count open drip cursors: %w", err)
	}
	return count, nil
}

func (r *DripProgressRepositoryImpl) applyFilter(db *gorm.DB, f models.DripProgressFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.ScheduleID != nil {
		db = db.Where("schedule_id = ?", *f.ScheduleID)
	}
	if f.SubscriberID != nil {
		db = db.Where("subscriber_id = ?", *f.SubscriberID)
	}
	if f.Completed != nil {
		if *f.Completed {
			db = db.Where("completed_at IS NOT NULL")
		} else {
			db = db.Where("completed_at IS NULL")
		}
	}
	return db
}

func (r *DripProgressRepositoryImpl) ByFilter(ctx context.Context, filter models.DripProgressFilter, orderBy string, limit, offset int) ([]*models.DripProgress, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.DripProgress{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.DripProgress
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to find drip cursors by filter: %w", err)
	}
	return rows, nil
}

func (r *DripProgressRepositoryImpl) Count(ctx context.Context, filter models.DripProgressFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.DripProgress{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *DripProgressRepositoryImpl) Exists(ctx context.Context, filter models.DripProgressFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
