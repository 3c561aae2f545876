package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mailtide/mailtide/models"
	"github.com/mailtide/mailtide/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TriggerFiringRepositoryImpl implements TriggerFiringRepository
type TriggerFiringRepositoryImpl struct {
	*BaseRepository[models.TriggerFiring, models.TriggerFiringFilter]
}

func NewTriggerFiringRepository(db *gorm.DB) TriggerFiringRepository {
	return &TriggerFiringRepositoryImpl{BaseRepository: NewBaseRepository[models.TriggerFiring, models.TriggerFiringFilter](db)}
}

func (r *TriggerFiringRepositoryImpl) ByID(ctx context.Context, id uint) (*models.TriggerFiring, error) {
	db := r.getDB(ctx)
	var row models.TriggerFiring
	if err := db.Last(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// Enqueue inserts the firing, or silently skips it when one already exists
// for the same (schedule_id, event_id). The skip is what enforces the
// once-per-schedule-per-event-occurrence policy even when several rules of
// one schedule matched the event.
func (r *TriggerFiringRepositoryImpl) Enqueue(ctx context.Context, firing *models.TriggerFiring) (bool, error) {
	db := r.getDB(ctx)
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "schedule_id"}, {Name: "event_id"}},
		DoNothing: true,
	}).Create(firing)
	if res.Error != nil {
		return false, fmt.Errorf("failed to enqueue trigger firing: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListDue returns unexecuted firings due at 'now' with attempts below the cap
func (r *TriggerFiringRepositoryImpl) ListDue(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*models.TriggerFiring, error) {
	if limit <= 0 {
		limit = 100
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	db := r.getDB(ctx)
	var rows []*models.TriggerFiring
	if err := db.Where("fire_at <= ? AND executed_at IS NULL AND attempts < ?", now, maxAttempts).
		Order("fire_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list due trigger firings: %w", err)
	}
	return rows, nil
}

func (r *TriggerFiringRepositoryImpl) MarkExecuted(ctx context.Context, id uint, at time.Time) error {
	db := r.getDB(ctx)
	res := db.Model(&models.TriggerFiring{}).
		Where("id = ?", id).
		Updates(map[string]any{"executed_at": at, "updated_at": at})
	if res.Error != nil {
		return fmt.Errorf("failed to mark trigger firing executed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("trigger firing %d not found", id)
	}
	return nil
}

func (r *TriggerFiringRepositoryImpl) MarkFailed(ctx context.Context, id uint, message string) error {
	db := r.getDB(ctx)
	res := db.Model(&models.TriggerFiring{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"error":      message,
			"updated_at": utils.UTCNow(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark trigger firing failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("trigger firing %d not found", id)
	}
	return nil
}

func (r *TriggerFiringRepositoryImpl) applyFilter(db *gorm.DB, f models.TriggerFiringFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.ScheduleID != nil {
		db = db.Where("schedule_id = ?", *f.ScheduleID)
	}
	if f.EventID != nil {
		db = db.Where("event_id = ?", *f.EventID)
	}
	if f.Event != nil {
		db = db.Where("event = ?", *f.Event)
	}
	if f.Executed != nil {
		if *f.Executed {
			db = db.Where("executed_at IS NOT NULL")
		} else {
			db = db.Where("executed_at IS NULL")
		}
	}
	if f.FireBefore != nil {
		db = db.Where("fire_at <= ?", *f.FireBefore)
	}
	return db
}

func (r *TriggerFiringRepositoryImpl) ByFilter(ctx context.Context, filter models.TriggerFiringFilter, orderBy string, limit, offset int) ([]*models.TriggerFiring, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.TriggerFiring{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.TriggerFiring
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to find trigger firings by filter: %w", err)
	}
	return rows, nil
}

func (r *TriggerFiringRepositoryImpl) Count(ctx context.Context, filter models.TriggerFiringFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.TriggerFiring{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *TriggerFiringRepositoryImpl) Exists(ctx context.Context, filter models.TriggerFiringFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
