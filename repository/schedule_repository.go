package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mailtide/mailtide/models"
	"github.com/mailtide/mailtide/utils"
	"gorm.io/gorm"
)

// CampaignScheduleRepositoryImpl implements CampaignScheduleRepository
type CampaignScheduleRepositoryImpl struct {
	*BaseRepository[models.CampaignSchedule, models.CampaignScheduleFilter]
}

func NewCampaignScheduleRepository(db *gorm.DB) CampaignScheduleRepository {
	return &CampaignScheduleRepositoryImpl{BaseRepository: NewBaseRepository[models.CampaignSchedule, models.CampaignScheduleFilter](db)}
}

func (r *CampaignScheduleRepositoryImpl) ByID(ctx context.Context, id uint) (*models.CampaignSchedule, error) {
	db := r.getDB(ctx)
	var schedule models.CampaignSchedule
	if err := db.Last(&schedule, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &schedule, nil
}

func (r *CampaignScheduleRepositoryImpl) ByUUID(ctx context.Context, value string) (*models.CampaignSchedule, error) {
	uid, err := uuid.Parse(value)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule UUID: %w", err)
	}
	rows, err := r.ByFilter(ctx, models.CampaignScheduleFilter{UUID: &uid}, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *CampaignScheduleRepositoryImpl) applyFilter(db *gorm.DB, f models.CampaignScheduleFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.UUID != nil {
		db = db.Where("uuid = ?", *f.UUID)
	}
	if f.CustomerID != nil {
		db = db.Where("customer_id = ?", *f.CustomerID)
	}
	if f.CampaignID != nil {
		db = db.Where("campaign_id = ?", *f.CampaignID)
	}
	if f.ScheduleType != nil {
		db = db.Where("schedule_type = ?", *f.ScheduleType)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	if f.IsActive != nil {
		db = db.Where("is_active = ?", *f.IsActive)
	}
	if f.TriggerEvent != nil {
		db = db.Where("triggers @> ?::jsonb", fmt.Sprintf(`[{"event":%q}]`, string(*f.TriggerEvent)))
	}
	if f.ScheduledBefore != nil {
		db = db.Where("scheduled_date IS NOT NULL AND scheduled_date <= ?", *f.ScheduledBefore)
	}
	if f.NextExecutionBefore != nil {
		db = db.Where("stats_next_execution IS NOT NULL AND stats_next_execution <= ?", *f.NextExecutionBefore)
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at < ?", *f.CreatedBefore)
	}
	return db
}

func (r *CampaignScheduleRepositoryImpl) ByFilter(ctx context.Context, filter models.CampaignScheduleFilter, orderBy string, limit, offset int) ([]*models.CampaignSchedule, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.CampaignSchedule{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.CampaignSchedule
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to find campaign schedules by filter: %w", err)
	}
	return rows, nil
}

// ListDue returns active non-trigger schedules due at 'now': scheduled ones
// whose scheduled_date has passed and running ones whose stats_next_execution
// has passed.
func (r *CampaignScheduleRepositoryImpl) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.CampaignSchedule, error) {
	if limit <= 0 {
		limit = 100
	}
	db := r.getDB(ctx)

	due := db.
		Where("status = ? AND scheduled_date IS NOT NULL AND scheduled_date <= ?", models.ScheduleStatusScheduled, now).
		Or("status = ? AND stats_next_execution IS NOT NULL AND stats_next_execution <= ?", models.ScheduleStatusRunning, now)

	var rows []*models.CampaignSchedule
	err := db.Model(&models.CampaignSchedule{}).
		Where("is_active = ?", true).
		Where("schedule_type <> ?", models.ScheduleTypeTrigger).
		Where(due).
		Order("COALESCE(scheduled_date, stats_next_execution) ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due schedules: %w", err)
	}
	return rows, nil
}

// ListByTriggerEvent returns the customer's running, active trigger schedules
// with at least one rule for the given event, matched via JSONB containment.
func (r *CampaignScheduleRepositoryImpl) ListByTriggerEvent(ctx context.Context, customerID uint, event models.TriggerEvent) ([]*models.CampaignSchedule, error) {
	db := r.getDB(ctx)
	var rows []*models.CampaignSchedule
	err := db.
		Where("customer_id = ?", customerID).
		Where("schedule_type = ?", models.ScheduleTypeTrigger).
		Where("status = ?", models.ScheduleStatusRunning).
		Where("is_active = ?", true).
		Where("triggers @> ?::jsonb", fmt.Sprintf(`[{"event":%q}]`, string(event))).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules by trigger event: %w", err)
	}
	return rows, nil
}

// ControlFlags reads only status and is_active. A missing schedule reads as
// inactive so in-flight executions stop instead of erroring.
func (r *CampaignScheduleRepositoryImpl) ControlFlags(ctx context.Context, id uint) (models.ScheduleStatus, bool, error) {
	db := r.getDB(ctx)
	var row struct {
		Status   models.ScheduleStatus
		IsActive bool
	}
	err := db.Model(&models.CampaignSchedule{}).
		Select("status", "is_active").
		Where("id = ?", id).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read schedule control flags: %w", err)
	}
	return row.Status, row.IsActive, nil
}

// RecordExecution appends the execution record and folds its counts into the
// schedule row in one transaction. The stats columns are moved with SQL
// increments, never read-modify-write, so concurrent recordings for the same
// schedule cannot lose updates.
func (r *CampaignScheduleRepositoryImpl) RecordExecution(ctx context.Context, scheduleID uint, record *models.ExecutionRecord, newStatus *models.ScheduleStatus) error {
	if record == nil {
		return errors.New("execution record is required")
	}

	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
	}

	if shouldCommit {
		defer func() {
			if err != nil {
				db.Rollback()
			} else {
				db.Commit()
			}
		}()
	}

	record.ScheduleID = scheduleID
	if err = db.Create(record).Error; err != nil {
		err = fmt.Errorf("failed to append execution record: %w", err)
		return err
	}

	updates := map[string]any{
		"stats_total_executions": gorm.Expr("stats_total_executions + 1"),
		"stats_total_recipients": gorm.Expr("stats_total_recipients + ?", record.RecipientCount),
		"stats_total_sent":       gorm.Expr("stats_total_sent + ?", record.SuccessCount),
		"stats_last_executed":    record.ExecutedAt,
		"stats_next_execution":   record.NextExecution,
		"updated_at":             record.ExecutedAt,
	}
	if newStatus != nil {
		updates["status"] = *newStatus
	}

	res := db.Model(&models.CampaignSchedule{}).Where("id = ?", scheduleID).Updates(updates)
	if res.Error != nil {
		err = fmt.Errorf("failed to fold execution into schedule stats: %w", res.Error)
		return err
	}
	if res.RowsAffected == 0 {
		err = fmt.Errorf("schedule %d not found for stats update", scheduleID)
		return err
	}

	return nil
}

func (r *CampaignScheduleRepositoryImpl) UpdateStatus(ctx context.Context, id uint, status models.ScheduleStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid ScheduleStatus: %s", status)
	}
	db := r.getDB(ctx)
	res := db.Model(&models.CampaignSchedule{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": utils.UTCNow()})
	if res.Error != nil {
		return fmt.Errorf("failed to update schedule status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("schedule %d not found for status update", id)
	}
	return nil
}

func (r *CampaignScheduleRepositoryImpl) Update(ctx context.Context, schedule *models.CampaignSchedule) error {
	db := r.getDB(ctx)
	return db.Save(schedule).Error
}

func (r *CampaignScheduleRepositoryImpl) Count(ctx context.Context, filter models.CampaignScheduleFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.CampaignSchedule{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *CampaignScheduleRepositoryImpl) Exists(ctx context.Context, filter models.CampaignScheduleFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
