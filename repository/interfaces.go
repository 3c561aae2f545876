// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/mailtide/mailtide/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// CampaignScheduleRepository defines operations for campaign schedules
type CampaignScheduleRepository interface {
	Repository[models.CampaignSchedule, models.CampaignScheduleFilter]
	ByUUID(ctx context.Context, uuid string) (*models.CampaignSchedule, error)
	// ListDue returns active non-trigger schedules whose scheduled date or
	// next execution has passed, ordered oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.CampaignSchedule, error)
	// ListByTriggerEvent returns the customer's active running trigger
	// schedules with at least one rule reacting to the given event.
	ListByTriggerEvent(ctx context.Context, customerID uint, event models.TriggerEvent) ([]*models.CampaignSchedule, error)
	// ControlFlags reads only the status and kill switch of a schedule, for
	// cheap cooperative cancellation checks mid-execution.
	ControlFlags(ctx context.Context, id uint) (models.ScheduleStatus, bool, error)
	// RecordExecution appends one execution record and folds its counts into
	// the schedule's stats columns with atomic increments, optionally moving
	// the schedule to a new status, all in one transaction.
	RecordExecution(ctx context.Context, scheduleID uint, record *models.ExecutionRecord, newStatus *models.ScheduleStatus) error
	UpdateStatus(ctx context.Context, id uint, status models.ScheduleStatus) error
	Update(ctx context.Context, schedule *models.CampaignSchedule) error
}

// ExecutionRecordRepository defines operations for the append-only execution history
type ExecutionRecordRepository interface {
	Repository[models.ExecutionRecord, models.ExecutionRecordFilter]
	ListBySchedule(ctx context.Context, scheduleID uint, limit, offset int) ([]*models.ExecutionRecord, error)
	CountBySchedule(ctx context.Context, scheduleID uint) (int64, error)
	LatestBySchedule(ctx context.Context, scheduleID uint) (*models.ExecutionRecord, error)
}

// TriggerFiringRepository defines operations for the durable trigger fire-at queue
type TriggerFiringRepository interface {
	Repository[models.TriggerFiring, models.TriggerFiringFilter]
	// Enqueue inserts a firing unless one already exists for the same
	// schedule and event occurrence. It reports whether a row was inserted.
	Enqueue(ctx context.Context, firing *models.TriggerFiring) (bool, error)
	// ListDue returns unexecuted firings whose fire_at has passed and whose
	// attempts are below the given cap, ordered oldest first.
	ListDue(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*models.TriggerFiring, error)
	MarkExecuted(ctx context.Context, id uint, at time.Time) error
	// MarkFailed increments the attempt counter and stores the error so the
	// firing is retried on a later tick until the attempt cap is reached.
	MarkFailed(ctx context.Context, id uint, message string) error
}

// DripProgressRepository defines operations for per-recipient drip cursors
type DripProgressRepository interface {
	Repository[models.DripProgress, models.DripProgressFilter]
	ListBySchedule(ctx context.Context, scheduleID uint) ([]*models.DripProgress, error)
	// Advance moves a cursor to the next step, stamping when the step was
	// entered so the next delay counts from there.
	Advance(ctx context.Context, id uint, nextStep int, at time.Time) error
	Complete(ctx context.Context, id uint, at time.Time) error
	CountOpen(ctx context.Context, scheduleID uint) (int64, error)
}

// SubscriberRepository defines operations for subscribers
type SubscriberRepository interface {
	Repository[models.Subscriber, models.SubscriberFilter]
	ByEmail(ctx context.Context, customerID uint, email string) (*models.Subscriber, error)
	// ListRecipients runs the recipient query: sendable subscribers of the
	// customer, narrowed by group, tag and compiled segment membership
	// according to the targeting's match policy. Results are ordered by id so
	// send order is deterministic.
	ListRecipients(ctx context.Context, customerID uint, targeting models.Targeting, segments []models.SegmentPredicate) ([]*models.Subscriber, error)
}

// SegmentRepository defines operations for stored segments
type SegmentRepository interface {
	Repository[models.Segment, models.SegmentFilter]
	ListByIDs(ctx context.Context, ids []uint) ([]*models.Segment, error)
}

// CampaignRepository defines operations for campaign content
type CampaignRepository interface {
	Repository[models.Campaign, models.CampaignFilter]
	ByUUID(ctx context.Context, uuid string) (*models.Campaign, error)
}

// TemplateRepository defines operations for content templates
type TemplateRepository interface {
	Repository[models.Template, models.TemplateFilter]
	ByRef(ctx context.Context, customerID uint, ref string) (*models.Template, error)
}

