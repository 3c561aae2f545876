package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/mailtide/mailtide/utils"
	"gorm.io/gorm"
)

// TriggerFiring represents one deferred execution owed to a trigger schedule
// after a domain event matched one of its rules. Firings are durable: they
// survive a process restart and are drained by the poller once fire_at has
// passed. The unique (schedule_id, event_id) pair guarantees at most one
// firing per schedule per event occurrence no matter how many rules matched.
type TriggerFiring struct {
	ID           uint         `gorm:"primaryKey" json:"id"`
	ScheduleID   uint         `gorm:"not null;uniqueIndex:uk_trigger_firings_schedule_event,priority:1;index:idx_trigger_firings_schedule_id" json:"schedule_id"`
	EventID      uuid.UUID    `gorm:"type:uuid;not null;uniqueIndex:uk_trigger_firings_schedule_event,priority:2" json:"event_id"`
	Event        TriggerEvent `gorm:"type:varchar(40);not null" json:"event"`
	SubscriberID uint         `gorm:"not null" json:"subscriber_id"`
	FireAt       time.Time    `gorm:"not null;index:idx_trigger_firings_fire_at" json:"fire_at"`
	ExecutedAt   *time.Time   `json:"executed_at,omitempty"`
	Attempts     int          `gorm:"not null;default:0" json:"attempts"`
	Error        *string      `gorm:"type:text" json:"error,omitempty"`
	CreatedAt    time.Time    `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt    *time.Time   `json:"updated_at,omitempty"`

	// Relations
	Schedule *CampaignSchedule `gorm:"foreignKey:ScheduleID;references:ID" json:"schedule,omitempty"`
}

// TableName returns the table name for the model
func (TriggerFiring) TableName() string {
	return "trigger_firings"
}

// BeforeCreate is called before creating a new record
func (f *TriggerFiring) BeforeCreate(tx *gorm.DB) error {
	if f.EventID == uuid.Nil {
		f.EventID = uuid.New()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = utils.UTCNow()
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (f *TriggerFiring) BeforeUpdate(tx *gorm.DB) error {
	now := utils.UTCNow()
	f.UpdatedAt = &now
	return nil
}

// Executed checks if the firing has already run
func (f *TriggerFiring) Executed() bool {
	return f.ExecutedAt != nil
}

// Due checks if the firing is ready to run at the given instant
func (f *TriggerFiring) Due(now time.Time) bool {
	return !f.Executed() && !f.FireAt.After(now)
}

// TriggerFiringFilter represents filter criteria for trigger firings
type TriggerFiringFilter struct {
	ID         *uint         `json:"id,omitempty"`
	ScheduleID *uint         `json:"schedule_id,omitempty"`
	EventID    *uuid.UUID    `json:"event_id,omitempty"`
	Event      *TriggerEvent `json:"event,omitempty"`
	Executed   *bool         `json:"executed,omitempty"`
	FireBefore *time.Time    `json:"fire_before,omitempty"`
}
