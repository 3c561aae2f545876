package models

import (
	"time"

	"github.com/mailtide/mailtide/utils"
	"gorm.io/gorm"
)

// DripProgress is the per-recipient cursor of a drip schedule. It records
// which step a subscriber is waiting for and since when, so step delays are
// enforced against the recipient's own entry time instead of being recomputed
// statelessly on every run. One cursor exists per (schedule, subscriber) and a
// completed cursor is never reopened.
type DripProgress struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	ScheduleID    uint       `gorm:"not null;uniqueIndex:uk_drip_progresses_schedule_subscriber,priority:1;index:idx_drip_progresses_schedule_id" json:"schedule_id"`
	SubscriberID  uint       `gorm:"not null;uniqueIndex:uk_drip_progresses_schedule_subscriber,priority:2" json:"subscriber_id"`
	StepIndex     int        `gorm:"not null;default:0" json:"step_index"`
	EnteredAt     time.Time  `gorm:"not null" json:"entered_at"`
	StepEnteredAt time.Time  `gorm:"not null" json:"step_entered_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`

	// Relations
	Schedule   *CampaignSchedule `gorm:"foreignKey:ScheduleID;references:ID" json:"schedule,omitempty"`
	Subscriber *Subscriber       `gorm:"foreignKey:SubscriberID;references:ID" json:"subscriber,omitempty"`
}

// TableName returns the table name for the model
func (DripProgress) TableName() string {
	return "drip_progresses"
}

// BeforeCreate is called before creating a new record
func (p *DripProgress) BeforeCreate(tx *gorm.DB) error {
	now := utils.UTCNow()
	if p.EnteredAt.IsZero() {
		p.EnteredAt = now
	}
	if p.StepEnteredAt.IsZero() {
		p.StepEnteredAt = p.EnteredAt
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (p *DripProgress) BeforeUpdate(tx *gorm.DB) error {
	now := utils.UTCNow()
	p.UpdatedAt = &now
	return nil
}

// Completed checks if the subscriber has finished the whole sequence
func (p *DripProgress) Completed() bool {
	return p.CompletedAt != nil
}

// StepDue checks if the cursor's current step has waited long enough. The
// step argument must be the sequence entry at the cursor's StepIndex.
func (p *DripProgress) StepDue(step DripStep, now time.Time) bool {
	if p.Completed() {
		return false
	}
	return !now.Before(p.StepEnteredAt.Add(step.Wait()))
}

// StepDueTime returns the instant the cursor's current step becomes due
func (p *DripProgress) StepDueTime(step DripStep) time.Time {
	return p.StepEnteredAt.Add(step.Wait())
}

// DripProgressFilter represents filter criteria for drip cursors
type DripProgressFilter struct {
	ID           *uint `json:"id,omitempty"`
	ScheduleID   *uint `json:"schedule_id,omitempty"`
	SubscriberID *uint `json:"subscriber_id,omitempty"`
	Completed    *bool `json:"completed,omitempty"`
}
