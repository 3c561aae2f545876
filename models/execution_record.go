package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/mailtide/mailtide/utils"
	"gorm.io/gorm"
)

// ExecutionStatus represents the outcome of a single schedule execution
type ExecutionStatus string

const (
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusFailed  ExecutionStatus = "failed"
	ExecutionStatusPartial ExecutionStatus = "partial"
)

// String returns the string representation of the status
func (s ExecutionStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionStatusSuccess, ExecutionStatusFailed, ExecutionStatusPartial:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for ExecutionStatus
func (s *ExecutionStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = ExecutionStatus(v)
	case []byte:
		*s = ExecutionStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into ExecutionStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for ExecutionStatus
func (s ExecutionStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid ExecutionStatus: %s", s)
	}
	return string(s), nil
}

// ExecutionRecord represents one entry of a schedule's append-only execution
// history. Rows are inserted by RecordExecution and never updated or deleted.
type ExecutionRecord struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	ScheduleID     uint            `gorm:"not null;index:idx_schedule_executions_schedule_id" json:"schedule_id"`
	ExecutedAt     time.Time       `gorm:"not null;index:idx_schedule_executions_executed_at" json:"executed_at"`
	Status         ExecutionStatus `gorm:"type:varchar(20);not null" json:"status"`
	RecipientCount int             `gorm:"not null;default:0" json:"recipient_count"`
	SuccessCount   int             `gorm:"not null;default:0" json:"success_count"`
	FailureCount   int             `gorm:"not null;default:0" json:"failure_count"`
	ErrorMessages  pq.StringArray  `gorm:"type:text[]" json:"error_messages,omitempty"`
	NextExecution  *time.Time      `json:"next_execution,omitempty"`
	CreatedAt      time.Time       `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`

	// Relations
	Schedule *CampaignSchedule `gorm:"foreignKey:ScheduleID;references:ID" json:"schedule,omitempty"`
}

// TableName returns the table name for the model
func (ExecutionRecord) TableName() string {
	return "schedule_executions"
}

// BeforeCreate is called before creating a new record
func (r *ExecutionRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ExecutedAt.IsZero() {
		r.ExecutedAt = utils.UTCNow()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = utils.UTCNow()
	}
	return nil
}

// ExecutionRecordFilter represents filter criteria for execution records
type ExecutionRecordFilter struct {
	ID             *uint            `json:"id,omitempty"`
	ScheduleID     *uint            `json:"schedule_id,omitempty"`
	Status         *ExecutionStatus `json:"status,omitempty"`
	ExecutedAfter  *time.Time       `json:"executed_after,omitempty"`
	ExecutedBefore *time.Time       `json:"executed_before,omitempty"`
}
