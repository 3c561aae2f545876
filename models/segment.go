package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mailtide/mailtide/utils"
	"gorm.io/gorm"
)

// SegmentMatch represents how a segment's rules combine
type SegmentMatch string

const (
	SegmentMatchAll SegmentMatch = "all"
	SegmentMatchAny SegmentMatch = "any"
)

// Valid checks if the match mode is valid
func (m SegmentMatch) Valid() bool {
	return m == SegmentMatchAll || m == SegmentMatchAny
}

// SegmentRule is a single stored filter of a segment. Rules referencing
// custom fields use a "custom." prefix on the field name.
type SegmentRule struct {
	Field    string            `json:"field" validate:"required"`
	Operator ConditionOperator `json:"operator" validate:"required"`
	Value    any               `json:"value,omitempty"`
}

// SegmentRules is the list of stored filters kept as JSONB
type SegmentRules []SegmentRule

// Value implements the driver.Valuer interface for SegmentRules
func (r SegmentRules) Value() (driver.Value, error) {
	if r == nil {
		return nil, nil
	}
	return json.Marshal(r)
}

// Scan implements the sql.Scanner interface for SegmentRules
func (r *SegmentRules) Scan(value any) error {
	if value == nil {
		*r = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into SegmentRules", value)
	}

	return json.Unmarshal(bytes, r)
}

// Segment represents a stored dynamic audience filter in the database
type Segment struct {
	ID          uint         `gorm:"primaryKey" json:"id"`
	UUID        uuid.UUID    `gorm:"type:uuid;not null;uniqueIndex:uk_segments_uuid" json:"uuid"`
	CustomerID  uint         `gorm:"not null;uniqueIndex:uk_segments_customer_name,priority:1;index:idx_segments_customer_id" json:"customer_id"`
	Name        string       `gorm:"size:255;not null;uniqueIndex:uk_segments_customer_name,priority:2" json:"name"`
	Description *string      `gorm:"type:text" json:"description,omitempty"`
	Rules       SegmentRules `gorm:"type:jsonb" json:"rules,omitempty"`
	Match       SegmentMatch `gorm:"type:varchar(10);not null;default:'all'" json:"match"`
	IsActive    *bool        `gorm:"default:true" json:"is_active"`
	CreatedAt   time.Time    `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt   *time.Time   `json:"updated_at,omitempty"`
}

// TableName returns the table name for the model
func (Segment) TableName() string {
	return "segments"
}

// BeforeCreate is called before creating a new record
func (s *Segment) BeforeCreate(tx *gorm.DB) error {
	if s.UUID == uuid.Nil {
		s.UUID = uuid.New()
	}
	if s.Match == "" {
		s.Match = SegmentMatchAll
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = utils.UTCNow()
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (s *Segment) BeforeUpdate(tx *gorm.DB) error {
	now := utils.UTCNow()
	s.UpdatedAt = &now
	return nil
}

// SegmentPredicate is a compiled segment: a SQL fragment over the subscribers
// table plus its bound arguments, ready to be ORed into a recipient query.
type SegmentPredicate struct {
	Query string
	Args  []any
}

// SegmentFilter represents filter criteria for segment queries
type SegmentFilter struct {
	ID         *uint      `json:"id,omitempty"`
	UUID       *uuid.UUID `json:"uuid,omitempty"`
	CustomerID *uint      `json:"customer_id,omitempty"`
	Name       *string    `json:"name,omitempty"`
	IsActive   *bool      `json:"is_active,omitempty"`
}
