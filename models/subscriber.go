package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mailtide/mailtide/utils"
	"gorm.io/gorm"
)

// SubscriberStatus represents the delivery state of a subscriber
type SubscriberStatus string

const (
	SubscriberStatusActive       SubscriberStatus = "active"
	SubscriberStatusUnsubscribed SubscriberStatus = "unsubscribed"
	SubscriberStatusBounced      SubscriberStatus = "bounced"
	SubscriberStatusComplained   SubscriberStatus = "complained"
)

// String returns the string representation of the status
func (s SubscriberStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s SubscriberStatus) Valid() bool {
	switch s {
	case SubscriberStatusActive, SubscriberStatusUnsubscribed,
		SubscriberStatusBounced, SubscriberStatusComplained:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for SubscriberStatus
func (s *SubscriberStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = SubscriberStatus(v)
	case []byte:
		*s = SubscriberStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into SubscriberStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for SubscriberStatus
func (s SubscriberStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid SubscriberStatus: %s", s)
	}
	return string(s), nil
}

// CustomFields holds free-form per-subscriber attributes as JSONB
type CustomFields map[string]any

// Value implements the driver.Valuer interface for CustomFields
func (f CustomFields) Value() (driver.Value, error) {
	if f == nil {
		return nil, nil
	}
	return json.Marshal(f)
}

// Scan implements the sql.Scanner interface for CustomFields
func (f *CustomFields) Scan(value any) error {
	if value == nil {
		*f = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into CustomFields", value)
	}

	return json.Unmarshal(bytes, f)
}

// Subscriber represents a subscriber in the database
type Subscriber struct {
	ID           uint             `gorm:"primaryKey" json:"id"`
	UUID         uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:uk_subscribers_uuid" json:"uuid"`
	CustomerID   uint             `gorm:"not null;uniqueIndex:uk_subscribers_customer_email,priority:1;index:idx_subscribers_customer_id" json:"customer_id"`
	Email        string           `gorm:"type:varchar(320);not null;uniqueIndex:uk_subscribers_customer_email,priority:2" json:"email"`
	FirstName    *string          `gorm:"type:varchar(100)" json:"first_name,omitempty"`
	LastName     *string          `gorm:"type:varchar(100)" json:"last_name,omitempty"`
	Status       SubscriberStatus `gorm:"type:varchar(20);not null;default:'active';index:idx_subscribers_status" json:"status"`
	CustomFields CustomFields     `gorm:"type:jsonb" json:"custom_fields,omitempty"`
	IsDeleted    bool             `gorm:"not null;default:false;index:idx_subscribers_is_deleted" json:"is_deleted"`
	CreatedAt    time.Time        `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt    *time.Time       `json:"updated_at,omitempty"`

	// Relations
	Groups []Group `gorm:"many2many:subscriber_groups" json:"groups,omitempty"`
	Tags   []Tag   `gorm:"many2many:subscriber_tags" json:"tags,omitempty"`
}

// TableName returns the table name for the model
func (Subscriber) TableName() string {
	return "subscribers"
}

// BeforeCreate is called before creating a new record
func (s *Subscriber) BeforeCreate(tx *gorm.DB) error {
	if s.UUID == uuid.Nil {
		s.UUID = uuid.New()
	}
	if s.Status == "" {
		s.Status = SubscriberStatusActive
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = utils.UTCNow()
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (s *Subscriber) BeforeUpdate(tx *gorm.DB) error {
	now := utils.UTCNow()
	s.UpdatedAt = &now
	return nil
}

// FullName returns the subscriber's display name, falling back to the email
// local part when no name is set.
func (s *Subscriber) FullName() string {
	var parts []string
	if s.FirstName != nil && *s.FirstName != "" {
		parts = append(parts, *s.FirstName)
	}
	if s.LastName != nil && *s.LastName != "" {
		parts = append(parts, *s.LastName)
	}
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}
	if at := strings.IndexByte(s.Email, '@'); at > 0 {
		return s.Email[:at]
	}
	return s.Email
}

// Sendable checks if the subscriber may receive campaign mail
func (s *Subscriber) Sendable() bool {
	return !s.IsDeleted && s.Status != SubscriberStatusUnsubscribed
}

// TagNames returns the names of the subscriber's loaded tags
func (s *Subscriber) TagNames() []string {
	names := make([]string, 0, len(s.Tags))
	for _, t := range s.Tags {
		names = append(names, t.Name)
	}
	return names
}

// GroupNames returns the names of the subscriber's loaded groups
func (s *Subscriber) GroupNames() []string {
	names := make([]string, 0, len(s.Groups))
	for _, g := range s.Groups {
		names = append(names, g.Name)
	}
	return names
}

// SubscriberFilter represents filter criteria for subscribers
type SubscriberFilter struct {
	ID            *uint             `json:"id,omitempty"`
	UUID          *uuid.UUID        `json:"uuid,omitempty"`
	CustomerID    *uint             `json:"customer_id,omitempty"`
	Email         *string           `json:"email,omitempty"`
	Status        *SubscriberStatus `json:"status,omitempty"`
	IsDeleted     *bool             `json:"is_deleted,omitempty"`
	GroupID       *uint             `json:"group_id,omitempty"`
	TagID         *uint             `json:"tag_id,omitempty"`
	CreatedAfter  *time.Time        `json:"created_after,omitempty"`
	CreatedBefore *time.Time        `json:"created_before,omitempty"`
}
