package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/mailtide/mailtide/utils"
	"gorm.io/gorm"
)

// Template represents a reusable piece of email content. Drip steps address
// templates by Ref, unique per customer.
type Template struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	UUID       uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:uk_templates_uuid" json:"uuid"`
	CustomerID uint       `gorm:"not null;uniqueIndex:uk_templates_customer_ref,priority:1;index:idx_templates_customer_id" json:"customer_id"`
	Ref        string     `gorm:"type:varchar(100);not null;uniqueIndex:uk_templates_customer_ref,priority:2" json:"ref"`
	Name       string     `gorm:"type:varchar(255);not null" json:"name"`
	Subject    string     `gorm:"type:varchar(998);not null" json:"subject"`
	HTMLBody   string     `gorm:"type:text" json:"html_body"`
	TextBody   string     `gorm:"type:text" json:"text_body"`
	CreatedAt  time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

// TableName returns the table name for the model
func (Template) TableName() string {
	return "templates"
}

// BeforeCreate is called before creating a new record
func (t *Template) BeforeCreate(tx *gorm.DB) error {
	if t.UUID == uuid.Nil {
		t.UUID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = utils.UTCNow()
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (t *Template) BeforeUpdate(tx *gorm.DB) error {
	now := utils.UTCNow()
	t.UpdatedAt = &now
	return nil
}

// TemplateFilter represents filter criteria for templates
type TemplateFilter struct {
	ID         *uint      `json:"id,omitempty"`
	UUID       *uuid.UUID `json:"uuid,omitempty"`
	CustomerID *uint      `json:"customer_id,omitempty"`
	Ref        *string    `json:"ref,omitempty"`
	Name       *string    `json:"name,omitempty"`
}
