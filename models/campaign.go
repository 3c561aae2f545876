package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/mailtide/mailtide/utils"
	"gorm.io/gorm"
)

// Campaign represents the email content a schedule sends: subject and bodies
// plus the sender identity. Authoring and approval of campaigns happen outside
// the automation engine; the engine only reads them.
type Campaign struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	UUID       uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:uk_campaigns_uuid" json:"uuid"`
	CustomerID uint       `gorm:"not null;index:idx_campaigns_customer_id" json:"customer_id"`
	Name       string     `gorm:"type:varchar(255);not null" json:"name"`
	Subject    string     `gorm:"type:varchar(998);not null" json:"subject"`
	HTMLBody   string     `gorm:"type:text" json:"html_body"`
	TextBody   string     `gorm:"type:text" json:"text_body"`
	FromName   *string    `gorm:"type:varchar(255)" json:"from_name,omitempty"`
	FromEmail  *string    `gorm:"type:varchar(320)" json:"from_email,omitempty"`
	ReplyTo    *string    `gorm:"type:varchar(320)" json:"reply_to,omitempty"`
	CreatedAt  time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`

	// Relations
	Schedules []CampaignSchedule `gorm:"foreignKey:CampaignID;references:ID" json:"schedules,omitempty"`
}

// TableName returns the table name for the model
func (Campaign) TableName() string {
	return "campaigns"
}

// BeforeCreate is called before creating a new record
func (c *Campaign) BeforeCreate(tx *gorm.DB) error {
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = utils.UTCNow()
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (c *Campaign) BeforeUpdate(tx *gorm.DB) error {
	now := utils.UTCNow()
	c.UpdatedAt = &now
	return nil
}

// CampaignFilter represents filter criteria for campaigns
type CampaignFilter struct {
	ID         *uint      `json:"id,omitempty"`
	UUID       *uuid.UUID `json:"uuid,omitempty"`
	CustomerID *uint      `json:"customer_id,omitempty"`
	Name       *string    `json:"name,omitempty"`
}
