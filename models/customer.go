// Package models contains domain entities and business models for the campaign automation engine
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/mailtide/mailtide/utils"
	"gorm.io/gorm"
)

// Customer represents the account that owns campaigns, schedules and
// subscribers. Account management lives outside the engine; the engine only
// scopes its queries by CustomerID.
type Customer struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	UUID        uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:uk_customers_uuid" json:"uuid"`
	Email       string     `gorm:"size:255;not null;uniqueIndex:uk_customers_email" json:"email"`
	CompanyName *string    `gorm:"size:255" json:"company_name,omitempty"`
	IsActive    *bool      `gorm:"default:true;index:idx_customers_is_active" json:"is_active"`
	CreatedAt   time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`

	// Relations
	Subscribers []Subscriber `gorm:"foreignKey:CustomerID" json:"-"`
	Campaigns   []Campaign   `gorm:"foreignKey:CustomerID" json:"-"`
}

func (Customer) TableName() string {
	return "customers"
}

// BeforeCreate is called before creating a new record
func (c *Customer) BeforeCreate(tx *gorm.DB) error {
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = utils.UTCNow()
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (c *Customer) BeforeUpdate(tx *gorm.DB) error {
	now := utils.UTCNow()
	c.UpdatedAt = &now
	return nil
}
