package models

import "time"

// Group represents a named list subscribers can belong to
// Table: groups
// Unique by (customer_id, name); timestamps default to UTC at DB level
type Group struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	CustomerID  uint      `gorm:"not null;uniqueIndex:uk_groups_customer_name,priority:1;index:idx_groups_customer_id" json:"customer_id"`
	Name        string    `gorm:"size:255;not null;uniqueIndex:uk_groups_customer_name,priority:2;index:idx_groups_name" json:"name"`
	Description *string   `gorm:"type:text" json:"description,omitempty"`
	IsActive    *bool     `gorm:"default:true;index:idx_groups_is_active" json:"is_active"`
	CreatedAt   time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_groups_created_at" json:"created_at"`
	UpdatedAt   time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (Group) TableName() string { return "groups" }
