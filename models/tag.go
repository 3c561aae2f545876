package models

import "time"

// Tag represents a label used to categorize or target subscribers
// Table: tags
// Unique by (customer_id, name); timestamps default to UTC at DB level
// Name length limited to 255 characters
type Tag struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CustomerID uint      `gorm:"not null;uniqueIndex:uk_tags_customer_name,priority:1;index:idx_tags_customer_id" json:"customer_id"`
	Name       string    `gorm:"size:255;not null;uniqueIndex:uk_tags_customer_name,priority:2;index:idx_tags_name" json:"name"`
	IsActive   *bool     `gorm:"default:true;index:idx_tags_is_active" json:"is_active"`
	CreatedAt  time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_tags_created_at" json:"created_at"`
	UpdatedAt  time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (Tag) TableName() string { return "tags" }
