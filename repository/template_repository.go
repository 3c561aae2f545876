package repository

import (
	"context"
	"fmt"

	"github.com/mailtide/mailtide/models"
	"gorm.io/gorm"
)

// TemplateRepositoryImpl implements the TemplateRepository interface
type TemplateRepositoryImpl struct {
	*BaseRepository[models.Template, models.TemplateFilter]
}

// NewTemplateRepository creates a new template repository
func NewTemplateRepository(db *gorm.DB) TemplateRepository {
	return &TemplateRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Template, models.TemplateFilter](db),
	}
}

// ByRef retrieves a customer's template by its reference name
func (r *TemplateRepositoryImpl) ByRef(ctx context.Context, customerID uint, ref string) (*models.Template, error) {
	rows, err := r.ByFilter(ctx, models.TemplateFilter{CustomerID: &customerID, Ref: &ref}, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *TemplateRepositoryImpl) applyFilter(db *gorm.DB, f models.TemplateFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.UUID != nil {
		db = db.Where("uuid = ?", *f.UUID)
	}
	if f.CustomerID != nil {
		db = db.Where("customer_id = ?", *f.CustomerID)
	}
	if f.Ref != nil {
		db = db.Where("ref = ?", *f.Ref)
	}
	if f.Name != nil {
		db = db.Where("name = ?", *f.Name)
	}
	return db
}

func (r *TemplateRepositoryImpl) ByFilter(ctx context.Context, filter models.TemplateFilter, orderBy string, limit, offset int) ([]*models.Template, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Template{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.Template
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to find templates by filter: %w", err)
	}
	return rows, nil
}

func (r *TemplateRepositoryImpl) Count(ctx context.Context, filter models.TemplateFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Template{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *TemplateRepositoryImpl) Exists(ctx context.Context, filter models.TemplateFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
