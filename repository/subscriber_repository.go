package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/mailtide/mailtide/models"
	"gorm.io/gorm"
)

// SubscriberRepositoryImpl implements SubscriberRepository
type SubscriberRepositoryImpl struct {
	*BaseRepository[models.Subscriber, models.SubscriberFilter]
}

func NewSubscriberRepository(db *gorm.DB) SubscriberRepository {
	return &SubscriberRepositoryImpl{BaseRepository: NewBaseRepository[models.Subscriber, models.SubscriberFilter](db)}
}

func (r *SubscriberRepositoryImpl) ByID(ctx context.Context, id uint) (*models.Subscriber, error) {
	db := r.getDB(ctx)
	var sub models.Subscriber
	if err := db.Preload("Groups").Preload("Tags").Last(&sub, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *SubscriberRepositoryImpl) ByEmail(ctx context.Context, customerID uint, email string) (*models.Subscriber, error) {
	rows, err := r.ByFilter(ctx, models.SubscriberFilter{CustomerID: &customerID, Email: &email}, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *SubscriberRepositoryImpl) applyFilter(db *gorm.DB, f models.SubscriberFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.UUID != nil {
		db = db.Where("uuid = ?", *f.UUID)
	}
	if f.CustomerID != nil {
		db = db.Where("customer_id = ?", *f.CustomerID)
	}
	if f.Email != nil {
		db = db.Where("email = ?", *f.Email)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	if f.IsDeleted != nil {
		db = db.Where("is_deleted = ?", *f.IsDeleted)
	}
	if f.GroupID != nil {
		db = db.Where("EXISTS (SELECT 1 FROM subscriber_groups sg WHERE sg.subscriber_id = subscribers.id AND sg.group_id = ?)", *f.GroupID)
	}
	if f.TagID != nil {
		db = db.Where("EXISTS (SELECT 1 FROM subscriber_tags st WHERE st.subscriber_id = subscribers.id AND st.tag_id = ?)", *f.TagID)
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at < ?", *f.CreatedBefore)
	}
	return db
}

func (r *SubscriberRepositoryImpl) ByFilter(ctx context.Context, filter models.SubscriberFilter, orderBy string, limit, offset int) ([]*models.Subscriber, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Subscriber{}), filter).Preload("Groups").Preload("Tags")
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.Subscriber
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to find subscribers by filter: %w", err)
	}
	return rows, nil
}

// ListRecipients runs the recipient query for one schedule execution. The
// base predicate keeps only sendable subscribers of the owning customer;
// group, tag and segment membership each OR within their category and the
// categories combine per the targeting's match policy. Ordered by id so the
// send order is deterministic.
func (r *SubscriberRepositoryImpl) ListRecipients(ctx context.Context, customerID uint, targeting models.Targeting, segments []models.SegmentPredicate) ([]*models.Subscriber, error) {
	db := r.getDB(ctx)

	query := db.Model(&models.Subscriber{}).
		Where("customer_id = ?", customerID).
		Where("is_deleted = ?", false).
		Where("status <> ?", models.SubscriberStatusUnsubscribed)

	var categories []*gorm.DB
	if len(targeting.GroupIDs) > 0 {
		categories = append(categories,
			db.Where("EXISTS (SELECT 1 FROM subscriber_groups sg WHERE sg.subscriber_id = subscribers.id AND sg.group_id IN ?)", targeting.GroupIDs))
	}
	if len(targeting.TagIDs) > 0 {
		categories = append(categories,
			db.Where("EXISTS (SELECT 1 FROM subscriber_tags st WHERE st.subscriber_id = subscribers.id AND st.tag_id IN ?)", targeting.TagIDs))
	}
	if len(segments) > 0 {
		var compiled *gorm.DB
		for _, p := range segments {
			if p.Query == "" {
				continue
			}
			if compiled == nil {
				compiled = db.Where(p.Query, p.Args...)
			} else {
				compiled = compiled.Or(p.Query, p.Args...)
			}
		}
		if compiled != nil {
			categories = append(categories, compiled)
		}
	}

	if len(categories) > 0 {
		if targeting.MatchAll() {
			for _, c := range categories {
				query = query.Where(c)
			}
		} else {
			combined := categories[0]
			for _, c := range categories[1:] {
				combined = combined.Or(c)
			}
			query = query.Where(combined)
		}
	}

	var rows []*models.Subscriber
	err := query.Preload("Groups").Preload("Tags").Order("id ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	return rows, nil
}

func (r *SubscriberRepositoryImpl) Count(ctx context.Context, filter models.SubscriberFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Subscriber{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *SubscriberRepositoryImpl) Exists(ctx context.Context, filter models.SubscriberFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
