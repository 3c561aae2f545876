package scheduler

import (
	"context"

	"github.com/mailtide/mailtide/app/services"
	"github.com/mailtide/mailtide/models"
)

// SubscriberStore is the slice of the subscriber repository the resolver
// needs.
type SubscriberStore interface {
	ListRecipients(ctx context.Context, customerID uint, targeting models.Targeting, segments []models.SegmentPredicate) ([]*models.Subscriber, error)
}

// SegmentStore loads stored segment definitions for predicate compilation.
type SegmentStore interface {
	ListByIDs(ctx context.Context, ids []uint) ([]*models.Segment, error)
}

// RecipientResolver turns a schedule's targeting block into the concrete
// recipient list for one execution. Resolution happens once per execution;
// subscribers added mid-run are picked up by the next one.
type RecipientResolver struct {
	subscribers  SubscriberStore
	segments     SegmentStore
	segmentation services.SegmentationService
}

func NewRecipientResolver(subscribers SubscriberStore, segments SegmentStore, segmentation services.SegmentationService) *RecipientResolver {
	return &RecipientResolver{
		subscribers:  subscribers,
		segments:     segments,
		segmentation: segmentation,
	}
}

// Resolve returns the sendable subscribers matched by the schedule's
// targeting. Empty targeting matches the customer's whole sendable list.
// Every failure is reported as a recipient resolution error so the caller
// can fail the execution before any send is attempted.
func (r *RecipientResolver) Resolve(ctx context.Context, schedule *models.CampaignSchedule) ([]*models.Subscriber, error) {
	predicates, err := r.compileSegments(ctx, schedule.Targeting.SegmentIDs)
	if err != nil {
		return nil, err
	}

	subs, err := r.subscribers.ListRecipients(ctx, schedule.CustomerID, schedule.Targeting, predicates)
	if err != nil {
		return nil, NewExecutionError(CodeRecipientResolutionFailed, "recipient query failed", err)
	}
	return subs, nil
}

func (r *RecipientResolver) compileSegments(ctx context.Context, ids []uint) ([]models.SegmentPredicate, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	segments, err := r.segments.ListByIDs(ctx, ids)
	if err != nil {
		return nil, NewExecutionError(CodeRecipientResolutionFailed, "segment lookup failed", err)
	}
	found := make(map[uint]struct{}, len(segments))
	for _, seg := range segments {
		found[seg.ID] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			return nil, NewExecutionErrorf(CodeRecipientResolutionFailed, "segment %d does not exist", ErrSegmentNotFound, id)
		}
	}

	predicates := make([]models.SegmentPredicate, 0, len(segments))
	for _, seg := range segments {
		predicate, err := r.segmentation.BuildPredicate(seg)
		if err != nil {
			return nil, NewExecutionErrorf(CodeRecipientResolutionFailed, "segment %d has an invalid rule set", err, seg.ID)
		}
		predicates = append(predicates, *predicate)
	}
	return predicates, nil
}
