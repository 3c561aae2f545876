package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/mailtide/mailtide/models"
)

// FiringStore is the slice of the trigger firing repository the dispatcher
// and the poller need.
type FiringStore interface {
	Enqueue(ctx context.Context, firing *models.TriggerFiring) (bool, error)
	ListDue(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*models.TriggerFiring, error)
	MarkExecuted(ctx context.Context, id uint, at time.Time) error
	MarkFailed(ctx context.Context, id uint, message string) error
}

// TriggerDispatcher is the event intake: domain events fan out into durable
// trigger firings here. Delivery happens later, when the poller drains the
// due firings, so a slow SMTP session never sits inside a subscriber
// mutation.
type TriggerDispatcher struct {
	schedules ScheduleStore
	firings   FiringStore
	clock     Clock
	logger    *log.Logger
}

func NewTriggerDispatcher(schedules ScheduleStore, firings FiringStore, clock Clock, logger *log.Logger) *TriggerDispatcher {
	if clock == nil {
		clock = SystemClock()
	}
	return &TriggerDispatcher{schedules: schedules, firings: firings, clock: clock, logger: logger}
}

// OnSubscriberAdded fans a new subscriber out to the customer's
// subscriber_added trigger schedules.
func (d *TriggerDispatcher) OnSubscriberAdded(ctx context.Context, sub *models.Subscriber) error {
	return d.dispatch(ctx, models.TriggerEventSubscriberAdded, sub, NewSubscriberAddedPayload(sub))
}

// OnTagAdded fans a freshly applied tag out to the customer's tag_added
// trigger schedules.
func (d *TriggerDispatcher) OnTagAdded(ctx context.Context, sub *models.Subscriber, tag string) error {
	return d.dispatch(ctx, models.TriggerEventTagAdded, sub, NewTagAddedPayload(sub, tag))
}

func (d *TriggerDispatcher) dispatch(ctx context.Context, event models.TriggerEvent, sub *models.Subscriber, payload FieldAccessor) error {
	schedules, err := d.schedules.ListByTriggerEvent(ctx, sub.CustomerID, event)
	if err != nil {
		return fmt.Errorf("listing %s trigger schedules: %w", event, err)
	}
	if len(schedules) == 0 {
		return nil
	}

	// One dispatch is one event occurrence: every firing it fans out shares
	// the minted event id, and the (schedule, event) unique key keeps the
	// occurrence from queueing twice in any one schedule.
	now := d.clock.Now()
	eventID := uuid.New()

	for _, schedule := range schedules {
		rule, ok := matchRule(schedule.Triggers, event, payload)
		if !ok {
			continue
		}

		firing := &models.TriggerFiring{
			ScheduleID:   schedule.ID,
			EventID:      eventID,
			Event:        event,
			SubscriberID: sub.ID,
			FireAt:       now.Add(rule.Wait()),
		}
		inserted, err := d.firings.Enqueue(ctx, firing)
		if err != nil {
			d.logger.Printf("schedule %d: enqueueing %s firing failed: %v", schedule.ID, event, err)
			triggerFiringsTotal.WithLabelValues("enqueue_failed").Inc()
			continue
		}
		if !inserted {
			d.logger.Printf("schedule %d: duplicate %s firing suppressed", schedule.ID, event)
			triggerFiringsTotal.WithLabelValues("duplicate").Inc()
			continue
		}
		triggerFiringsTotal.WithLabelValues("enqueued").Inc()
	}
	return nil
}

// matchRule returns the first rule reacting to the event whose conditions
// the payload satisfies.
func matchRule(rules models.TriggerRules, event models.TriggerEvent, payload FieldAccessor) (models.TriggerRule, bool) {
	for _, rule := range rules {
		if rule.Event != event {
			continue
		}
		if MatchesConditions(payload, rule.Conditions) {
			return rule, true
		}
	}
	return models.TriggerRule{}, false
}
