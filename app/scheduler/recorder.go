package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/lib/pq"

	"github.com/mailtide/mailtide/models"
	"github.com/mailtide/mailtide/utils"
)

// Recorder persists the outcome of an execution: the history row, the stats
// increments, the next wake-up and the lifecycle transition, all in one
// repository call so a crash cannot separate them.
type Recorder struct {
	schedules ScheduleStore
	drips     DripStore
	logger    *log.Logger
}

func NewRecorder(schedules ScheduleStore, drips DripStore, logger *log.Logger) *Recorder {
	return &Recorder{schedules: schedules, drips: drips, logger: logger}
}

// Record writes the execution outcome. Two runs never produce a row: a
// recurring run that found its rule already exhausted only flips the status
// to completed, and a run cancelled before anything happened leaves the
// schedule untouched so the next tick retries it.
func (r *Recorder) Record(ctx context.Context, schedule *models.CampaignSchedule, result *ExecutionResult) error {
	if result.Terminated {
		if err := r.schedules.UpdateStatus(ctx, schedule.ID, models.ScheduleStatusCompleted); err != nil {
			return err
		}
		r.logger.Printf("schedule %d: recurrence exhausted, marked completed", schedule.ID)
		return nil
	}
	if result.Cancelled && !result.Attempted() {
		return nil
	}
	if schedule.ScheduleType == models.ScheduleTypeDrip && !result.Attempted() && result.DripCursors == 0 {
		// An empty drip audience stays silently due; the schedule is
		// re-examined every tick until somebody subscribes.
		return nil
	}

	record := &models.ExecutionRecord{
		ScheduleID:     schedule.ID,
		ExecutedAt:     result.ExecutedAt,
		Status:         result.Status(),
		RecipientCount: result.RecipientCount,
		SuccessCount:   result.SuccessCount,
		FailureCount:   result.FailureCount,
		ErrorMessages:  pq.StringArray(result.ErrorMessages),
	}

	next, computeErr := r.nextExecution(ctx, schedule, result)
	if computeErr != nil {
		record.Status = models.ExecutionStatusFailed
		record.ErrorMessages = append(record.ErrorMessages, computeErr.Error())
		r.logger.Printf("schedule %d: %v", schedule.ID, computeErr)
	}
	record.NextExecution = next

	newStatus := r.nextStatus(schedule, result, next, computeErr)
	return r.schedules.RecordExecution(ctx, schedule.ID, record, newStatus)
}

func (r *Recorder) nextExecution(ctx context.Context, schedule *models.CampaignSchedule, result *ExecutionResult) (*time.Time, error) {
	switch schedule.ScheduleType {
	case models.ScheduleTypeRecurring:
		return r.nextRecurringExecution(schedule, result)
	case models.ScheduleTypeDrip:
		return r.nextDripExecution(ctx, schedule, result), nil
	default:
		if result.Cancelled {
			// keep the interrupted run due
			return schedule.Stats.NextExecution, nil
		}
		return nil, nil
	}
}

// nextRecurringExecution steps the rule forward from the execution instant.
// When the step after this one would already overrun the end date or the
// occurrence budget, no next wake is scheduled and the schedule completes
// instead of waking once more just to terminate.
func (r *Recorder) nextRecurringExecution(schedule *models.CampaignSchedule, result *ExecutionResult) (*time.Time, error) {
	if result.Cancelled {
		return schedule.Stats.NextExecution, nil
	}

	rule := schedule.Recurrence
	next, err := NextRecurrence(result.ExecutedAt, rule)
	if err != nil {
		return nil, NewExecutionError(CodeSchedulingComputationFailed, "next occurrence computation failed", err)
	}
	if rule.MaxOccurrences != nil && schedule.Stats.TotalExecutions+1 >= int64(*rule.MaxOccurrences) {
		return nil, nil
	}
	if rule.EndDate != nil && next.After(*rule.EndDate) {
		return nil, nil
	}
	return &next, nil
}

// nextDripExecution wakes the schedule when the earliest open cursor's step
// comes due. Lookup failures fall back to the current wake-up so a transient
// store error never strands the sequence.
func (r *Recorder) nextDripExecution(ctx context.Context, schedule *models.CampaignSchedule, result *ExecutionResult) *time.Time {
	if result.DripCompleted {
		return nil
	}
	if result.Failure != nil {
		return schedule.Stats.NextExecution
	}

	cursors, err := r.drips.ListBySchedule(ctx, schedule.ID)
	if err != nil {
		r.logger.Printf("schedule %d: drip cursor lookup for next wake failed: %v", schedule.ID, err)
		return schedule.Stats.NextExecution
	}

	var next *time.Time
	for _, cursor := range cursors {
		if cursor.Completed() {
			continue
		}
		if cursor.StepIndex < 0 || cursor.StepIndex >= len(schedule.DripSequence) {
			continue
		}
		due := cursor.StepDueTime(schedule.DripSequence[cursor.StepIndex])
		if next == nil || due.Before(*next) {
			next = &due
		}
	}
	if next == nil {
		return schedule.Stats.NextExecution
	}
	return next
}

// nextStatus picks the lifecycle transition RecordExecution applies together
// with the history row. A nil return leaves the status alone: trigger
// schedules have no poller-driven lifecycle, and a cancelled run must never
// overwrite the paused or cancelled status the operator just wrote.
func (r *Recorder) nextStatus(schedule *models.CampaignSchedule, result *ExecutionResult, next *time.Time, computeErr error) *models.ScheduleStatus {
	if result.Cancelled {
		return nil
	}

	switch schedule.ScheduleType {
	case models.ScheduleTypeScheduled:
		// one-shot: the slot is consumed even by a failed run
		return utils.ToPtr(models.ScheduleStatusCompleted)
	case models.ScheduleTypeImmediate:
		if result.Failure != nil || result.AllFailed() {
			return utils.ToPtr(models.ScheduleStatusFailed)
		}
		return utils.ToPtr(models.ScheduleStatusCompleted)
	case models.ScheduleTypeRecurring:
		if computeErr != nil {
			return utils.ToPtr(models.ScheduleStatusFailed)
		}
		if next == nil {
			return utils.ToPtr(models.ScheduleStatusCompleted)
		}
		return utils.ToPtr(models.ScheduleStatusRunning)
	case models.ScheduleTypeDrip:
		if result.DripCompleted {
			return utils.ToPtr(models.ScheduleStatusCompleted)
		}
		return utils.ToPtr(models.ScheduleStatusRunning)
	default:
		return nil
	}
}
