package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailtide/mailtide/models"
	"github.com/mailtide/mailtide/utils"
)

func recurringSchedule(rule models.RecurrenceRule) *models.CampaignSchedule {
	return &models.CampaignSchedule{
		ID:           20,
		CustomerID:   1,
		CampaignID:   1,
		ScheduleType: models.ScheduleTypeRecurring,
		Status:       models.ScheduleStatusRunning,
		Recurrence:   &rule,
		IsActive:     utils.ToPtr(true),
	}
}

func scheduledSchedule(date time.Time) *models.CampaignSchedule {
	return &models.CampaignSchedule{
		ID:            40,
		CustomerID:    1,
		CampaignID:    1,
		ScheduleType:  models.ScheduleTypeScheduled,
		Status:        models.ScheduleStatusScheduled,
		ScheduledDate: &date,
		IsActive:      utils.ToPtr(true),
	}
}

func TestRecorderTermination(t *testing.T) {
	schedule := recurringSchedule(models.RecurrenceRule{Unit: models.RecurrenceUnitDaily, Interval: 1})
	store := newFakeScheduleStore(schedule)
	recorder := NewRecorder(store, newFakeDripStore(), testLogger())

	result := &ExecutionResult{ScheduleID: schedule.ID, ExecutedAt: testClock().Now(), Terminated: true}
	require.NoError(t, recorder.Record(context.Background(), schedule, result))

	// status flip only, no history row
	require.Len(t, store.statusUpdates, 1)
	assert.Equal(t, models.ScheduleStatusCompleted, store.statusUpdates[0].status)
	assert.Empty(t, store.recorded)
	assert.Equal(t, models.ScheduleStatusCompleted, schedule.Status)
}

func TestRecorderSkipsUneventfulRuns(t *testing.T) {
	t.Run("a run cancelled before anything happened leaves the schedule alone", func(t *testing.T) {
		schedule := immediateSchedule()
		store := newFakeScheduleStore(schedule)
		recorder := NewRecorder(store, newFakeDripStore(), testLogger())

		result := &ExecutionResult{ScheduleID: schedule.ID, ExecutedAt: testClock().Now(), Cancelled: true}
		require.NoError(t, recorder.Record(context.Background(), schedule, result))

		assert.Empty(t, store.recorded)
		assert.Empty(t, store.statusUpdates)
		assert.Equal(t, models.ScheduleStatusRunning, schedule.Status)
	})

	t.Run("an empty drip audience is not recorded", func(t *testing.T) {
		schedule := dripSchedule(models.DripStep{TemplateRef: "welcome"})
		store := newFakeScheduleStore(schedule)
		recorder := NewRecorder(store, newFakeDripStore(), testLogger())

		result := &ExecutionResult{ScheduleID: schedule.ID, ExecutedAt: testClock().Now()}
		require.NoError(t, recorder.Record(context.Background(), schedule, result))

		assert.Empty(t, store.recorded)
		assert.Equal(t, models.ScheduleStatusRunning, schedule.Status)
	})
}

func TestRecorderImmediate(t *testing.T) {
	executedAt := testClock().Now()

	tests := []struct {
		name         string
		result       ExecutionResult
		recordStatus models.ExecutionStatus
		newStatus    models.ScheduleStatus
	}{
		{
			name:         "a clean run completes the schedule",
			result:       ExecutionResult{RecipientCount: 3, SuccessCount: 3},
			recordStatus: models.ExecutionStatusSuccess,
			newStatus:    models.ScheduleStatusCompleted,
		},
		{
			name:         "a partial run still completes the schedule",
			result:       ExecutionResult{RecipientCount: 3, SuccessCount: 2, FailureCount: 1, ErrorMessages: []string{"sub3@example.com: mailbox full"}},
			recordStatus: models.ExecutionStatusPartial,
			newStatus:    models.ScheduleStatusCompleted,
		},
		{
			name:         "every send failing fails the schedule",
			result:       ExecutionResult{RecipientCount: 2, FailureCount: 2},
			recordStatus: models.ExecutionStatusFailed,
			newStatus:    models.ScheduleStatusFailed,
		},
		{
			name:         "a pipeline failure fails the schedule",
			result:       ExecutionResult{Failure: NewExecutionError(CodeValidationFailed, "campaign 9 does not exist", nil)},
			recordStatus: models.ExecutionStatusFailed,
			newStatus:    models.ScheduleStatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schedule := immediateSchedule()
			store := newFakeScheduleStore(schedule)
			recorder := NewRecorder(store, newFakeDripStore(), testLogger())

			result := tt.result
			result.ScheduleID = schedule.ID
			result.ExecutedAt = executedAt
			require.NoError(t, recorder.Record(context.Background(), schedule, &result))

			require.Len(t, store.recorded, 1)
			rec := store.recorded[0]
			assert.Equal(t, schedule.ID, rec.scheduleID)
			assert.Equal(t, tt.recordStatus, rec.record.Status)
			assert.Equal(t, result.RecipientCount, rec.record.RecipientCount)
			assert.Equal(t, result.SuccessCount, rec.record.SuccessCount)
			assert.Equal(t, result.FailureCount, rec.record.FailureCount)
			assert.Nil(t, rec.record.NextExecution)
			require.NotNil(t, rec.newStatus)
			assert.Equal(t, tt.newStatus, *rec.newStatus)
		})
	}
}

func TestRecorderScheduled(t *testing.T) {
	t.Run("the slot is consumed even by a failed run", func(t *testing.T) {
		executedAt := testClock().Now()
		schedule := scheduledSchedule(executedAt.Add(-time.Minute))
		store := newFakeScheduleStore(schedule)
		recorder := NewRecorder(store, newFakeDripStore(), testLogger())

		result := &ExecutionResult{
			ScheduleID: schedule.ID,
			ExecutedAt: executedAt,
			Failure:    NewExecutionError(CodeRecipientResolutionFailed, "recipient query failed", nil),
		}
		require.NoError(t, recorder.Record(context.Background(), schedule, result))

		require.Len(t, store.recorded, 1)
		rec := store.recorded[0]
		assert.Equal(t, models.ExecutionStatusFailed, rec.record.Status)
		require.NotNil(t, rec.newStatus)
		assert.Equal(t, models.ScheduleStatusCompleted, *rec.newStatus)
		assert.Nil(t, rec.record.NextExecution)
	})
}

func TestRecorderRecurring(t *testing.T) {
	executedAt := testClock().Now()

	t.Run("schedules the next occurrence and stays running", func(t *testing.T) {
		schedule := recurringSchedule(models.RecurrenceRule{Unit: models.RecurrenceUnitDaily, Interval: 1})
		store := newFakeScheduleStore(schedule)
		recorder := NewRecorder(store, newFakeDripStore(), testLogger())

		result := &ExecutionResult{ScheduleID: schedule.ID, ExecutedAt: executedAt, RecipientCount: 2, SuccessCount: 2}
		require.NoError(t, recorder.Record(context.Background(), schedule, result))

		require.Len(t, store.recorded, 1)
		rec := store.recorded[0]
		require.NotNil(t, rec.record.NextExecution)
		assert.Equal(t, executedAt.AddDate(0, 0, 1), *rec.record.NextExecution)
		require.NotNil(t, rec.newStatus)
		assert.Equal(t, models.ScheduleStatusRunning, *rec.newStatus)
	})

	t.Run("completes after the final occurrence", func(t *testing.T) {
		schedule := recurringSchedule(models.RecurrenceRule{
			Unit:           models.RecurrenceUnitDaily,
			Interval:       1,
			MaxOccurrences: utils.ToPtr(3),
		})
		schedule.Stats.TotalExecutions = 2
		store := newFakeScheduleStore(schedule)
		recorder := NewRecorder(store, newFakeDripStore(), testLogger())

		result := &ExecutionResult{ScheduleID: schedule.ID, ExecutedAt: executedAt, RecipientCount: 2, SuccessCount: 2}
		require.NoError(t, recorder.Record(context.Background(), schedule, result))

		require.Len(t, store.recorded, 1)
		rec := store.recorded[0]
		assert.Nil(t, rec.record.NextExecution)
		require.NotNil(t, rec.newStatus)
		assert.Equal(t, models.ScheduleStatusCompleted, *rec.newStatus)
	})

	t.Run("completes when the next occurrence overruns the end date", func(t *testing.T) {
		schedule := recurringSchedule(models.RecurrenceRule{
			Unit:     models.RecurrenceUnitDaily,
			Interval: 1,
			EndDate:  utils.ToPtr(executedAt.Add(12 * time.Hour)),
		})
		store := newFakeScheduleStore(schedule)
		recorder := NewRecorder(store, newFakeDripStore(), testLogger())

		result := &ExecutionResult{ScheduleID: schedule.ID, ExecutedAt: executedAt, RecipientCount: 1, SuccessCount: 1}
		require.NoError(t, recorder.Record(context.Background(), schedule, result))

		rec := store.recorded[0]
		assert.Nil(t, rec.record.NextExecution)
		require.NotNil(t, rec.newStatus)
		assert.Equal(t, models.ScheduleStatusCompleted, *rec.newStatus)
	})

	t.Run("a computation failure fails the schedule", func(t *testing.T) {
		schedule := recurringSchedule(models.RecurrenceRule{Unit: "fortnightly", Interval: 1})
		store := newFakeScheduleStore(schedule)
		recorder := NewRecorder(store, newFakeDripStore(), testLogger())

		result := &ExecutionResult{ScheduleID: schedule.ID, ExecutedAt: executedAt, RecipientCount: 1, SuccessCount: 1}
		require.NoError(t, recorder.Record(context.Background(), schedule, result))

		require.Len(t, store.recorded, 1)
		rec := store.recorded[0]
		assert.Equal(t, models.ExecutionStatusFailed, rec.record.Status)
		require.NotEmpty(t, rec.record.ErrorMessages)
		assert.Contains(t, rec.record.ErrorMessages[len(rec.record.ErrorMessages)-1], "next occurrence computation failed")
		require.NotNil(t, rec.newStatus)
		assert.Equal(t, models.ScheduleStatusFailed, *rec.newStatus)
	})

	t.Run("an interrupted run keeps its wake-up and status", func(t *testing.T) {
		schedule := recurringSchedule(models.RecurrenceRule{Unit: models.RecurrenceUnitDaily, Interval: 1})
		previousWake := executedAt.Add(-time.Minute)
		schedule.Stats.NextExecution = &previousWake
		store := newFakeScheduleStore(schedule)
		recorder := NewRecorder(store, newFakeDripStore(), testLogger())

		result := &ExecutionResult{ScheduleID: schedule.ID, ExecutedAt: executedAt, RecipientCount: 2, SuccessCount: 2, Cancelled: true}
		require.NoError(t, recorder.Record(context.Background(), schedule, result))

		require.Len(t, store.recorded, 1)
		rec := store.recorded[0]
		require.NotNil(t, rec.record.NextExecution)
		assert.Equal(t, previousWake, *rec.record.NextExecution)
		assert.Nil(t, rec.newStatus)
	})
}

func TestRecorderDrip(t *testing.T) {
	executedAt := testClock().Now()
	steps := models.DripSequence{
		{TemplateRef: "welcome"},
		{Delay: 1, DelayUnit: models.DelayUnitHours, TemplateRef: "follow_up"},
	}

	t.Run("wakes when the earliest open cursor comes due", func(t *testing.T) {
		schedule := dripSchedule(steps...)
		store := newFakeScheduleStore(schedule)
		drips := newFakeDripStore()
		drips.seed(&models.DripProgress{ScheduleID: schedule.ID, SubscriberID: 1, StepIndex: 1, StepEnteredAt: executedAt})
		drips.seed(&models.DripProgress{ScheduleID: schedule.ID, SubscriberID: 2, StepIndex: 1, StepEnteredAt: executedAt.Add(-30 * time.Minute)})
		recorder := NewRecorder(store, drips, testLogger())

		result := &ExecutionResult{ScheduleID: schedule.ID, ExecutedAt: executedAt, RecipientCount: 2, SuccessCount: 2, DripCursors: 2}
		require.NoError(t, recorder.Record(context.Background(), schedule, result))

		require.Len(t, store.recorded, 1)
		rec := store.recorded[0]
		require.NotNil(t, rec.record.NextExecution)
		assert.Equal(t, executedAt.Add(30*time.Minute), *rec.record.NextExecution)
		require.NotNil(t, rec.newStatus)
		assert.Equal(t, models.ScheduleStatusRunning, *rec.newStatus)
	})

	t.Run("completes once every cursor has finished", func(t *testing.T) {
		schedule := dripSchedule(steps...)
		store := newFakeScheduleStore(schedule)
		recorder := NewRecorder(store, newFakeDripStore(), testLogger())

		result := &ExecutionResult{
			ScheduleID:     schedule.ID,
			ExecutedAt:     executedAt,
			RecipientCount: 1,
			SuccessCount:   1,
			DripCursors:    2,
			DripCompleted:  true,
		}
		require.NoError(t, recorder.Record(context.Background(), schedule, result))

		require.Len(t, store.recorded, 1)
		rec := store.recorded[0]
		assert.Nil(t, rec.record.NextExecution)
		require.NotNil(t, rec.newStatus)
		assert.Equal(t, models.ScheduleStatusCompleted, *rec.newStatus)
	})

	t.Run("a cursor lookup failure falls back to the current wake-up", func(t *testing.T) {
		schedule := dripSchedule(steps...)
		previousWake := executedAt.Add(5 * time.Minute)
		schedule.Stats.NextExecution = &previousWake
		store := newFakeScheduleStore(schedule)
		drips := newFakeDripStore()
		drips.listErr = errors.New("connection reset")
		recorder := NewRecorder(store, drips, testLogger())

		result := &ExecutionResult{ScheduleID: schedule.ID, ExecutedAt: executedAt, RecipientCount: 1, SuccessCount: 1, DripCursors: 1}
		require.NoError(t, recorder.Record(context.Background(), schedule, result))

		rec := store.recorded[0]
		require.NotNil(t, rec.record.NextExecution)
		assert.Equal(t, previousWake, *rec.record.NextExecution)
	})

	t.Run("cursors past the sequence end are ignored", func(t *testing.T) {
		schedule := dripSchedule(steps...)
		store := newFakeScheduleStore(schedule)
		drips := newFakeDripStore()
		drips.seed(&models.DripProgress{ScheduleID: schedule.ID, SubscriberID: 1, StepIndex: 5, StepEnteredAt: executedAt})
		recorder := NewRecorder(store, drips, testLogger())

		result := &ExecutionResult{ScheduleID: schedule.ID, ExecutedAt: executedAt, RecipientCount: 1, SuccessCount: 1, DripCursors: 1}
		require.NoError(t, recorder.Record(context.Background(), schedule, result))

		rec := store.recorded[0]
		assert.Nil(t, rec.record.NextExecution)
	})
}

func TestRecorderTrigger(t *testing.T) {
	schedule := &models.CampaignSchedule{
		ID:           50,
		CustomerID:   1,
		CampaignID:   1,
		ScheduleType: models.ScheduleTypeTrigger,
		Status:       models.ScheduleStatusRunning,
		Triggers:     models.TriggerRules{{Event: models.TriggerEventSubscriberAdded}},
		IsActive:     utils.ToPtr(true),
	}
	store := newFakeScheduleStore(schedule)
	recorder := NewRecorder(store, newFakeDripStore(), testLogger())

	result := &ExecutionResult{ScheduleID: schedule.ID, ExecutedAt: testClock().Now(), RecipientCount: 2, SuccessCount: 2}
	require.NoError(t, recorder.Record(context.Background(), schedule, result))

	// history row lands, lifecycle stays untouched
	require.Len(t, store.recorded, 1)
	rec := store.recorded[0]
	assert.Nil(t, rec.record.NextExecution)
	assert.Nil(t, rec.newStatus)
	assert.Equal(t, models.ScheduleStatusRunning, schedule.Status)
}

func TestRecorderPropagatesStoreErrors(t *testing.T) {
	schedule := immediateSchedule()
	store := newFakeScheduleStore(schedule)
	store.recordErr = errors.New("deadlock detected")
	recorder := NewRecorder(store, newFakeDripStore(), testLogger())

	result := &ExecutionResult{ScheduleID: schedule.ID, ExecutedAt: testClock().Now(), RecipientCount: 1, SuccessCount: 1}
	assert.Error(t, recorder.Record(context.Background(), schedule, result))
}
