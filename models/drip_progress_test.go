package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mailtide/mailtide/utils"
)

func TestDripProgressCompleted(t *testing.T) {
	open := DripProgress{ScheduleID: 1, SubscriberID: 2}
	assert.False(t, open.Completed())

	done := DripProgress{ScheduleID: 1, SubscriberID: 2, CompletedAt: utils.ToPtr(utils.UTCNow())}
	assert.True(t, done.Completed())
}

func TestDripProgressStepDue(t *testing.T) {
	entered := time.Date(2025, time.June, 2, 9, 0, 0, 0, time.UTC)
	step := DripStep{Delay: 2, DelayUnit: DelayUnitDays, TemplateRef: "day-two"}
	cursor := DripProgress{StepIndex: 1, EnteredAt: entered, StepEnteredAt: entered}

	assert.False(t, cursor.StepDue(step, entered.Add(47*time.Hour)))
	assert.True(t, cursor.StepDue(step, entered.Add(48*time.Hour)), "the boundary instant is due")
	assert.True(t, cursor.StepDue(step, entered.Add(72*time.Hour)))

	immediate := DripStep{TemplateRef: "welcome"}
	assert.True(t, cursor.StepDue(immediate, entered))

	finished := DripProgress{StepIndex: 1, StepEnteredAt: entered, CompletedAt: &entered}
	assert.False(t, finished.StepDue(step, entered.Add(time.Hour*100)), "completed cursors are never due")
}

func TestDripProgressStepDueTime(t *testing.T) {
	entered := time.Date(2025, time.June, 2, 9, 0, 0, 0, time.UTC)
	cursor := DripProgress{StepEnteredAt: entered}

	step := DripStep{Delay: 90, DelayUnit: DelayUnitMinutes, TemplateRef: "nudge"}
	assert.Equal(t, entered.Add(90*time.Minute), cursor.StepDueTime(step))

	assert.Equal(t, entered, cursor.StepDueTime(DripStep{TemplateRef: "welcome"}))
}
