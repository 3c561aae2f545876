package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailtide/mailtide/models"
	"github.com/mailtide/mailtide/utils"
)

func TestNextRecurrence(t *testing.T) {
	at := func(y int, m time.Month, d, hh, mm int) time.Time {
		return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
	}

	tests := []struct {
		name  string
		after time.Time
		rule  models.RecurrenceRule
		want  time.Time
	}{
		{
			name:  "daily",
			after: at(2025, time.June, 2, 9, 0),
			rule:  models.RecurrenceRule{Unit: models.RecurrenceUnitDaily, Interval: 1},
			want:  at(2025, time.June, 3, 9, 0),
		},
		{
			name:  "every third day",
			after: at(2025, time.June, 29, 9, 0),
			rule:  models.RecurrenceRule{Unit: models.RecurrenceUnitDaily, Interval: 3},
			want:  at(2025, time.July, 2, 9, 0),
		},
		{
			name:  "weekly",
			after: at(2025, time.June, 2, 9, 0),
			rule:  models.RecurrenceRule{Unit: models.RecurrenceUnitWeekly, Interval: 1},
			want:  at(2025, time.June, 9, 9, 0),
		},
		{
			name:  "biweekly",
			after: at(2025, time.June, 2, 9, 0),
			rule:  models.RecurrenceRule{Unit: models.RecurrenceUnitWeekly, Interval: 2},
			want:  at(2025, time.June, 16, 9, 0),
		},
		{
			name:  "monthly keeps the day",
			after: at(2025, time.March, 15, 14, 30),
			rule:  models.RecurrenceRule{Unit: models.RecurrenceUnitMonthly, Interval: 1},
			want:  at(2025, time.April, 15, 14, 30),
		},
		{
			name:  "monthly clamps Jan 31 to Feb 28",
			after: at(2025, time.January, 31, 9, 0),
			rule:  models.RecurrenceRule{Unit: models.RecurrenceUnitMonthly, Interval: 1},
			want:  at(2025, time.February, 28, 9, 0),
		},
		{
			name:  "monthly clamps Jan 31 to Feb 29 in a leap year",
			after: at(2024, time.January, 31, 9, 0),
			rule:  models.RecurrenceRule{Unit: models.RecurrenceUnitMonthly, Interval: 1},
			want:  at(2024, time.February, 29, 9, 0),
		},
		{
			name:  "monthly day override snaps a drifted anchor back",
			after: at(2025, time.February, 28, 9, 0),
			rule:  models.RecurrenceRule{Unit: models.RecurrenceUnitMonthly, Interval: 1, DayOfMonth: utils.ToPtr(31)},
			want:  at(2025, time.March, 31, 9, 0),
		},
		{
			name:  "monthly day override is clamped too",
			after: at(2025, time.March, 31, 9, 0),
			rule:  models.RecurrenceRule{Unit: models.RecurrenceUnitMonthly, Interval: 1, DayOfMonth: utils.ToPtr(31)},
			want:  at(2025, time.April, 30, 9, 0),
		},
		{
			name:  "quarterly",
			after: at(2025, time.November, 30, 9, 0),
			rule:  models.RecurrenceRule{Unit: models.RecurrenceUnitMonthly, Interval: 3},
			want:  at(2026, time.February, 28, 9, 0),
		},
		{
			name:  "yearly",
			after: at(2025, time.June, 2, 9, 0),
			rule:  models.RecurrenceRule{Unit: models.RecurrenceUnitYearly, Interval: 1},
			want:  at(2026, time.June, 2, 9, 0),
		},
		{
			name:  "yearly clamps Feb 29 to Feb 28",
			after: at(2024, time.February, 29, 9, 0),
			rule:  models.RecurrenceRule{Unit: models.RecurrenceUnitYearly, Interval: 1},
			want:  at(2025, time.February, 28, 9, 0),
		},
		{
			name:  "yearly lands back on Feb 29 when the target year is leap",
			after: at(2024, time.February, 29, 9, 0),
			rule:  models.RecurrenceRule{Unit: models.RecurrenceUnitYearly, Interval: 4},
			want:  at(2028, time.February, 29, 9, 0),
		},
		{
			name:  "time of day survives the step",
			after: time.Date(2025, time.January, 31, 23, 59, 58, 123456789, time.UTC),
			rule:  models.RecurrenceRule{Unit: models.RecurrenceUnitMonthly, Interval: 1},
			want:  time.Date(2025, time.February, 28, 23, 59, 58, 123456789, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextRecurrence(tt.after, &tt.rule)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestNextRecurrenceErrors(t *testing.T) {
	after := time.Date(2025, time.June, 2, 9, 0, 0, 0, time.UTC)

	_, err := NextRecurrence(after, nil)
	assert.ErrorContains(t, err, "recurrence rule is not set")

	_, err = NextRecurrence(after, &models.RecurrenceRule{Unit: models.RecurrenceUnitDaily, Interval: 0})
	assert.ErrorContains(t, err, "interval 0 is invalid")

	_, err = NextRecurrence(after, &models.RecurrenceRule{Unit: models.RecurrenceUnitDaily, Interval: -2})
	assert.ErrorContains(t, err, "interval -2 is invalid")

	_, err = NextRecurrence(after, &models.RecurrenceRule{Unit: "fortnightly", Interval: 1})
	assert.ErrorContains(t, err, `unknown recurrence unit "fortnightly"`)
}
