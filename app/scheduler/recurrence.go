package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/mailtide/mailtide/models"
)

// NextRecurrence computes when the run after one executed at `after` is due.
// The step is pure calendar arithmetic from the execution instant; monthly
// and yearly steps clamp the target day to the length of the target month,
// so a Jan 31 anchor lands on Feb 28 instead of spilling into March.
func NextRecurrence(after time.Time, rule *models.RecurrenceRule) (time.Time, error) {
	if rule == nil {
		return time.Time{}, errors.New("recurrence rule is not set")
	}
	if rule.Interval < 1 {
		return time.Time{}, fmt.Errorf("recurrence interval %d is invalid", rule.Interval)
	}

	switch rule.Unit {
	case models.RecurrenceUnitDaily:
		return after.AddDate(0, 0, rule.Interval), nil
	case models.RecurrenceUnitWeekly:
		return after.AddDate(0, 0, 7*rule.Interval), nil
	case models.RecurrenceUnitMonthly:
		return addMonthsClamped(after, rule.Interval, rule.DayOfMonth), nil
	case models.RecurrenceUnitYearly:
		return addYearsClamped(after, rule.Interval), nil
	default:
		return time.Time{}, fmt.Errorf("unknown recurrence unit %q", rule.Unit)
	}
}

// addMonthsClamped steps forward whole months keeping the time of day. The
// day of month comes from the rule when set, otherwise from the anchor, and
// is clamped rather than normalized: AddDate would turn Jan 31 + 1 month
// into Mar 3.
func addMonthsClamped(t time.Time, months int, dayOfMonth *int) time.Time {
	day := t.Day()
	if dayOfMonth != nil && *dayOfMonth >= 1 {
		day = *dayOfMonth
	}

	firstOfMonth := time.Date(t.Year(), t.Month(), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	shifted := firstOfMonth.AddDate(0, months, 0)
	if last := daysInMonth(shifted.Year(), shifted.Month()); day > last {
		day = last
	}
	return time.Date(shifted.Year(), shifted.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// addYearsClamped steps forward whole years, clamping Feb 29 anchors to
// Feb 28 in non-leap years.
func addYearsClamped(t time.Time, years int) time.Time {
	day := t.Day()
	year := t.Year() + years
	if last := daysInMonth(year, t.Month()); day > last {
		day = last
	}
	return time.Date(year, t.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// daysInMonth uses day zero of the following month, which the time package
// normalizes to the last day of this one.
func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
