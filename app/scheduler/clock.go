package scheduler

import (
	"time"

	"github.com/mailtide/mailtide/utils"
)

// Clock supplies the current instant. The engine, recorder, poller and trigger
// dispatcher all read time through it so tests can pin executions to fixed
// instants instead of sleeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return utils.UTCNow()
}

// SystemClock returns the wall clock in UTC.
func SystemClock() Clock {
	return systemClock{}
}
