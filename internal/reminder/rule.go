package reminder

import (
	"time"

	"nudge/internal/storage"
)

// LeadTime is how long before a deadline the reminder fires.
const LeadTime = 10 * time.Minute

// Decision is the outcome of Decide. The zero value means no reminder.
type Decision struct {
	Remind bool
	FireAt time.Time
}

// Decide reports whether and when a reminder should fire for t.
// A fire time equal to now is not scheduled.
func Decide(t storage.Task, now time.Time) Decision {
	if t.Completed {
		return Decision{}
	}
	fireAt := t.Deadline.Add(-LeadTime)
	if !fireAt.After(now) {
		return Decision{}
	}
	return Decision{Remind: true, FireAt: fireAt}
}
