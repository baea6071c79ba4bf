package renewal

import (
	"fmt"
	"time"

	"github.com/ManuelReschke/DuesFox/app/models"
	"github.com/ManuelReschke/DuesFox/internal/pkg/clock"
)

type Action int

const (
	ActionSkip Action = iota
	ActionEscalate
	ActionCharge
)

func (a Action) String() string {
	switch a {
	case ActionEscalate:
		return "escalate"
	case ActionCharge:
		return "charge"
	default:
		return "skip"
	}
}

// Day offsets after a failed attempt on which the charge is retried.
var retryOffsets = map[int]bool{1: true, 10: true, 13: true}

// Days until the next attempt, keyed by days since the previous failure.
var nextRetryIn = map[int]int{1: 9, 10: 3, 13: 1}

// Decision is what one tick should do for one member.
type Decision struct {
	Cycle models.Cycle
	// WarnPreExpiry is independent of Action; both may be acted upon.
	WarnPreExpiry bool
	Action        Action
	// DaysSinceFail is the value before this tick's attempt, nil if the cycle
	// has no failed attempt yet.
	DaysSinceFail *int
	Reason        string
}

// Decide runs the renewal state machine for member on today. It has no side
// effects.
func Decide(member models.Member, today time.Time) Decision {
	if !member.IsSchedulable() {
		return Decision{Action: ActionSkip, Reason: "no last payment date or stored payment method"}
	}
	today = clock.DateOf(today)

	cycle, _ := member.CurrentCycle()
	d := Decision{Cycle: cycle}

	if today.Equal(cycle.PreExpiryDate) && !member.PreExpiryNotifiedOn(today) {
		d.WarnPreExpiry = true
	}

	if today.Before(cycle.Deadline) {
		d.Reason = fmt.Sprintf("paid until %s", cycle.Deadline.Format(time.DateOnly))
		return d
	}

	if !today.Before(cycle.EscalationDate) {
		if member.AdminNotified() {
			d.Reason = "operators already notified this cycle"
			return d
		}
		d.Action = ActionEscalate
		return d
	}

	if member.FailedOn(today) {
		d.Reason = "already attempted today"
		return d
	}

	d.DaysSinceFail = member.DaysSinceFailure(today)
	if d.DaysSinceFail != nil {
		if !retryOffsets[*d.DaysSinceFail] {
			d.Reason = fmt.Sprintf("days since failure %d is not a retry day", *d.DaysSinceFail)
			return d
		}
	} else if !today.Equal(cycle.Deadline) {
		d.Reason = fmt.Sprintf("first attempt only on deadline %s", cycle.Deadline.Format(time.DateOnly))
		return d
	}

	d.Action = ActionCharge
	return d
}

// RetryNotice maps the days since the previous failure (before the attempt
// that just failed) to the "we retry in N days" notice. notify is false when
// the member gets no message for this failure.
func RetryNotice(daysSinceFail *int) (days int, notify bool) {
	if daysSinceFail == nil {
		return 1, true
	}
	if days, ok := nextRetryIn[*daysSinceFail]; ok {
		return days, true
	}
	return 0, false
}

// knownFailureOffset reports whether RetryNotice is expected to see the value.
// 14 is the last day of the grace period and stays silent.
func knownFailureOffset(daysSinceFail *int) bool {
	return daysSinceFail == nil || retryOffsets[*daysSinceFail] || *daysSinceFail == models.EscalationGraceDays
}

type State string

const (
	StateDormant   State = "dormant"
	StateCurrent   State = "current"
	StateDue       State = "due"
	StateRetrying  State = "retrying"
	StateEscalated State = "escalated"
)

// StateOf classifies a member for display. Decide does not depend on it.
func StateOf(member models.Member, today time.Time) State {
	if !member.IsSchedulable() {
		return StateDormant
	}
	today = clock.DateOf(today)
	cycle, _ := member.CurrentCycle()
	switch {
	case member.AdminNotified() || !today.Before(cycle.EscalationDate):
		return StateEscalated
	case member.LastFailedPaymentDate != nil:
		return StateRetrying
	case !today.Before(cycle.Deadline):
		return StateDue
	default:
		return StateCurrent
	}
}
