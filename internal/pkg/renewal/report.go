package renewal

import (
	"sync"
	"time"
)

type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeCharged   Outcome = "charged"
	OutcomeFailed    Outcome = "failed"
	OutcomeEscalated Outcome = "escalated"
	OutcomeErrored   Outcome = "errored"
)

// TickReport summarizes one tick. Warned counts pre-expiry warnings and
// overlaps with the per-outcome counts.
type TickReport struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Today      string    `json:"today"`
	Members    int       `json:"members"`
	Skipped    int       `json:"skipped"`
	Warned     int       `json:"warned"`
	Charged    int       `json:"charged"`
	Failed     int       `json:"failed"`
	Escalated  int       `json:"escalated"`
	Errored    int       `json:"errored"`
	// Interrupted is set when shutdown stopped the tick before every member
	// was started.
	Interrupted bool `json:"interrupted"`

	mu sync.Mutex
}

func newTickReport(started, today time.Time) *TickReport {
	return &TickReport{StartedAt: started, Today: today.Format(time.DateOnly)}
}

func (r *TickReport) record(outcome Outcome, warned bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if warned {
		r.Warned++
	}
	switch outcome {
	case OutcomeCharged:
		r.Charged++
	case OutcomeFailed:
		r.Failed++
	case OutcomeEscalated:
		r.Escalated++
	case OutcomeErrored:
		r.Errored++
	default:
		r.Skipped++
	}
}

// Processed is the number of members that reached an outcome.
func (r *TickReport) Processed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Skipped + r.Charged + r.Failed + r.Escalated + r.Errored
}
