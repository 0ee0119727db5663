// File: internal/executor/tally.go
package executor

import "github.com/xkilldash9x/cadence/api/schemas"

// Tally accumulates outcomes over a session.
type Tally struct {
	Completed        int `json:"completed"`
	Requested        int `json:"requested"`
	ActiveProcessed  int `json:"activeProcessed"`
	PendingProcessed int `json:"pendingProcessed"`
	// Skipped includes Failed outcomes.
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Record folds one outcome into the tally. A Followable element that ends up
// Requested counts as Requested only, not as PendingProcessed.
func (t *Tally) Record(o schemas.Outcome) {
	switch o.Kind {
	case schemas.OutcomeCompleted:
		t.Completed++
	case schemas.OutcomeRequested:
		t.Requested++
	case schemas.OutcomeAlreadyActive:
		if o.Status == schemas.StatusPending {
			t.PendingProcessed++
		} else {
			t.ActiveProcessed++
		}
	case schemas.OutcomeFailed:
		t.Failed++
		t.Skipped++
	default:
		t.Skipped++
	}
}

// Confirmed is the number of outcomes that consumed quota.
func (t Tally) Confirmed() int { return t.Completed + t.Requested }

// Total is the number of recorded outcomes.
func (t Tally) Total() int {
	return t.Completed + t.Requested + t.ActiveProcessed + t.PendingProcessed + t.Skipped
}

// Summary converts the tally to its telemetry form.
func (t Tally) Summary(stopReason string) schemas.SessionSummary {
	return schemas.SessionSummary{
		Completed:        t.Completed,
		Requested:        t.Requested,
		ActiveProcessed:  t.ActiveProcessed,
		PendingProcessed: t.PendingProcessed,
		Skipped:          t.Skipped,
		Failed:           t.Failed,
		StopReason:       stopReason,
	}
}
