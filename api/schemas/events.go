// File: api/schemas/events.go
package schemas

import "time"

// EventType names a telemetry event.
type EventType string

const (
	EventClassification      EventType = "classification"
	EventQuotaSnapshot       EventType = "quota_snapshot"
	EventBreakStarted        EventType = "break_started"
	EventBreakProgress       EventType = "break_progress"
	EventBreakEnded          EventType = "break_ended"
	EventOutcome             EventType = "outcome"
	EventConfirmationTimeout EventType = "confirmation_timeout"
	EventSessionEnded        EventType = "session_ended"
)

// Event is a telemetry record. Exactly one payload field is set, matching Type.
type Event struct {
	Type           EventType             `json:"type"`
	Time           time.Time             `json:"time"`
	SessionID      string                `json:"sessionId,omitempty"`
	Classification *ClassificationCounts `json:"classification,omitempty"`
	Quota          *QuotaSnapshot        `json:"quota,omitempty"`
	Break          *BreakInfo            `json:"break,omitempty"`
	Outcome        *OutcomeInfo          `json:"outcome,omitempty"`
	Summary        *SessionSummary       `json:"summary,omitempty"`
}

// ClassificationCounts summarizes one classification pass.
type ClassificationCounts struct {
	Scanned    int `json:"scanned"`
	Invisible  int `json:"invisible"`
	Followable int `json:"followable"`
	Active     int `json:"active"`
	Pending    int `json:"pending"`
	Unknown    int `json:"unknown"`
}

// QuotaSnapshot is a point in time view of the throttle state.
type QuotaSnapshot struct {
	DailyCount    int       `json:"dailyCount"`
	DailyLimit    int       `json:"dailyLimit"`
	HourlyCount   int       `json:"hourlyCount"`
	HourlyLimit   int       `json:"hourlyLimit"`
	LifetimeCount int       `json:"lifetimeCount"`
	LifetimeLimit int       `json:"lifetimeLimit"`
	SessionCount  int       `json:"sessionCount"`
	LastAction    time.Time `json:"lastAction,omitempty"`
}

// BreakKind distinguishes short and long rest periods.
type BreakKind string

const (
	BreakShort BreakKind = "short"
	BreakLong  BreakKind = "long"
)

// BreakInfo describes a rest period in progress.
type BreakInfo struct {
	Kind      BreakKind     `json:"kind"`
	Total     time.Duration `json:"total"`
	Remaining time.Duration `json:"remaining"`
}

// OutcomeInfo is the telemetry view of a handled element.
type OutcomeInfo struct {
	HandleID string        `json:"handleId"`
	Kind     OutcomeKind   `json:"kind"`
	Status   ElementStatus `json:"status"`
	Error    string        `json:"error,omitempty"`
}

// SessionSummary is the final tally reported when a session ends.
type SessionSummary struct {
	Completed        int    `json:"completed"`
	Requested        int    `json:"requested"`
	ActiveProcessed  int    `json:"activeProcessed"`
	PendingProcessed int    `json:"pendingProcessed"`
	Skipped          int    `json:"skipped"`
	Failed           int    `json:"failed"`
	StopReason       string `json:"stopReason"`
}
