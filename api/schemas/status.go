// File: api/schemas/status.go
package schemas

import (
	"fmt"
	"strings"
)

// ElementStatus is the implicit state inferred for an element from its signals.
type ElementStatus int

const (
	StatusUnknown ElementStatus = iota
	StatusFollowable
	StatusActive
	StatusPending
)

var statusNames = map[ElementStatus]string{
	StatusUnknown:    "UNKNOWN",
	StatusFollowable: "FOLLOWABLE",
	StatusActive:     "ACTIVE",
	StatusPending:    "PENDING",
}

func (s ElementStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ElementStatus(%d)", int(s))
}

// MarshalText lets statuses appear by name in JSON logs and telemetry.
func (s ElementStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name, case insensitively.
func (s *ElementStatus) UnmarshalText(text []byte) error {
	name := strings.ToUpper(strings.TrimSpace(string(text)))
	for status, n := range statusNames {
		if n == name {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown element status %q", string(text))
}

// OutcomeKind enumerates the result of handling one element.
type OutcomeKind int

const (
	OutcomeSkipped OutcomeKind = iota
	OutcomeCompleted
	OutcomeRequested
	OutcomeAlreadyActive
	OutcomeFailed
)

var outcomeNames = map[OutcomeKind]string{
	OutcomeSkipped:       "SKIPPED",
	OutcomeCompleted:     "COMPLETED",
	OutcomeRequested:     "REQUESTED",
	OutcomeAlreadyActive: "ALREADY_ACTIVE",
	OutcomeFailed:        "FAILED",
}

func (k OutcomeKind) String() string {
	if name, ok := outcomeNames[k]; ok {
		return name
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k OutcomeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Outcome is produced once per element per pass.
type Outcome struct {
	Kind OutcomeKind
	// Status is the observed status behind the outcome. For AlreadyActive it is
	// either StatusActive or StatusPending.
	Status ElementStatus
	// Err is set for Failed outcomes and for Skipped outcomes caused by an error.
	Err error
}

// Confirmed reports whether the outcome consumed quota (Completed or Requested).
func (o Outcome) Confirmed() bool {
	return o.Kind == OutcomeCompleted || o.Kind == OutcomeRequested
}

// AlreadyActive builds the outcome for elements already in a terminal state.
func AlreadyActive(status ElementStatus) Outcome {
	return Outcome{Kind: OutcomeAlreadyActive, Status: status}
}

// Skipped builds a skipped outcome, optionally carrying the cause.
func Skipped(status ElementStatus, err error) Outcome {
	return Outcome{Kind: OutcomeSkipped, Status: status, Err: err}
}

// Failed builds the outcome for an element whose handler raised an error.
func Failed(status ElementStatus, err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Status: status, Err: err}
}
