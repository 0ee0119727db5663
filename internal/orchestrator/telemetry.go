// File: internal/orchestrator/telemetry.go
package orchestrator

import "github.com/xkilldash9x/cadence/api/schemas"

// SessionTelemetry stamps every event passing through it with the session
// identifier. Share one instance between the throttle, the executor and the
// orchestrator so a sink can group a session's events.
func SessionTelemetry(sessionID string, next schemas.Telemetry) schemas.Telemetry {
	if next == nil {
		next = schemas.NopTelemetry
	}
	return schemas.TelemetryFunc(func(e schemas.Event) {
		if e.SessionID == "" {
			e.SessionID = sessionID
		}
		next.Emit(e)
	})
}
