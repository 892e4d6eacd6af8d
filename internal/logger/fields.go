package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// ============================================
// Tracing Fields (Context level)
// Propagated through a harvest run
// ============================================

const (
	// FieldRunID is the harvest run ID (UUID)
	FieldRunID = "run_id"

	// FieldMode is the run mode (range, catchup, forward, retry, ids)
	FieldMode = "mode"

	// FieldProjectID is the portal project identifier
	FieldProjectID = "project_id"

	// FieldWorker is the harvest worker index
	FieldWorker = "worker"

	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldRequestID is the HTTP request ID of the serving API
	FieldRequestID = "request_id"
)

// ============================================
// Metric Fields (Entry level)
// ============================================

const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldAttempt is the 1-based attempt number of a retried call
	FieldAttempt = "attempt"

	// FieldStatus is the operation status
	FieldStatus = "status"

	// FieldSize is a response or payload size in bytes
	FieldSize = "size"
)
