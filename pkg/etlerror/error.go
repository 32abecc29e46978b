// Package etlerror converts raw faults produced by the ETL execution engine
// into a stable, user-actionable error taxonomy.
package etlerror

import "fmt"

// Stage identifies which pipeline component a fault originated from.
type Stage string

const (
	StageExtractor   Stage = "extractor"
	StageTransformer Stage = "transformer"
	StageLoader      Stage = "loader"
	StageSystem      Stage = "system"
)

// Machine-readable classification codes, one per classifier rule.
const (
	CodeInvalidExtractorConfig   = "invalid_extractor_config"
	CodeInvalidTransformerConfig = "invalid_transformer_config"
	CodeInvalidLoaderConfig      = "invalid_loader_config"
	CodeMissingTaskVariable      = "missing_task_variable"
	CodeMissingPlaceholder       = "missing_placeholder_variable"
	CodeMissingTransformPayload  = "missing_transform_payload"
	CodeMissingTimezone          = "missing_timezone"
	CodeNullConfigValue          = "null_config_value"
	CodeTimestampKeyNotFound     = "timestamp_key_not_found"
	CodeInvalidTaskMapping       = "invalid_task_mapping"
	CodeSourceConnectionFailed   = "source_connection_failed"
	CodeSourceAuthFailed         = "source_authentication_failed"
	CodeSourceDataNotFound       = "source_data_not_found"
	CodeNoObservations           = "no_observations_returned"
	CodeInvalidJSONResponse      = "invalid_json_response"
	CodeInvalidJSONQuery         = "invalid_json_query"
	CodeDatastreamNotFound       = "datastream_not_found"
	CodeLoadRejected             = "load_rejected"
	CodeCSVHeaderMismatch        = "csv_header_mismatch"
	CodeUnreadableTimestamps     = "unreadable_timestamps"
)

// Detail describes one field-level issue inside a structured validation fault.
type Detail struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Input   any    `json:"input,omitempty"`
}

// UserFacingError is the classified representation of a failure, safe to show
// to end users. DebugError retains the original fault text for operator logs
// and is never rendered into user-visible fields.
type UserFacingError struct {
	Message    string   `json:"message"`
	Stage      Stage    `json:"stage"`
	Code       string   `json:"code"`
	Hint       string   `json:"hint,omitempty"`
	Details    []Detail `json:"details,omitempty"`
	DebugError string   `json:"-"`
}

func (e *UserFacingError) Error() string { return e.Message }

// FieldError is one entry of a structured validation fault. Loc holds the
// location path as reported by the engine: string segments for field names and
// int segments for list indexes.
type FieldError struct {
	Loc     []any
	Message string
	Type    string
	Input   any
}

// ValidationFault is a field-level configuration fault reported by the
// execution engine for one pipeline component. Raw carries the component's
// raw settings so classification can produce context-sensitive messages.
type ValidationFault struct {
	Component string
	Raw       map[string]any
	Errors    []FieldError
}

func (f *ValidationFault) Error() string {
	if len(f.Errors) == 0 {
		return fmt.Sprintf("invalid %s configuration", f.Component)
	}
	first := f.Errors[0]
	return fmt.Sprintf(
		"invalid %s configuration at %s: %s",
		f.Component, formatLoc(f.Component, first.Loc), first.Message,
	)
}
