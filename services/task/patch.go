package task

import (
	"bytes"
	"encoding/json"
	"time"
)

// Field is a three-state patch value: absent (leave unchanged), explicit null
// (clear), or an explicit value. Plain pointers cannot express the first two
// states separately, so presence is tracked during JSON decoding.
type Field[T any] struct {
	Set   bool
	Value *T
}

var nullBytes = []byte("null")

func (f *Field[T]) UnmarshalJSON(b []byte) error {
	f.Set = true
	if bytes.Equal(b, nullBytes) {
		f.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	f.Value = &v
	return nil
}

func (f Field[T]) MarshalJSON() ([]byte, error) {
	if f.Value == nil {
		return nullBytes, nil
	}
	return json.Marshal(*f.Value)
}

// FieldOf builds a set Field holding v. Used by callers constructing patches
// in code rather than from JSON.
func FieldOf[T any](v T) Field[T] {
	return Field[T]{Set: true, Value: &v}
}

// NullField builds a set Field holding an explicit null.
func NullField[T any]() Field[T] {
	return Field[T]{Set: true}
}

// SchedulePatch is the partial update applied to a task's schedule. Absent
// fields are left unchanged; the whole object can also arrive as an explicit
// null, which removes the schedule entirely.
type SchedulePatch struct {
	Crontab        Field[string]    `json:"crontab"`
	Interval       Field[int]       `json:"interval"`
	IntervalPeriod Field[string]    `json:"interval_period"`
	StartTime      Field[time.Time] `json:"start_time"`
	Paused         Field[bool]      `json:"paused"`
	NextRunAt      Field[time.Time] `json:"next_run_at"`
}

type MappingPathInput struct {
	TargetIdentifier string `json:"target_identifier"`
	Transformations  []any  `json:"transformations"`
}

type MappingInput struct {
	SourceIdentifier string             `json:"source_identifier"`
	Paths            []MappingPathInput `json:"paths"`
}

type CreateTaskInput struct {
	Name                  string         `json:"name"`
	JobID                 string         `json:"job_id"`
	OrchestrationSystemID *string        `json:"orchestration_system_id"`
	Paused                bool           `json:"paused"`
	ExtractorVariables    map[string]any `json:"extractor_variables"`
	TransformerVariables  map[string]any `json:"transformer_variables"`
	LoaderVariables       map[string]any `json:"loader_variables"`
	Schedule              *SchedulePatch `json:"schedule"`
	Mappings              []MappingInput `json:"mappings"`
}

type UpdateTaskInput struct {
	Name                  Field[string]         `json:"name"`
	JobID                 Field[string]         `json:"job_id"`
	OrchestrationSystemID Field[string]         `json:"orchestration_system_id"`
	ExtractorVariables    Field[map[string]any] `json:"extractor_variables"`
	TransformerVariables  Field[map[string]any] `json:"transformer_variables"`
	LoaderVariables       Field[map[string]any] `json:"loader_variables"`
	Schedule              Field[SchedulePatch]  `json:"schedule"`
	Mappings              Field[[]MappingInput] `json:"mappings"`
}
