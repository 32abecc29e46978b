package task

import (
	"time"

	"gorm.io/datatypes"
)

type RunStatus string

const (
	RunStatusRunning RunStatus = "RUNNING"
	RunStatusSuccess RunStatus = "SUCCESS"
	RunStatusFailure RunStatus = "FAILURE"
)

func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusRunning, RunStatusSuccess, RunStatusFailure:
		return true
	}
	return false
}

// Task is a configured, schedulable unit of ETL work. A task either owns a
// Schedule or is driven by an external orchestration system, never both.
type Task struct {
	ID                    string     `gorm:"column:id;primaryKey;type:varchar(32)"`
	Name                  string     `gorm:"column:name;type:varchar(255);not null"`
	JobID                 string     `gorm:"column:job_id;index;not null"`
	OrchestrationSystemID *string    `gorm:"column:orchestration_system_id;index"`
	Paused                bool       `gorm:"column:paused;default:false"`
	NextRunAt             *time.Time `gorm:"column:next_run_at"`
	CreatedAt             time.Time  `gorm:"autoCreateTime"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime"`

	ExtractorVariables   datatypes.JSONMap `gorm:"column:extractor_variables"`
	TransformerVariables datatypes.JSONMap `gorm:"column:transformer_variables"`
	LoaderVariables      datatypes.JSONMap `gorm:"column:loader_variables"`

	Schedule *Schedule     `gorm:"foreignKey:TaskID"`
	Mappings []TaskMapping `gorm:"foreignKey:TaskID"`
}

// Schedule is the crontab-or-interval trigger owned 1:1 by a task. Exactly
// one of Crontab or IntervalEvery is set on a persisted row. The row is
// mutated in place on updates so the trigger identity is preserved.
type Schedule struct {
	ID             string     `gorm:"column:id;primaryKey;type:varchar(32)"`
	TaskID         string     `gorm:"column:task_id;uniqueIndex;not null"`
	Crontab        *string    `gorm:"column:crontab;type:varchar(100)"`
	IntervalEvery  *int       `gorm:"column:interval_every"`
	IntervalPeriod *string    `gorm:"column:interval_period;type:varchar(20)"`
	StartTime      *time.Time `gorm:"column:start_time"`
	Enabled        bool       `gorm:"column:enabled"`
	CreatedAt      time.Time  `gorm:"autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime"`
}

// TaskMapping routes one source identifier in the extracted dataset to one or
// more target paths. Source identifiers are unique within a task.
type TaskMapping struct {
	ID               string            `gorm:"column:id;primaryKey;type:varchar(32)"`
	TaskID           string            `gorm:"column:task_id;index;uniqueIndex:idx_task_source,priority:1;not null"`
	SourceIdentifier string            `gorm:"column:source_identifier;uniqueIndex:idx_task_source,priority:2;type:varchar(255);not null"`
	Position         int               `gorm:"column:position;not null"`
	Paths            []TaskMappingPath `gorm:"foreignKey:TaskMappingID"`
}

type TaskMappingPath struct {
	ID               string         `gorm:"column:id;primaryKey;type:varchar(32)"`
	TaskMappingID    string         `gorm:"column:task_mapping_id;index;not null"`
	TargetIdentifier string         `gorm:"column:target_identifier;type:varchar(255);not null"`
	Position         int            `gorm:"column:position;not null"`
	Transformations  datatypes.JSON `gorm:"column:transformations"`
}

// TaskRun is one append-only execution record. Result always holds the
// normalized payload, never the engine's raw output. The partial unique
// index allows at most one RUNNING row per task.
type TaskRun struct {
	ID         string            `gorm:"column:id;primaryKey;type:varchar(36)"`
	TaskID     string            `gorm:"column:task_id;index;uniqueIndex:idx_task_run_in_flight,where:status = 'RUNNING';not null"`
	Status     RunStatus         `gorm:"column:status;type:varchar(20);not null"`
	StartedAt  time.Time         `gorm:"column:started_at;index;not null"`
	FinishedAt *time.Time        `gorm:"column:finished_at"`
	Result     datatypes.JSONMap `gorm:"column:result"`
}

// Models lists every table owned by this package, in migration order.
func Models() []any {
	return []any{&Task{}, &Schedule{}, &TaskMapping{}, &TaskMappingPath{}, &TaskRun{}}
}
