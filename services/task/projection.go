package task

import (
	"encoding/json"
	"time"
)

// ScheduleBlock is the read projection of a task's schedule.
type ScheduleBlock struct {
	Crontab        *string    `json:"crontab"`
	Interval       *int       `json:"interval"`
	IntervalPeriod *string    `json:"interval_period"`
	StartTime      *time.Time `json:"start_time"`
	Paused         bool       `json:"paused"`
	NextRunAt      *time.Time `json:"next_run_at"`
}

// RunBlock is the read projection of one task run.
type RunBlock struct {
	ID         string         `json:"id"`
	Status     RunStatus      `json:"status"`
	Result     map[string]any `json:"result"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at"`
}

type MappingPathBlock struct {
	TargetIdentifier string `json:"target_identifier"`
	Transformations  []any  `json:"transformations"`
}

type MappingBlock struct {
	SourceIdentifier string             `json:"source_identifier"`
	Paths            []MappingPathBlock `json:"paths"`
}

// Projection is the composed read model returned to the CRUD layer: the
// task's scalar fields plus the schedule, latest-run and mapping blocks.
type Projection struct {
	ID                    string         `json:"id"`
	Name                  string         `json:"name"`
	JobID                 string         `json:"job_id"`
	OrchestrationSystemID *string        `json:"orchestration_system_id"`
	Schedule              *ScheduleBlock `json:"schedule"`
	LatestRun             *RunBlock      `json:"latest_run"`
	Mappings              []MappingBlock `json:"mappings"`
	ExtractorVariables    map[string]any `json:"extractor_variables"`
	TransformerVariables  map[string]any `json:"transformer_variables"`
	LoaderVariables       map[string]any `json:"loader_variables"`
}

func scheduleBlock(t *Task) *ScheduleBlock {
	if t.Schedule == nil {
		return nil
	}
	return &ScheduleBlock{
		Crontab:        t.Schedule.Crontab,
		Interval:       t.Schedule.IntervalEvery,
		IntervalPeriod: t.Schedule.IntervalPeriod,
		StartTime:      t.Schedule.StartTime,
		Paused:         t.Paused,
		NextRunAt:      t.NextRunAt,
	}
}

func runBlock(run *TaskRun) *RunBlock {
	if run == nil {
		return nil
	}
	return &RunBlock{
		ID:         run.ID,
		Status:     run.Status,
		Result:     run.Result,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
	}
}

func mappingBlocks(mappings []TaskMapping) []MappingBlock {
	blocks := make([]MappingBlock, 0, len(mappings))
	for _, m := range mappings {
		paths := make([]MappingPathBlock, 0, len(m.Paths))
		for _, p := range m.Paths {
			var transformations []any
			if len(p.Transformations) > 0 {
				_ = json.Unmarshal(p.Transformations, &transformations)
			}
			if transformations == nil {
				transformations = []any{}
			}
			paths = append(paths, MappingPathBlock{
				TargetIdentifier: p.TargetIdentifier,
				Transformations:  transformations,
			})
		}
		blocks = append(blocks, MappingBlock{
			SourceIdentifier: m.SourceIdentifier,
			Paths:            paths,
		})
	}
	return blocks
}

func projection(t *Task, latest *TaskRun) *Projection {
	return &Projection{
		ID:                    t.ID,
		Name:                  t.Name,
		JobID:                 t.JobID,
		OrchestrationSystemID: t.OrchestrationSystemID,
		Schedule:              scheduleBlock(t),
		LatestRun:             runBlock(latest),
		Mappings:              mappingBlocks(t.Mappings),
		ExtractorVariables:    t.ExtractorVariables,
		TransformerVariables:  t.TransformerVariables,
		LoaderVariables:       t.LoaderVariables,
	}
}
