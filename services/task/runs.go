package task

import (
	"context"
	"errors"
	"time"

	"hydroserver-etl/pkg/errutil"
	"hydroserver-etl/services/job"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RunService exposes the run history of a task as a sub-resource. External
// orchestration systems report their executions through it.
type RunService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRunService(db *gorm.DB) *RunService {
	return &RunService{db: db, now: time.Now}
}

type CreateRunInput struct {
	Status     RunStatus      `json:"status"`
	StartedAt  *time.Time     `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at"`
	Result     map[string]any `json:"result"`
}

type UpdateRunInput struct {
	Status     Field[RunStatus]      `json:"status"`
	FinishedAt Field[time.Time]      `json:"finished_at"`
	Result     Field[map[string]any] `json:"result"`
}

func (s *RunService) task(ctx context.Context, taskID string) (*Task, error) {
	var t Task
	err := s.db.WithContext(ctx).First(&t, "id = ?", taskID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.NotFound("ETL task does not exist", err)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *RunService) get(ctx context.Context, taskID, runID string) (*TaskRun, error) {
	var run TaskRun
	err := s.db.WithContext(ctx).
		First(&run, "id = ? AND task_id = ?", runID, taskID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.NotFound("Task run does not exist", err)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// transformerRaw loads the task's job transformer settings so results can be
// normalized with the same context the worker uses.
func (s *RunService) transformerRaw(ctx context.Context, t *Task) (map[string]any, error) {
	var j job.Job
	if err := s.db.WithContext(ctx).First(&j, "id = ?", t.JobID).Error; err != nil {
		return nil, err
	}
	return j.TransformerRaw(), nil
}

func (s *RunService) List(ctx context.Context, taskID string) ([]*RunBlock, error) {
	if _, err := s.task(ctx, taskID); err != nil {
		return nil, err
	}

	var runs []TaskRun
	err := s.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("started_at DESC").
		Find(&runs).Error
	if err != nil {
		return nil, err
	}

	blocks := make([]*RunBlock, 0, len(runs))
	for i := range runs {
		blocks = append(blocks, runBlock(&runs[i]))
	}
	return blocks, nil
}

func (s *RunService) Get(ctx context.Context, taskID, runID string) (*RunBlock, error) {
	if _, err := s.task(ctx, taskID); err != nil {
		return nil, err
	}
	run, err := s.get(ctx, taskID, runID)
	if err != nil {
		return nil, err
	}
	return runBlock(run), nil
}

func (s *RunService) Create(ctx context.Context, taskID string, input CreateRunInput) (*RunBlock, error) {
	t, err := s.task(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !input.Status.Valid() {
		return nil, errutil.BadRequest("Invalid run status", nil)
	}

	raw, err := s.transformerRaw(ctx, t)
	if err != nil {
		return nil, err
	}

	startedAt := s.now()
	if input.StartedAt != nil {
		startedAt = *input.StartedAt
	}

	run := TaskRun{
		ID:         uuid.NewString(),
		TaskID:     t.ID,
		Status:     input.Status,
		StartedAt:  startedAt,
		FinishedAt: input.FinishedAt,
		Result:     NormalizeRunResult(input.Status, input.Result, raw),
	}
	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		return nil, err
	}
	return runBlock(&run), nil
}

func (s *RunService) Update(ctx context.Context, taskID, runID string, patch UpdateRunInput) (*RunBlock, error) {
	t, err := s.task(ctx, taskID)
	if err != nil {
		return nil, err
	}
	run, err := s.get(ctx, taskID, runID)
	if err != nil {
		return nil, err
	}

	statusChanged := false
	if patch.Status.Set {
		if patch.Status.Value == nil || !patch.Status.Value.Valid() {
			return nil, errutil.BadRequest("Invalid run status", nil)
		}
		statusChanged = run.Status != *patch.Status.Value
		run.Status = *patch.Status.Value
	}
	if patch.FinishedAt.Set {
		run.FinishedAt = patch.FinishedAt.Value
	}

	// Normalization depends on the run status, so a status flip invalidates
	// the stored result just as much as a new result payload does.
	if patch.Result.Set || (statusChanged && run.Result != nil) {
		raw, err := s.transformerRaw(ctx, t)
		if err != nil {
			return nil, err
		}
		result := map[string]any(run.Result)
		if patch.Result.Set {
			result = mapValue(patch.Result)
		}
		run.Result = NormalizeRunResult(run.Status, result, raw)
	}

	if err := s.db.WithContext(ctx).Save(run).Error; err != nil {
		return nil, err
	}
	return runBlock(run), nil
}

func (s *RunService) Delete(ctx context.Context, taskID, runID string) error {
	if _, err := s.task(ctx, taskID); err != nil {
		return err
	}
	run, err := s.get(ctx, taskID, runID)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Delete(&TaskRun{}, "id = ?", run.ID).Error
}
