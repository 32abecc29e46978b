package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"hydroserver-etl/pkg/taskname"
	"hydroserver-etl/services/job"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Engine performs one extract/transform/load pass for a task and returns the
// raw outcome payload. Implementations live outside this subsystem.
type Engine interface {
	Execute(ctx context.Context, t *Task, j *job.Job) (map[string]any, error)
}

// StubEngine is the placeholder engine used until a real pipeline is wired.
type StubEngine struct{}

func NewStubEngine() *StubEngine { return &StubEngine{} }

func (e *StubEngine) Execute(ctx context.Context, t *Task, j *job.Job) (map[string]any, error) {
	return map[string]any{
		"message": fmt.Sprintf("Finished processing task: %s", t.ID),
	}, nil
}

// Worker consumes queued run requests: it opens a RUNNING record, invokes the
// engine, and closes the record with a normalized result.
type Worker struct {
	db     *gorm.DB
	engine Engine
	now    func() time.Time
}

func NewWorker(db *gorm.DB, engine Engine) *Worker {
	return &Worker{db: db, engine: engine, now: time.Now}
}

func RegisterWorker(mux *asynq.ServeMux, w *Worker) {
	mux.HandleFunc(taskname.ETLTaskRun, w.HandleRunTask)
}

func (w *Worker) HandleRunTask(ctx context.Context, t *asynq.Task) error {
	var payload runPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		zap.L().Error("invalid ETL run payload", zap.Error(err))
		return err
	}

	run, err := w.Execute(ctx, payload.TaskID)
	if err != nil {
		return err
	}
	if run == nil {
		return nil
	}

	zap.L().Info("finished ETL run",
		zap.String("task_id", payload.TaskID),
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
	)
	return nil
}

// Execute runs the task once. It returns nil without error when another run
// is already in flight for the task; a run never overlaps itself.
func (w *Worker) Execute(ctx context.Context, taskID string) (*TaskRun, error) {
	var t Task
	err := w.db.WithContext(ctx).
		Preload("Mappings", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("Mappings.Paths", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		First(&t, "id = ?", taskID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		zap.L().Warn("ETL run requested for missing task", zap.String("task_id", taskID))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var j job.Job
	if err := w.db.WithContext(ctx).First(&j, "id = ?", t.JobID).Error; err != nil {
		return nil, err
	}

	var inFlight int64
	err = w.db.WithContext(ctx).Model(&TaskRun{}).
		Where("task_id = ? AND status = ?", t.ID, RunStatusRunning).
		Count(&inFlight).Error
	if err != nil {
		return nil, err
	}
	if inFlight > 0 {
		zap.L().Warn("skipping ETL run, previous run still in flight", zap.String("task_id", t.ID))
		return nil, nil
	}

	run := TaskRun{
		ID:        uuid.NewString(),
		TaskID:    t.ID,
		Status:    RunStatusRunning,
		StartedAt: w.now(),
	}
	if err := w.db.WithContext(ctx).Create(&run).Error; err != nil {
		// The partial unique index on RUNNING rows catches the race where
		// two workers pass the count check at the same time.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			zap.L().Warn("skipping ETL run, previous run still in flight", zap.String("task_id", t.ID))
			return nil, nil
		}
		return nil, err
	}

	raw, execErr := w.engine.Execute(ctx, &t, &j)

	status := RunStatusSuccess
	if execErr != nil {
		status = RunStatusFailure
		raw = map[string]any{"error": execErr.Error()}
	}

	normalized := NormalizeRunResult(status, raw, j.TransformerRaw())
	finished := w.now()

	err = w.db.WithContext(ctx).Model(&TaskRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]any{
			"status":      status,
			"finished_at": finished,
			"result":      datatypes.JSONMap(normalized),
		}).Error
	if err != nil {
		return nil, err
	}

	run.Status = status
	run.FinishedAt = &finished
	run.Result = normalized
	return &run, nil
}
