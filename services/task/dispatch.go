package task

import (
	"context"
	"encoding/json"

	"hydroserver-etl/pkg/config"
	"hydroserver-etl/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Dispatcher hands a task off to the execution engine. The enqueue is
// fire-and-forget from the orchestration service's perspective; the run
// record transitions out-of-band.
type Dispatcher interface {
	Dispatch(ctx context.Context, taskID string) error
}

type runPayload struct {
	TaskID string `json:"task_id"`
}

type AsynqDispatcher struct {
	client *asynq.Client
	cfg    *config.Config
}

func NewAsynqDispatcher(client *asynq.Client, cfg *config.Config) *AsynqDispatcher {
	return &AsynqDispatcher{client: client, cfg: cfg}
}

func (d *AsynqDispatcher) Dispatch(ctx context.Context, taskID string) error {
	payload, err := json.Marshal(runPayload{TaskID: taskID})
	if err != nil {
		return err
	}

	job := asynq.NewTask(taskname.ETLTaskRun, payload)
	info, err := d.client.EnqueueContext(ctx, job,
		asynq.Queue("default"),
		asynq.Retention(d.cfg.Scheduler.RunExpiry),
	)
	if err != nil {
		return err
	}

	zap.L().Info("enqueued ETL run",
		zap.String("task_id", taskID),
		zap.String("queue_id", info.ID),
	)
	return nil
}
