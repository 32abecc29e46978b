package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"hydroserver-etl/services/job"
	"hydroserver-etl/services/orchestration"
	"hydroserver-etl/services/testutil"
)

type fakeEngine struct {
	result map[string]any
	err    error
	calls  int
}

func (e *fakeEngine) Execute(ctx context.Context, t *Task, j *job.Job) (map[string]any, error) {
	e.calls++
	return e.result, e.err
}

func newWorkerHarness(t *testing.T, engine Engine) (*Worker, *gorm.DB) {
	t.Helper()

	models := append(Models(), &job.Job{}, &orchestration.System{})
	db := testutil.NewTestDB(t, models...)

	transformerType := "CSV"
	require.NoError(t, db.Create(&job.Job{
		ID:              "job-1",
		Name:            "job-1",
		WorkspaceID:     "ws-1",
		TransformerType: &transformerType,
	}).Error)
	require.NoError(t, db.Omit("Schedule", "Mappings").Create(&Task{ID: "task-1", Name: "task", JobID: "job-1"}).Error)

	w := NewWorker(db, engine)
	w.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return w, db
}

func TestWorker_SuccessfulRun(t *testing.T) {
	engine := &fakeEngine{result: map[string]any{
		"message": "Load complete. 7 rows were added to 2 datastreams.",
	}}
	w, db := newWorkerHarness(t, engine)

	run, err := w.Execute(context.Background(), "task-1")
	require.NoError(t, err)
	require.NotNil(t, run)
	require.Equal(t, RunStatusSuccess, run.Status)
	require.NotNil(t, run.FinishedAt)
	require.Equal(t, "Loaded 7 total observations across 2 datastreams.", run.Result["message"])

	var stored TaskRun
	require.NoError(t, db.First(&stored, "id = ?", run.ID).Error)
	require.Equal(t, RunStatusSuccess, stored.Status)
	require.Equal(t, "Loaded 7 total observations across 2 datastreams.", stored.Result["message"])
}

func TestWorker_EngineFailureRecordsNormalizedError(t *testing.T) {
	engine := &fakeEngine{err: errors.New("Setup failed: Missing per-task variable 'apiKey'")}
	w, db := newWorkerHarness(t, engine)

	run, err := w.Execute(context.Background(), "task-1")
	require.NoError(t, err)
	require.NotNil(t, run)
	require.Equal(t, RunStatusFailure, run.Status)

	var stored TaskRun
	require.NoError(t, db.First(&stored, "id = ?", run.ID).Error)
	require.Equal(t, RunStatusFailure, stored.Status)
	require.Equal(t, "A required task variable named 'apiKey' was not provided.", stored.Result["message"])
}

func TestWorker_SkipsWhenRunInFlight(t *testing.T) {
	engine := &fakeEngine{result: map[string]any{"message": "ok"}}
	w, db := newWorkerHarness(t, engine)

	require.NoError(t, db.Create(&TaskRun{
		ID: "run-open", TaskID: "task-1", Status: RunStatusRunning, StartedAt: time.Now(),
	}).Error)

	run, err := w.Execute(context.Background(), "task-1")
	require.NoError(t, err)
	require.Nil(t, run)
	require.Zero(t, engine.calls)

	var count int64
	require.NoError(t, db.Model(&TaskRun{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestWorker_RunningRowsUniquePerTask(t *testing.T) {
	engine := &fakeEngine{result: map[string]any{"message": "ok"}}
	_, db := newWorkerHarness(t, engine)

	require.NoError(t, db.Create(&TaskRun{
		ID: "run-open", TaskID: "task-1", Status: RunStatusRunning, StartedAt: time.Now(),
	}).Error)

	// A second in-flight row for the same task is rejected at the database,
	// so two workers racing past the count check cannot both open a run.
	err := db.Create(&TaskRun{
		ID: "run-race", TaskID: "task-1", Status: RunStatusRunning, StartedAt: time.Now(),
	}).Error
	require.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	// Finished rows are unconstrained; the history can grow freely.
	require.NoError(t, db.Create(&TaskRun{
		ID: "run-done-1", TaskID: "task-1", Status: RunStatusSuccess, StartedAt: time.Now(),
	}).Error)
	require.NoError(t, db.Create(&TaskRun{
		ID: "run-done-2", TaskID: "task-1", Status: RunStatusFailure, StartedAt: time.Now(),
	}).Error)
}

func TestWorker_MissingTaskIsIgnored(t *testing.T) {
	engine := &fakeEngine{}
	w, _ := newWorkerHarness(t, engine)

	run, err := w.Execute(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, run)
	require.Zero(t, engine.calls)
}

func TestStubEngine_ReportsTaskID(t *testing.T) {
	engine := NewStubEngine()

	out, err := engine.Execute(context.Background(), &Task{ID: "task-9"}, &job.Job{})
	require.NoError(t, err)
	require.Equal(t, "Finished processing task: task-9", out["message"])
}
