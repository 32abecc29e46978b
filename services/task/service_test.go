package task

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"hydroserver-etl/services/job"
	"hydroserver-etl/services/orchestration"
	"hydroserver-etl/services/testutil"
)

type fakeDispatcher struct {
	dispatched []string
	err        error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, taskID string) error {
	if d.err != nil {
		return d.err
	}
	d.dispatched = append(d.dispatched, taskID)
	return nil
}

func newServiceHarness(t *testing.T) (*Service, *fakeDispatcher, *gorm.DB) {
	t.Helper()

	models := append(Models(), &job.Job{}, &orchestration.System{})
	db := testutil.NewTestDB(t, models...)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	dispatcher := &fakeDispatcher{}
	svc := NewService(ServiceParams{
		DB:             db,
		Node:           node,
		Schedules:      NewScheduleManager(node),
		Dispatcher:     dispatcher,
		Jobs:           job.NewService(db),
		Orchestrations: orchestration.NewService(db),
	})

	return svc, dispatcher, db
}

func seedJob(t *testing.T, db *gorm.DB, id, workspace string) {
	t.Helper()
	require.NoError(t, db.Create(&job.Job{ID: id, Name: id, WorkspaceID: workspace}).Error)
}

func seedSystem(t *testing.T, db *gorm.DB, id string, workspace *string) {
	t.Helper()
	require.NoError(t, db.Create(&orchestration.System{ID: id, Name: id, SystemType: "airflow", WorkspaceID: workspace}).Error)
}

func TestService_CreateFullTask(t *testing.T) {
	svc, _, db := newServiceHarness(t)
	seedJob(t, db, "job-1", "ws-1")

	out, err := svc.Create(context.Background(), CreateTaskInput{
		Name:  "usgs gauge sync",
		JobID: "job-1",
		ExtractorVariables: map[string]any{
			"stationId": "09380000",
		},
		Schedule: &SchedulePatch{
			Interval:       FieldOf(15),
			IntervalPeriod: FieldOf("minutes"),
		},
		Mappings: []MappingInput{
			{SourceIdentifier: "discharge", Paths: []MappingPathInput{{TargetIdentifier: "ds-1"}}},
			{SourceIdentifier: "stage"},
		},
	})
	require.NoError(t, err)

	require.Equal(t, "usgs gauge sync", out.Name)
	require.Equal(t, "job-1", out.JobID)
	require.Nil(t, out.OrchestrationSystemID)
	require.Nil(t, out.LatestRun)

	require.NotNil(t, out.Schedule)
	require.NotNil(t, out.Schedule.Interval)
	require.Equal(t, 15, *out.Schedule.Interval)
	require.NotNil(t, out.Schedule.NextRunAt)
	require.False(t, out.Schedule.Paused)

	require.Len(t, out.Mappings, 2)
	require.Equal(t, "discharge", out.Mappings[0].SourceIdentifier)
	require.Equal(t, "ds-1", out.Mappings[0].Paths[0].TargetIdentifier)
	require.Equal(t, []any{}, out.Mappings[0].Paths[0].Transformations)

	require.Equal(t, "09380000", out.ExtractorVariables["stationId"])
}

func TestService_CreateWithoutSchedule(t *testing.T) {
	svc, _, db := newServiceHarness(t)
	seedJob(t, db, "job-1", "ws-1")

	out, err := svc.Create(context.Background(), CreateTaskInput{Name: "bare", JobID: "job-1"})
	require.NoError(t, err)
	require.Nil(t, out.Schedule)
	require.Empty(t, out.Mappings)
}

func TestService_CreateUnknownJob(t *testing.T) {
	svc, _, _ := newServiceHarness(t)

	_, err := svc.Create(context.Background(), CreateTaskInput{Name: "orphan", JobID: "nope"})
	require.ErrorContains(t, err, "job does not exist")
}

func TestService_CreateRollsBackOnBadMappings(t *testing.T) {
	svc, _, db := newServiceHarness(t)
	seedJob(t, db, "job-1", "ws-1")

	_, err := svc.Create(context.Background(), CreateTaskInput{
		Name:  "dup mappings",
		JobID: "job-1",
		Mappings: []MappingInput{
			{SourceIdentifier: "x"}, {SourceIdentifier: "x"},
		},
	})
	require.ErrorContains(t, err, "Duplicate mapping source identifier")

	var count int64
	require.NoError(t, db.Model(&Task{}).Count(&count).Error)
	require.EqualValues(t, 0, count)
}

func TestService_CreateOrchestrationScope(t *testing.T) {
	svc, _, db := newServiceHarness(t)
	seedJob(t, db, "job-1", "ws-1")
	otherWS := "ws-2"
	seedSystem(t, db, "sys-other", &otherWS)
	seedSystem(t, db, "sys-global", nil)

	systemID := "sys-other"
	_, err := svc.Create(context.Background(), CreateTaskInput{
		Name: "cross workspace", JobID: "job-1", OrchestrationSystemID: &systemID,
	})
	require.ErrorContains(t, err, "Task and orchestration system must belong to the same workspace")

	globalID := "sys-global"
	out, err := svc.Create(context.Background(), CreateTaskInput{
		Name: "global system", JobID: "job-1", OrchestrationSystemID: &globalID,
	})
	require.NoError(t, err)
	require.NotNil(t, out.OrchestrationSystemID)
	require.Equal(t, "sys-global", *out.OrchestrationSystemID)
}

func TestService_UpdateScalarsAndVariables(t *testing.T) {
	svc, _, db := newServiceHarness(t)
	seedJob(t, db, "job-1", "ws-1")

	created, err := svc.Create(context.Background(), CreateTaskInput{Name: "before", JobID: "job-1"})
	require.NoError(t, err)

	out, err := svc.Update(context.Background(), created.ID, UpdateTaskInput{
		Name:               FieldOf("after"),
		ExtractorVariables: FieldOf(map[string]any{"stationId": "123"}),
	})
	require.NoError(t, err)
	require.Equal(t, "after", out.Name)
	require.Equal(t, "123", out.ExtractorVariables["stationId"])
}

func TestService_UpdateRejectsWorkspaceChange(t *testing.T) {
	svc, _, db := newServiceHarness(t)
	seedJob(t, db, "job-1", "ws-1")
	seedJob(t, db, "job-2", "ws-2")
	seedJob(t, db, "job-3", "ws-1")

	created, err := svc.Create(context.Background(), CreateTaskInput{Name: "movable", JobID: "job-1"})
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), created.ID, UpdateTaskInput{JobID: FieldOf("job-2")})
	require.ErrorContains(t, err, "Cannot change the workspace of a task")

	out, err := svc.Update(context.Background(), created.ID, UpdateTaskInput{JobID: FieldOf("job-3")})
	require.NoError(t, err)
	require.Equal(t, "job-3", out.JobID)
}

func TestService_UpdateClearsOrchestrationSystem(t *testing.T) {
	svc, _, db := newServiceHarness(t)
	seedJob(t, db, "job-1", "ws-1")
	ws := "ws-1"
	seedSystem(t, db, "sys-1", &ws)

	systemID := "sys-1"
	created, err := svc.Create(context.Background(), CreateTaskInput{
		Name: "external", JobID: "job-1", OrchestrationSystemID: &systemID,
		Schedule: &SchedulePatch{Crontab: FieldOf("0 * * * *")},
	})
	require.NoError(t, err)
	require.Nil(t, created.Schedule.NextRunAt)

	out, err := svc.Update(context.Background(), created.ID, UpdateTaskInput{
		OrchestrationSystemID: NullField[string](),
	})
	require.NoError(t, err)
	require.Nil(t, out.OrchestrationSystemID)
	require.NotNil(t, out.Schedule.NextRunAt)
}

func TestService_UpdateAttachOrchestrationDisablesSchedule(t *testing.T) {
	svc, _, db := newServiceHarness(t)
	seedJob(t, db, "job-1", "ws-1")
	seedSystem(t, db, "sys-1", nil)

	created, err := svc.Create(context.Background(), CreateTaskInput{
		Name: "handover", JobID: "job-1",
		Schedule: &SchedulePatch{Interval: FieldOf(15), IntervalPeriod: FieldOf("minutes")},
	})
	require.NoError(t, err)
	require.NotNil(t, created.Schedule.NextRunAt)

	out, err := svc.Update(context.Background(), created.ID, UpdateTaskInput{
		OrchestrationSystemID: FieldOf("sys-1"),
	})
	require.NoError(t, err)
	require.NotNil(t, out.OrchestrationSystemID)
	require.Nil(t, out.Schedule.NextRunAt)

	var stored Schedule
	require.NoError(t, db.First(&stored, "task_id = ?", created.ID).Error)
	require.False(t, stored.Enabled)

	var storedTask Task
	require.NoError(t, db.First(&storedTask, "id = ?", created.ID).Error)
	require.Nil(t, storedTask.NextRunAt)
}

func TestService_UpdateScheduleRollbackKeepsMappings(t *testing.T) {
	svc, _, db := newServiceHarness(t)
	seedJob(t, db, "job-1", "ws-1")

	created, err := svc.Create(context.Background(), CreateTaskInput{
		Name: "atomic", JobID: "job-1",
		Mappings: []MappingInput{{SourceIdentifier: "keep"}},
	})
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), created.ID, UpdateTaskInput{
		Schedule: FieldOf(SchedulePatch{Crontab: FieldOf("bad crontab")}),
		Mappings: FieldOf([]MappingInput{{SourceIdentifier: "replaced"}}),
	})
	require.ErrorContains(t, err, "Invalid crontab schedule")

	out, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.Len(t, out.Mappings, 1)
	require.Equal(t, "keep", out.Mappings[0].SourceIdentifier)
}

func TestService_GetNotFound(t *testing.T) {
	svc, _, _ := newServiceHarness(t)

	_, err := svc.Get(context.Background(), "missing")
	require.ErrorContains(t, err, "ETL task does not exist")
}

func TestService_ListFilters(t *testing.T) {
	svc, _, db := newServiceHarness(t)
	seedJob(t, db, "job-1", "ws-1")
	seedJob(t, db, "job-2", "ws-1")

	_, err := svc.Create(context.Background(), CreateTaskInput{Name: "a", JobID: "job-1"})
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), CreateTaskInput{Name: "b", JobID: "job-2"})
	require.NoError(t, err)

	all, err := svc.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "a", all[0].Name)

	filtered, err := svc.List(context.Background(), ListFilter{JobID: "job-2"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	require.Equal(t, "b", filtered[0].Name)
}

func TestService_DeleteCascades(t *testing.T) {
	svc, _, db := newServiceHarness(t)
	seedJob(t, db, "job-1", "ws-1")

	created, err := svc.Create(context.Background(), CreateTaskInput{
		Name: "doomed", JobID: "job-1",
		Schedule: &SchedulePatch{Crontab: FieldOf("0 * * * *")},
		Mappings: []MappingInput{{SourceIdentifier: "x", Paths: []MappingPathInput{{TargetIdentifier: "ds-1"}}}},
	})
	require.NoError(t, err)
	require.NoError(t, db.Create(&TaskRun{ID: "run-1", TaskID: created.ID, Status: RunStatusSuccess, StartedAt: time.Now()}).Error)

	require.NoError(t, svc.Delete(context.Background(), created.ID))

	for _, model := range Models() {
		var count int64
		require.NoError(t, db.Model(model).Count(&count).Error)
		require.EqualValues(t, 0, count)
	}
}

func TestService_RunDispatches(t *testing.T) {
	svc, dispatcher, db := newServiceHarness(t)
	seedJob(t, db, "job-1", "ws-1")

	created, err := svc.Create(context.Background(), CreateTaskInput{Name: "runnable", JobID: "job-1"})
	require.NoError(t, err)

	block, err := svc.Run(context.Background(), created.ID)
	require.NoError(t, err)
	require.Nil(t, block)
	require.Equal(t, []string{created.ID}, dispatcher.dispatched)
}

func TestService_RunRejectsOrchestratedTask(t *testing.T) {
	svc, dispatcher, db := newServiceHarness(t)
	seedJob(t, db, "job-1", "ws-1")
	seedSystem(t, db, "sys-1", nil)

	systemID := "sys-1"
	created, err := svc.Create(context.Background(), CreateTaskInput{
		Name: "external", JobID: "job-1", OrchestrationSystemID: &systemID,
	})
	require.NoError(t, err)

	_, err = svc.Run(context.Background(), created.ID)
	require.ErrorContains(t, err, "Cannot run task managed by external orchestration system")

	// Nothing reaches the queue when the check fails.
	require.Empty(t, dispatcher.dispatched)
}

func TestService_ProjectionIncludesLatestRun(t *testing.T) {
	svc, _, db := newServiceHarness(t)
	seedJob(t, db, "job-1", "ws-1")

	created, err := svc.Create(context.Background(), CreateTaskInput{Name: "with runs", JobID: "job-1"})
	require.NoError(t, err)

	earlier := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	later := time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC)
	require.NoError(t, db.Create(&TaskRun{ID: "run-old", TaskID: created.ID, Status: RunStatusFailure, StartedAt: earlier}).Error)
	require.NoError(t, db.Create(&TaskRun{ID: "run-new", TaskID: created.ID, Status: RunStatusSuccess, StartedAt: later}).Error)

	out, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, out.LatestRun)
	require.Equal(t, "run-new", out.LatestRun.ID)
	require.Equal(t, RunStatusSuccess, out.LatestRun.Status)
}
