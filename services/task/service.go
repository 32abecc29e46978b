package task

import (
	"context"
	"errors"

	"hydroserver-etl/pkg/errutil"
	"hydroserver-etl/services/job"
	"hydroserver-etl/services/orchestration"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// JobResolver supplies the owning job for scope compatibility checks.
type JobResolver interface {
	ResolveJob(ctx context.Context, id string) (*job.Job, error)
}

// OrchestrationResolver supplies external orchestration systems and their
// owning scope. A system with a nil workspace is globally usable.
type OrchestrationResolver interface {
	ResolveSystem(ctx context.Context, id string) (*orchestration.System, error)
}

type Service struct {
	db             *gorm.DB
	node           *snowflake.Node
	schedules      *ScheduleManager
	dispatcher     Dispatcher
	jobs           JobResolver
	orchestrations OrchestrationResolver
}

type ServiceParams struct {
	fx.In
	DB             *gorm.DB
	Node           *snowflake.Node
	Schedules      *ScheduleManager
	Dispatcher     Dispatcher
	Jobs           JobResolver
	Orchestrations OrchestrationResolver
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:             p.DB,
		node:           p.Node,
		schedules:      p.Schedules,
		dispatcher:     p.Dispatcher,
		jobs:           p.Jobs,
		orchestrations: p.Orchestrations,
	}
}

func (s *Service) load(ctx context.Context, id string) (*Task, error) {
	var t Task
	err := s.db.WithContext(ctx).
		Preload("Schedule").
		Preload("Mappings", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("Mappings.Paths", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		First(&t, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.NotFound("ETL task does not exist", nil)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Service) latestRun(ctx context.Context, taskID string) (*TaskRun, error) {
	var run TaskRun
	err := s.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("started_at DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Projection, error) {
	t, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	latest, err := s.latestRun(ctx, id)
	if err != nil {
		return nil, err
	}
	return projection(t, latest), nil
}

// ListFilter narrows a task listing. Zero values mean no filtering.
type ListFilter struct {
	JobID                 string
	OrchestrationSystemID string
	Paused                *bool
	Limit                 int
	Offset                int
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Projection, error) {
	query := s.db.WithContext(ctx).Model(&Task{}).
		Preload("Schedule").
		Preload("Mappings", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("Mappings.Paths", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Order("name")

	if filter.JobID != "" {
		query = query.Where("job_id = ?", filter.JobID)
	}
	if filter.OrchestrationSystemID != "" {
		query = query.Where("orchestration_system_id = ?", filter.OrchestrationSystemID)
	}
	if filter.Paused != nil {
		query = query.Where("paused = ?", *filter.Paused)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var tasks []Task
	if err := query.Find(&tasks).Error; err != nil {
		return nil, err
	}

	out := make([]*Projection, 0, len(tasks))
	for i := range tasks {
		latest, err := s.latestRun(ctx, tasks[i].ID)
		if err != nil {
			return nil, err
		}
		out = append(out, projection(&tasks[i], latest))
	}
	return out, nil
}

func (s *Service) Create(ctx context.Context, input CreateTaskInput) (*Projection, error) {
	j, err := s.jobs.ResolveJob(ctx, input.JobID)
	if err != nil {
		return nil, err
	}

	if input.OrchestrationSystemID != nil {
		if err := s.checkOrchestrationScope(ctx, *input.OrchestrationSystemID, j.WorkspaceID); err != nil {
			return nil, err
		}
	}

	t := &Task{
		ID:                    s.node.Generate().String(),
		Name:                  input.Name,
		JobID:                 j.ID,
		OrchestrationSystemID: input.OrchestrationSystemID,
		Paused:                input.Paused,
		ExtractorVariables:    input.ExtractorVariables,
		TransformerVariables:  input.TransformerVariables,
		LoaderVariables:       input.LoaderVariables,
	}

	schedulePatch := Field[SchedulePatch]{}
	if input.Schedule != nil {
		schedulePatch = FieldOf(*input.Schedule)
	}
	mappingPatch := FieldOf(input.Mappings)
	if input.Mappings == nil {
		mappingPatch = FieldOf([]MappingInput{})
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Schedule", "Mappings").Create(t).Error; err != nil {
			return err
		}
		if err := s.schedules.Reconcile(tx, t, schedulePatch); err != nil {
			return err
		}
		if err := replaceMappings(tx, s.node, t.ID, mappingPatch); err != nil {
			return err
		}
		return tx.Omit("Schedule", "Mappings").Save(t).Error
	})
	if err != nil {
		return nil, err
	}

	span := trace.SpanFromContext(ctx)
	zap.L().Info("created ETL task",
		zap.String("task_id", t.ID),
		zap.String("job_id", j.ID),
		zap.String("trace_id", span.SpanContext().TraceID().String()),
	)

	return s.Get(ctx, t.ID)
}

func (s *Service) Update(ctx context.Context, id string, patch UpdateTaskInput) (*Projection, error) {
	t, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	currentJob, err := s.jobs.ResolveJob(ctx, t.JobID)
	if err != nil {
		return nil, err
	}

	if patch.JobID.Set {
		if patch.JobID.Value == nil {
			return nil, errutil.BadRequest("Task job cannot be null", nil)
		}
		newJob, err := s.jobs.ResolveJob(ctx, *patch.JobID.Value)
		if err != nil {
			return nil, err
		}
		if newJob.WorkspaceID != currentJob.WorkspaceID {
			return nil, errutil.BadRequest("Cannot change the workspace of a task", nil)
		}
		t.JobID = newJob.ID
	}

	orchestrationChanged := false
	if patch.OrchestrationSystemID.Set {
		if patch.OrchestrationSystemID.Value == nil {
			orchestrationChanged = t.OrchestrationSystemID != nil
			t.OrchestrationSystemID = nil
		} else {
			systemID := *patch.OrchestrationSystemID.Value
			if err := s.checkOrchestrationScope(ctx, systemID, currentJob.WorkspaceID); err != nil {
				return nil, err
			}
			orchestrationChanged = t.OrchestrationSystemID == nil || *t.OrchestrationSystemID != systemID
			t.OrchestrationSystemID = &systemID
		}
	}

	if patch.Name.Set && patch.Name.Value != nil {
		t.Name = *patch.Name.Value
	}
	if patch.ExtractorVariables.Set {
		t.ExtractorVariables = mapValue(patch.ExtractorVariables)
	}
	if patch.TransformerVariables.Set {
		t.TransformerVariables = mapValue(patch.TransformerVariables)
	}
	if patch.LoaderVariables.Set {
		t.LoaderVariables = mapValue(patch.LoaderVariables)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.schedules.Reconcile(tx, t, patch.Schedule); err != nil {
			return err
		}
		// Changing the owning orchestration system flips who is allowed to
		// trigger the task, even when no schedule fields were patched.
		if orchestrationChanged {
			if err := s.schedules.SyncEnabled(tx, t); err != nil {
				return err
			}
		}
		if err := replaceMappings(tx, s.node, t.ID, patch.Mappings); err != nil {
			return err
		}
		return tx.Omit("Schedule", "Mappings").Save(t).Error
	})
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, t.ID)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	t, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("task_id = ?", t.ID).Delete(&TaskRun{}).Error; err != nil {
			return err
		}
		if err := tx.Where("task_id = ?", t.ID).Delete(&Schedule{}).Error; err != nil {
			return err
		}
		err := tx.Where(
			"task_mapping_id IN (?)",
			tx.Model(&TaskMapping{}).Select("id").Where("task_id = ?", t.ID),
		).Delete(&TaskMappingPath{}).Error
		if err != nil {
			return err
		}
		if err := tx.Where("task_id = ?", t.ID).Delete(&TaskMapping{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Task{}, "id = ?", t.ID).Error
	})
}

// Run enqueues one execution of the task. Tasks managed by an external
// orchestration system are rejected before anything is enqueued so the two
// scheduling sources can never race.
func (s *Service) Run(ctx context.Context, id string) (*RunBlock, error) {
	t, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if t.OrchestrationSystemID != nil {
		return nil, errutil.BadRequest("Cannot run task managed by external orchestration system", nil)
	}

	if err := s.dispatcher.Dispatch(ctx, t.ID); err != nil {
		return nil, err
	}

	span := trace.SpanFromContext(ctx)
	zap.L().Info("requested ETL run",
		zap.String("task_id", t.ID),
		zap.String("trace_id", span.SpanContext().TraceID().String()),
	)

	latest, err := s.latestRun(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	return runBlock(latest), nil
}

func (s *Service) checkOrchestrationScope(ctx context.Context, systemID, workspaceID string) error {
	system, err := s.orchestrations.ResolveSystem(ctx, systemID)
	if err != nil {
		return err
	}
	if system.WorkspaceID != nil && *system.WorkspaceID != workspaceID {
		return errutil.BadRequest("Task and orchestration system must belong to the same workspace", nil)
	}
	return nil
}

func mapValue(f Field[map[string]any]) map[string]any {
	if f.Value == nil {
		return map[string]any{}
	}
	return *f.Value
}
