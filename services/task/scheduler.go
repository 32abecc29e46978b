package task

import (
	"context"
	"time"

	"hydroserver-etl/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Scheduler polls for tasks whose next fire time has passed and enqueues a
// run for each. Only tasks with an enabled schedule are considered; paused
// tasks and externally orchestrated tasks never fire.
type Scheduler struct {
	db         *gorm.DB
	schedules  *ScheduleManager
	dispatcher Dispatcher
	interval   time.Duration
	stop       chan struct{}
	done       chan struct{}
}

func NewScheduler(db *gorm.DB, schedules *ScheduleManager, dispatcher Dispatcher, cfg *config.Config) *Scheduler {
	return &Scheduler{
		db:         db,
		schedules:  schedules,
		dispatcher: dispatcher,
		interval:   cfg.Scheduler.PollInterval,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go s.run()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(s.stop)
			select {
			case <-s.done:
			case <-ctx.Done():
			}
			return nil
		},
	})
}

func (s *Scheduler) run() {
	defer close(s.done)
	zap.L().Info("[Scheduler] started ETL task scheduler",
		zap.Duration("poll_interval", s.interval),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(context.Background())
		case <-s.stop:
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

// sweep dispatches every due task and advances its next fire time. The fire
// time is advanced before dispatching so a slow queue cannot double-fire.
func (s *Scheduler) sweep(ctx context.Context) {
	now := time.Now()

	var due []Task
	err := s.db.WithContext(ctx).
		Select("tasks.*").
		Preload("Schedule").
		Joins("JOIN schedules ON schedules.task_id = tasks.id AND schedules.enabled = ?", true).
		Where("tasks.orchestration_system_id IS NULL").
		Where("tasks.next_run_at IS NOT NULL AND tasks.next_run_at <= ?", now).
		Find(&due).Error
	if err != nil {
		zap.L().Error("[Scheduler] failed to query due tasks", zap.Error(err))
		return
	}
	if len(due) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range due {
		t := due[i]
		g.Go(func() error {
			if t.Schedule == nil {
				return nil
			}
			next := s.schedules.NextRun(t.Schedule, now)
			err := s.db.WithContext(gctx).Model(&Task{}).
				Where("id = ?", t.ID).
				Update("next_run_at", next).Error
			if err != nil {
				zap.L().Error("[Scheduler] failed to advance next run",
					zap.String("task_id", t.ID), zap.Error(err))
				return nil
			}

			if err := s.dispatcher.Dispatch(gctx, t.ID); err != nil {
				zap.L().Error("[Scheduler] failed to enqueue task run",
					zap.String("task_id", t.ID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	zap.L().Info("[Scheduler] finished sweep",
		zap.Int("dispatched", len(due)),
		zap.Duration("duration", time.Since(now)),
	)
}
