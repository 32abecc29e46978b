package task

import (
	"hydroserver-etl/pkg/config"
	"hydroserver-etl/services/job"
	"hydroserver-etl/services/orchestration"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("task.service",
	fx.Provide(
		NewScheduleManager,
		NewService,
		NewRunService,
		NewWorker,
		NewScheduler,
		func(client *asynq.Client, cfg *config.Config) Dispatcher {
			return NewAsynqDispatcher(client, cfg)
		},
		func() Engine { return NewStubEngine() },
		func(s *job.Service) JobResolver { return s },
		func(s *orchestration.Service) OrchestrationResolver { return s },
	),
	fx.Invoke(
		RegisterWorker,
		StartScheduler,
	),
)
