package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"hydroserver-etl/internal/httpapi"
	asynqfx "hydroserver-etl/pkg/asynq"
	"hydroserver-etl/pkg/config"
	"hydroserver-etl/pkg/db"
	"hydroserver-etl/pkg/logger"
	"hydroserver-etl/pkg/redis"
	"hydroserver-etl/services/job"
	"hydroserver-etl/services/orchestration"
	"hydroserver-etl/services/task"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		asynqfx.Client,
		asynqfx.Server,
		fx.Provide(provideSnowflakeNode),
		fx.Invoke(migrate),
		job.Module,
		orchestration.Module,
		task.Module,
		httpapi.Module,
		fxLogger,
	)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func migrate(gdb *gorm.DB) error {
	models := []any{&job.Job{}, &orchestration.System{}}
	models = append(models, task.Models()...)
	return gdb.AutoMigrate(models...)
}
