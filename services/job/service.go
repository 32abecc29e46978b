package job

import (
	"context"
	"errors"

	"hydroserver-etl/pkg/errutil"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("job.service",
	fx.Provide(NewService),
)

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// ResolveJob loads a job by id. Callers use the returned workspace reference
// for ownership compatibility checks.
func (s *Service) ResolveJob(ctx context.Context, id string) (*Job, error) {
	var j Job
	err := s.db.WithContext(ctx).First(&j, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.BadRequest("job does not exist", nil)
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}
