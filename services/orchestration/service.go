package orchestration

import (
	"context"
	"errors"

	"hydroserver-etl/pkg/errutil"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("orchestration.service",
	fx.Provide(NewService),
)

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// ResolveSystem loads an orchestration system by id for the workspace
// compatibility check on task create/update.
func (s *Service) ResolveSystem(ctx context.Context, id string) (*System, error) {
	var sys System
	err := s.db.WithContext(ctx).First(&sys, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.BadRequest("orchestration system does not exist", nil)
	}
	if err != nil {
		return nil, err
	}
	return &sys, nil
}
