package controller

import (
	"context"

	"github.com/google/uuid"
	"github.com/tnqbao/gau-repo-evaluator/config"
	"github.com/tnqbao/gau-repo-evaluator/entity"
	"github.com/tnqbao/gau-repo-evaluator/infra"
	"github.com/tnqbao/gau-repo-evaluator/service"
)

// Evaluations is satisfied by service.EvaluationService.
type Evaluations interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*entity.Job, error)
	Job(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	Retry(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	Result(ctx context.Context, id uuid.UUID) (*entity.Artifact, error)
	Artifact(ctx context.Context, owner, name string) (*entity.Artifact, error)
	History(ctx context.Context, owner, name string) ([]entity.Artifact, error)
	Invalidate(ctx context.Context, owner, name, version string) error
}

type Controller struct {
	Config      *config.Config
	Logger      *infra.LoggerClient
	Evaluations Evaluations
}

func NewController(config *config.Config, logger *infra.LoggerClient, evaluations Evaluations) *Controller {
	return &Controller{
		Config:      config,
		Logger:      logger,
		Evaluations: evaluations,
	}
}
