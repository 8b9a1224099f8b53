package service

import (
	"github.com/tnqbao/gau-repo-evaluator/cache"
	"github.com/tnqbao/gau-repo-evaluator/config"
	"github.com/tnqbao/gau-repo-evaluator/infra"
	"github.com/tnqbao/gau-repo-evaluator/pipeline"
	"github.com/tnqbao/gau-repo-evaluator/repository"
	"github.com/tnqbao/gau-repo-evaluator/stages"
)

// InitEvaluationService wires the coordinator, the stage runner and the
// service from the process-wide clients. inf.Produce and inf.Minio may be nil.
func InitEvaluationService(cfg *config.EnvConfig, inf *infra.Infra, repo *repository.Repository, opts ...pipeline.Option) (*EvaluationService, error) {
	coordinator := cache.NewCoordinator(inf.ArtifactCache, repo.ArtifactRepo, inf.Logger, cache.WithTTL(cfg.Cache.TTL))

	deps := &stages.Deps{
		Resolver:   inf.SourceProvider,
		Fetcher:    inf.SourceProvider,
		Scorer:     inf.ScoringService,
		Artifacts:  coordinator,
		ScratchDir: cfg.Source.ScratchDir,
		Logger:     inf.Logger,
	}
	if inf.Minio != nil {
		deps.Diagrams = inf.Minio
	}

	opts = append([]pipeline.Option{pipeline.WithLease(cfg.Pipeline.LeaseDuration)}, opts...)
	runner, err := stages.NewRunner(cfg.Pipeline.Mode, deps, repo.JobRepo, opts...)
	if err != nil {
		return nil, err
	}

	serviceDeps := Dependencies{
		Jobs:      repo.JobRepo,
		Artifacts: repo.ArtifactRepo,
		Cache:     coordinator,
		Resolver:  inf.SourceProvider,
		Runner:    runner,
		Logger:    inf.Logger,
	}
	if inf.Produce != nil {
		serviceDeps.Publisher = inf.Produce.EvaluationService
	}

	return NewEvaluationService(serviceDeps,
		WithMaxRepositories(cfg.Pipeline.MaxRepositories),
		WithLease(cfg.Pipeline.LeaseDuration),
	), nil
}
