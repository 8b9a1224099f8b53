package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/xid"
	"github.com/tnqbao/gau-repo-evaluator/config"
	"github.com/tnqbao/gau-repo-evaluator/consumer/worker"
	infraPkg "github.com/tnqbao/gau-repo-evaluator/infra"
	"github.com/tnqbao/gau-repo-evaluator/pipeline"
	"github.com/tnqbao/gau-repo-evaluator/repository"
	"github.com/tnqbao/gau-repo-evaluator/service"
)

func main() {
	err := godotenv.Load("../staging.env")
	if err != nil {
		log.Println("No .env file found, continuing with environment variables")
	}

	// Initialize context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.NewConfig()
	infra := infraPkg.InitInfra(ctx, cfg)
	defer infra.Close(context.Background())
	repo := repository.InitRepository(infra.Postgres.DB)

	workerID := "evaluator-" + xid.New().String()
	svc, err := service.InitEvaluationService(cfg.EnvConfig, infra, repo, pipeline.WithWorkerID(workerID))
	if err != nil {
		log.Fatalf("Failed to initialize evaluation service: %v", err)
	}

	evaluationConsumer := worker.NewEvaluationConsumer(infra.RabbitMQ.Channel, svc, infra.Produce.EvaluationService, infra.Logger, workerID)
	if err := evaluationConsumer.Start(ctx); err != nil {
		infra.Logger.ErrorWithContextf(ctx, err, "Failed to start Evaluation consumer: %v", err)
		log.Fatalf("Failed to start Evaluation consumer: %v", err)
	}
	go evaluationConsumer.RunReconciler(ctx, cfg.EnvConfig.Pipeline.ReconcileInterval)

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	infra.Logger.InfoWithContextf(ctx, "Shutting down consumer...")
	cancel()

	infra.Logger.InfoWithContextf(ctx, "Consumer exited properly")
}
