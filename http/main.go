package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/tnqbao/gau-repo-evaluator/config"
	"github.com/tnqbao/gau-repo-evaluator/http/controller"
	routes "github.com/tnqbao/gau-repo-evaluator/http/route"
	infraPkg "github.com/tnqbao/gau-repo-evaluator/infra"
	"github.com/tnqbao/gau-repo-evaluator/repository"
	"github.com/tnqbao/gau-repo-evaluator/service"
)

func main() {
	err := godotenv.Load("staging.env")
	if err != nil {
		log.Println("No .env file found, continuing with environment variables")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.NewConfig()
	infra := infraPkg.InitInfra(ctx, cfg)
	defer infra.Close(context.Background())
	repo := repository.InitRepository(infra.Postgres.DB)

	svc, err := service.InitEvaluationService(cfg.EnvConfig, infra, repo)
	if err != nil {
		log.Fatalf("Failed to initialize evaluation service: %v", err)
	}

	ctrl := controller.NewController(cfg, infra.Logger, svc)
	router := routes.SetupRouter(ctrl)

	addr := cfg.EnvConfig.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	server := &http.Server{Addr: addr, Handler: router}

	go func() {
		infra.Logger.InfoWithContextf(ctx, "HTTP Server started on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	infra.Logger.InfoWithContextf(ctx, "Shutting down HTTP server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		infra.Logger.ErrorWithContextf(shutdownCtx, err, "HTTP server shutdown: %v", err)
	}
}
