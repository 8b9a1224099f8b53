package infra

import (
	"fmt"

	"github.com/tnqbao/gau-repo-evaluator/config"
	"github.com/tnqbao/gau-repo-evaluator/entity"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type PostgresClient struct {
	DB *gorm.DB
}

func InitPostgresClient(cfg *config.EnvConfig) (*PostgresClient, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.Postgres.HOST,
		cfg.Postgres.Username,
		cfg.Postgres.Password,
		cfg.Postgres.Database,
		cfg.Postgres.Port,
	)
	return OpenPostgres(dsn, cfg.Environment.Mode == "development")
}

// OpenPostgres connects and migrates the evaluation schema.
func OpenPostgres(dsn string, verbose bool) (*PostgresClient, error) {
	logLevel := logger.Warn
	if verbose {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := db.AutoMigrate(&entity.Job{}, &entity.Artifact{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &PostgresClient{DB: db}, nil
}

func (p *PostgresClient) Close() error {
	sqlDB, err := p.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
