package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type EnvConfig struct {
	Postgres struct {
		HOST     string
		Database string
		Username string
		Password string
		Port     string
	}
	JWT struct {
		SecretKey string
		Algorithm string
	}
	CORS struct {
		AllowDomains string
		GlobalDomain string
	}
	Redis struct {
		Password  string
		Database  int
		RedisHost string
		RedisPort string
	}
	RabbitMQ struct {
		Host     string
		Port     string
		Username string
		Password string
	}
	Minio struct {
		Endpoint      string
		RootUser      string
		RootPassword  string
		DiagramBucket string
		UseSSL        bool
	}
	Source struct {
		APIURL       string
		Token        string
		MaxBytes     int64
		MaxFiles     int
		FetchTimeout time.Duration
		ScratchDir   string
	}
	Scoring struct {
		ServiceURL string
		APIKey     string
		Timeout    time.Duration
	}
	Cache struct {
		Backend string // "redis" or "memory"
		TTL     time.Duration
	}
	Pipeline struct {
		Mode              string // "optimized" or "sequential"
		LeaseDuration     time.Duration
		ReconcileInterval time.Duration
		MaxRepositories   int
	}
	Grafana struct {
		OTLPEndpoint string
		ServiceName  string
	}
	Environment struct {
		Mode  string
		Group string
	}
	HTTPAddr string
}

func LoadEnvConfig() *EnvConfig {
	var config EnvConfig

	// Postgres
	config.Postgres.HOST = os.Getenv("PGPOOL_HOST")
	config.Postgres.Database = os.Getenv("PGPOOL_DB")
	config.Postgres.Username = os.Getenv("PGPOOL_USER")
	config.Postgres.Password = os.Getenv("PGPOOL_PASSWORD")
	config.Postgres.Port = getEnv("PGPOOL_PORT", "5432")

	// JWT
	config.JWT.SecretKey = os.Getenv("JWT_SECRET_KEY")
	config.JWT.Algorithm = getEnv("JWT_ALGORITHM", "HS256")

	config.CORS.AllowDomains = os.Getenv("ALLOWED_DOMAINS")
	config.CORS.GlobalDomain = os.Getenv("GLOBAL_DOMAIN")

	config.Redis.Password = os.Getenv("REDIS_PASSWORD")
	config.Redis.Database, _ = strconv.Atoi(os.Getenv("REDIS_DB"))
	config.Redis.RedisHost = getEnv("REDIS_HOST", "localhost")
	config.Redis.RedisPort = getEnv("REDIS_PORT", "6379")

	// RabbitMQ
	config.RabbitMQ.Host = getEnv("RABBITMQ_HOST", "localhost")
	config.RabbitMQ.Port = getEnv("RABBITMQ_PORT", "5672")
	config.RabbitMQ.Username = getEnv("RABBITMQ_USER", "guest")
	config.RabbitMQ.Password = getEnv("RABBITMQ_PASSWORD", "guest")

	config.Minio.Endpoint = os.Getenv("MINIO_ENDPOINT")
	config.Minio.RootUser = os.Getenv("MINIO_ROOT_USER")
	config.Minio.RootPassword = os.Getenv("MINIO_ROOT_PASSWORD")
	config.Minio.DiagramBucket = getEnv("MINIO_DIAGRAM_BUCKET", "evaluation-diagrams")
	config.Minio.UseSSL = os.Getenv("MINIO_USE_SSL") == "true"

	// Source hosting
	config.Source.APIURL = strings.TrimSuffix(getEnv("GITHUB_API_URL", "https://api.github.com"), "/")
	config.Source.Token = os.Getenv("GITHUB_TOKEN")
	config.Source.MaxBytes = getEnvInt64("SOURCE_MAX_BYTES", 200*1024*1024) // Default 200MB
	config.Source.MaxFiles = int(getEnvInt64("SOURCE_MAX_FILES", 20000))
	config.Source.FetchTimeout = getEnvDuration("SOURCE_FETCH_TIMEOUT", 2*time.Minute)
	config.Source.ScratchDir = getEnv("SCRATCH_DIR", os.TempDir())

	// Scoring
	config.Scoring.ServiceURL = strings.TrimSuffix(getEnv("SCORING_SERVICE_URL", "http://localhost:8090"), "/")
	config.Scoring.APIKey = os.Getenv("SCORING_API_KEY")
	config.Scoring.Timeout = getEnvDuration("SCORING_TIMEOUT", 90*time.Second)

	config.Cache.Backend = getEnv("CACHE_BACKEND", "redis")
	config.Cache.TTL = getEnvDuration("CACHE_TTL", 24*time.Hour)

	config.Pipeline.Mode = getEnv("PIPELINE_MODE", "optimized")
	config.Pipeline.LeaseDuration = getEnvDuration("JOB_LEASE_DURATION", 15*time.Minute)
	config.Pipeline.ReconcileInterval = getEnvDuration("RECONCILE_INTERVAL", time.Minute)
	config.Pipeline.MaxRepositories = int(getEnvInt64("AGGREGATE_MAX_REPOSITORIES", 20))

	// Grafana/OpenTelemetry
	grafanaEndpoint := os.Getenv("GRAFANA_OTLP_ENDPOINT")
	// Remove protocol for OpenTelemetry client to avoid duplicate protocols
	grafanaEndpoint = strings.TrimPrefix(grafanaEndpoint, "https://")
	grafanaEndpoint = strings.TrimPrefix(grafanaEndpoint, "http://")
	config.Grafana.OTLPEndpoint = grafanaEndpoint
	config.Grafana.ServiceName = getEnv("SERVICE_NAME", "gau-repo-evaluator")

	config.Environment.Mode = getEnv("DEPLOY_ENV", "development")
	config.Environment.Group = getEnv("GROUP_NAME", "local")

	config.HTTPAddr = getEnv("HTTP_ADDR", ":8080")

	return &config
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
