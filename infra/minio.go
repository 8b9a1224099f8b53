package infra

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/tnqbao/gau-repo-evaluator/config"
	"github.com/tnqbao/gau-repo-evaluator/entity"
)

type MinioClient struct {
	Client   *minio.Client
	Endpoint string
	Bucket   string
	UseSSL   bool
}

func InitMinioClient(cfg *config.EnvConfig) (*MinioClient, error) {
	endpoint := cfg.Minio.Endpoint
	if endpoint == "" {
		return nil, fmt.Errorf("MinIO endpoint is not configured")
	}

	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Minio.RootUser, cfg.Minio.RootPassword, ""),
		Secure: cfg.Minio.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	return &MinioClient{
		Client:   minioClient,
		Endpoint: endpoint,
		Bucket:   cfg.Minio.DiagramBucket,
		UseSSL:   cfg.Minio.UseSSL,
	}, nil
}

func (m *MinioClient) EnsureBucket(ctx context.Context) error {
	exists, err := m.Client.BucketExists(ctx, m.Bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", m.Bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.Client.MakeBucket(ctx, m.Bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", m.Bucket, err)
	}
	return nil
}

// PutDiagram stores a rendered diagram under the artifact's cache key and
// returns its public URL.
func (m *MinioClient) PutDiagram(ctx context.Context, key entity.CacheKey, format string, source []byte) (string, error) {
	objectName := fmt.Sprintf("%s/%s/%s.%s", key.Owner, key.Name, key.Version, format)

	_, err := m.Client.PutObject(ctx, m.Bucket, objectName, bytes.NewReader(source), int64(len(source)), minio.PutObjectOptions{
		ContentType: "text/plain; charset=utf-8",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload diagram %s: %w", objectName, err)
	}

	scheme := "http"
	if m.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, m.Endpoint, m.Bucket, objectName), nil
}
