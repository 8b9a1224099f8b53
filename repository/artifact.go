package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/tnqbao/gau-repo-evaluator/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ArtifactRepository struct {
	db *gorm.DB
}

func NewArtifactRepository(db *gorm.DB) *ArtifactRepository {
	return &ArtifactRepository{db: db}
}

// FindByKey returns the stored artifact for key, or false when none exists.
func (r *ArtifactRepository) FindByKey(ctx context.Context, key entity.CacheKey) (*entity.Artifact, bool, error) {
	var artifact entity.Artifact
	err := r.db.WithContext(ctx).
		Where("owner = ? AND name = ? AND version = ?", key.Owner, key.Name, key.Version).
		First(&artifact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &artifact, true, nil
}

func (r *ArtifactRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Artifact, bool, error) {
	var artifact entity.Artifact
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&artifact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &artifact, true, nil
}

// Save inserts artifact unless its key already exists. Concurrent runs for the
// same key keep the first row; artifact is reloaded so the caller always sees
// the stored ID.
func (r *ArtifactRepository) Save(ctx context.Context, artifact *entity.Artifact) error {
	if artifact.ID == uuid.Nil {
		artifact.ID = uuid.New()
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner"}, {Name: "name"}, {Name: "version"}},
		DoNothing: true,
	}).Create(artifact).Error
	if err != nil {
		return err
	}

	var stored entity.Artifact
	err = r.db.WithContext(ctx).
		Where("owner = ? AND name = ? AND version = ?", artifact.Owner, artifact.Name, artifact.Version).
		First(&stored).Error
	if err != nil {
		return err
	}
	stored.FromCache = artifact.FromCache
	*artifact = stored
	return nil
}

// ListByRepository returns every stored version of a repository, newest first.
func (r *ArtifactRepository) ListByRepository(ctx context.Context, owner, name string) ([]entity.Artifact, error) {
	var artifacts []entity.Artifact
	err := r.db.WithContext(ctx).
		Select("id", "owner", "name", "version", "overall_score", "created_at", "updated_at").
		Where("owner = ? AND name = ?", owner, name).
		Order("created_at DESC").
		Find(&artifacts).Error
	return artifacts, err
}
