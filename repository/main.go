package repository

import (
	"errors"

	"gorm.io/gorm"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobNotClaimable   = errors.New("job is not pending")
	ErrInvalidTransition = errors.New("job is not processing")
)

type Repository struct {
	JobRepo      *JobRepository
	ArtifactRepo *ArtifactRepository
}

func InitRepository(db *gorm.DB) *Repository {
	return &Repository{
		JobRepo:      NewJobRepository(db),
		ArtifactRepo: NewArtifactRepository(db),
	}
}
