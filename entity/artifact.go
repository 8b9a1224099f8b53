package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// CacheKey identifies one evaluated version of a repository.
type CacheKey struct {
	Owner   string `json:"owner"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

func NewCacheKey(owner, name, version string) CacheKey {
	return CacheKey{
		Owner:   strings.ToLower(strings.TrimSpace(owner)),
		Name:    strings.ToLower(strings.TrimSpace(name)),
		Version: strings.TrimSpace(version),
	}
}

// Column widths of the artifacts table.
const (
	MaxOwnerLength   = 255
	MaxNameLength    = 512
	MaxVersionLength = 255
)

func (k CacheKey) Validate() error {
	if k.Owner == "" || k.Name == "" || k.Version == "" {
		return fmt.Errorf("incomplete cache key %q", k.String())
	}
	if len(k.Owner) > MaxOwnerLength || len(k.Name) > MaxNameLength || len(k.Version) > MaxVersionLength {
		return fmt.Errorf("cache key %q exceeds column limits (%d/%d/%d)", k.String(), MaxOwnerLength, MaxNameLength, MaxVersionLength)
	}
	return nil
}

// String is the hot cache key.
func (k CacheKey) String() string {
	return fmt.Sprintf("evaluation:%s:%s:%s", k.Owner, k.Name, k.Version)
}

// Artifact is a finished evaluation as kept in the artifact store.
type Artifact struct {
	ID           uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	Owner        string         `json:"owner" gorm:"type:varchar(255);not null;uniqueIndex:idx_artifact_key"`
	Name         string         `json:"name" gorm:"type:varchar(512);not null;uniqueIndex:idx_artifact_key"`
	Version      string         `json:"version" gorm:"type:varchar(255);not null;uniqueIndex:idx_artifact_key"`
	OverallScore float64        `json:"overall_score"`
	Report       datatypes.JSON `json:"report" gorm:"type:jsonb"`
	CreatedAt    time.Time      `json:"created_at" gorm:"not null;autoCreateTime"`
	UpdatedAt    time.Time      `json:"updated_at" gorm:"autoUpdateTime"`

	FromCache bool `json:"from_cache" gorm:"-"`
}

func (a *Artifact) Key() CacheKey {
	return CacheKey{Owner: a.Owner, Name: a.Name, Version: a.Version}
}

// Ref is the value stored in Job.ResultRef.
func (a *Artifact) Ref() string {
	return a.ID.String()
}
