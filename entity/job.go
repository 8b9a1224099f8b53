package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// JobStatus represents the lifecycle state of an evaluation job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// CanTransitionTo enforces pending -> processing -> {completed, failed}.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

type JobKind string

const (
	JobKindRepository JobKind = "repository"
	JobKindAggregate  JobKind = "aggregate"
)

func (k JobKind) Valid() bool {
	return k == JobKindRepository || k == JobKindAggregate
}

// Job tracks one evaluation request from acceptance to a terminal status.
type Job struct {
	ID                uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	Kind              JobKind        `json:"kind" gorm:"type:varchar(32);not null;index"`
	Payload           datatypes.JSON `json:"payload" gorm:"type:jsonb"`
	Status            JobStatus      `json:"status" gorm:"type:varchar(32);not null;index;default:'pending'"`
	Progress          int            `json:"progress" gorm:"not null;default:0"`
	Error             string         `json:"error,omitempty" gorm:"type:text"`
	Retryable         bool           `json:"retryable" gorm:"not null;default:false"`
	RetryAfterSeconds int            `json:"retry_after_seconds,omitempty"`
	ResultRef         string         `json:"result_ref,omitempty" gorm:"type:varchar(255)"`
	RetryOf           *uuid.UUID     `json:"retry_of,omitempty" gorm:"type:uuid;index"`
	LeaseOwner        string         `json:"-" gorm:"type:varchar(255)"`
	LeaseExpiresAt    *time.Time     `json:"-" gorm:"index"`
	CreatedAt         time.Time      `json:"created_at" gorm:"not null;autoCreateTime"`
	UpdatedAt         time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	StartedAt         *time.Time     `json:"started_at,omitempty"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
}

// JobFailure is what gets recorded when a run ends in failed.
type JobFailure struct {
	Message    string
	Retryable  bool
	RetryAfter time.Duration
}

// RepositoryRef names one repository on the source host.
type RepositoryRef struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

func (r RepositoryRef) String() string {
	return r.Owner + "/" + r.Name
}

// EvaluationRequest is the JSON payload stored on a Job.
type EvaluationRequest struct {
	Owner        string   `json:"owner"`
	Name         string   `json:"name,omitempty"`
	Repositories []string `json:"repositories,omitempty"`
	// PinnedVersion is only ever set by an aggregate run for its inner runs,
	// with a version that run resolved itself.
	PinnedVersion string `json:"-"`
}

func (r EvaluationRequest) Kind() JobKind {
	if len(r.Repositories) > 0 {
		return JobKindAggregate
	}
	return JobKindRepository
}

func (r EvaluationRequest) Repository() RepositoryRef {
	return RepositoryRef{Owner: r.Owner, Name: r.Name}
}
