package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/tnqbao/gau-repo-evaluator/entity"
)

type SubmitEvaluationRequestDTO struct {
	Owner        string   `json:"owner" binding:"required"`
	Name         string   `json:"name"`
	Repositories []string `json:"repositories"`
}

// JobResponseDTO is the polling shape of a job.
type JobResponseDTO struct {
	ID                uuid.UUID        `json:"id"`
	Kind              entity.JobKind   `json:"kind"`
	Status            entity.JobStatus `json:"status"`
	Progress          int              `json:"progress"`
	Error             string           `json:"error,omitempty"`
	Retryable         bool             `json:"retryable"`
	RetryAfterSeconds int              `json:"retry_after_seconds,omitempty"`
	ResultRef         string           `json:"result_ref,omitempty"`
	RetryOf           *uuid.UUID       `json:"retry_of,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	StartedAt         *time.Time       `json:"started_at,omitempty"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty"`
}

func NewJobResponse(job *entity.Job) JobResponseDTO {
	return JobResponseDTO{
		ID:                job.ID,
		Kind:              job.Kind,
		Status:            job.Status,
		Progress:          job.Progress,
		Error:             job.Error,
		Retryable:         job.Retryable,
		RetryAfterSeconds: job.RetryAfterSeconds,
		ResultRef:         job.ResultRef,
		RetryOf:           job.RetryOf,
		CreatedAt:         job.CreatedAt,
		StartedAt:         job.StartedAt,
		CompletedAt:       job.CompletedAt,
	}
}

type ArtifactResponseDTO struct {
	ID           uuid.UUID       `json:"id"`
	Owner        string          `json:"owner"`
	Name         string          `json:"name"`
	Version      string          `json:"version"`
	OverallScore float64         `json:"overall_score"`
	FromCache    bool            `json:"from_cache"`
	CreatedAt    time.Time       `json:"created_at"`
	Report       json.RawMessage `json:"report,omitempty"`
}

func NewArtifactResponse(a *entity.Artifact, withReport bool) ArtifactResponseDTO {
	resp := ArtifactResponseDTO{
		ID:           a.ID,
		Owner:        a.Owner,
		Name:         a.Name,
		Version:      a.Version,
		OverallScore: a.OverallScore,
		FromCache:    a.FromCache,
		CreatedAt:    a.CreatedAt,
	}
	if withReport && len(a.Report) > 0 {
		resp.Report = json.RawMessage(a.Report)
	}
	return resp
}

type ArtifactHistoryResponseDTO struct {
	Owner    string                `json:"owner"`
	Name     string                `json:"name"`
	Versions []ArtifactResponseDTO `json:"versions"`
}
