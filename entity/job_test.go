package entity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJobStatus_Transitions(t *testing.T) {
	allowed := map[JobStatus][]JobStatus{
		JobStatusPending:    {JobStatusProcessing},
		JobStatusProcessing: {JobStatusCompleted, JobStatusFailed},
		JobStatusCompleted:  {},
		JobStatusFailed:     {},
	}
	all := []JobStatus{JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed}

	for from, targets := range allowed {
		for _, to := range all {
			want := false
			for _, ok := range targets {
				if ok == to {
					want = true
				}
			}
			require.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestEvaluationRequest_Kind(t *testing.T) {
	require.Equal(t, JobKindRepository, EvaluationRequest{Owner: "acme", Name: "widgets"}.Kind())
	require.Equal(t, JobKindAggregate, EvaluationRequest{Owner: "acme", Repositories: []string{"a", "b"}}.Kind())
}

func TestCacheKey_Normalised(t *testing.T) {
	key := NewCacheKey(" Acme ", "Widgets", "abc123")
	require.Equal(t, "evaluation:acme:widgets:abc123", key.String())
	require.NoError(t, key.Validate())
	require.Error(t, NewCacheKey("acme", "widgets", "").Validate())
	require.Error(t, NewCacheKey("acme", strings.Repeat("w", MaxNameLength+1), "abc123").Validate())
	require.NoError(t, NewCacheKey("acme", strings.Repeat("w", MaxNameLength), "abc123").Validate())
}
