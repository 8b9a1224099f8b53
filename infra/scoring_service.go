package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/tnqbao/gau-repo-evaluator/apperror"
	"github.com/tnqbao/gau-repo-evaluator/config"
	"github.com/tnqbao/gau-repo-evaluator/entity"
	"github.com/tnqbao/gau-repo-evaluator/utils"
)

const (
	scoringCollaborator = "scoring service"
	scorePath           = "/api/v1/score"
)

type ScoringService struct {
	ServiceURL string
	APIKey     string
	httpClient *http.Client
}

func InitScoringService(cfg *config.EnvConfig) *ScoringService {
	return &ScoringService{
		ServiceURL: cfg.Scoring.ServiceURL,
		APIKey:     cfg.Scoring.APIKey,
		httpClient: &http.Client{Timeout: cfg.Scoring.Timeout},
	}
}

type scoreRequest struct {
	Repository string         `json:"repository"`
	Version    string         `json:"version"`
	Metrics    entity.Metrics `json:"metrics"`
}

type scoreResponse struct {
	Status    int               `json:"status"`
	Error     string            `json:"error,omitempty"`
	ScoreCard *entity.ScoreCard `json:"score_card"`
}

// Score asks the scoring service to grade metrics. A 429 or 5xx is transient,
// any other failure or an unusable body is a malformed response.
func (s *ScoringService) Score(ctx context.Context, repo entity.RepositoryRef, version string, metrics entity.Metrics) (*entity.ScoreCard, error) {
	body, err := json.Marshal(scoreRequest{Repository: repo.String(), Version: version, Metrics: metrics})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.ServiceURL+scorePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.APIKey != "" {
		timestamp := time.Now().Unix()
		req.Header.Set("X-API-Key", s.APIKey)
		req.Header.Set("X-Timestamp", strconv.FormatInt(timestamp, 10))
		req.Header.Set("X-Signature", utils.SignRequest(s.APIKey, http.MethodPost, scorePath, timestamp, body))
	}

	client := s.httpClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, apperror.Timeout(fmt.Errorf("scoring request: %w", err))
		}
		return nil, apperror.Unavailable(fmt.Errorf("scoring request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperror.Unavailable(fmt.Errorf("failed to read scoring response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, apperror.RateLimited(retryAfter(resp.Header), fmt.Errorf("scoring service returned %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return nil, apperror.Unavailable(fmt.Errorf("scoring service returned %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, apperror.Malformed(scoringCollaborator, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody)))
	}

	var parsed scoreResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, apperror.Malformed(scoringCollaborator, fmt.Errorf("failed to decode response: %w", err))
	}
	if err := validateScoreCard(parsed.ScoreCard); err != nil {
		return nil, apperror.Malformed(scoringCollaborator, err)
	}
	return parsed.ScoreCard, nil
}

func validateScoreCard(card *entity.ScoreCard) error {
	if card == nil {
		return errors.New("missing score_card")
	}
	if math.IsNaN(card.Overall) || card.Overall < 0 || card.Overall > 100 {
		return fmt.Errorf("overall score %v out of range", card.Overall)
	}
	for name, v := range card.Categories {
		if math.IsNaN(v) || v < 0 || v > 100 {
			return fmt.Errorf("category %q score %v out of range", name, v)
		}
	}
	return nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
