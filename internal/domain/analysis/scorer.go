package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ErrAnalysisUnavailable marks a transient scorer failure (timeout, network
// error, 5xx). The request may be retried.
var ErrAnalysisUnavailable = errors.New("analysis service unavailable")

// ErrAnalysisRejected marks a permanent refusal: the scorer accepted the
// request but cannot score the image (bad format, unsupported modality).
// Retrying will not help.
var ErrAnalysisRejected = errors.New("analysis request rejected")

// ScoreRequest asks the scorer to evaluate one image.
type ScoreRequest struct {
	ImageID          uuid.UUID `json:"image_id"`
	EpisodeID        uuid.UUID `json:"episode_id"`
	Modality         string    `json:"modality"`
	StorageReference string    `json:"storage_reference"`
}

// ScoreResult is the scorer's verdict for one image.
type ScoreResult struct {
	RiskScore    float64            `json:"risk_score"`
	Category     Category           `json:"category"`
	Regions      []RegionAnnotation `json:"regions,omitempty"`
	ModelVersion string             `json:"model_version"`
	Note         string             `json:"note,omitempty"`
}

// ScorerClient talks to the model serving endpoint.
type ScorerClient interface {
	Score(ctx context.Context, req ScoreRequest) (*ScoreResult, error)
}

// HTTPScorer calls the scorer over HTTP. Timeouts and connection failures map
// to ErrAnalysisUnavailable; 4xx responses map to ErrAnalysisRejected.
type HTTPScorer struct {
	baseURL string
	client  *http.Client
}

func NewHTTPScorer(baseURL string, timeout time.Duration) *HTTPScorer {
	return &HTTPScorer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPScorer) Score(ctx context.Context, req ScoreRequest) (*ScoreResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal score request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/score", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build score request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnalysisUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: scorer returned %d", ErrAnalysisUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %s", ErrAnalysisRejected, string(msg))
	}

	var result ScoreResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrAnalysisUnavailable, err)
	}
	if result.RiskScore < 0 || result.RiskScore > 1 {
		return nil, fmt.Errorf("%w: risk score %f out of range", ErrAnalysisRejected, result.RiskScore)
	}
	if !ValidCategory(result.Category) {
		return nil, fmt.Errorf("%w: unknown category %q", ErrAnalysisRejected, result.Category)
	}
	return &result, nil
}
