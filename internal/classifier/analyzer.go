package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"proctorboard/pkg/types"
)

// HTTPAnalyzer calls the external content-analysis service over HTTP.
// The service receives the event description plus context and returns a
// structured {severity, recommendation, auto_flag} verdict.
type HTTPAnalyzer struct {
	baseURL string
	client  *http.Client
}

// NewHTTPAnalyzer creates an analyzer client. The caller bounds each call
// via context; the embedded client carries no timeout of its own.
func NewHTTPAnalyzer(baseURL string) *HTTPAnalyzer {
	return &HTTPAnalyzer{
		baseURL: baseURL,
		client:  &http.Client{},
	}
}

type analyzeRequest struct {
	Description     string `json:"description"`
	BehaviorContext string `json:"behavior_context"`
	EventContext    string `json:"event_context"`
}

// Analyze implements interfaces.ContentAnalyzer.
func (a *HTTPAnalyzer) Analyze(ctx context.Context, description, behaviorContext, eventContext string) (*types.Analysis, error) {
	body, err := json.Marshal(analyzeRequest{
		Description:     description,
		BehaviorContext: behaviorContext,
		EventContext:    eventContext,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analyzer call failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analyzer returned status %d", resp.StatusCode)
	}

	var analysis types.Analysis
	if err := json.NewDecoder(resp.Body).Decode(&analysis); err != nil {
		return nil, fmt.Errorf("failed to decode analyzer response: %w", err)
	}

	return &analysis, nil
}
