package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/verihub/verification-backend/internal/verification"
)

// HTTPProvider calls the external risk assessment service. The engine treats
// any failure here as "no assessment"; process creation never blocks on it.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPProvider creates a risk provider client
func NewHTTPProvider(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type assessmentRequest struct {
	FullName  string            `json:"full_name"`
	Email     string            `json:"email"`
	Fields    map[string]string `json:"fields"`
	Documents []string          `json:"documents"`
}

type assessmentResponse struct {
	Score float64 `json:"score"`
	Level string  `json:"level"`
}

// Assess scores one request snapshot.
func (p *HTTPProvider) Assess(ctx context.Context, req verification.RequestSnapshot) (*verification.RiskAssessment, error) {
	payload, err := json.Marshal(assessmentRequest{
		FullName:  req.FullName,
		Email:     req.Email,
		Fields:    req.Fields,
		Documents: req.Documents,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal assessment request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/assessments", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build assessment request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("risk provider unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("risk provider returned status %d", resp.StatusCode)
	}

	var body assessmentResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode assessment response: %w", err)
	}

	return &verification.RiskAssessment{
		Score:      body.Score,
		Level:      verification.RiskLevel(body.Level),
		AssessedAt: time.Now(),
	}, nil
}
