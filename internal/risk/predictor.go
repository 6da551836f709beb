package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"wardkey.org/internal/activity"
)

// defaultPredictorTimeout bounds every call to the external scorer so a
// slow model service cannot stall access checks.
const defaultPredictorTimeout = 3 * time.Second

// Predictor is a client for the external ML risk service. The service is
// optional: callers must treat every error here as recoverable.
type Predictor struct {
	baseURL string
	client  *http.Client
}

// PredictorOption configures the client.
type PredictorOption func(*Predictor)

// WithHTTPClient overrides the underlying HTTP client (useful for tests).
func WithHTTPClient(c *http.Client) PredictorOption {
	return func(p *Predictor) {
		if c != nil {
			p.client = c
		}
	}
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) PredictorOption {
	return func(p *Predictor) {
		if d > 0 {
			p.client.Timeout = d
		}
	}
}

// NewPredictor creates a client with a bounded default timeout.
func NewPredictor(baseURL string, opts ...PredictorOption) *Predictor {
	p := &Predictor{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultPredictorTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type healthResponse struct {
	Status       string `json:"status"`
	ModelTrained bool   `json:"model_trained"`
}

// Health reports whether the remote model is trained and ready.
func (p *Predictor) Health(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return false, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("predictor health: status %d", resp.StatusCode)
	}
	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, err
	}
	return body.ModelTrained, nil
}

type predictRequest struct {
	Username      string `json:"username"`
	UserID        string `json:"user_id"`
	UserRole      string `json:"user_role"`
	IPAddress     string `json:"ip_address"`
	DeviceType    string `json:"device_type"`
	Timestamp     string `json:"timestamp"`
	Action        string `json:"action"`
	SessionPeriod int    `json:"session_period"`
}

type predictResponse struct {
	RiskScore float64 `json:"risk_score"`
	RiskLevel string  `json:"risk_level"`
}

// PredictSingle scores one activity snapshot. The returned score is on the
// remote service's 0–1 scale.
func (p *Predictor) PredictSingle(ctx context.Context, rec activity.Record) (float64, string, error) {
	payload := predictRequest{
		Username:      rec.Username,
		UserID:        rec.UserID,
		UserRole:      orDefault(rec.Role, "employee"),
		IPAddress:     orDefault(rec.IP, "unknown"),
		DeviceType:    orDefault(rec.DeviceType, "desktop"),
		Timestamp:     rec.Timestamp.UTC().Format(time.RFC3339),
		Action:        rec.Action,
		SessionPeriod: rec.SessionPeriod,
	}
	if payload.Username == "" {
		payload.Username = rec.UserID
	}
	if payload.SessionPeriod <= 0 {
		payload.SessionPeriod = 30
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/predict/single", bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, "", fmt.Errorf("predictor: status %d", resp.StatusCode)
	}
	var decoded predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return 0, "", err
	}
	if decoded.RiskScore < 0 || decoded.RiskScore > 1 {
		return 0, "", errors.New("predictor: score out of range")
	}
	return decoded.RiskScore, strings.ToLower(strings.TrimSpace(decoded.RiskLevel)), nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
