package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fleet/internal/pkg/circuit"
)

// HTTPDecider calls a remote decision engine over JSON. The response body
// goes through ParseDecision, so schema violations surface here and the
// agent treats them as a failed cycle.
type HTTPDecider struct {
	APIURL  string
	APIKey  string
	Model   string
	Client  *http.Client
	breaker *circuit.CircuitBreaker
}

type HTTPDeciderConfig struct {
	APIURL  string
	APIKey  string
	Model   string
	Timeout time.Duration
}

func NewHTTPDecider(cfg HTTPDeciderConfig) (*HTTPDecider, error) {
	url := strings.TrimSpace(cfg.APIURL)
	if url == "" {
		return nil, fmt.Errorf("decision engine api_url cannot be empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPDecider{
		APIURL:  url,
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Model:   strings.TrimSpace(cfg.Model),
		Client:  &http.Client{Timeout: timeout},
		breaker: circuit.NewCircuitBreaker("decision-engine", 5, time.Minute),
	}, nil
}

type decisionRequest struct {
	Model      string             `json:"model,omitempty"`
	Instrument string             `json:"instrument"`
	Account    AccountSnapshot    `json:"account"`
	Positions  []PositionSnapshot `json:"positions"`
}

func (d *HTTPDecider) GetDecision(ctx context.Context, instrument string, account AccountSnapshot, positions []PositionSnapshot) (Decision, error) {
	if d.breaker != nil && !d.breaker.Allow() {
		return Decision{}, fmt.Errorf("decision engine circuit open, skipping call")
	}
	payload, err := json.Marshal(decisionRequest{
		Model:      d.Model,
		Instrument: instrument,
		Account:    account,
		Positions:  positions,
	})
	if err != nil {
		return Decision{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.APIURL, bytes.NewReader(payload))
	if err != nil {
		return Decision{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.APIKey)
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		d.recordFailure()
		return Decision{}, fmt.Errorf("decision engine request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		d.recordFailure()
		return Decision{}, err
	}
	if resp.StatusCode/100 != 2 {
		d.recordFailure()
		return Decision{}, fmt.Errorf("decision engine status=%d body=%s", resp.StatusCode, truncate(string(body), 200))
	}
	// Schema violations do not trip the breaker: the service answered.
	if d.breaker != nil {
		d.breaker.RecordSuccess()
	}
	dec, err := ParseDecision(string(body))
	if err != nil {
		return Decision{}, err
	}
	if dec.Instrument == "" {
		dec.Instrument = instrument
	}
	return dec, nil
}

func (d *HTTPDecider) recordFailure() {
	if d.breaker != nil {
		d.breaker.RecordFailure()
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
