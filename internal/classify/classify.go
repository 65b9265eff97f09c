// Package classify adapts an external text classifier into an advisory
// (status, confidence) capability.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Classifier predicts a request status from inbound correspondence text. The
// prediction is advisory only and is never applied without operator
// confirmation.
type Classifier interface {
	Classify(ctx context.Context, text string) (status string, confidence float64, err error)
}

// Noop always reports no prediction.
type Noop struct{}

func (Noop) Classify(ctx context.Context, text string) (string, float64, error) {
	return "", 0, nil
}

// HTTP calls a JSON classification endpoint.
type HTTP struct {
	URL    string
	Client *http.Client
}

func NewHTTP(url string, timeoutSeconds int) HTTP {
	timeout := time.Duration(timeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return HTTP{URL: url, Client: &http.Client{Timeout: timeout}}
}

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Status     string  `json:"status"`
	Confidence float64 `json:"confidence"`
}

func (c HTTP) Classify(ctx context.Context, text string) (string, float64, error) {
	body, err := json.Marshal(classifyRequest{Text: text})
	if err != nil {
		return "", 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("classifier returned %d", resp.StatusCode)
	}
	var out classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, err
	}
	return out.Status, out.Confidence, nil
}
