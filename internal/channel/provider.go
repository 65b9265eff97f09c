// Package channel abstracts outbound delivery mechanics behind one interface
// per medium. Providers record a single attempt; retries are the vendor's
// concern.
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"foiadesk/internal/config"
)

// Payload is the medium-independent content of one outbound message.
type Payload struct {
	From    string `json:"from"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

// Provider delivers a payload to a medium-specific address and returns an
// opaque receipt reference.
type Provider interface {
	Deliver(ctx context.Context, address string, payload Payload) (receipt string, err error)
}

// Providers bundles one provider per automated medium. A nil provider means
// the medium is not configured and routing falls through to the next one.
type Providers struct {
	Email  Provider
	Fax    Provider
	Portal Provider
}

// FromConfig builds HTTP providers for every configured channel endpoint.
func FromConfig(cfg *config.Config) Providers {
	var p Providers
	if cfg.Channels.Email.URL != "" {
		p.Email = NewHTTPProvider(cfg.Channels.Email)
	}
	if cfg.Channels.Fax.URL != "" {
		p.Fax = NewHTTPProvider(cfg.Channels.Fax)
	}
	if cfg.Channels.Portal.URL != "" {
		p.Portal = NewHTTPProvider(cfg.Channels.Portal)
	}
	return p
}

// HTTPProvider posts deliveries to a vendor webhook endpoint.
type HTTPProvider struct {
	URL    string
	Token  string
	Client *http.Client
}

func NewHTTPProvider(cfg config.ChannelProviderConfig) HTTPProvider {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return HTTPProvider{URL: cfg.URL, Token: cfg.Token, Client: &http.Client{Timeout: timeout}}
}

type deliverRequest struct {
	Address string  `json:"address"`
	Payload Payload `json:"payload"`
}

type deliverResponse struct {
	Receipt string `json:"receipt"`
}

func (p HTTPProvider) Deliver(ctx context.Context, address string, payload Payload) (string, error) {
	body, err := json.Marshal(deliverRequest{Address: address, Payload: payload})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.Token)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("channel endpoint returned %d", resp.StatusCode)
	}
	var out deliverResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Receipt, nil
}
