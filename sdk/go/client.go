package foiadesksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Foiadesk HTTP API client.
type Client struct {
	BaseURL       string
	APIKey        string
	BearerToken   string
	InboundSecret string
	HTTPClient    *http.Client
	Timeout       time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Request represents the API request model (partial).
type Request struct {
	ID            string   `json:"id"`
	AgencyID      string   `json:"agency_id"`
	OwnerID       string   `json:"owner_id"`
	Title         string   `json:"title"`
	Slug          string   `json:"slug"`
	Status        string   `json:"status"`
	Embargo       bool     `json:"embargo"`
	TrackingID    string   `json:"tracking_id,omitempty"`
	Price         *float64 `json:"price,omitempty"`
	DateSubmitted *string  `json:"date_submitted,omitempty"`
	CreatedAt     string   `json:"created_at"`
}

// Communication is one piece of correspondence on a request.
type Communication struct {
	ID        string  `json:"id"`
	RequestID *string `json:"request_id,omitempty"`
	Direction string  `json:"direction"`
	TS        string  `json:"ts"`
	From      string  `json:"from"`
	Subject   string  `json:"subject,omitempty"`
	Body      string  `json:"body"`
	Status    string  `json:"status,omitempty"`
}

// Task is an operator queue entry.
type Task struct {
	ID        string  `json:"id"`
	Kind      string  `json:"kind"`
	Resolved  bool    `json:"resolved"`
	RequestID *string `json:"request_id,omitempty"`
	AgencyID  *string `json:"agency_id,omitempty"`
	CreatedAt string  `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedRequests wraps list responses with cursors.
type PaginatedRequests struct {
	Items      []Request `json:"items"`
	NextCursor string    `json:"next_cursor"`
}

// CreateRequest creates a draft request.
func (c *Client) CreateRequest(ctx context.Context, agencyID, title, ask string) (Request, error) {
	body := map[string]any{
		"agency_id": agencyID,
		"title":     title,
		"ask":       ask,
	}
	var resp Request
	err := c.do(ctx, http.MethodPost, "v0/requests", body, &resp)
	return resp, err
}

// GetRequest fetches a request by id. accessKey unlocks embargoed requests.
func (c *Client) GetRequest(ctx context.Context, id, accessKey string) (Request, error) {
	endpoint := "v0/requests/" + url.PathEscape(id)
	if accessKey != "" {
		endpoint += "?key=" + url.QueryEscape(accessKey)
	}
	var resp Request
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ListRequests returns a paginated request listing.
func (c *Client) ListRequests(ctx context.Context, limit int, cursor string) (PaginatedRequests, error) {
	endpoint := "v0/requests"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedRequests
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SubmitRequest files a draft with its agency.
func (c *Client) SubmitRequest(ctx context.Context, id, ask string) (Request, error) {
	body := map[string]any{"ask": ask}
	var resp Request
	err := c.do(ctx, http.MethodPost, "v0/requests/"+url.PathEscape(id)+"/submit", body, &resp)
	return resp, err
}

// SetStatus updates a request's lifecycle status.
func (c *Client) SetStatus(ctx context.Context, id, status string) (Request, error) {
	body := map[string]any{"status": status}
	var resp Request
	err := c.do(ctx, http.MethodPost, "v0/requests/"+url.PathEscape(id)+"/status", body, &resp)
	return resp, err
}

// Communications lists correspondence on a request.
func (c *Client) Communications(ctx context.Context, requestID string) ([]Communication, error) {
	var resp struct {
		Items []Communication `json:"items"`
	}
	endpoint := "v0/requests/" + url.PathEscape(requestID) + "/communications"
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Tasks lists open operator tasks.
func (c *Client) Tasks(ctx context.Context, kind string) ([]Task, error) {
	var resp struct {
		Items []Task `json:"items"`
	}
	endpoint := "v0/tasks"
	if kind != "" {
		endpoint += "?kind=" + url.QueryEscape(kind)
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// ResolveTask resolves a task with kind-specific fields.
func (c *Client) ResolveTask(ctx context.Context, id string, fields map[string]any) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks/"+url.PathEscape(id)+"/resolve", fields, &resp)
	return resp, err
}

// Inbound delivers a raw inbound message to the ingestion hook.
func (c *Client) Inbound(ctx context.Context, to, from, subject, body string) (Communication, error) {
	payload := map[string]any{
		"to":      to,
		"from":    from,
		"subject": subject,
		"body":    body,
	}
	var resp Communication
	err := c.do(ctx, http.MethodPost, "v0/inbound", payload, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	var resp struct {
		Items []Event `json:"items"`
	}
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	if c.InboundSecret != "" {
		req.Header.Set("X-Inbound-Secret", c.InboundSecret)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
