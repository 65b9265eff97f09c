package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"foiadesk/internal/config"
	"foiadesk/internal/domain"
	"foiadesk/internal/engine"
)

const (
	defaultNotifyInterval = 2 * time.Second
	defaultNotifyTimeout  = 5 * time.Second
	defaultNotifyBatch    = 100
)

// notifier pushes audit events to configured webhook endpoints. Notification
// delivery (email digests, in-app feeds) hangs off these hooks; the core only
// guarantees at-least-once delivery of the event stream.
type notifier struct {
	engine   engine.Engine
	webhooks []config.WebhookConfig
	client   *http.Client
	mu       sync.Mutex
	cursors  map[int]int64
}

func startNotifier(e engine.Engine) {
	if e.Config == nil || len(e.Config.Webhooks) == 0 {
		return
	}
	n := &notifier{
		engine:   e,
		webhooks: e.Config.Webhooks,
		client:   &http.Client{Timeout: defaultNotifyTimeout},
		cursors:  make(map[int]int64),
	}
	go n.run()
}

func (n *notifier) run() {
	ticker := time.NewTicker(defaultNotifyInterval)
	defer ticker.Stop()
	for {
		n.dispatchAll()
		<-ticker.C
	}
}

func (n *notifier) dispatchAll() {
	for i, hook := range n.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		n.dispatchWebhook(i, hook)
	}
}

func (n *notifier) dispatchWebhook(idx int, hook config.WebhookConfig) {
	ctx := context.Background()
	cursor := n.cursorFor(idx)
	events, err := n.engine.Repo.EventsAfter(ctx, defaultNotifyBatch, cursor)
	if err != nil {
		log.Printf("notify: fetch events failed: %v", err)
		return
	}
	if len(events) == 0 {
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range events {
		if !filter.match(evt.Type) {
			n.setCursor(idx, evt.ID)
			continue
		}
		if err := n.postEvent(ctx, hook, evt); err != nil {
			log.Printf("notify: deliver to %s failed: %v", hook.URL, err)
			return
		}
		n.setCursor(idx, evt.ID)
	}
}

func (n *notifier) cursorFor(idx int) int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	if cur, ok := n.cursors[idx]; ok {
		return cur
	}
	cur, err := n.engine.Repo.LatestEventID(context.Background())
	if err != nil {
		log.Printf("notify: init cursor failed: %v", err)
		cur = 0
	}
	n.cursors[idx] = cur
	return cur
}

func (n *notifier) setCursor(idx int, value int64) {
	n.mu.Lock()
	n.cursors[idx] = value
	n.mu.Unlock()
}

type notifyEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

func (n *notifier) postEvent(ctx context.Context, hook config.WebhookConfig, evt domain.Event) error {
	payload := json.RawMessage([]byte("{}"))
	var raw string
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			payload = json.RawMessage([]byte(evt.Payload))
		} else {
			raw = evt.Payload
		}
	}
	body := notifyEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
		PayloadRaw: raw,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	timeout := defaultNotifyTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := n.client
	if timeout != n.client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Foiadesk-Event", evt.Type)
	req.Header.Set("X-Foiadesk-Delivery", fmt.Sprintf("%d", evt.ID))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Foiadesk-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
