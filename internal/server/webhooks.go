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

	"github.com/diamondhholdings-hub/agent-army-sub001/internal/autonomy"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/config"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/domain"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// WebhookPublisher pushes alerts and digests to the configured webhooks
// as they are generated. It satisfies insight.Publisher.
type WebhookPublisher struct {
	TenantID string
	Webhooks []config.WebhookConfig
	Client   *http.Client
}

// NewWebhookPublisher returns nil when no webhooks are configured so the
// insight generator falls back to log-only alerting.
func NewWebhookPublisher(tenantID string, hooks []config.WebhookConfig) *WebhookPublisher {
	if len(hooks) == 0 {
		return nil
	}
	return &WebhookPublisher{
		TenantID: tenantID,
		Webhooks: hooks,
		Client:   &http.Client{Timeout: defaultWebhookTimeout},
	}
}

func (p *WebhookPublisher) Publish(ctx context.Context, eventType string, data any) error {
	body := map[string]any{
		"type":      eventType,
		"tenant_id": p.TenantID,
		"data":      data,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	var firstErr error
	for _, hook := range p.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		if !newEventFilter(hook.Events).match(eventType) {
			continue
		}
		if err := postWebhook(ctx, p.Client, hook, eventType, 0, p.TenantID, payload); err != nil {
			log.Printf("webhook: publish %s to %s failed: %v", eventType, hook.URL, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// webhookDispatcher tails the audit trail and replays events to the
// configured webhooks. Each hook keeps its own cursor; a failed delivery
// halts that hook's cursor so the event is retried on the next tick.
type webhookDispatcher struct {
	engine   *autonomy.Engine
	tenantID string
	webhooks []config.WebhookConfig
	client   *http.Client
	mu       sync.Mutex
	cursors  map[int]int64
}

// StartWebhookDispatcher begins delivering audit events in the background.
// It returns immediately when no webhooks are configured. The loop stops
// when ctx is cancelled.
func StartWebhookDispatcher(ctx context.Context, eng *autonomy.Engine, cfg *config.Config) {
	if cfg == nil || len(cfg.Alerts.Webhooks) == 0 {
		return
	}
	tenantID := cfg.Tenant.ID
	if strings.TrimSpace(tenantID) == "" {
		return
	}
	d := &webhookDispatcher{
		engine:   eng,
		tenantID: tenantID,
		webhooks: cfg.Alerts.Webhooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		cursors:  make(map[int]int64),
	}
	go d.run(ctx)
}

func (d *webhookDispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(defaultWebhookInterval)
	defer ticker.Stop()
	for {
		d.dispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *webhookDispatcher) dispatchAll(ctx context.Context) {
	for i, hook := range d.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

func (d *webhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	cursor := d.cursorFor(ctx, idx)
	events, err := d.engine.Repo.EventsAfter(ctx, defaultWebhookBatch, cursor, d.tenantID)
	if err != nil {
		log.Printf("webhook: fetch events failed: %v", err)
		return
	}
	if len(events) == 0 {
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range events {
		if !filter.match(evt.Type) {
			d.setCursor(idx, evt.ID)
			continue
		}
		if err := d.postEvent(ctx, hook, evt); err != nil {
			log.Printf("webhook: deliver to %s failed: %v", hook.URL, err)
			return
		}
		d.setCursor(idx, evt.ID)
	}
}

func (d *webhookDispatcher) cursorFor(ctx context.Context, idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.engine.Repo.LatestEventID(ctx, d.tenantID)
	if err != nil {
		log.Printf("webhook: init cursor failed: %v", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *webhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	TenantID   string          `json:"tenant_id"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

func (d *webhookDispatcher) postEvent(ctx context.Context, hook config.WebhookConfig, evt domain.Event) error {
	payload := json.RawMessage([]byte("{}"))
	var raw string
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			payload = json.RawMessage([]byte(evt.Payload))
		} else {
			raw = evt.Payload
		}
	}
	body := webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		TenantID:   evt.TenantID,
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
	client := d.client
	if hook.TimeoutSeconds > 0 {
		timeout := time.Duration(hook.TimeoutSeconds) * time.Second
		if timeout != d.client.Timeout {
			client = &http.Client{Timeout: timeout}
		}
	}
	return postWebhook(ctx, client, hook, evt.Type, evt.ID, d.tenantID, data)
}

func postWebhook(ctx context.Context, client *http.Client, hook config.WebhookConfig, eventType string, deliveryID int64, tenantID string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Governor-Event", eventType)
	if deliveryID > 0 {
		req.Header.Set("X-Governor-Delivery", fmt.Sprintf("%d", deliveryID))
	}
	req.Header.Set("X-Governor-Tenant", tenantID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Governor-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
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
