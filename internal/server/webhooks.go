package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"pmsim/internal/config"
	"pmsim/internal/domain"
	"pmsim/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// WebhookOptions configure the outbound event dispatcher.
type WebhookOptions struct {
	Repo     repo.Repo
	Webhooks []config.WebhookConfig
	Interval time.Duration
	Logger   *slog.Logger
}

type webhookDispatcher struct {
	repo     repo.Repo
	webhooks []config.WebhookConfig
	interval time.Duration
	log      *slog.Logger
	client   *http.Client
	mu       sync.Mutex
	cursors  map[int]int64
}

// StartWebhooks delivers new service events to every active webhook until ctx
// is done. Each hook starts at the latest event present when it is first
// polled. The returned channel closes once the dispatcher has stopped.
func StartWebhooks(ctx context.Context, opts WebhookOptions) <-chan struct{} {
	done := make(chan struct{})
	active := make([]config.WebhookConfig, 0, len(opts.Webhooks))
	for _, hook := range opts.Webhooks {
		if hook.Active() && strings.TrimSpace(hook.URL) != "" {
			active = append(active, hook)
		}
	}
	if len(active) == 0 {
		close(done)
		return done
	}
	d := &webhookDispatcher{
		repo:     opts.Repo,
		webhooks: active,
		interval: opts.Interval,
		log:      opts.Logger,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		cursors:  make(map[int]int64),
	}
	if d.interval <= 0 {
		d.interval = defaultWebhookInterval
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	go func() {
		defer close(done)
		d.run(ctx)
	}()
	return done
}

func (d *webhookDispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
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
		if ctx.Err() != nil {
			return
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

func (d *webhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	cursor := d.cursorFor(ctx, idx)
	events, err := d.repo.EventsAfter(ctx, defaultWebhookBatch, cursor, "")
	if err != nil {
		d.log.Warn("webhook: fetch events failed", "err", err)
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range events {
		if !filter.match(evt.Type) {
			d.setCursor(idx, evt.ID)
			continue
		}
		if err := d.postEvent(ctx, hook, evt); err != nil {
			// Retry from this event on the next tick.
			d.log.Warn("webhook: delivery failed", "url", hook.URL, "event", evt.ID, "err", err)
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
	cur, err := d.repo.LatestEventID(ctx, "")
	if err != nil {
		d.log.Warn("webhook: init cursor failed", "err", err)
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
	GameID     string          `json:"game_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func (d *webhookDispatcher) postEvent(ctx context.Context, hook config.WebhookConfig, evt domain.Event) error {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	data, err := json.Marshal(webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		GameID:     evt.GameID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
	})
	if err != nil {
		return err
	}
	client := d.client
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != d.client.Timeout {
			client = &http.Client{Timeout: timeout}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pmsim-Event", evt.Type)
	req.Header.Set("X-Pmsim-Delivery", fmt.Sprintf("%d", evt.ID))
	if evt.GameID != "" {
		req.Header.Set("X-Pmsim-Game", evt.GameID)
	}
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Pmsim-Secret", hook.Secret)
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
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
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
