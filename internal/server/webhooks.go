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

	"missionline/internal/clock"
	"missionline/internal/config"
	"missionline/internal/domain"
	"missionline/internal/repo"
)

const (
	defaultFeedInterval = 2 * time.Second
	defaultFeedTimeout  = 5 * time.Second
	defaultFeedBatch    = 100
)

// FeedDispatcher forwards audit events to the feed hooks in config, each hook
// with its own cursor. Hooks start at the newest event, so history is not replayed.
type FeedDispatcher struct {
	Repo     repo.Repo
	Hooks    []config.FeedHook
	Guild    string
	Interval time.Duration
	Clock    clock.Clock
	Client   *http.Client
	Logger   *slog.Logger

	mu      sync.Mutex
	cursors map[int]int64
}

// NewFeedDispatcher returns nil when cfg has no feeds.
func NewFeedDispatcher(r repo.Repo, cfg *config.Config, logger *slog.Logger) *FeedDispatcher {
	if cfg == nil || len(cfg.Webhooks.Feeds) == 0 {
		return nil
	}
	timeout := defaultFeedTimeout
	if cfg.Webhooks.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.Webhooks.TimeoutSeconds) * time.Second
	}
	return &FeedDispatcher{
		Repo:   r,
		Hooks:  cfg.Webhooks.Feeds,
		Guild:  cfg.Guild,
		Client: &http.Client{Timeout: timeout},
		Logger: logger,
	}
}

func (d *FeedDispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Run dispatches on every tick until ctx ends.
func (d *FeedDispatcher) Run(ctx context.Context) error {
	interval := d.Interval
	if interval <= 0 {
		interval = defaultFeedInterval
	}
	ticker := clock.Or(d.Clock).NewTicker(interval)
	defer ticker.Stop()
	for {
		d.DispatchAll(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DispatchAll runs one delivery pass over every enabled hook.
func (d *FeedDispatcher) DispatchAll(ctx context.Context) {
	for i, hook := range d.Hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchHook(ctx, i, hook)
	}
}

func (d *FeedDispatcher) dispatchHook(ctx context.Context, idx int, hook config.FeedHook) {
	cursor := d.cursorFor(ctx, idx)
	events, err := d.Repo.EventsAfter(ctx, defaultFeedBatch, cursor)
	if err != nil {
		d.logger().Error("feed: fetch events failed", "error", err)
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range events {
		if !filter.match(evt.Type) {
			d.setCursor(idx, evt.ID)
			continue
		}
		if err := d.postEvent(ctx, hook, evt); err != nil {
			// Retried from this event on the next pass.
			d.logger().Warn("feed: delivery failed", "url", hook.URL, "event_id", evt.ID, "error", err)
			return
		}
		d.setCursor(idx, evt.ID)
	}
}

func (d *FeedDispatcher) cursorFor(ctx context.Context, idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cursors == nil {
		d.cursors = make(map[int]int64)
	}
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.Repo.LatestEventID(ctx)
	if err != nil {
		d.logger().Error("feed: init cursor failed", "error", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *FeedDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type feedEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	Guild      string          `json:"guild,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

func (d *FeedDispatcher) postEvent(ctx context.Context, hook config.FeedHook, evt domain.Event) error {
	payload := json.RawMessage([]byte("{}"))
	var raw string
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			payload = json.RawMessage([]byte(evt.Payload))
		} else {
			raw = evt.Payload
		}
	}
	data, err := json.Marshal(feedEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		Guild:      d.Guild,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
		PayloadRaw: raw,
	})
	if err != nil {
		return err
	}
	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: defaultFeedTimeout}
	}
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != client.Timeout {
			c := *client
			c.Timeout = timeout
			client = &c
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Missionline-Event", evt.Type)
	req.Header.Set("X-Missionline-Delivery", fmt.Sprintf("%d", evt.ID))
	if d.Guild != "" {
		req.Header.Set("X-Missionline-Guild", d.Guild)
	}
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Missionline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
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
