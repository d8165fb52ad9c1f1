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

	"tracerline/internal/config"
	"tracerline/internal/domain"
	"tracerline/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// WebhookDispatcher forwards new activity log entries to configured hooks.
// Each hook keeps its own cursor, advanced only after a 2xx response.
type WebhookDispatcher struct {
	Repo     repo.Repo
	Webhooks []config.WebhookConfig
	Interval time.Duration
	Logger   *slog.Logger

	client  *http.Client
	mu      sync.Mutex
	cursors map[int]int64
}

func NewWebhookDispatcher(r repo.Repo, hooks []config.WebhookConfig, logger *slog.Logger) *WebhookDispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &WebhookDispatcher{
		Repo:     r,
		Webhooks: hooks,
		Interval: defaultWebhookInterval,
		Logger:   logger,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		cursors:  make(map[int]int64),
	}
}

// Run polls until ctx is cancelled. It returns immediately when no hook is
// active.
func (d *WebhookDispatcher) Run(ctx context.Context) {
	active := false
	for _, hook := range d.Webhooks {
		if hook.Active() {
			active = true
			break
		}
	}
	if !active {
		return
	}
	interval := d.Interval
	if interval <= 0 {
		interval = defaultWebhookInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d.DispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchAll performs one delivery round for every active hook.
func (d *WebhookDispatcher) DispatchAll(ctx context.Context) {
	for i, hook := range d.Webhooks {
		if !hook.Active() {
			continue
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

func (d *WebhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	cursor, err := d.cursorFor(ctx, idx, hook)
	if err != nil {
		d.Logger.Error("webhook cursor init failed", "url", hook.URL, "error", err)
		return
	}
	items, err := d.Repo.ActivityAfter(ctx, defaultWebhookBatch, cursor, hook.ProductOrder)
	if err != nil {
		d.Logger.Error("webhook fetch activity failed", "url", hook.URL, "error", err)
		return
	}
	if len(items) == 0 {
		return
	}
	if err := d.post(ctx, hook, items); err != nil {
		d.Logger.Warn("webhook delivery failed", "url", hook.URL, "entries", len(items), "error", err)
		return
	}
	d.setCursor(idx, items[len(items)-1].ID)
	d.Logger.Debug("webhook delivered", "url", hook.URL, "entries", len(items))
}

func (d *WebhookDispatcher) cursorFor(ctx context.Context, idx int, hook config.WebhookConfig) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cursors == nil {
		d.cursors = make(map[int]int64)
	}
	if cur, ok := d.cursors[idx]; ok {
		return cur, nil
	}
	var cur int64
	if !hook.FromStart {
		latest, err := d.Repo.MaxActivityID(ctx)
		if err != nil {
			return 0, err
		}
		cur = latest
	}
	d.cursors[idx] = cur
	return cur, nil
}

func (d *WebhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookBatch struct {
	Items []domain.ActivityLogEntry `json:"items"`
}

func (d *WebhookDispatcher) post(ctx context.Context, hook config.WebhookConfig, items []domain.ActivityLogEntry) error {
	data, err := json.Marshal(webhookBatch{Items: items})
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := d.client
	if client == nil || timeout != client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tracerline-Delivery", fmt.Sprintf("%d-%d", items[0].ID, items[len(items)-1].ID))
	if hook.ProductOrder != "" {
		req.Header.Set("X-Tracerline-Product-Order", hook.ProductOrder)
	}
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Tracerline-Secret", hook.Secret)
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
