package intents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Zia971/opcopilotV4/internal/config"
	"github.com/Zia971/opcopilotV4/internal/domain"
)

const (
	defaultInterval    = 2 * time.Second
	defaultTimeout     = 5 * time.Second
	defaultBatch       = 100
	defaultMaxAttempts = 5
)

// Store is the intent queue the dispatcher drains.
type Store interface {
	PendingIntents(ctx context.Context, limit, maxAttempts int) ([]domain.Intent, error)
	MarkIntentDelivered(ctx context.Context, id, at string) error
	MarkIntentFailed(ctx context.Context, id, reason string) error
}

type Dispatcher struct {
	store       Store
	hooks       []config.WebhookConfig
	signingKey  string
	client      *http.Client
	log         *zap.Logger
	Now         func() time.Time
	Interval    time.Duration
	MaxAttempts int
}

func NewDispatcher(store Store, cfg config.IntentsConfig, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	var hooks []config.WebhookConfig
	for _, h := range cfg.Webhooks {
		if h.Enabled != nil && !*h.Enabled {
			continue
		}
		if strings.TrimSpace(h.URL) == "" {
			continue
		}
		hooks = append(hooks, h)
	}
	return &Dispatcher{
		store:       store,
		hooks:       hooks,
		signingKey:  cfg.SigningKey,
		client:      &http.Client{Timeout: defaultTimeout},
		log:         log.Named("intents"),
		Now:         time.Now,
		Interval:    defaultInterval,
		MaxAttempts: defaultMaxAttempts,
	}
}

// Enabled reports whether any webhook can receive intents.
func (d *Dispatcher) Enabled() bool {
	return len(d.hooks) > 0
}

// Run drains the queue every Interval until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	if !d.Enabled() {
		return
	}
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()
	for {
		if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			d.log.Warn("dispatch failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce delivers one batch of pending intents and returns how many
// were marked delivered. An intent no webhook subscribes to is delivered
// trivially.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	pending, err := d.store.PendingIntents(ctx, defaultBatch, d.MaxAttempts)
	if err != nil {
		return 0, fmt.Errorf("fetch intents: %w", err)
	}
	delivered := 0
	for _, it := range pending {
		if err := d.deliver(ctx, it); err != nil {
			d.log.Warn("intent delivery failed", zap.String("intent_id", it.ID), zap.String("kind", it.Kind), zap.Error(err))
			if markErr := d.store.MarkIntentFailed(ctx, it.ID, err.Error()); markErr != nil {
				return delivered, markErr
			}
			continue
		}
		if err := d.store.MarkIntentDelivered(ctx, it.ID, d.Now().UTC().Format(time.RFC3339)); err != nil {
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}

func (d *Dispatcher) deliver(ctx context.Context, it domain.Intent) error {
	for _, hook := range d.hooks {
		if !newKindFilter(hook.Events).match(it.Kind) {
			continue
		}
		if err := d.post(ctx, hook, it); err != nil {
			return fmt.Errorf("%s: %w", hook.URL, err)
		}
	}
	return nil
}

type envelope struct {
	ID          string         `json:"id"`
	Kind        string         `json:"kind"`
	OperationID int64          `json:"operation_id"`
	CreatedAt   string         `json:"created_at"`
	Payload     map[string]any `json:"payload"`
}

func (d *Dispatcher) post(ctx context.Context, hook config.WebhookConfig, it domain.Intent) error {
	payload := it.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(envelope{ID: it.ID, Kind: it.Kind, OperationID: it.OperationID, CreatedAt: it.CreatedAt, Payload: payload})
	if err != nil {
		return err
	}
	client := d.client
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != client.Timeout {
			client = &http.Client{Timeout: timeout}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Opcopilot-Intent", it.Kind)
	req.Header.Set("X-Opcopilot-Delivery", it.ID)
	key := hook.Secret
	if strings.TrimSpace(key) == "" {
		key = d.signingKey
	}
	if strings.TrimSpace(key) != "" {
		token, err := Sign(it, key, d.Now())
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
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

type kindFilter struct {
	all bool
	set map[string]struct{}
}

func newKindFilter(kinds []string) kindFilter {
	set := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		if k = strings.TrimSpace(k); k != "" {
			set[k] = struct{}{}
		}
	}
	if len(set) == 0 {
		return kindFilter{all: true}
	}
	return kindFilter{set: set}
}

func (f kindFilter) match(kind string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[kind]
	return ok
}
