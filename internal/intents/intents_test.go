package intents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zia971/opcopilotV4/internal/config"
	"github.com/Zia971/opcopilotV4/internal/domain"
)

type memStore struct {
	mu        sync.Mutex
	intents   []domain.Intent
	delivered map[string]string
	failures  map[string][]string
}

func newMemStore(its ...domain.Intent) *memStore {
	return &memStore{intents: its, delivered: map[string]string{}, failures: map[string][]string{}}
}

func (m *memStore) PendingIntents(ctx context.Context, limit, maxAttempts int) ([]domain.Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Intent
	for _, it := range m.intents {
		if _, ok := m.delivered[it.ID]; ok {
			continue
		}
		if maxAttempts > 0 && len(m.failures[it.ID]) >= maxAttempts {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

func (m *memStore) MarkIntentDelivered(ctx context.Context, id, at string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered[id] = at
	return nil
}

func (m *memStore) MarkIntentFailed(ctx context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[id] = append(m.failures[id], reason)
	return nil
}

func TestSignAndVerify(t *testing.T) {
	now := time.Now()
	it := New(KindNoticeGenerate, 3, nil, now)
	token, err := Sign(it, "s3cret", now)
	require.NoError(t, err)

	claims, err := Verify(token, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, KindNoticeGenerate, claims.Kind)
	assert.Equal(t, int64(3), claims.OperationID)
	assert.Equal(t, it.ID, claims.Subject)

	_, err = Verify(token, "other")
	assert.Error(t, err)
	_, err = Sign(it, " ", now)
	assert.Error(t, err)
}

func TestDispatchSignsAndFilters(t *testing.T) {
	var (
		mu       sync.Mutex
		received []envelope
		auth     []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, env)
		auth = append(auth, r.Header.Get("Authorization"))
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	notice := New(KindNoticeGenerate, 1, map[string]any{"reference": "MED-MOE-1-20240301"}, now)
	report := New(KindOperationFinalReport, 1, nil, now)
	store := newMemStore(notice, report)

	d := NewDispatcher(store, config.IntentsConfig{
		SigningKey: "k",
		Webhooks:   []config.WebhookConfig{{URL: srv.URL, Events: []string{KindNoticeGenerate}}},
	}, nil)
	require.True(t, d.Enabled())

	n, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, notice.ID, received[0].ID)
	assert.Equal(t, "MED-MOE-1-20240301", received[0].Payload["reference"])
	require.True(t, strings.HasPrefix(auth[0], "Bearer "))
	claims, err := Verify(strings.TrimPrefix(auth[0], "Bearer "), "k")
	require.NoError(t, err)
	assert.Equal(t, notice.ID, claims.Subject)
	assert.Len(t, store.delivered, 2)
}

func TestDispatchRecordsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	it := New(KindNoticeReminder, 2, nil, time.Now())
	store := newMemStore(it)
	d := NewDispatcher(store, config.IntentsConfig{Webhooks: []config.WebhookConfig{{URL: srv.URL}}}, nil)
	d.MaxAttempts = 2

	for i := 0; i < 3; i++ {
		n, err := d.DispatchOnce(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)
	}
	require.Len(t, store.failures[it.ID], 2)
	assert.Contains(t, store.failures[it.ID][0], "status 503")
	assert.Empty(t, store.delivered)
}

func TestDisabledHooksAreSkipped(t *testing.T) {
	off := false
	d := NewDispatcher(newMemStore(), config.IntentsConfig{Webhooks: []config.WebhookConfig{{URL: "http://127.0.0.1:1", Enabled: &off}, {URL: " "}}}, nil)
	assert.False(t, d.Enabled())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)
}
