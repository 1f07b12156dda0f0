package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type recordingSender struct {
	mu     sync.Mutex
	titles []string
	err    error
	got    chan string
}

func newRecordingSender() *recordingSender { return &recordingSender{got: make(chan string, 16)} }

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	r.titles = append(r.titles, title)
	r.mu.Unlock()
	r.got <- title
	return r.err
}

func (r *recordingSender) Name() string { return "recording" }

func TestNotifierFiltersAndJoinsErrors(t *testing.T) {
	ctx := context.Background()
	ok := newRecordingSender()
	bad := newRecordingSender()
	bad.err = errors.New("boom")
	n := NewNotifier([]Sender{bad, ok}, []string{EventOperationFailed}, quietLogger())

	require.NoError(t, n.Notify(ctx, EventOpportunity, "skip", ""))
	assert.Empty(t, ok.titles)

	err := n.Notify(ctx, EventOperationFailed, "failed", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recording: boom")
	assert.Equal(t, []string{"failed"}, ok.titles)
}

func TestAlerterOperationsAndCooldown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newRecordingSender()
	a := NewAlerter(NewNotifier([]Sender{s}, nil, quietLogger()),
		AlertConfig{MinSpreadPercent: 0.5, Cooldown: time.Minute}, quietLogger())
	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }
	go func() { _ = a.Run(ctx) }()

	recv := func() string {
		select {
		case title := <-s.got:
			return title
		case <-time.After(2 * time.Second):
			t.Fatal("no alert delivered")
			return ""
		}
	}

	a.OperationUpdated(ctx, domain.Operation{ID: "op-1", Mode: domain.ModeLocal, Symbol: "ETH/USDT", Status: domain.StatusAssetPurchased}, "")
	a.OperationUpdated(ctx, domain.Operation{
		ID: "op-1", Mode: domain.ModeLocal, Symbol: "ETH/USDT", Status: domain.StatusCompleted,
		ProfitLoss: decimal.NewFromFloat(8.97),
	}, "")
	assert.Equal(t, "[local] ETH/USDT completed", recv())

	an := domain.Analysis{Symbol: "BTC/USDT", AcquireExchange: "a", DisposeExchange: "b", SpreadPercent: 0.8}
	a.AnalysisUpdated(ctx, an)
	assert.Equal(t, "Opportunity BTC/USDT", recv())

	// Below threshold, same-venue and inside cooldown are all suppressed.
	a.AnalysisUpdated(ctx, domain.Analysis{Symbol: "BTC/USDT", AcquireExchange: "a", DisposeExchange: "b", SpreadPercent: 0.1})
	a.AnalysisUpdated(ctx, domain.Analysis{Symbol: "XRP/USDT", AcquireExchange: "a", DisposeExchange: "a", SpreadPercent: 2})
	a.AnalysisUpdated(ctx, an)

	now = now.Add(2 * time.Minute)
	a.AnalysisUpdated(ctx, an)
	assert.Equal(t, "Opportunity BTC/USDT", recv())

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Len(t, s.titles, 3)
}

func TestTelegramSenderPostsMarkdown(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottok/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.baseURL = srv.URL
	require.NoError(t, s.Send(context.Background(), "title", "body"))
	assert.Equal(t, "42", payload["chat_id"])
	assert.Equal(t, "*title*\nbody", payload["text"])
}

func TestDiscordSenderReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
