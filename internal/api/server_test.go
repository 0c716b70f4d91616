package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader/internal/app"
	"autotrader/internal/domain"
	"autotrader/internal/events"
	"autotrader/internal/intake"
	"autotrader/internal/ports"
	"autotrader/internal/reconcile"
	"autotrader/internal/scheduler"
	"autotrader/internal/settings"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}
func (m *mockLogger) Fatal(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// memStore is an in-memory stand-in for the SQLite repository, implementing
// the trade, event and settings ports together the way the real adapter does.
type memStore struct {
	mu       sync.Mutex
	trades   map[string]*domain.Trade
	order    []string
	events   []*domain.AutoTradeEvent
	settings *domain.Settings
}

func newMemStore(cfg *domain.Settings) *memStore {
	return &memStore{trades: make(map[string]*domain.Trade), settings: cfg}
}

func (m *memStore) Create(ctx context.Context, trade *domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *trade
	m.trades[trade.ID] = &cp
	m.order = append(m.order, trade.ID)
	return nil
}

func (m *memStore) Update(ctx context.Context, trade *domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *trade
	m.trades[trade.ID] = &cp
	return nil
}

func (m *memStore) FindByID(ctx context.Context, id string) (*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tr, ok := m.trades[id]; ok {
		cp := *tr
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) FindActiveByTicker(ctx context.Context, ticker string) (*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tr := range m.trades {
		if tr.Ticker == ticker && tr.Status.IsActive() {
			cp := *tr
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) FindActive(ctx context.Context) ([]*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Trade
	for _, id := range m.order {
		if tr := m.trades[id]; tr.Status.IsActive() {
			cp := *tr
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) CountActive(ctx context.Context) (int, error) {
	active, err := m.FindActive(ctx)
	return len(active), err
}

func (m *memStore) FindRecent(ctx context.Context, limit int) ([]*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Trade
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *m.trades[m.order[i]]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) Append(ctx context.Context, event *domain.AutoTradeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *event
	m.events = append(m.events, &cp)
	return nil
}

func (m *memStore) FindRecentEvents(ctx context.Context, limit int) ([]*domain.AutoTradeEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.AutoTradeEvent
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *m.events[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) LoadSettings(ctx context.Context) (*domain.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settings == nil {
		return nil, nil
	}
	cp := *m.settings
	return &cp, nil
}

func (m *memStore) SaveSettings(ctx context.Context, s *domain.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.settings = &cp
	return nil
}

type mockBroker struct {
	positions []ports.Position
}

func (m *mockBroker) Ping(ctx context.Context) error { return nil }

func (m *mockBroker) SearchContract(ctx context.Context, symbol string) (*ports.Contract, error) {
	return &ports.Contract{InstrumentID: "c-" + symbol, Symbol: symbol}, nil
}

func (m *mockBroker) GetQuote(ctx context.Context, symbol string) (float64, error) {
	return 100, nil
}

func (m *mockBroker) PlaceBracketOrder(ctx context.Context, accountID, symbol string, side domain.Side, qty, entryPrice, stopLoss, takeProfit float64, timeInForce string) ([]ports.OrderReply, error) {
	return []ports.OrderReply{{OrderID: "order-1", Symbol: symbol, Side: side}}, nil
}

func (m *mockBroker) PlaceMarketOrder(ctx context.Context, accountID, symbol string, side domain.Side, qty float64) ([]ports.OrderReply, error) {
	return []ports.OrderReply{{OrderID: "mkt-1", Symbol: symbol, Side: side}}, nil
}

func (m *mockBroker) GetPositions(ctx context.Context, accountID string) ([]ports.Position, error) {
	return m.positions, nil
}

func (m *mockBroker) GetLiveOrders(ctx context.Context) ([]ports.Order, error) { return nil, nil }

type mockAnalyzer struct{}

func (m *mockAnalyzer) Analyze(ctx context.Context, ticker string) (*domain.Analysis, error) {
	entry, stop, target := 100.0, 95.0, 110.0
	return &domain.Analysis{
		Ticker:         ticker,
		Recommendation: domain.RecommendBuy,
		Direction:      domain.Buy,
		Confidence:     80,
		EntryPrice:     &entry,
		StopLoss:       &stop,
		TargetPrice:    &target,
	}, nil
}

func newTestServer(t *testing.T, cfg *domain.Settings) (*Server, *memStore) {
	t.Helper()
	logger := &mockLogger{}
	repo := newMemStore(cfg)
	broker := &mockBroker{}

	bus := events.NewBus()
	t.Cleanup(bus.Close)
	bus.Subscribe(events.LedgerSink(repo, logger))

	store, err := settings.NewStore(context.Background(), repo, logger)
	require.NoError(t, err)

	pipeline, err := intake.New(store, broker, repo, &mockAnalyzer{}, bus, logger)
	require.NoError(t, err)
	engine, err := reconcile.New(broker, repo, bus, nil, logger)
	require.NoError(t, err)
	closer, err := scheduler.New(scheduler.Config{Venue: "America/New_York", CutoffHour: 15, CutoffMin: 55},
		store, broker, repo, bus, logger)
	require.NoError(t, err)

	service, err := app.NewAutoTradeService(logger, store, pipeline, engine, closer, repo, repo)
	require.NoError(t, err)
	return NewServer(service, logger), repo
}

func enabledSettings() *domain.Settings {
	return &domain.Settings{
		Enabled:              true,
		AccountID:            "DU12345",
		MaxPositions:         5,
		PositionSize:         1000,
		MinScannerConfidence: 70,
		MinFAConfidence:      65,
		Version:              1,
	}
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestGetSettings(t *testing.T) {
	server, _ := newTestServer(t, enabledSettings())
	w := doJSON(t, server.Handler(), http.MethodGet, "/api/autotrade/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got domain.Settings
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.True(t, got.Enabled)
	assert.Equal(t, "DU12345", got.AccountID)
}

func TestPatchSettings(t *testing.T) {
	server, repo := newTestServer(t, enabledSettings())
	w := doJSON(t, server.Handler(), http.MethodPatch, "/api/autotrade/settings",
		map[string]interface{}{"max_positions": 8})
	require.Equal(t, http.StatusOK, w.Code)

	var got domain.Settings
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 8, got.MaxPositions)
	assert.True(t, got.Enabled) // untouched fields survive the patch

	persisted, err := repo.LoadSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, persisted.MaxPositions)
}

func TestPatchSettings_BadJSON(t *testing.T) {
	server, _ := newTestServer(t, enabledSettings())
	req := httptest.NewRequest(http.MethodPatch, "/api/autotrade/settings", bytes.NewBufferString("{nope"))
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProcess_PlacesTradeEndToEnd(t *testing.T) {
	server, _ := newTestServer(t, enabledSettings())
	w := doJSON(t, server.Handler(), http.MethodPost, "/api/autotrade/process", map[string]interface{}{
		"signals": []domain.Signal{{
			Ticker:     "AAPL",
			Direction:  domain.Buy,
			Mode:       domain.ModeSwingTrade,
			Source:     domain.SourceScanner,
			Confidence: 90,
		}},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Decisions []intake.Decision `json:"decisions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Decisions, 1)
	assert.Equal(t, domain.ActionExecuted, resp.Decisions[0].Outcome)

	trades := doJSON(t, server.Handler(), http.MethodGet, "/api/autotrade/trades", nil)
	require.Equal(t, http.StatusOK, trades.Code)
	var tradesResp struct {
		Trades []*domain.Trade `json:"trades"`
	}
	require.NoError(t, json.Unmarshal(trades.Body.Bytes(), &tradesResp))
	require.Len(t, tradesResp.Trades, 1)
	assert.Equal(t, "AAPL", tradesResp.Trades[0].Ticker)
	assert.Equal(t, domain.StatusSubmitted, tradesResp.Trades[0].Status)

	events := doJSON(t, server.Handler(), http.MethodGet, "/api/autotrade/events", nil)
	require.Equal(t, http.StatusOK, events.Code)
	var eventsResp struct {
		Events []*domain.AutoTradeEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(events.Body.Bytes(), &eventsResp))
	require.NotEmpty(t, eventsResp.Events)
	assert.Equal(t, domain.ActionExecuted, eventsResp.Events[0].Action)
}

func TestProcess_DisabledReturnsConflict(t *testing.T) {
	cfg := enabledSettings()
	cfg.Enabled = false
	server, _ := newTestServer(t, cfg)

	w := doJSON(t, server.Handler(), http.MethodPost, "/api/autotrade/process", map[string]interface{}{
		"signals": []domain.Signal{{Ticker: "AAPL", Direction: domain.Buy, Confidence: 90}},
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSync_NoAccountReturnsConflict(t *testing.T) {
	cfg := enabledSettings()
	cfg.AccountID = ""
	server, _ := newTestServer(t, cfg)

	w := doJSON(t, server.Handler(), http.MethodPost, "/api/autotrade/sync", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSync_OK(t *testing.T) {
	server, _ := newTestServer(t, enabledSettings())
	w := doJSON(t, server.Handler(), http.MethodPost, "/api/autotrade/sync", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestArmEOD(t *testing.T) {
	server, _ := newTestServer(t, enabledSettings())
	w := doJSON(t, server.Handler(), http.MethodPost, "/api/autotrade/eod/arm", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Armed bool `json:"armed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	// Armed depends on the wall clock relative to the venue cutoff; the
	// endpoint itself must succeed either way.
	_ = resp.Armed
}

func TestRequestIDHeader(t *testing.T) {
	server, _ := newTestServer(t, enabledSettings())
	w := doJSON(t, server.Handler(), http.MethodGet, "/api/autotrade/settings", nil)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
