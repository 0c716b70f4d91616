package reconcile

import (
	"context"
	"sync"

	"autotrader/internal/domain"
	"autotrader/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct {
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.warnMsgs = append(m.warnMsgs, msg)
}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.errorMsgs = append(m.errorMsgs, msg)
}
func (m *mockLogger) Fatal(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// mockBroker implements ports.BrokerClient with canned responses.
type mockBroker struct {
	pingErr       error
	positions     []ports.Position
	positionsErr  error
	quotes        map[string]float64
	quoteErr      error
	liveOrders    []ports.Order
	liveOrdersErr error
}

func (m *mockBroker) Ping(ctx context.Context) error { return m.pingErr }

func (m *mockBroker) SearchContract(ctx context.Context, symbol string) (*ports.Contract, error) {
	return &ports.Contract{InstrumentID: "1", Symbol: symbol}, nil
}

func (m *mockBroker) GetQuote(ctx context.Context, symbol string) (float64, error) {
	if m.quoteErr != nil {
		return 0, m.quoteErr
	}
	return m.quotes[symbol], nil
}

func (m *mockBroker) PlaceBracketOrder(ctx context.Context, accountID, symbol string, side domain.Side, qty, entryPrice, stopLoss, takeProfit float64, timeInForce string) ([]ports.OrderReply, error) {
	return nil, nil
}

func (m *mockBroker) PlaceMarketOrder(ctx context.Context, accountID, symbol string, side domain.Side, qty float64) ([]ports.OrderReply, error) {
	return nil, nil
}

func (m *mockBroker) GetPositions(ctx context.Context, accountID string) ([]ports.Position, error) {
	if m.positionsErr != nil {
		return nil, m.positionsErr
	}
	return m.positions, nil
}

func (m *mockBroker) GetLiveOrders(ctx context.Context) ([]ports.Order, error) {
	return m.liveOrders, m.liveOrdersErr
}

// mockTradeRepo is an in-memory ports.TradeRepository.
type mockTradeRepo struct {
	mu          sync.Mutex
	trades      map[string]*domain.Trade
	updateCalls int
	findErr     error
}

func newMockTradeRepo(trades ...*domain.Trade) *mockTradeRepo {
	m := &mockTradeRepo{trades: make(map[string]*domain.Trade)}
	for _, tr := range trades {
		cp := *tr
		m.trades[tr.ID] = &cp
	}
	return m
}

func (m *mockTradeRepo) Create(ctx context.Context, trade *domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *trade
	m.trades[trade.ID] = &cp
	return nil
}

func (m *mockTradeRepo) Update(ctx context.Context, trade *domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	cp := *trade
	m.trades[trade.ID] = &cp
	return nil
}

func (m *mockTradeRepo) FindByID(ctx context.Context, id string) (*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr, ok := m.trades[id]
	if !ok {
		return nil, nil
	}
	cp := *tr
	return &cp, nil
}

func (m *mockTradeRepo) FindActiveByTicker(ctx context.Context, ticker string) (*domain.Trade, error) {
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

func (m *mockTradeRepo) FindActive(ctx context.Context) ([]*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []*domain.Trade
	for _, tr := range m.trades {
		if tr.Status.IsActive() {
			cp := *tr
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockTradeRepo) CountActive(ctx context.Context) (int, error) {
	active, err := m.FindActive(ctx)
	return len(active), err
}

func (m *mockTradeRepo) FindRecent(ctx context.Context, limit int) ([]*domain.Trade, error) {
	return nil, nil
}

// mockBus captures published events.
type mockBus struct {
	mu     sync.Mutex
	events []domain.AutoTradeEvent
}

func (m *mockBus) Publish(ctx context.Context, event domain.AutoTradeEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *mockBus) all() []domain.AutoTradeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.AutoTradeEvent, len(m.events))
	copy(out, m.events)
	return out
}

// mockReviewer records reviewed trades on a channel so tests can wait for the
// asynchronous hook.
type mockReviewer struct {
	reviewed chan *domain.Trade
}

func newMockReviewer() *mockReviewer {
	return &mockReviewer{reviewed: make(chan *domain.Trade, 4)}
}

func (m *mockReviewer) ReviewClosedTrade(ctx context.Context, trade *domain.Trade) {
	m.reviewed <- trade
}
