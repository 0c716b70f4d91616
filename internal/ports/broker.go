package ports

import (
	"context"
	"time"

	"autotrader/internal/domain"
)

// OrderReply holds the normalized essentials of a broker order confirmation.
type OrderReply struct {
	OrderID   string
	Symbol    string
	Side      domain.Side
	Type      string // MKT, LMT, STP
	Price     float64
	AvgPrice  float64 // average filled price, 0 until filled
	Quantity  float64
	Status    string
	ParentID  string // set on bracket children, links them to the entry order
	Timestamp time.Time
}

// Position is a broker-reported open position.
type Position struct {
	Symbol        string
	Quantity      float64 // positive long, negative short
	AvgCost       float64
	MarketPrice   float64
	MarketValue   float64
	UnrealizedPnl float64
}

// Order is a broker-reported live (working) order.
type Order struct {
	ID       string
	Symbol   string
	Side     domain.Side
	Type     string
	Price    float64
	Quantity float64
	Status   string
	ParentID string
}

// Contract identifies a tradable instrument resolved from a ticker.
type Contract struct {
	InstrumentID string
	Symbol       string
	Exchange     string
}

// BrokerClient defines the order-management gateway contract the engine
// consumes. The gateway itself is an external black box; implementations
// normalize its replies and auto-accept any confirmation prompts, since the
// engine only ever drives a paper-trading account.
type BrokerClient interface {
	// Ping checks broker connectivity. Checked once per intake batch.
	Ping(ctx context.Context) error

	// SearchContract resolves a ticker to a tradable instrument.
	// Returns nil, nil when the ticker is unknown to the broker.
	SearchContract(ctx context.Context, symbol string) (*Contract, error)

	// GetQuote returns the live price for a symbol.
	GetQuote(ctx context.Context, symbol string) (float64, error)

	// PlaceBracketOrder places a parent entry order plus linked stop-loss and
	// take-profit children. Replies include the parent and both children.
	PlaceBracketOrder(ctx context.Context, accountID, symbol string, side domain.Side, qty, entryPrice, stopLoss, takeProfit float64, timeInForce string) ([]OrderReply, error)

	// PlaceMarketOrder places a plain market order.
	PlaceMarketOrder(ctx context.Context, accountID, symbol string, side domain.Side, qty float64) ([]OrderReply, error)

	// GetPositions returns all open positions for the account.
	GetPositions(ctx context.Context, accountID string) ([]Position, error)

	// GetLiveOrders returns all currently working orders.
	GetLiveOrders(ctx context.Context) ([]Order, error)
}
