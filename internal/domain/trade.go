package domain

import "time"

// TradeStatus represents a trade's position in its lifecycle state machine.
type TradeStatus string

const (
	StatusPending   TradeStatus = "pending"
	StatusSubmitted TradeStatus = "submitted"
	StatusFilled    TradeStatus = "filled"
	StatusPartial   TradeStatus = "partial"
	StatusStopped   TradeStatus = "stopped"
	StatusTargetHit TradeStatus = "target_hit"
	StatusClosed    TradeStatus = "closed"
	StatusRejected  TradeStatus = "rejected"
	StatusCancelled TradeStatus = "cancelled"
)

// ActiveStatuses are the statuses that count against position capacity and
// participate in the per-ticker dedup check.
var ActiveStatuses = []TradeStatus{StatusPending, StatusSubmitted, StatusFilled, StatusPartial}

// IsActive reports whether the trade still occupies an open slot.
func (s TradeStatus) IsActive() bool {
	switch s {
	case StatusPending, StatusSubmitted, StatusFilled, StatusPartial:
		return true
	}
	return false
}

// IsTerminal reports whether the trade can transition no further.
func (s TradeStatus) IsTerminal() bool {
	return !s.IsActive()
}

// IsFilledState reports whether the broker holds (or held) shares for the
// trade. Only trades that reached a fill accrue realized P&L on close.
func (s TradeStatus) IsFilledState() bool {
	return s == StatusFilled || s == StatusPartial
}

// Trade is the central ledger entity: one row per attempted position.
type Trade struct {
	ID     string `json:"id"` // UUID assigned at creation
	Ticker string `json:"ticker"`

	// Intent
	Mode   TradeMode    `json:"mode"`
	Signal Side         `json:"signal"`
	Source SignalSource `json:"source"`

	// Economics. Stop/target are nil for open-ended long-term holds.
	EntryPrice   float64  `json:"entry_price"`
	StopLoss     *float64 `json:"stop_loss,omitempty"`
	TargetPrice  *float64 `json:"target_price,omitempty"`
	Quantity     float64  `json:"quantity"`
	PositionSize float64  `json:"position_size"` // quantity * entry price at submission
	FillPrice    float64  `json:"fill_price"`    // broker average price, 0 until filled
	ClosePrice   float64  `json:"close_price"`
	PNL          float64  `json:"pnl"`
	PNLPercent   float64  `json:"pnl_percent"`

	// Lifecycle
	Status      TradeStatus `json:"status"`
	CloseReason CloseReason `json:"close_reason,omitempty"`
	OpenedAt    time.Time   `json:"opened_at"`
	FilledAt    time.Time   `json:"filled_at,omitempty"`
	ClosedAt    time.Time   `json:"closed_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`

	// Provenance
	ScannerConfidence float64 `json:"scanner_confidence"`
	FAConfidence      float64 `json:"fa_confidence"`
	Rationale         string  `json:"rationale,omitempty"`
	BrokerOrderID     string  `json:"broker_order_id,omitempty"`
	Notes             string  `json:"notes,omitempty"`
}

// IsActive reports whether the trade counts toward open-position capacity.
func (t *Trade) IsActive() bool {
	return t.Status.IsActive()
}

// CanTransitionTo validates a status change against the lifecycle state machine.
// Terminal states accept no further transitions; pre-fill states may always be
// rejected (placement error path).
func (t *Trade) CanTransitionTo(next TradeStatus) bool {
	if t.Status.IsTerminal() {
		return false
	}
	switch t.Status {
	case StatusPending:
		return next == StatusSubmitted || next == StatusRejected || next == StatusCancelled
	case StatusSubmitted:
		return next == StatusFilled || next == StatusPartial || next == StatusRejected || next == StatusCancelled || next == StatusClosed
	case StatusFilled:
		return next == StatusPartial || next == StatusStopped || next == StatusTargetHit || next == StatusClosed
	case StatusPartial:
		return next == StatusFilled || next == StatusStopped || next == StatusTargetHit || next == StatusClosed
	}
	return false
}

// RealizedPNL computes profit for a close at closePrice, given the trade's
// direction. Long: (close - fill) * qty; short: (fill - close) * qty.
func (t *Trade) RealizedPNL(closePrice float64) float64 {
	fill := t.EffectiveFillPrice()
	if t.Signal == Sell {
		return (fill - closePrice) * t.Quantity
	}
	return (closePrice - fill) * t.Quantity
}

// EffectiveFillPrice returns the best known cost basis for the trade.
// Ordered fallbacks: broker-reported fill price, then the submitted entry
// price (the fill was never observed, e.g. state lost between syncs).
func (t *Trade) EffectiveFillPrice() float64 {
	if t.FillPrice > 0 {
		return t.FillPrice
	}
	return t.EntryPrice
}
