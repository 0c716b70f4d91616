// Package reconcile periodically re-derives internal trade state from the
// broker's authoritative position data: fills, closes, realized and
// unrealized P&L.
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"autotrader/internal/domain"
	"autotrader/internal/events"
	"autotrader/internal/ports"
)

// dayOrderExpiry is how long a day order may sit unfilled before the ledger
// row is expired so it stops occupying a position slot.
const dayOrderExpiry = 24 * time.Hour

// Engine diffs broker-reported positions against the ledger's active trades.
type Engine struct {
	broker   ports.BrokerClient
	trades   ports.TradeRepository
	bus      events.Publisher
	reviewer ports.TradeReviewer // optional post-close hook
	logger   ports.Logger

	group singleflight.Group
	now   func() time.Time
}

// New creates a reconciliation engine. reviewer may be nil.
func New(broker ports.BrokerClient, trades ports.TradeRepository, bus events.Publisher, reviewer ports.TradeReviewer, logger ports.Logger) (*Engine, error) {
	if broker == nil || trades == nil || bus == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for reconciliation engine")
	}
	return &Engine{
		broker:   broker,
		trades:   trades,
		bus:      bus,
		reviewer: reviewer,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Sync reconciles the ledger against the broker's current position snapshot.
// It is idempotent and safe to call repeatedly: each invocation re-derives
// state from fresh snapshots rather than applying deltas, and concurrent
// calls for the same account are collapsed into one underlying run.
func (e *Engine) Sync(ctx context.Context, accountID string) error {
	_, err, _ := e.group.Do(accountID, func() (interface{}, error) {
		return nil, e.sync(ctx, accountID)
	})
	return err
}

func (e *Engine) sync(ctx context.Context, accountID string) error {
	positions, err := e.broker.GetPositions(ctx, accountID)
	if err != nil {
		e.publishAbort(ctx, fmt.Sprintf("broker position read failed: %v", err))
		return fmt.Errorf("failed to read broker positions: %w", err)
	}
	active, err := e.trades.FindActive(ctx)
	if err != nil {
		e.publishAbort(ctx, fmt.Sprintf("ledger read failed: %v", err))
		return fmt.Errorf("failed to read active trades: %w", err)
	}

	open := make(map[string]ports.Position, len(positions))
	for _, pos := range positions {
		if pos.Quantity != 0 {
			open[normalizeTicker(pos.Symbol)] = pos
		}
	}

	// A working order must not be expired out from under the broker; the
	// live-order set gates the expiry path. Best effort: an unreadable set
	// only delays expiry until the next sync.
	working := e.liveOrderSet(ctx)

	for _, trade := range active {
		pos, held := open[normalizeTicker(trade.Ticker)]
		switch {
		case held && !trade.Status.IsFilledState():
			e.markFilled(ctx, trade, pos)
		case held && trade.Status == domain.StatusPartial && absQuantity(pos) >= trade.Quantity:
			// The remainder of a partial fill arrived.
			e.markFilled(ctx, trade, pos)
		case held:
			e.refreshUnrealized(ctx, trade, pos)
		case trade.Status.IsFilledState():
			e.closeFromBroker(ctx, trade)
		default:
			e.expireStaleDayOrder(ctx, trade, working)
		}
	}
	return nil
}

// liveOrderSet returns the ids of currently working broker orders.
func (e *Engine) liveOrderSet(ctx context.Context) map[string]bool {
	orders, err := e.broker.GetLiveOrders(ctx)
	if err != nil {
		e.logger.Warn(ctx, "Could not read live orders, deferring expiry checks", map[string]interface{}{"error": err.Error()})
		return nil
	}
	live := make(map[string]bool, len(orders))
	for _, o := range orders {
		live[o.ID] = true
	}
	return live
}

// markFilled advances a pre-fill trade to FILLED, capturing the broker's
// average price as the fill price. A position smaller than the submitted
// quantity marks PARTIAL instead; the trade then reconciles like a filled
// one until the remainder arrives.
func (e *Engine) markFilled(ctx context.Context, trade *domain.Trade, pos ports.Position) {
	filled := absQuantity(pos)
	status := domain.StatusFilled
	if filled < trade.Quantity {
		status = domain.StatusPartial
	}
	trade.Status = status
	trade.FillPrice = pos.AvgCost
	trade.FilledAt = e.now()
	if err := e.trades.Update(ctx, trade); err != nil {
		e.logger.Error(ctx, err, "Failed to persist fill", map[string]interface{}{"tradeID": trade.ID, "ticker": trade.Ticker})
		return
	}
	msg := fmt.Sprintf("Fill detected: %g shares @ %.2f", trade.Quantity, trade.FillPrice)
	meta := map[string]interface{}{"trade_id": trade.ID, "fill_price": trade.FillPrice}
	if status == domain.StatusPartial {
		msg = fmt.Sprintf("Partial fill detected: %g of %g shares @ %.2f", filled, trade.Quantity, trade.FillPrice)
		meta["filled_quantity"] = filled
		meta["order_quantity"] = trade.Quantity
	}
	e.bus.Publish(ctx, domain.AutoTradeEvent{
		Ticker:   trade.Ticker,
		Severity: domain.SeverityInfo,
		Action:   domain.ActionExecuted,
		Source:   domain.SourceSystem,
		Mode:     trade.Mode,
		Message:  msg,
		Metadata: meta,
	})
}

// refreshUnrealized overwrites the trade's unrealized P&L from the current
// market price. Overwrite, not accumulation: running sync twice with no
// broker-state change leaves the row unchanged.
func (e *Engine) refreshUnrealized(ctx context.Context, trade *domain.Trade, pos ports.Position) {
	if pos.MarketPrice <= 0 {
		return
	}
	pnl := trade.RealizedPNL(pos.MarketPrice)
	pnlPercent := percentOf(pnl, trade.EffectiveFillPrice()*trade.Quantity)
	if trade.PNL == pnl && trade.PNLPercent == pnlPercent {
		return
	}
	trade.PNL = pnl
	trade.PNLPercent = pnlPercent
	if err := e.trades.Update(ctx, trade); err != nil {
		e.logger.Error(ctx, err, "Failed to persist unrealized P&L", map[string]interface{}{"tradeID": trade.ID, "ticker": trade.Ticker})
	}
}

// closeFromBroker handles a filled trade whose broker position disappeared:
// the close happened outside this engine's observation (stop, target or a
// manual close). The close price is taken from an ordered list of fallbacks:
//  1. live quote, the best available approximation of the exit;
//  2. effective fill price, assuming breakeven, so the sweep never stalls
//     on a single ticker's data gap.
func (e *Engine) closeFromBroker(ctx context.Context, trade *domain.Trade) {
	closePrice, err := e.broker.GetQuote(ctx, trade.Ticker)
	if err != nil || closePrice <= 0 {
		closePrice = trade.EffectiveFillPrice()
		e.logger.Warn(ctx, "No live quote for closed position, assuming breakeven", map[string]interface{}{"ticker": trade.Ticker, "fallbackPrice": closePrice})
	}

	pnl := trade.RealizedPNL(closePrice)
	reason, status := ClassifyClose(trade, closePrice, pnl)

	trade.ClosePrice = closePrice
	trade.PNL = pnl
	trade.PNLPercent = percentOf(pnl, trade.EffectiveFillPrice()*trade.Quantity)
	trade.Status = status
	trade.CloseReason = reason
	trade.ClosedAt = e.now()
	if err := e.trades.Update(ctx, trade); err != nil {
		e.logger.Error(ctx, err, "Failed to persist close", map[string]interface{}{"tradeID": trade.ID, "ticker": trade.Ticker})
		return
	}

	e.bus.Publish(ctx, domain.AutoTradeEvent{
		Ticker:   trade.Ticker,
		Severity: domain.SeverityInfo,
		Action:   domain.ActionExecuted,
		Source:   domain.SourceSystem,
		Mode:     trade.Mode,
		Message:  fmt.Sprintf("Position closed (%s): P&L %.2f (%.2f%%)", reason, pnl, trade.PNLPercent),
		Metadata: map[string]interface{}{
			"trade_id":     trade.ID,
			"close_price":  closePrice,
			"pnl":          pnl,
			"close_reason": string(reason),
		},
	})

	if e.reviewer != nil {
		// Downstream analysis must never block or fail the sweep.
		reviewed := *trade
		go e.reviewer.ReviewClosedTrade(context.WithoutCancel(ctx), &reviewed)
	}
}

// expireStaleDayOrder closes out day orders that never filled within one
// trading day, so they stop polluting the active-position count.
func (e *Engine) expireStaleDayOrder(ctx context.Context, trade *domain.Trade, working map[string]bool) {
	if trade.Status != domain.StatusSubmitted || !trade.Mode.IsIntraday() {
		return
	}
	if e.now().Sub(trade.OpenedAt) < dayOrderExpiry {
		return
	}
	// A nil set means the broker could not report live orders this round.
	if working == nil || working[trade.BrokerOrderID] {
		return
	}
	trade.Status = domain.StatusClosed
	trade.CloseReason = domain.CloseReasonCancelled
	trade.ClosedAt = e.now()
	trade.Notes = appendNote(trade.Notes, "expired: no fill within one trading day")
	if err := e.trades.Update(ctx, trade); err != nil {
		e.logger.Error(ctx, err, "Failed to expire stale day order", map[string]interface{}{"tradeID": trade.ID, "ticker": trade.Ticker})
		return
	}
	e.bus.Publish(ctx, domain.AutoTradeEvent{
		Ticker:     trade.Ticker,
		Severity:   domain.SeverityInfo,
		Action:     domain.ActionSkipped,
		Source:     domain.SourceSystem,
		Mode:       trade.Mode,
		Message:    fmt.Sprintf("Expired unfilled day order for %s", trade.Ticker),
		SkipReason: "expired: no fill within one trading day",
		Metadata:   map[string]interface{}{"trade_id": trade.ID},
	})
}

func (e *Engine) publishAbort(ctx context.Context, reason string) {
	e.bus.Publish(ctx, domain.AutoTradeEvent{
		Severity:   domain.SeverityError,
		Action:     domain.ActionFailed,
		Source:     domain.SourceSystem,
		Message:    "Reconciliation aborted: " + reason,
		SkipReason: reason,
	})
}

func normalizeTicker(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// absQuantity returns the magnitude of a broker position; short positions
// report negative quantities.
func absQuantity(pos ports.Position) float64 {
	if pos.Quantity < 0 {
		return -pos.Quantity
	}
	return pos.Quantity
}

func percentOf(pnl, basis float64) float64 {
	if basis == 0 {
		return 0
	}
	return pnl / basis * 100
}

func appendNote(notes, note string) string {
	if notes == "" {
		return note
	}
	return notes + "; " + note
}
