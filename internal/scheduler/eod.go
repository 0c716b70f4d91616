// Package scheduler arms the end-of-day force-close: a single deferred sweep
// per enabled session that flattens intraday-only positions before the venue
// closes.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"autotrader/internal/domain"
	"autotrader/internal/events"
	"autotrader/internal/ports"
	"autotrader/internal/settings"
)

// EODCloser owns the one cancellable timer. Arm cancels any pending timer
// before arming a new one, so at most one timer is outstanding at any time.
type EODCloser struct {
	store  *settings.Store
	broker ports.BrokerClient
	trades ports.TradeRepository
	bus    events.Publisher
	logger ports.Logger

	venue      *time.Location
	cutoffHour int
	cutoffMin  int
	now        func() time.Time

	mu    sync.Mutex
	timer *time.Timer
}

// Config holds the scheduler's venue parameters.
type Config struct {
	// Venue is the trading venue's time zone, e.g. "America/New_York". The
	// cutoff is computed there regardless of the host's local time zone.
	Venue      string
	CutoffHour int // venue-local wall clock, e.g. 15
	CutoffMin  int // e.g. 55
}

// New creates the EOD closer. The venue time zone must resolve.
func New(cfg Config, store *settings.Store, broker ports.BrokerClient, trades ports.TradeRepository, bus events.Publisher, logger ports.Logger) (*EODCloser, error) {
	if store == nil || broker == nil || trades == nil || bus == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for EOD closer")
	}
	venue, err := time.LoadLocation(cfg.Venue)
	if err != nil {
		return nil, fmt.Errorf("invalid venue time zone %q: %w", cfg.Venue, err)
	}
	return &EODCloser{
		store:      store,
		broker:     broker,
		trades:     trades,
		bus:        bus,
		logger:     logger,
		venue:      venue,
		cutoffHour: cfg.CutoffHour,
		cutoffMin:  cfg.CutoffMin,
		now:        time.Now,
	}, nil
}

// DelayUntilCutoff computes the wait until today's cutoff in the venue's time
// zone. ok is false when the cutoff has already passed: the caller must not
// arm a timer, and rescheduling happens naturally on the next session.
func (c *EODCloser) DelayUntilCutoff(now time.Time) (delay time.Duration, ok bool) {
	local := now.In(c.venue)
	cutoff := time.Date(local.Year(), local.Month(), local.Day(), c.cutoffHour, c.cutoffMin, 0, 0, c.venue)
	if !local.Before(cutoff) {
		return 0, false
	}
	return cutoff.Sub(local), true
}

// Arm cancels any pending timer and, when auto-close is enabled and today's
// cutoff is still ahead, arms a fresh one. Cancel-then-rearm is atomic under
// the closer's mutex so toggling the flag can never produce duplicate sweeps.
func (c *EODCloser) Arm(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if !c.store.Get().DayTradeAutoClose {
		c.logger.Debug(ctx, "EOD auto-close disabled, timer not armed")
		return false
	}
	delay, ok := c.DelayUntilCutoff(c.now())
	if !ok {
		c.logger.Info(ctx, "EOD cutoff already passed today, timer not armed")
		return false
	}
	c.timer = time.AfterFunc(delay, func() {
		// The arming request's context is long gone by fire time.
		c.Sweep(context.Background())
	})
	c.logger.Info(ctx, "EOD close timer armed", map[string]interface{}{"delay": delay.String()})
	return true
}

// Cancel stops any pending timer.
func (c *EODCloser) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Sweep force-flattens every filled intraday-only position with an
// opposite-side market order and marks it closed with reason eod_close.
// Closing quantities come from the broker's position snapshot when one is
// readable; a partial fill can leave the ledger quantity stale.
func (c *EODCloser) Sweep(ctx context.Context) {
	cfg := c.store.Get()
	if cfg.AccountID == "" {
		// The account can be cleared between arming and firing.
		c.logger.Warn(ctx, "EOD sweep skipped: no broker account configured")
		c.bus.Publish(ctx, domain.AutoTradeEvent{
			Severity:   domain.SeverityWarning,
			Action:     domain.ActionSkipped,
			Source:     domain.SourceSystem,
			Message:    "EOD sweep skipped: no broker account configured",
			SkipReason: "no broker account configured",
		})
		return
	}
	active, err := c.trades.FindActive(ctx)
	if err != nil {
		c.logger.Error(ctx, err, "EOD sweep could not read active trades")
		c.bus.Publish(ctx, domain.AutoTradeEvent{
			Severity:   domain.SeverityError,
			Action:     domain.ActionFailed,
			Source:     domain.SourceSystem,
			Message:    "EOD sweep aborted: ledger read failed",
			SkipReason: err.Error(),
		})
		return
	}

	held := c.heldQuantities(ctx, cfg.AccountID)

	closed := 0
	for _, trade := range active {
		if !trade.Mode.IsIntraday() || !trade.Status.IsFilledState() {
			continue
		}
		if c.closeTrade(ctx, cfg, trade, held) {
			closed++
		}
	}

	c.bus.Publish(ctx, domain.AutoTradeEvent{
		Severity: domain.SeverityInfo,
		Action:   domain.ActionExecuted,
		Source:   domain.SourceSystem,
		Message:  fmt.Sprintf("EOD sweep complete: closed %d intraday position(s)", closed),
		Metadata: map[string]interface{}{"closed_count": closed},
	})
}

// heldQuantities maps tickers to the magnitude of the broker's current
// position. A read failure falls back to ledger quantities for the sweep.
func (c *EODCloser) heldQuantities(ctx context.Context, accountID string) map[string]float64 {
	positions, err := c.broker.GetPositions(ctx, accountID)
	if err != nil {
		c.logger.Warn(ctx, "Could not read broker positions for EOD sweep, using ledger quantities", map[string]interface{}{"error": err.Error()})
		return nil
	}
	held := make(map[string]float64, len(positions))
	for _, pos := range positions {
		qty := pos.Quantity
		if qty < 0 {
			qty = -qty
		}
		held[strings.ToUpper(strings.TrimSpace(pos.Symbol))] = qty
	}
	return held
}

func (c *EODCloser) closeTrade(ctx context.Context, cfg domain.Settings, trade *domain.Trade, held map[string]float64) bool {
	qty := trade.Quantity
	if brokerQty, ok := held[strings.ToUpper(strings.TrimSpace(trade.Ticker))]; ok && brokerQty > 0 {
		qty = brokerQty
	}

	_, err := c.broker.PlaceMarketOrder(ctx, cfg.AccountID, trade.Ticker, trade.Signal.Opposite(), qty)
	if err != nil {
		c.logger.Error(ctx, err, "EOD close order failed", map[string]interface{}{"ticker": trade.Ticker, "tradeID": trade.ID})
		c.bus.Publish(ctx, domain.AutoTradeEvent{
			Ticker:     trade.Ticker,
			Severity:   domain.SeverityError,
			Action:     domain.ActionFailed,
			Source:     domain.SourceSystem,
			Mode:       trade.Mode,
			Message:    fmt.Sprintf("EOD close order failed for %s", trade.Ticker),
			SkipReason: err.Error(),
		})
		return false
	}

	closePrice, err := c.broker.GetQuote(ctx, trade.Ticker)
	if err != nil || closePrice <= 0 {
		closePrice = trade.EffectiveFillPrice()
	}
	pnl := trade.RealizedPNL(closePrice)
	if qty != trade.Quantity && trade.Quantity > 0 {
		// Realized P&L accrues only on the shares actually held.
		pnl = pnl / trade.Quantity * qty
	}

	trade.ClosePrice = closePrice
	trade.PNL = pnl
	if basis := trade.EffectiveFillPrice() * qty; basis != 0 {
		trade.PNLPercent = pnl / basis * 100
	}
	trade.Status = domain.StatusClosed
	trade.CloseReason = domain.CloseReasonEODClose
	trade.ClosedAt = time.Now().UTC()
	if err := c.trades.Update(ctx, trade); err != nil {
		c.logger.Error(ctx, err, "Failed to persist EOD close", map[string]interface{}{"ticker": trade.Ticker, "tradeID": trade.ID})
		return false
	}

	c.bus.Publish(ctx, domain.AutoTradeEvent{
		Ticker:   trade.Ticker,
		Severity: domain.SeverityInfo,
		Action:   domain.ActionExecuted,
		Source:   domain.SourceSystem,
		Mode:     trade.Mode,
		Message:  fmt.Sprintf("EOD close: flattened %s, P&L %.2f", trade.Ticker, pnl),
		Metadata: map[string]interface{}{"trade_id": trade.ID, "pnl": pnl, "close_price": closePrice, "closed_quantity": qty},
	})
	return true
}
