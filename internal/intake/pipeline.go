// Package intake turns raw trade ideas into broker orders under risk gates.
package intake

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"autotrader/internal/domain"
	"autotrader/internal/events"
	"autotrader/internal/gate"
	"autotrader/internal/ports"
	"autotrader/internal/settings"
)

// interOrderDelay is a deliberate self-throttle against broker rate limits,
// not a correctness requirement. It spaces order placements without blocking
// other concurrent operations.
const interOrderDelay = 2 * time.Second

// Decision is the per-idea outcome returned to the caller.
type Decision struct {
	Ticker  string
	Outcome domain.EventAction
	Reason  string
	TradeID string
}

// Pipeline orchestrates Gate -> Sizer -> Adapter -> Ledger for each incoming
// idea, respecting concurrency and position caps.
type Pipeline struct {
	settings *settings.Store
	broker   ports.BrokerClient
	trades   ports.TradeRepository
	analyzer ports.Analyzer
	bus      events.Publisher
	logger   ports.Logger
	throttle *rate.Limiter
	now      func() time.Time

	mu          sync.Mutex
	tickerLocks map[string]*sync.Mutex
}

// New creates a pipeline instance.
func New(store *settings.Store, broker ports.BrokerClient, trades ports.TradeRepository, analyzer ports.Analyzer, bus events.Publisher, logger ports.Logger) (*Pipeline, error) {
	if store == nil || broker == nil || trades == nil || analyzer == nil || bus == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for intake pipeline")
	}
	return &Pipeline{
		settings:    store,
		broker:      broker,
		trades:      trades,
		analyzer:    analyzer,
		bus:         bus,
		logger:      logger,
		throttle:    rate.NewLimiter(rate.Every(interOrderDelay), 1),
		now:         func() time.Time { return time.Now().UTC() },
		tickerLocks: make(map[string]*sync.Mutex),
	}, nil
}

// lockTicker serializes the per-ticker decision ladder across concurrent
// batches. The dedup gate is read-then-act with broker and analyzer I/O in
// between, so without this two batches carrying the same ticker could both
// pass the gate and both place an order.
func (p *Pipeline) lockTicker(ticker string) func() {
	key := strings.ToUpper(strings.TrimSpace(ticker))
	p.mu.Lock()
	l, ok := p.tickerLocks[key]
	if !ok {
		l = &sync.Mutex{}
		p.tickerLocks[key] = l
	}
	p.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// checkGlobalGates verifies the batch preconditions: auto-trading enabled, an
// account configured and broker connectivity live (checked once per batch).
// A failure aborts the whole batch with a single audit event.
func (p *Pipeline) checkGlobalGates(ctx context.Context, cfg domain.Settings, source domain.SignalSource) error {
	if !cfg.Enabled {
		p.publishBatchAbort(ctx, source, "auto-trading is disabled")
		return ports.ErrAutoTradeDisabled
	}
	if cfg.AccountID == "" {
		p.publishBatchAbort(ctx, source, "no broker account configured")
		return ports.ErrNoAccount
	}
	if err := p.broker.Ping(ctx); err != nil {
		p.publishBatchAbort(ctx, source, fmt.Sprintf("broker gateway unreachable: %v", err))
		return fmt.Errorf("broker connectivity check failed: %w", err)
	}
	return nil
}

// availableSlots re-reads the active trade count and returns the remaining
// capacity. Counts are never cached across gates; see the dedup invariant.
func (p *Pipeline) availableSlots(ctx context.Context, cfg domain.Settings, source domain.SignalSource) (int, error) {
	active, err := p.trades.CountActive(ctx)
	if err != nil {
		p.publishBatchAbort(ctx, source, fmt.Sprintf("failed to count active trades: %v", err))
		return 0, fmt.Errorf("failed to count active trades: %w", err)
	}
	slots := cfg.MaxPositions - active
	if slots <= 0 {
		p.publishBatchAbort(ctx, source, fmt.Sprintf("position cap reached (%d/%d active)", active, cfg.MaxPositions))
		return 0, ports.ErrNoCapacity
	}
	return slots, nil
}

// Process runs the full intake pipeline over a batch of scanner ideas.
// Ideas below the capacity cut are dropped silently: no events, no decisions.
func (p *Pipeline) Process(ctx context.Context, signals []domain.Signal) ([]Decision, error) {
	cfg := p.settings.Get()
	if err := p.checkGlobalGates(ctx, cfg, domain.SourceScanner); err != nil {
		return nil, err
	}
	slots, err := p.availableSlots(ctx, cfg, domain.SourceScanner)
	if err != nil {
		return nil, err
	}

	// Pre-filter: drop low-confidence ideas, then truncate to the available
	// slots in arrival order. No re-sorting by confidence: first come wins.
	eligible := make([]domain.Signal, 0, len(signals))
	for _, sig := range signals {
		if sig.Confidence >= cfg.MinScannerConfidence {
			eligible = append(eligible, sig)
		}
	}
	if len(eligible) > slots {
		eligible = eligible[:slots]
	}
	p.logger.Info(ctx, "Processing signal batch", map[string]interface{}{
		"received": len(signals),
		"eligible": len(eligible),
		"slots":    slots,
	})

	decisions := make([]Decision, 0, len(eligible))
	for _, sig := range eligible {
		decisions = append(decisions, p.processSignal(ctx, cfg, sig))
	}
	return decisions, nil
}

// processSignal runs the per-idea decision ladder. Each step emits exactly
// one audit event describing the outcome and the reason.
func (p *Pipeline) processSignal(ctx context.Context, cfg domain.Settings, sig domain.Signal) Decision {
	unlock := p.lockTicker(sig.Ticker)
	defer unlock()

	// Capacity is re-checked at the moment of use: a concurrent batch may
	// have consumed the slots counted at batch start.
	active, err := p.trades.CountActive(ctx)
	if err != nil {
		return p.failed(ctx, sig, 0, fmt.Sprintf("failed to re-check capacity: %v", err))
	}
	if active >= cfg.MaxPositions {
		return p.skipped(ctx, sig, 0, fmt.Sprintf("position cap reached (%d/%d active)", active, cfg.MaxPositions))
	}

	// Dedup gate: at most one active trade per ticker.
	existing, err := p.trades.FindActiveByTicker(ctx, sig.Ticker)
	if err != nil {
		return p.failed(ctx, sig, 0, fmt.Sprintf("dedup check failed: %v", err))
	}
	if existing != nil {
		return p.skipped(ctx, sig, 0, fmt.Sprintf("active trade already exists (status %s)", existing.Status))
	}

	// Secondary analysis: terminal for this idea only, never for the batch.
	analysis, err := p.analyzer.Analyze(ctx, sig.Ticker)
	if err != nil {
		return p.failed(ctx, sig, 0, fmt.Sprintf("secondary analysis failed: %v", err))
	}

	if d := gate.Evaluate(analysis, sig.Direction, cfg.MinFAConfidence); !d.Accept {
		return p.skipped(ctx, sig, analysis.Confidence, d.Reason)
	}
	if !analysis.Complete() {
		return p.skipped(ctx, sig, analysis.Confidence, "analysis missing entry/stop/target levels")
	}

	qty := gate.FlatShares(cfg.PositionSize, *analysis.EntryPrice)
	if qty < 1 {
		return p.skipped(ctx, sig, analysis.Confidence,
			fmt.Sprintf("position size %.2f buys no whole share at %.2f", cfg.PositionSize, *analysis.EntryPrice))
	}

	contract, err := p.broker.SearchContract(ctx, sig.Ticker)
	if err != nil {
		return p.failed(ctx, sig, analysis.Confidence, fmt.Sprintf("contract lookup failed: %v", err))
	}
	if contract == nil {
		return p.failed(ctx, sig, analysis.Confidence, "no tradable contract found")
	}

	// Self-throttle before hitting the order endpoint.
	if err := p.throttle.Wait(ctx); err != nil {
		return p.failed(ctx, sig, analysis.Confidence, fmt.Sprintf("batch cancelled: %v", err))
	}

	trade := &domain.Trade{
		ID:                uuid.NewString(),
		Ticker:            sig.Ticker,
		Mode:              sig.Mode,
		Signal:            sig.Direction,
		Source:            sig.Source,
		EntryPrice:        *analysis.EntryPrice,
		StopLoss:          analysis.StopLoss,
		TargetPrice:       analysis.TargetPrice,
		Quantity:          qty,
		PositionSize:      qty * *analysis.EntryPrice,
		Status:            domain.StatusPending,
		OpenedAt:          p.now(),
		CreatedAt:         p.now(),
		ScannerConfidence: sig.Confidence,
		FAConfidence:      analysis.Confidence,
		Rationale:         analysis.Rationale,
	}

	replies, err := p.broker.PlaceBracketOrder(ctx, cfg.AccountID, contract.Symbol, sig.Direction,
		qty, *analysis.EntryPrice, *analysis.StopLoss, *analysis.TargetPrice, "DAY")
	if err != nil {
		// The attempt is still auditable: persist a REJECTED row carrying
		// the broker error.
		trade.Status = domain.StatusRejected
		trade.Notes = fmt.Sprintf("order placement failed: %v", err)
		if createErr := p.trades.Create(ctx, trade); createErr != nil {
			p.logger.Error(ctx, createErr, "Failed to persist rejected trade", map[string]interface{}{"ticker": sig.Ticker})
		}
		return p.failed(ctx, sig, analysis.Confidence, fmt.Sprintf("order placement failed: %v", err))
	}

	trade.Status = domain.StatusSubmitted
	trade.BrokerOrderID = parentOrderID(replies)
	if err := p.trades.Create(ctx, trade); err != nil {
		// Order is live but the ledger write failed. Surface loudly; the
		// reconciliation engine has no row to match the position against.
		p.logger.Error(ctx, err, "Order placed but ledger write failed", map[string]interface{}{"ticker": sig.Ticker, "orderID": trade.BrokerOrderID})
		return p.failed(ctx, sig, analysis.Confidence, fmt.Sprintf("ledger write failed after placement: %v", err))
	}

	p.bus.Publish(ctx, domain.AutoTradeEvent{
		Ticker:            sig.Ticker,
		Severity:          domain.SeverityInfo,
		Action:            domain.ActionExecuted,
		Source:            sig.Source,
		Mode:              sig.Mode,
		Message:           fmt.Sprintf("Submitted %s bracket order: %g shares @ %.2f (stop %.2f, target %.2f)", sig.Direction, qty, *analysis.EntryPrice, *analysis.StopLoss, *analysis.TargetPrice),
		ScannerConfidence: sig.Confidence,
		FAConfidence:      analysis.Confidence,
		Metadata:          map[string]interface{}{"trade_id": trade.ID, "broker_order_id": trade.BrokerOrderID},
	})
	return Decision{Ticker: sig.Ticker, Outcome: domain.ActionExecuted, TradeID: trade.ID}
}

// ProcessSuggestedFinds is the simpler long-term variant: conviction and the
// valuation tag already gate entry, sizing runs against the live market
// price, and the order is a plain market order with no stop or target.
func (p *Pipeline) ProcessSuggestedFinds(ctx context.Context, finds []domain.SuggestedFind) ([]Decision, error) {
	cfg := p.settings.Get()
	if err := p.checkGlobalGates(ctx, cfg, domain.SourceSuggestedFinds); err != nil {
		return nil, err
	}
	slots, err := p.availableSlots(ctx, cfg, domain.SourceSuggestedFinds)
	if err != nil {
		return nil, err
	}

	// Same ordering as the scanner path: filter first, then truncate, so a
	// low-conviction find never occupies a slot a qualifying one needed.
	eligible := make([]domain.SuggestedFind, 0, len(finds))
	for _, find := range finds {
		if find.Conviction >= cfg.MinSuggestedFindsConviction {
			eligible = append(eligible, find)
		}
	}
	if len(eligible) > slots {
		eligible = eligible[:slots]
	}

	decisions := make([]Decision, 0, len(eligible))
	for _, find := range eligible {
		decisions = append(decisions, p.processFind(ctx, cfg, find))
	}
	return decisions, nil
}

func (p *Pipeline) processFind(ctx context.Context, cfg domain.Settings, find domain.SuggestedFind) Decision {
	unlock := p.lockTicker(find.Ticker)
	defer unlock()

	sig := domain.Signal{
		Ticker:     find.Ticker,
		Direction:  domain.Buy,
		Mode:       domain.ModeLongTerm,
		Source:     domain.SourceSuggestedFinds,
		Confidence: find.Conviction,
		Rationale:  find.Thesis,
	}

	existing, err := p.trades.FindActiveByTicker(ctx, find.Ticker)
	if err != nil {
		return p.failed(ctx, sig, 0, fmt.Sprintf("dedup check failed: %v", err))
	}
	if existing != nil {
		return p.skipped(ctx, sig, 0, fmt.Sprintf("active trade already exists (status %s)", existing.Status))
	}

	if strings.EqualFold(find.Valuation, "overvalued") {
		return p.skipped(ctx, sig, 0, "valuation tag is overvalued")
	}

	price, err := p.broker.GetQuote(ctx, find.Ticker)
	if err != nil {
		return p.failed(ctx, sig, 0, fmt.Sprintf("quote lookup failed: %v", err))
	}

	// Long-term entries are conviction-sized against the deployable pool
	// when a single-position cap is configured; otherwise flat per-trade
	// capital applies.
	capital := cfg.PositionSize
	if cfg.MaxSinglePositionPercent > 0 {
		pool := cfg.PositionSize * float64(cfg.MaxPositions)
		if notional := gate.NewConvictionSizer(cfg).TargetNotional(pool, find.Conviction, 0); notional > 0 && notional < capital {
			capital = notional
		}
	}
	qty := gate.FlatShares(capital, price)
	if qty < 1 {
		return p.skipped(ctx, sig, 0, fmt.Sprintf("position size %.2f buys no whole share at %.2f", capital, price))
	}

	contract, err := p.broker.SearchContract(ctx, find.Ticker)
	if err != nil {
		return p.failed(ctx, sig, 0, fmt.Sprintf("contract lookup failed: %v", err))
	}
	if contract == nil {
		return p.failed(ctx, sig, 0, "no tradable contract found")
	}

	if err := p.throttle.Wait(ctx); err != nil {
		return p.failed(ctx, sig, 0, fmt.Sprintf("batch cancelled: %v", err))
	}

	trade := &domain.Trade{
		ID:                uuid.NewString(),
		Ticker:            find.Ticker,
		Mode:              domain.ModeLongTerm,
		Signal:            domain.Buy,
		Source:            domain.SourceSuggestedFinds,
		EntryPrice:        price,
		Quantity:          qty,
		PositionSize:      qty * price,
		Status:            domain.StatusPending,
		OpenedAt:          p.now(),
		CreatedAt:         p.now(),
		ScannerConfidence: find.Conviction,
		Rationale:         find.Thesis,
	}

	replies, err := p.broker.PlaceMarketOrder(ctx, cfg.AccountID, contract.Symbol, domain.Buy, qty)
	if err != nil {
		trade.Status = domain.StatusRejected
		trade.Notes = fmt.Sprintf("order placement failed: %v", err)
		if createErr := p.trades.Create(ctx, trade); createErr != nil {
			p.logger.Error(ctx, createErr, "Failed to persist rejected trade", map[string]interface{}{"ticker": find.Ticker})
		}
		return p.failed(ctx, sig, 0, fmt.Sprintf("order placement failed: %v", err))
	}

	trade.Status = domain.StatusSubmitted
	trade.BrokerOrderID = parentOrderID(replies)
	if err := p.trades.Create(ctx, trade); err != nil {
		p.logger.Error(ctx, err, "Order placed but ledger write failed", map[string]interface{}{"ticker": find.Ticker, "orderID": trade.BrokerOrderID})
		return p.failed(ctx, sig, 0, fmt.Sprintf("ledger write failed after placement: %v", err))
	}

	p.bus.Publish(ctx, domain.AutoTradeEvent{
		Ticker:            find.Ticker,
		Severity:          domain.SeverityInfo,
		Action:            domain.ActionExecuted,
		Source:            domain.SourceSuggestedFinds,
		Mode:              domain.ModeLongTerm,
		Message:           fmt.Sprintf("Submitted market order for long-term hold: %g shares @ %.2f", qty, price),
		ScannerConfidence: find.Conviction,
		Metadata:          map[string]interface{}{"trade_id": trade.ID, "broker_order_id": trade.BrokerOrderID},
	})
	return Decision{Ticker: find.Ticker, Outcome: domain.ActionExecuted, TradeID: trade.ID}
}

// --- event helpers ---

func (p *Pipeline) publishBatchAbort(ctx context.Context, source domain.SignalSource, reason string) {
	p.bus.Publish(ctx, domain.AutoTradeEvent{
		Severity:   domain.SeverityWarning,
		Action:     domain.ActionSkipped,
		Source:     source,
		Message:    "Batch aborted: " + reason,
		SkipReason: reason,
	})
}

func (p *Pipeline) skipped(ctx context.Context, sig domain.Signal, faConfidence float64, reason string) Decision {
	p.bus.Publish(ctx, domain.AutoTradeEvent{
		Ticker:            sig.Ticker,
		Severity:          domain.SeverityInfo,
		Action:            domain.ActionSkipped,
		Source:            sig.Source,
		Mode:              sig.Mode,
		Message:           fmt.Sprintf("Skipped %s: %s", sig.Ticker, reason),
		ScannerConfidence: sig.Confidence,
		FAConfidence:      faConfidence,
		SkipReason:        reason,
	})
	return Decision{Ticker: sig.Ticker, Outcome: domain.ActionSkipped, Reason: reason}
}

func (p *Pipeline) failed(ctx context.Context, sig domain.Signal, faConfidence float64, reason string) Decision {
	p.bus.Publish(ctx, domain.AutoTradeEvent{
		Ticker:            sig.Ticker,
		Severity:          domain.SeverityError,
		Action:            domain.ActionFailed,
		Source:            sig.Source,
		Mode:              sig.Mode,
		Message:           fmt.Sprintf("Failed %s: %s", sig.Ticker, reason),
		ScannerConfidence: sig.Confidence,
		FAConfidence:      faConfidence,
		SkipReason:        reason,
	})
	return Decision{Ticker: sig.Ticker, Outcome: domain.ActionFailed, Reason: reason}
}

func parentOrderID(replies []ports.OrderReply) string {
	for _, r := range replies {
		if r.ParentID == "" {
			return r.OrderID
		}
	}
	if len(replies) > 0 {
		return replies[0].OrderID
	}
	return ""
}
