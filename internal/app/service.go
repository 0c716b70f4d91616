// Package app wires the engine's components behind one orchestration service.
package app

import (
	"context"
	"fmt"

	"autotrader/internal/domain"
	"autotrader/internal/intake"
	"autotrader/internal/ports"
	"autotrader/internal/reconcile"
	"autotrader/internal/scheduler"
	"autotrader/internal/settings"
)

// AutoTradeService exposes the engine's operations to external triggers (the
// HTTP surface, or anything else that wants to push a batch or request a
// sync). The pipeline, the reconciliation engine and the scheduler all run
// against the same ledger and may be triggered concurrently; each re-reads
// cross-cutting state at the moment of use.
type AutoTradeService struct {
	logger   ports.Logger
	store    *settings.Store
	pipeline *intake.Pipeline
	engine   *reconcile.Engine
	closer   *scheduler.EODCloser
	trades   ports.TradeRepository
	events   ports.EventRepository
}

// NewAutoTradeService creates the service instance.
func NewAutoTradeService(
	logger ports.Logger,
	store *settings.Store,
	pipeline *intake.Pipeline,
	engine *reconcile.Engine,
	closer *scheduler.EODCloser,
	trades ports.TradeRepository,
	events ports.EventRepository,
) (*AutoTradeService, error) {
	if logger == nil || store == nil || pipeline == nil || engine == nil || closer == nil || trades == nil || events == nil {
		return nil, fmt.Errorf("missing required dependencies for AutoTradeService")
	}
	return &AutoTradeService{
		logger:   logger,
		store:    store,
		pipeline: pipeline,
		engine:   engine,
		closer:   closer,
		trades:   trades,
		events:   events,
	}, nil
}

// Start arms the EOD timer for the current session when enabled.
func (s *AutoTradeService) Start(ctx context.Context) {
	if s.closer.Arm(ctx) {
		s.logger.Info(ctx, "EOD close scheduler armed for this session")
	}
}

// Stop cancels any pending EOD timer.
func (s *AutoTradeService) Stop() {
	s.closer.Cancel()
}

// ProcessSignals pushes a batch of scanner ideas through the intake pipeline.
func (s *AutoTradeService) ProcessSignals(ctx context.Context, signals []domain.Signal) ([]intake.Decision, error) {
	return s.pipeline.Process(ctx, signals)
}

// ProcessSuggestedFinds pushes long-term conviction picks through the
// simplified intake variant.
func (s *AutoTradeService) ProcessSuggestedFinds(ctx context.Context, finds []domain.SuggestedFind) ([]intake.Decision, error) {
	return s.pipeline.ProcessSuggestedFinds(ctx, finds)
}

// Sync reconciles the ledger against the broker's position snapshot.
func (s *AutoTradeService) Sync(ctx context.Context) error {
	accountID := s.store.Get().AccountID
	if accountID == "" {
		return ports.ErrNoAccount
	}
	return s.engine.Sync(ctx, accountID)
}

// ArmEOD re-arms the EOD close timer, cancelling any pending one first.
func (s *AutoTradeService) ArmEOD(ctx context.Context) bool {
	return s.closer.Arm(ctx)
}

// Settings returns the current runtime settings snapshot.
func (s *AutoTradeService) Settings() domain.Settings {
	return s.store.Get()
}

// RefreshSettings re-loads settings from durable storage (hot reload).
func (s *AutoTradeService) RefreshSettings(ctx context.Context) (domain.Settings, error) {
	if err := s.store.Refresh(ctx); err != nil {
		return domain.Settings{}, err
	}
	return s.store.Get(), nil
}

// UpdateSettings merges and persists a settings patch, then re-arms the EOD
// timer so a toggled auto-close flag takes effect this session.
func (s *AutoTradeService) UpdateSettings(ctx context.Context, patch domain.SettingsPatch) (domain.Settings, error) {
	merged, err := s.store.Update(ctx, patch)
	if err != nil {
		return domain.Settings{}, err
	}
	s.closer.Arm(ctx)
	return merged, nil
}

// RecentTrades lists the most recent ledger rows, newest first.
func (s *AutoTradeService) RecentTrades(ctx context.Context, limit int) ([]*domain.Trade, error) {
	return s.trades.FindRecent(ctx, limit)
}

// RecentEvents lists the most recent audit events, newest first.
func (s *AutoTradeService) RecentEvents(ctx context.Context, limit int) ([]*domain.AutoTradeEvent, error) {
	return s.events.FindRecentEvents(ctx, limit)
}
