package ports

import (
	"context"

	"autotrader/internal/domain"
)

// TradeRepository defines the trade-ledger store. Updates are last-write-wins
// by trade id; callers re-read active state at the moment of use rather than
// caching counts across an operation.
type TradeRepository interface {
	// Create persists a new trade row.
	Create(ctx context.Context, trade *domain.Trade) error
	// Update overwrites an existing trade by id.
	Update(ctx context.Context, trade *domain.Trade) error
	// FindByID retrieves a trade by id. Returns nil, nil when not found.
	FindByID(ctx context.Context, id string) (*domain.Trade, error)
	// FindActiveByTicker retrieves the active trade for a ticker, if any.
	// Returns nil, nil when no active trade exists.
	FindActiveByTicker(ctx context.Context, ticker string) (*domain.Trade, error)
	// FindActive retrieves all trades in an active status.
	FindActive(ctx context.Context) ([]*domain.Trade, error)
	// CountActive counts trades in an active status.
	CountActive(ctx context.Context) (int, error)
	// FindRecent retrieves the most recent trades, newest first, up to limit.
	FindRecent(ctx context.Context, limit int) ([]*domain.Trade, error)
}

// EventRepository is the append-only audit trail. Append failures must never
// fail the calling operation; sinks log and move on.
type EventRepository interface {
	Append(ctx context.Context, event *domain.AutoTradeEvent) error
	// FindRecentEvents retrieves the most recent events, newest first, up to limit.
	FindRecentEvents(ctx context.Context, limit int) ([]*domain.AutoTradeEvent, error)
}

// SettingsRepository persists the runtime settings record.
type SettingsRepository interface {
	// LoadSettings retrieves the persisted settings. Returns nil, nil when no
	// record has been saved yet.
	LoadSettings(ctx context.Context) (*domain.Settings, error)
	// SaveSettings persists the settings record, bumping its version.
	SaveSettings(ctx context.Context, settings *domain.Settings) error
}
