package ports

import (
	"context"

	"autotrader/internal/domain"
)

// Analyzer fetches the richer secondary signal for an idea before placement.
// A failure here is terminal for that idea only, never for the whole batch.
type Analyzer interface {
	Analyze(ctx context.Context, ticker string) (*domain.Analysis, error)
}

// TradeReviewer is the downstream trade-analysis hook fired after a close is
// reconciled. Invocations are non-blocking; errors are logged, not surfaced.
type TradeReviewer interface {
	ReviewClosedTrade(ctx context.Context, trade *domain.Trade)
}
