// Package analysisclient consumes the external analysis service that
// produces the richer secondary signal per ticker and reviews closed trades.
package analysisclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"autotrader/internal/domain"
	"autotrader/internal/ports"
)

const defaultTimeout = 30 * time.Second

// Client implements ports.Analyzer and ports.TradeReviewer over the analysis
// service's REST API.
type Client struct {
	http   *resty.Client
	logger ports.Logger
}

// Config holds configuration for the analysis service adapter.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  ports.Logger
}

// New creates a new analysis service adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for analysis client")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("analysis service base URL is required: %w", ports.ErrConfigurationError)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Client{http: rc, logger: cfg.Logger}, nil
}

type analysisWire struct {
	Ticker         string   `json:"ticker"`
	Recommendation string   `json:"recommendation"`
	Direction      string   `json:"direction"`
	Confidence     float64  `json:"confidence"`
	EntryPrice     *float64 `json:"entry_price"`
	StopLoss       *float64 `json:"stop_loss"`
	TargetPrice    *float64 `json:"target_price"`
	Rationale      string   `json:"rationale"`
}

// Analyze fetches the secondary signal for a ticker.
func (c *Client) Analyze(ctx context.Context, ticker string) (*domain.Analysis, error) {
	var wire analysisWire
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("ticker", ticker).
		SetResult(&wire).
		Get("/v1/analyze")
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", ticker, err)
	}
	if resp.StatusCode() >= http.StatusBadRequest {
		return nil, fmt.Errorf("analyze %s: status %d: %s", ticker, resp.StatusCode(), resp.String())
	}
	return &domain.Analysis{
		Ticker:         wire.Ticker,
		Recommendation: domain.Recommendation(strings.ToUpper(wire.Recommendation)),
		Direction:      domain.Side(strings.ToUpper(wire.Direction)),
		Confidence:     wire.Confidence,
		EntryPrice:     wire.EntryPrice,
		StopLoss:       wire.StopLoss,
		TargetPrice:    wire.TargetPrice,
		Rationale:      wire.Rationale,
	}, nil
}

// ReviewClosedTrade pushes a closed trade to the analysis service for
// post-mortem review. Fire-and-forget: failures are logged, never surfaced.
func (c *Client) ReviewClosedTrade(ctx context.Context, trade *domain.Trade) {
	payload := map[string]interface{}{
		"trade_id":     trade.ID,
		"ticker":       trade.Ticker,
		"mode":         trade.Mode,
		"signal":       trade.Signal,
		"fill_price":   trade.EffectiveFillPrice(),
		"close_price":  trade.ClosePrice,
		"pnl":          trade.PNL,
		"pnl_percent":  trade.PNLPercent,
		"close_reason": trade.CloseReason,
	}
	resp, err := c.http.R().SetContext(ctx).SetBody(payload).Post("/v1/review")
	if err != nil {
		c.logger.Warn(ctx, "Trade review submission failed", map[string]interface{}{"ticker": trade.Ticker, "error": err.Error()})
		return
	}
	if resp.StatusCode() >= http.StatusBadRequest {
		c.logger.Warn(ctx, "Trade review rejected", map[string]interface{}{"ticker": trade.Ticker, "status": resp.StatusCode()})
	}
}
