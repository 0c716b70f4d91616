package brokerclient

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

const (
	defaultTimeout     = 15 * time.Second
	maxConfirmRounds   = 5 // a reply can itself return another prompt
	defaultTimeInForce = "DAY"
)

// Client implements ports.BrokerClient against the brokerage's REST
// order-management gateway.
type Client struct {
	http   *resty.Client
	logger ports.Logger
}

// Config holds configuration specific to the broker gateway adapter.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  ports.Logger
}

// New creates a new broker gateway adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for broker client")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("broker gateway base URL is required: %w", ports.ErrConfigurationError)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	cfg.Logger.Info(context.Background(), "Broker gateway client configured", map[string]interface{}{"baseURL": cfg.BaseURL, "timeout": timeout.String()})
	return &Client{http: rc, logger: cfg.Logger}, nil
}

// --- wire types ---

type orderRequest struct {
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	OrderType   string  `json:"orderType"`
	Price       float64 `json:"price,omitempty"`
	Quantity    float64 `json:"quantity"`
	TimeInForce string  `json:"tif"`
	ParentID    string  `json:"parentId,omitempty"`
	ClientTag   string  `json:"cOID,omitempty"`
}

type orderReplyWire struct {
	OrderID  string  `json:"order_id"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Type     string  `json:"order_type"`
	Price    float64 `json:"price"`
	AvgPrice float64 `json:"avg_price"`
	Quantity float64 `json:"quantity"`
	Status   string  `json:"order_status"`
	ParentID string  `json:"parent_id"`

	// Confirmation prompt fields; present instead of order fields when the
	// gateway wants a yes/no before accepting the order.
	ReplyID  string   `json:"id"`
	Messages []string `json:"message"`
}

type contractWire struct {
	ConID    string `json:"conid"`
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
}

type positionWire struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"position"`
	AvgCost       float64 `json:"avgCost"`
	MarketPrice   float64 `json:"mktPrice"`
	MarketValue   float64 `json:"mktValue"`
	UnrealizedPnl float64 `json:"unrealizedPnl"`
}

type quoteWire struct {
	Symbol string  `json:"symbol"`
	Last   float64 `json:"last"`
}

// mapStatus translates HTTP failures into standardized ports errors.
func (c *Client) mapStatus(resp *resty.Response, operation string) error {
	if resp.StatusCode() < http.StatusBadRequest {
		return nil
	}
	c.logger.Warn(context.Background(), "Broker gateway returned error status", map[string]interface{}{
		"operation": operation,
		"status":    resp.StatusCode(),
		"body":      resp.String(),
	})
	switch {
	case resp.StatusCode() == http.StatusBadRequest:
		return fmt.Errorf("%s: %s: %w", operation, resp.String(), ports.ErrInvalidRequest)
	case resp.StatusCode() == http.StatusNotFound:
		return fmt.Errorf("%s: %w", operation, ports.ErrNotFound)
	case resp.StatusCode() >= http.StatusInternalServerError:
		return fmt.Errorf("%s: status %d: %w", operation, resp.StatusCode(), ports.ErrBrokerUnavailable)
	default:
		return fmt.Errorf("%s: status %d: %s: %w", operation, resp.StatusCode(), resp.String(), ports.ErrUnknown)
	}
}

// Ping checks connectivity to the broker gateway.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/v1/api/tickle")
	if err != nil {
		return fmt.Errorf("ping: %v: %w", err, ports.ErrBrokerUnavailable)
	}
	return c.mapStatus(resp, "ping")
}

// SearchContract resolves a ticker to a tradable instrument.
func (c *Client) SearchContract(ctx context.Context, symbol string) (*ports.Contract, error) {
	var results []contractWire
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&results).
		Get("/v1/api/iserver/secdef/search")
	if err != nil {
		return nil, fmt.Errorf("searchContract %s: %v: %w", symbol, err, ports.ErrBrokerUnavailable)
	}
	if err := c.mapStatus(resp, "searchContract"); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		c.logger.Debug(ctx, "No contract found for symbol", map[string]interface{}{"symbol": symbol})
		return nil, nil
	}
	first := results[0]
	return &ports.Contract{InstrumentID: first.ConID, Symbol: first.Symbol, Exchange: first.Exchange}, nil
}

// GetQuote returns the last traded price for a symbol.
func (c *Client) GetQuote(ctx context.Context, symbol string) (float64, error) {
	var q quoteWire
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&q).
		Get("/v1/api/marketdata/snapshot")
	if err != nil {
		return 0, fmt.Errorf("getQuote %s: %v: %w", symbol, err, ports.ErrBrokerUnavailable)
	}
	if err := c.mapStatus(resp, "getQuote"); err != nil {
		return 0, err
	}
	if q.Last <= 0 {
		return 0, fmt.Errorf("getQuote %s: %w", symbol, ports.ErrQuoteUnavailable)
	}
	return q.Last, nil
}

// PlaceBracketOrder places a parent limit entry plus linked stop-loss and
// take-profit children in a single request.
func (c *Client) PlaceBracketOrder(ctx context.Context, accountID, symbol string, side domain.Side, qty, entryPrice, stopLoss, takeProfit float64, timeInForce string) ([]ports.OrderReply, error) {
	if timeInForce == "" {
		timeInForce = defaultTimeInForce
	}
	exit := side.Opposite()
	orders := []orderRequest{
		{Symbol: symbol, Side: string(side), OrderType: "LMT", Price: entryPrice, Quantity: qty, TimeInForce: timeInForce},
		{Symbol: symbol, Side: string(exit), OrderType: "STP", Price: stopLoss, Quantity: qty, TimeInForce: timeInForce},
		{Symbol: symbol, Side: string(exit), OrderType: "LMT", Price: takeProfit, Quantity: qty, TimeInForce: timeInForce},
	}
	return c.submitOrders(ctx, accountID, orders, "placeBracketOrder")
}

// PlaceMarketOrder places a plain market order.
func (c *Client) PlaceMarketOrder(ctx context.Context, accountID, symbol string, side domain.Side, qty float64) ([]ports.OrderReply, error) {
	orders := []orderRequest{
		{Symbol: symbol, Side: string(side), OrderType: "MKT", Quantity: qty, TimeInForce: defaultTimeInForce},
	}
	return c.submitOrders(ctx, accountID, orders, "placeMarketOrder")
}

func (c *Client) submitOrders(ctx context.Context, accountID string, orders []orderRequest, operation string) ([]ports.OrderReply, error) {
	var wire []orderReplyWire
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"orders": orders}).
		SetResult(&wire).
		Post(fmt.Sprintf("/v1/api/iserver/account/%s/orders", accountID))
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", operation, err, ports.ErrBrokerUnavailable)
	}
	if err := c.mapStatus(resp, operation); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ports.ErrOrderPlacementFailed)
	}

	// The gateway may answer with a confirmation prompt instead of order
	// state. Paper account: accept every prompt and resubmit until real
	// order replies come back.
	for round := 0; round < maxConfirmRounds; round++ {
		replyID := pendingReplyID(wire)
		if replyID == "" {
			break
		}
		c.logger.Info(ctx, "Auto-accepting broker confirmation prompt", map[string]interface{}{"replyID": replyID, "messages": confirmMessages(wire)})
		wire = wire[:0]
		resp, err = c.http.R().
			SetContext(ctx).
			SetBody(map[string]interface{}{"confirmed": true}).
			SetResult(&wire).
			Post(fmt.Sprintf("/v1/api/iserver/reply/%s", replyID))
		if err != nil {
			return nil, fmt.Errorf("%s confirm: %v: %w", operation, err, ports.ErrBrokerUnavailable)
		}
		if err := c.mapStatus(resp, operation+" confirm"); err != nil {
			return nil, fmt.Errorf("%v: %w", err, ports.ErrOrderPlacementFailed)
		}
	}
	if pendingReplyID(wire) != "" {
		return nil, fmt.Errorf("%s: confirmation prompts did not settle: %w", operation, ports.ErrOrderPlacementFailed)
	}

	replies := make([]ports.OrderReply, 0, len(wire))
	for _, w := range wire {
		if strings.EqualFold(w.Status, "Rejected") {
			return nil, fmt.Errorf("%s: order %s rejected: %s: %w", operation, w.OrderID, strings.Join(w.Messages, "; "), ports.ErrOrderRejected)
		}
		replies = append(replies, ports.OrderReply{
			OrderID:   w.OrderID,
			Symbol:    w.Symbol,
			Side:      domain.Side(strings.ToUpper(w.Side)),
			Type:      w.Type,
			Price:     w.Price,
			AvgPrice:  w.AvgPrice,
			Quantity:  w.Quantity,
			Status:    w.Status,
			ParentID:  w.ParentID,
			Timestamp: time.Now().UTC(),
		})
	}
	if len(replies) == 0 {
		return nil, fmt.Errorf("%s: empty reply from gateway: %w", operation, ports.ErrOrderPlacementFailed)
	}
	return replies, nil
}

func pendingReplyID(wire []orderReplyWire) string {
	for _, w := range wire {
		if w.ReplyID != "" && w.OrderID == "" {
			return w.ReplyID
		}
	}
	return ""
}

func confirmMessages(wire []orderReplyWire) []string {
	var msgs []string
	for _, w := range wire {
		msgs = append(msgs, w.Messages...)
	}
	return msgs
}

// GetPositions returns all open positions for the account.
func (c *Client) GetPositions(ctx context.Context, accountID string) ([]ports.Position, error) {
	var wire []positionWire
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&wire).
		Get(fmt.Sprintf("/v1/api/portfolio/%s/positions", accountID))
	if err != nil {
		return nil, fmt.Errorf("getPositions: %v: %w", err, ports.ErrBrokerUnavailable)
	}
	if err := c.mapStatus(resp, "getPositions"); err != nil {
		return nil, err
	}
	positions := make([]ports.Position, 0, len(wire))
	for _, w := range wire {
		positions = append(positions, ports.Position{
			Symbol:        w.Symbol,
			Quantity:      w.Quantity,
			AvgCost:       w.AvgCost,
			MarketPrice:   w.MarketPrice,
			MarketValue:   w.MarketValue,
			UnrealizedPnl: w.UnrealizedPnl,
		})
	}
	return positions, nil
}

// GetLiveOrders returns all currently working orders.
func (c *Client) GetLiveOrders(ctx context.Context) ([]ports.Order, error) {
	var wire struct {
		Orders []orderReplyWire `json:"orders"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&wire).
		Get("/v1/api/iserver/account/orders")
	if err != nil {
		return nil, fmt.Errorf("getLiveOrders: %v: %w", err, ports.ErrBrokerUnavailable)
	}
	if err := c.mapStatus(resp, "getLiveOrders"); err != nil {
		return nil, err
	}
	orders := make([]ports.Order, 0, len(wire.Orders))
	for _, w := range wire.Orders {
		orders = append(orders, ports.Order{
			ID:       w.OrderID,
			Symbol:   w.Symbol,
			Side:     domain.Side(strings.ToUpper(w.Side)),
			Type:     w.Type,
			Price:    w.Price,
			Quantity: w.Quantity,
			Status:   w.Status,
			ParentID: w.ParentID,
		})
	}
	return orders, nil
}
