package domain

// Side represents the direction of a signal or order (BUY or SELL).
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the closing side for a position opened on this side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// TradeMode classifies the intended holding period of a trade.
type TradeMode string

const (
	ModeDayTrade   TradeMode = "day_trade"
	ModeSwingTrade TradeMode = "swing_trade"
	ModeLongTerm   TradeMode = "long_term"
)

// IsIntraday reports whether positions in this mode must be flat by end of day.
func (m TradeMode) IsIntraday() bool {
	return m == ModeDayTrade
}

// SignalSource tags where a trade idea originated.
type SignalSource string

const (
	SourceScanner        SignalSource = "scanner"
	SourceSuggestedFinds SignalSource = "suggested_finds"
	SourceDipBuy         SignalSource = "dip_buy"
	SourceProfitTake     SignalSource = "profit_take"
	SourceLossCut        SignalSource = "loss_cut"
	SourceSystem         SignalSource = "system"
	SourceManual         SignalSource = "manual"
)

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonStopLoss  CloseReason = "stop_loss"
	CloseReasonTargetHit CloseReason = "target_hit"
	CloseReasonEODClose  CloseReason = "eod_close"
	CloseReasonManual    CloseReason = "manual"
	CloseReasonCancelled CloseReason = "cancelled"
)

// Recommendation is the verdict of a secondary analysis.
type Recommendation string

const (
	RecommendBuy  Recommendation = "BUY"
	RecommendSell Recommendation = "SELL"
	RecommendHold Recommendation = "HOLD"
)
