package domain

import "time"

// Signal is a raw trade idea pushed in by an upstream scanner.
type Signal struct {
	Ticker     string       `json:"ticker"`
	Direction  Side         `json:"direction"`
	Mode       TradeMode    `json:"mode"`
	Source     SignalSource `json:"source"`
	Confidence float64      `json:"confidence"` // scanner confidence, 0-100
	Rationale  string       `json:"rationale,omitempty"`
	SeenAt     time.Time    `json:"seen_at,omitempty"`
}

// Analysis is the richer secondary signal fetched per idea before placement.
// Price levels may be absent when the analysis could not produce them.
type Analysis struct {
	Ticker         string         `json:"ticker"`
	Recommendation Recommendation `json:"recommendation"`
	Direction      Side           `json:"direction"`
	Confidence     float64        `json:"confidence"` // FA confidence, 0-100
	EntryPrice     *float64       `json:"entry_price,omitempty"`
	StopLoss       *float64       `json:"stop_loss,omitempty"`
	TargetPrice    *float64       `json:"target_price,omitempty"`
	Rationale      string         `json:"rationale,omitempty"`
}

// Complete reports whether all price levels required for a bracket order are present.
func (a *Analysis) Complete() bool {
	return a.EntryPrice != nil && a.StopLoss != nil && a.TargetPrice != nil
}

// SuggestedFind is a long-term conviction-based pick. Conviction is distinct
// from scanner/FA confidence; the valuation tag gates entry together with it.
type SuggestedFind struct {
	Ticker     string  `json:"ticker"`
	Conviction float64 `json:"conviction"` // 0-10
	Valuation  string  `json:"valuation"`  // "undervalued", "fair", "overvalued"
	Thesis     string  `json:"thesis,omitempty"`
}
