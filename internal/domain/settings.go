package domain

// RiskTier is one percentage band of a tiered strategy table, e.g. "on a
// 10-15% dip, deploy 25% of the reserve".
type RiskTier struct {
	TriggerPercent float64 `json:"trigger_percent"` // band lower bound, percent move from reference
	ActionPercent  float64 `json:"action_percent"`  // portion of position/reserve to act on
}

// RiskTiers groups the per-strategy tier tables plus their cooldowns.
// They are consumed by portfolio add-on sizing logic; the engine only loads,
// persists and hands them to sizers.
type RiskTiers struct {
	DipBuy          []RiskTier `json:"dip_buy"`
	ProfitTake      []RiskTier `json:"profit_take"`
	LossCut         []RiskTier `json:"loss_cut"`
	CooldownMinutes int        `json:"cooldown_minutes"`
}

// Settings is the versioned runtime configuration record: loaded once per
// session, refreshed from durable storage, mutated only through an explicit
// update that persists and returns the merged result.
type Settings struct {
	Enabled                     bool      `json:"enabled"`
	AccountID                   string    `json:"account_id"`
	MaxPositions                int       `json:"max_positions"`
	PositionSize                float64   `json:"position_size"` // flat capital per trade
	MinScannerConfidence        float64   `json:"min_scanner_confidence"`
	MinFAConfidence             float64   `json:"min_fa_confidence"`
	MinSuggestedFindsConviction float64   `json:"min_suggested_finds_conviction"`
	DayTradeAutoClose           bool      `json:"day_trade_auto_close"`
	MaxSinglePositionPercent    float64   `json:"max_single_position_percent"`
	RiskPerTradePercent         float64   `json:"risk_per_trade_percent"`
	Tiers                       RiskTiers `json:"tiers"`
	Version                     int64     `json:"version"`
}

// DefaultSettings are applied on first run, before any persisted record exists.
func DefaultSettings() Settings {
	return Settings{
		Enabled:                     false,
		MaxPositions:                5,
		PositionSize:                1000,
		MinScannerConfidence:        70,
		MinFAConfidence:             65,
		MinSuggestedFindsConviction: 7,
		DayTradeAutoClose:           true,
		MaxSinglePositionPercent:    10,
		RiskPerTradePercent:         2,
		Tiers: RiskTiers{
			DipBuy:          []RiskTier{{TriggerPercent: 5, ActionPercent: 25}, {TriggerPercent: 10, ActionPercent: 50}},
			ProfitTake:      []RiskTier{{TriggerPercent: 20, ActionPercent: 25}, {TriggerPercent: 40, ActionPercent: 50}},
			LossCut:         []RiskTier{{TriggerPercent: 15, ActionPercent: 50}, {TriggerPercent: 25, ActionPercent: 100}},
			CooldownMinutes: 240,
		},
	}
}

// SettingsPatch carries partial updates; nil fields are left untouched by Merge.
type SettingsPatch struct {
	Enabled                     *bool      `json:"enabled,omitempty"`
	AccountID                   *string    `json:"account_id,omitempty"`
	MaxPositions                *int       `json:"max_positions,omitempty"`
	PositionSize                *float64   `json:"position_size,omitempty"`
	MinScannerConfidence        *float64   `json:"min_scanner_confidence,omitempty"`
	MinFAConfidence             *float64   `json:"min_fa_confidence,omitempty"`
	MinSuggestedFindsConviction *float64   `json:"min_suggested_finds_conviction,omitempty"`
	DayTradeAutoClose           *bool      `json:"day_trade_auto_close,omitempty"`
	MaxSinglePositionPercent    *float64   `json:"max_single_position_percent,omitempty"`
	RiskPerTradePercent         *float64   `json:"risk_per_trade_percent,omitempty"`
	Tiers                       *RiskTiers `json:"tiers,omitempty"`
}

// Merge applies the patch on top of s and returns the result. The receiver is
// not modified.
func (s Settings) Merge(p SettingsPatch) Settings {
	out := s
	if p.Enabled != nil {
		out.Enabled = *p.Enabled
	}
	if p.AccountID != nil {
		out.AccountID = *p.AccountID
	}
	if p.MaxPositions != nil {
		out.MaxPositions = *p.MaxPositions
	}
	if p.PositionSize != nil {
		out.PositionSize = *p.PositionSize
	}
	if p.MinScannerConfidence != nil {
		out.MinScannerConfidence = *p.MinScannerConfidence
	}
	if p.MinFAConfidence != nil {
		out.MinFAConfidence = *p.MinFAConfidence
	}
	if p.MinSuggestedFindsConviction != nil {
		out.MinSuggestedFindsConviction = *p.MinSuggestedFindsConviction
	}
	if p.DayTradeAutoClose != nil {
		out.DayTradeAutoClose = *p.DayTradeAutoClose
	}
	if p.MaxSinglePositionPercent != nil {
		out.MaxSinglePositionPercent = *p.MaxSinglePositionPercent
	}
	if p.RiskPerTradePercent != nil {
		out.RiskPerTradePercent = *p.RiskPerTradePercent
	}
	if p.Tiers != nil {
		out.Tiers = *p.Tiers
	}
	return out
}
