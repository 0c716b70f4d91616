package domain

import "time"

// EventSeverity grades an audit event.
type EventSeverity string

const (
	SeverityInfo    EventSeverity = "info"
	SeverityWarning EventSeverity = "warning"
	SeverityError   EventSeverity = "error"
)

// EventAction records the outcome of a decision point.
type EventAction string

const (
	ActionExecuted EventAction = "executed"
	ActionSkipped  EventAction = "skipped"
	ActionFailed   EventAction = "failed"
)

// AutoTradeEvent is one append-only audit log entry, created once per
// decision point and never mutated.
type AutoTradeEvent struct {
	ID                string                 `json:"id"`
	Ticker            string                 `json:"ticker,omitempty"`
	Severity          EventSeverity          `json:"severity"`
	Action            EventAction            `json:"action,omitempty"` // empty for purely informational entries
	Source            SignalSource           `json:"source,omitempty"`
	Mode              TradeMode              `json:"mode,omitempty"`
	Message           string                 `json:"message"`
	ScannerConfidence float64                `json:"scanner_confidence,omitempty"`
	FAConfidence      float64                `json:"fa_confidence,omitempty"`
	SkipReason        string                 `json:"skip_reason,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"` // free-form payload, e.g. computed close P&L
	CreatedAt         time.Time              `json:"created_at"`
}
