package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"autotrader/internal/domain"
)

func floatPtr(v float64) *float64 { return &v }

func TestClassifyClose(t *testing.T) {
	longBand := &domain.Trade{
		Signal:      domain.Buy,
		StopLoss:    floatPtr(90),
		TargetPrice: floatPtr(110),
	}
	shortBand := &domain.Trade{
		Signal:      domain.Sell,
		StopLoss:    floatPtr(110),
		TargetPrice: floatPtr(90),
	}
	noBand := &domain.Trade{Signal: domain.Buy}

	tests := []struct {
		name       string
		trade      *domain.Trade
		closePrice float64
		pnl        float64
		wantReason domain.CloseReason
		wantStatus domain.TradeStatus
	}{
		{"long close at target", longBand, 110, 10, domain.CloseReasonTargetHit, domain.StatusTargetHit},
		{"long close above target", longBand, 111, 11, domain.CloseReasonTargetHit, domain.StatusTargetHit},
		{"long close at stop", longBand, 90, -10, domain.CloseReasonStopLoss, domain.StatusStopped},
		{"long close below stop", longBand, 89, -11, domain.CloseReasonStopLoss, domain.StatusStopped},
		{"long close inside band", longBand, 100, 0, domain.CloseReasonManual, domain.StatusClosed},
		{"short close at target", shortBand, 90, 10, domain.CloseReasonTargetHit, domain.StatusTargetHit},
		{"short close at stop", shortBand, 111, -11, domain.CloseReasonStopLoss, domain.StatusStopped},
		{"short close inside band", shortBand, 100, 0, domain.CloseReasonManual, domain.StatusClosed},
		{"no band positive pnl", noBand, 105, 50, domain.CloseReasonTargetHit, domain.StatusTargetHit},
		{"no band negative pnl", noBand, 95, -50, domain.CloseReasonStopLoss, domain.StatusStopped},
		{"no band flat pnl", noBand, 100, 0, domain.CloseReasonManual, domain.StatusClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, status := ClassifyClose(tt.trade, tt.closePrice, tt.pnl)
			assert.Equal(t, tt.wantReason, reason)
			assert.Equal(t, tt.wantStatus, status)
		})
	}
}
