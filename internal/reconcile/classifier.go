package reconcile

import "autotrader/internal/domain"

// ClassifyClose is a best-effort classifier for positions that closed outside
// the engine's direct observation. It infers the close reason from the stored
// stop/target band, falling back to the P&L sign when no band exists (e.g.
// long-term holds). The result is a labeling heuristic, not an authoritative
// broker-reported reason.
func ClassifyClose(trade *domain.Trade, closePrice, pnl float64) (domain.CloseReason, domain.TradeStatus) {
	if trade.StopLoss != nil && trade.TargetPrice != nil {
		stop, target := *trade.StopLoss, *trade.TargetPrice
		if trade.Signal == domain.Sell {
			// Short: target sits below entry, stop above.
			switch {
			case closePrice <= target:
				return domain.CloseReasonTargetHit, domain.StatusTargetHit
			case closePrice >= stop:
				return domain.CloseReasonStopLoss, domain.StatusStopped
			}
		} else {
			switch {
			case closePrice >= target:
				return domain.CloseReasonTargetHit, domain.StatusTargetHit
			case closePrice <= stop:
				return domain.CloseReasonStopLoss, domain.StatusStopped
			}
		}
		// Closed inside the band: neither child order can explain it.
		return domain.CloseReasonManual, domain.StatusClosed
	}

	switch {
	case pnl > 0:
		return domain.CloseReasonTargetHit, domain.StatusTargetHit
	case pnl < 0:
		return domain.CloseReasonStopLoss, domain.StatusStopped
	default:
		return domain.CloseReasonManual, domain.StatusClosed
	}
}
