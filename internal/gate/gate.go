// Package gate holds the pure decision functions of the engine: the
// confidence/risk gate applied to every candidate signal and the position
// sizers. No I/O happens here.
package gate

import (
	"fmt"

	"autotrader/internal/domain"
)

// Decision is the outcome of the confidence gate.
type Decision struct {
	Accept bool
	Reason string // populated on reject with the specific skip reason
}

func reject(format string, args ...interface{}) Decision {
	return Decision{Accept: false, Reason: fmt.Sprintf(format, args...)}
}

// Evaluate applies the confidence and direction-consistency gates to a
// secondary analysis. Rejections are expected, non-exceptional outcomes.
func Evaluate(analysis *domain.Analysis, primaryDirection domain.Side, minConfidence float64) Decision {
	if analysis.Recommendation == domain.RecommendHold {
		return reject("analysis recommends HOLD")
	}
	if analysis.Confidence < minConfidence {
		return reject("analysis confidence %.1f below minimum %.1f", analysis.Confidence, minConfidence)
	}
	if analysis.Direction != primaryDirection {
		return reject("direction mismatch: scanner %s vs analysis %s", primaryDirection, analysis.Direction)
	}
	return Decision{Accept: true}
}
