package signal

import (
	"context"
	"fmt"

	"github.com/markcheno/go-talib"

	"traxis/internal/market"
)

// BreakoutSource watches Bollinger bands: a close beyond a band is a breakout
// in that direction, graded by how deep the penetration is relative to the
// band width. A zero band width (flat synthetic prices) yields no signal
// instead of dividing by it.
type BreakoutSource struct {
	Period int
	StdDev float64
}

func NewBreakoutSource(period int, stdDev float64) *BreakoutSource {
	if period <= 0 {
		period = 20
	}
	if stdDev <= 0 {
		stdDev = 2.0
	}
	return &BreakoutSource{Period: period, StdDev: stdDev}
}

func (s *BreakoutSource) Name() string { return "breakout" }

func (s *BreakoutSource) Evaluate(_ context.Context, candles []market.Candle) (*Signal, error) {
	if len(candles) <= s.Period {
		return nil, nil
	}
	closes := market.Closes(candles)
	upper, middle, lower := talib.BBands(closes, s.Period, s.StdDev, s.StdDev, talib.SMA)
	n := len(closes)
	u, m, l := upper[n-1], middle[n-1], lower[n-1]
	price := closes[n-1]
	if !finite(u) || !finite(m) || !finite(l) {
		return nil, nil
	}
	width := u - l
	if width <= 0 {
		// Flat window: bands collapse onto the price, nothing to break out of.
		return nil, nil
	}

	sig := &Signal{Source: s.Name(), Direction: Neutral}
	switch {
	case price > u:
		depth := (price - u) / width
		sig.Direction = Long
		if depth >= 0.25 {
			sig.Direction = StrongLong
		}
		sig.Confidence = clampConfidence(0.55 + depth)
	case price < l:
		depth := (l - price) / width
		sig.Direction = Short
		if depth >= 0.25 {
			sig.Direction = StrongShort
		}
		sig.Confidence = clampConfidence(0.55 + depth)
	default:
		// Inside the bands: weak mean-reversion information only.
		sig.Confidence = clampConfidence(0.25 * (1 - absFloat(price-m)/(width/2)))
	}
	sig.Rationale = fmt.Sprintf("BB(%d,%.1f) price=%.4f bands=[%.4f, %.4f]", s.Period, s.StdDev, price, l, u)
	return sig, nil
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
