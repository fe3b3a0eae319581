package signal

import (
	"context"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"traxis/internal/market"
)

// TrendCrossSource compares a fast and a slow EMA. A fresh crossover reads
// stronger than a long-standing one.
type TrendCrossSource struct {
	FastPeriod int
	SlowPeriod int
}

func NewTrendCrossSource(fast, slow int) *TrendCrossSource {
	if fast <= 0 {
		fast = 12
	}
	if slow <= 0 {
		slow = 26
	}
	return &TrendCrossSource{FastPeriod: fast, SlowPeriod: slow}
}

func (s *TrendCrossSource) Name() string { return "trend_cross" }

func (s *TrendCrossSource) Evaluate(_ context.Context, candles []market.Candle) (*Signal, error) {
	// One extra bar so the previous fast/slow relation is observable.
	if len(candles) <= s.SlowPeriod+1 {
		return nil, nil
	}
	closes := market.Closes(candles)
	fast := talib.Ema(closes, s.FastPeriod)
	slow := talib.Ema(closes, s.SlowPeriod)
	n := len(closes)
	f0, s0 := fast[n-1], slow[n-1]
	f1, s1 := fast[n-2], slow[n-2]
	if !finite(f0) || !finite(s0) || !finite(f1) || !finite(s1) || s0 == 0 {
		return nil, nil
	}

	separation := math.Abs(f0-s0) / s0
	crossedUp := f1 <= s1 && f0 > s0
	crossedDown := f1 >= s1 && f0 < s0

	sig := &Signal{Source: s.Name(), Direction: Neutral}
	switch {
	case crossedUp:
		sig.Direction = StrongLong
		sig.Confidence = clampConfidence(0.7 + separation*10)
	case crossedDown:
		sig.Direction = StrongShort
		sig.Confidence = clampConfidence(0.7 + separation*10)
	case f0 > s0:
		sig.Direction = Long
		sig.Confidence = clampConfidence(0.4 + separation*10)
	case f0 < s0:
		sig.Direction = Short
		sig.Confidence = clampConfidence(0.4 + separation*10)
	default:
		sig.Confidence = 0.2
	}
	sig.Rationale = fmt.Sprintf("EMA%d=%.4f vs EMA%d=%.4f sep=%.3f%% crossed=%v",
		s.FastPeriod, f0, s.SlowPeriod, s0, separation*100, crossedUp || crossedDown)
	return sig, nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
