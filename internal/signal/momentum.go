package signal

import (
	"context"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"traxis/internal/market"
)

// MomentumSource reads RSI: oversold favors longs, overbought favors shorts.
type MomentumSource struct {
	Period     int
	Oversold   float64
	Overbought float64
}

func NewMomentumSource(period int, oversold, overbought float64) *MomentumSource {
	if period <= 0 {
		period = 14
	}
	if oversold <= 0 {
		oversold = 30
	}
	if overbought <= 0 {
		overbought = 70
	}
	return &MomentumSource{Period: period, Oversold: oversold, Overbought: overbought}
}

func (s *MomentumSource) Name() string { return "momentum" }

func (s *MomentumSource) Evaluate(_ context.Context, candles []market.Candle) (*Signal, error) {
	if len(candles) <= s.Period {
		return nil, nil
	}
	rsiSeries := talib.Rsi(market.Closes(candles), s.Period)
	rsi := rsiSeries[len(rsiSeries)-1]
	if math.IsNaN(rsi) || math.IsInf(rsi, 0) {
		return nil, nil
	}

	sig := &Signal{Source: s.Name(), Direction: Neutral}
	switch {
	case rsi <= s.Oversold:
		depth := (s.Oversold - rsi) / s.Oversold
		sig.Direction = Long
		if rsi <= s.Oversold/2 {
			sig.Direction = StrongLong
		}
		sig.Confidence = clampConfidence(0.5 + depth)
	case rsi >= s.Overbought:
		depth := (rsi - s.Overbought) / (100 - s.Overbought)
		sig.Direction = Short
		if rsi >= (100+s.Overbought)/2 {
			sig.Direction = StrongShort
		}
		sig.Confidence = clampConfidence(0.5 + depth)
	default:
		// Inside the band the oscillator carries little information.
		mid := (s.Oversold + s.Overbought) / 2
		sig.Confidence = clampConfidence(0.3 * (1 - math.Abs(rsi-mid)/(mid-s.Oversold)))
	}
	sig.Rationale = fmt.Sprintf("RSI(%d)=%.1f thresholds=%.0f/%.0f", s.Period, rsi, s.Oversold, s.Overbought)
	return sig, nil
}
