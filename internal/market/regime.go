package market

import (
	"github.com/markcheno/go-talib"
)

// Regime classifies the broader price environment a symbol is trading in.
type Regime string

const (
	RegimeTrendingUp   Regime = "trending_up"
	RegimeTrendingDown Regime = "trending_down"
	RegimeRanging      Regime = "ranging"
	RegimeVolatile     Regime = "volatile"
)

// RegimeSettings tunes the regime classifier. Zero values fall back to defaults.
type RegimeSettings struct {
	Lookback          int     // trailing periods for SMA and dispersion
	VolatileThreshold float64 // dispersion/mean ratio above which the market is volatile
	TrendDeviationPct float64 // |price-SMA|/SMA beyond which the market is trending
}

func (s RegimeSettings) withDefaults() RegimeSettings {
	if s.Lookback <= 0 {
		s.Lookback = 20
	}
	if s.VolatileThreshold <= 0 {
		s.VolatileThreshold = 0.04
	}
	if s.TrendDeviationPct <= 0 {
		s.TrendDeviationPct = 0.02
	}
	return s
}

// ClassifyRegime infers the market regime from a trailing daily window.
// Dispersion is the stddev of closes relative to their mean; a flat or
// too-short window classifies as ranging rather than guessing.
func ClassifyRegime(daily []Candle, settings RegimeSettings) Regime {
	s := settings.withDefaults()
	if len(daily) < s.Lookback {
		return RegimeRanging
	}
	closes := Closes(daily)
	smaSeries := talib.Sma(closes, s.Lookback)
	stdSeries := talib.StdDev(closes, s.Lookback, 1.0)
	sma := lastValid(smaSeries)
	std := lastValid(stdSeries)
	if sma <= 0 {
		return RegimeRanging
	}
	if std/sma > s.VolatileThreshold {
		return RegimeVolatile
	}
	price := LastClose(daily)
	deviation := (price - sma) / sma
	switch {
	case deviation > s.TrendDeviationPct:
		return RegimeTrendingUp
	case deviation < -s.TrendDeviationPct:
		return RegimeTrendingDown
	default:
		return RegimeRanging
	}
}
