package signal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"traxis/internal/logger"
	"traxis/internal/market"
)

// Mode selects how independent signals merge into one verdict.
type Mode string

const (
	ModeWeightedAverage Mode = "weighted_average"
	ModeConsensus       Mode = "consensus"
	ModeMaxConfidence   Mode = "max_confidence"
	ModeUnanimous       Mode = "unanimous"
)

// ParseMode is forgiving about case; unknown input falls back to weighted average.
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeConsensus:
		return ModeConsensus
	case ModeMaxConfidence:
		return ModeMaxConfidence
	case ModeUnanimous:
		return ModeUnanimous
	default:
		return ModeWeightedAverage
	}
}

// RiskLevel grades a combined verdict by its confidence tier.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
)

// CombinedAnalysis is the aggregated verdict for one symbol/timeframe.
// Created fresh per evaluation cycle and never mutated afterwards.
type CombinedAnalysis struct {
	Symbol       string        `json:"symbol"`
	Timeframe    string        `json:"timeframe"`
	Direction    Direction     `json:"direction"`
	Confidence   float64       `json:"confidence"`
	Signals      []Signal      `json:"signals"`
	BullishCount int           `json:"bullish_count"`
	BearishCount int           `json:"bearish_count"`
	Regime       market.Regime `json:"market_regime"`
	RiskLevel    RiskLevel     `json:"risk_level"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Input carries everything one combination cycle reads. The caller fills it
// from a single config snapshot so no value changes mid-computation.
type Input struct {
	Symbol         string
	Timeframe      string
	Candles        []market.Candle
	Daily          []market.Candle
	Mode           Mode
	Enabled        []string
	HighConfidence float64
	LowConfidence  float64
	RegimeSettings market.RegimeSettings
}

// Combiner runs the enabled sources and merges their verdicts.
type Combiner struct {
	registry *Registry
}

func NewCombiner(registry *Registry) *Combiner {
	return &Combiner{registry: registry}
}

// Combine never fails: a source error or empty contribution set degrades to a
// Neutral/0 analysis that callers must treat as "do nothing".
func (c *Combiner) Combine(ctx context.Context, in Input) CombinedAnalysis {
	out := CombinedAnalysis{
		Symbol:    in.Symbol,
		Timeframe: in.Timeframe,
		Direction: Neutral,
		Regime:    market.ClassifyRegime(in.Daily, in.RegimeSettings),
		CreatedAt: now(),
	}

	for _, src := range c.registry.Enabled(in.Enabled) {
		sig, err := src.Evaluate(ctx, in.Candles)
		if err != nil {
			logger.Warnf("combiner: source %s failed for %s %s: %v", src.Name(), in.Symbol, in.Timeframe, err)
			continue
		}
		if sig == nil {
			continue
		}
		sig.Confidence = clampConfidence(sig.Confidence)
		out.Signals = append(out.Signals, *sig)
		if sig.Direction.Bullish() {
			out.BullishCount++
		}
		if sig.Direction.Bearish() {
			out.BearishCount++
		}
	}

	if len(out.Signals) == 0 {
		out.RiskLevel = riskLevelFor(0, in.HighConfidence, in.LowConfidence)
		return out
	}

	switch in.Mode {
	case ModeConsensus:
		out.Direction, out.Confidence = combineConsensus(out.Signals)
	case ModeMaxConfidence:
		out.Direction, out.Confidence = combineMaxConfidence(out.Signals)
	case ModeUnanimous:
		out.Direction, out.Confidence = combineUnanimous(out.Signals)
	default:
		out.Direction, out.Confidence = combineWeighted(out.Signals)
	}
	out.Confidence = clampConfidence(out.Confidence)
	out.RiskLevel = riskLevelFor(out.Confidence, in.HighConfidence, in.LowConfidence)
	return out
}

// combineWeighted takes the confidence-weighted mean of the direction scores.
// Ties and weak means break toward Neutral.
func combineWeighted(signals []Signal) (Direction, float64) {
	var weightSum, scoreSum float64
	for _, s := range signals {
		weightSum += s.Confidence
		scoreSum += s.Direction.Score() * s.Confidence
	}
	if weightSum <= 0 {
		return Neutral, 0
	}
	mean := scoreSum / weightSum

	var dir Direction
	switch {
	case mean >= 1.5:
		dir = StrongLong
	case mean >= 0.5:
		dir = Long
	case mean <= -1.5:
		dir = StrongShort
	case mean <= -0.5:
		dir = Short
	default:
		return Neutral, 0
	}

	// Confidence: weight carried by sources agreeing with the resolved side.
	var agree float64
	for _, s := range signals {
		if dir.Bullish() && s.Direction.Bullish() || dir.Bearish() && s.Direction.Bearish() {
			agree += s.Confidence
		}
	}
	return dir, agree / weightSum
}

// combineConsensus requires a strict majority among non-neutral signals.
func combineConsensus(signals []Signal) (Direction, float64) {
	var bull, bear []Signal
	for _, s := range signals {
		switch {
		case s.Direction.Bullish():
			bull = append(bull, s)
		case s.Direction.Bearish():
			bear = append(bear, s)
		}
	}
	nonNeutral := len(bull) + len(bear)
	if nonNeutral == 0 {
		return Neutral, 0
	}
	switch {
	case len(bull)*2 > nonNeutral:
		return strongestOf(bull), meanConfidence(bull)
	case len(bear)*2 > nonNeutral:
		return strongestOf(bear), meanConfidence(bear)
	default:
		return Neutral, 0
	}
}

// combineMaxConfidence takes the single highest-confidence signal verbatim.
func combineMaxConfidence(signals []Signal) (Direction, float64) {
	best := signals[0]
	for _, s := range signals[1:] {
		if s.Confidence > best.Confidence {
			best = s
		}
	}
	return best.Direction, best.Confidence
}

// combineUnanimous admits a side only when every contributing source agrees.
func combineUnanimous(signals []Signal) (Direction, float64) {
	anyBull, anyBear := false, false
	minConf := 1.0
	for _, s := range signals {
		switch {
		case s.Direction.Bullish():
			anyBull = true
		case s.Direction.Bearish():
			anyBear = true
		default:
			return Neutral, 0
		}
		if s.Confidence < minConf {
			minConf = s.Confidence
		}
	}
	switch {
	case anyBull && !anyBear:
		return strongestOf(signals), minConf
	case anyBear && !anyBull:
		return strongestOf(signals), minConf
	default:
		return Neutral, 0
	}
}

func strongestOf(signals []Signal) Direction {
	strongest := signals[0].Direction
	for _, s := range signals[1:] {
		if absFloat(s.Direction.Score()) > absFloat(strongest.Score()) {
			strongest = s.Direction
		}
	}
	return strongest
}

func meanConfidence(signals []Signal) float64 {
	if len(signals) == 0 {
		return 0
	}
	var sum float64
	for _, s := range signals {
		sum += s.Confidence
	}
	return sum / float64(len(signals))
}

func riskLevelFor(confidence, high, low float64) RiskLevel {
	switch {
	case confidence >= high:
		return RiskLow
	case confidence < low:
		return RiskHigh
	default:
		return RiskModerate
	}
}

// String renders the analysis compactly for logs.
func (a CombinedAnalysis) String() string {
	return fmt.Sprintf("%s %s dir=%s conf=%.2f bulls=%d bears=%d regime=%s risk=%s",
		a.Symbol, a.Timeframe, a.Direction, a.Confidence, a.BullishCount, a.BearishCount, a.Regime, a.RiskLevel)
}
