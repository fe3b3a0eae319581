package risk

import (
	"math"
	"time"

	"github.com/google/uuid"

	"traxis/internal/config"
	"traxis/internal/logger"
	"traxis/internal/portfolio"
	"traxis/internal/signal"
)

// Input bundles everything one evaluation reads. Snapshot pins the config
// version so the decision is reproducible after the fact.
type Input struct {
	Analysis   signal.CombinedAnalysis
	Portfolio  portfolio.Portfolio
	EntryPrice float64
	// ATR over the configured lookback; 0 when the window was too short or
	// flat, which routes sizing through the volatility-floor fallback.
	ATR float64
	// ExplicitStop overrides the ATR-derived stop when positive.
	ExplicitStop float64
	Snapshot     config.Snapshot
}

// Manager turns a combined analysis plus live portfolio state into a sized,
// stop-bounded decision or a reasoned rejection. Stateless; all knobs come
// from the config snapshot in the Input.
type Manager struct{}

func NewManager() *Manager { return &Manager{} }

// Evaluate runs the admission gates in order, then the sizing pipeline.
// Threshold comparisons admit values exactly at the boundary.
func (m *Manager) Evaluate(in Input) Decision {
	cfg := in.Snapshot.Config.Risk
	d := Decision{
		Symbol:        in.Analysis.Symbol,
		EntryPrice:    in.EntryPrice,
		ConfigVersion: in.Snapshot.Version,
		TraceID:       uuid.NewString(),
		CreatedAt:     time.Now().UTC(),
	}

	if !cfg.TradingEnabled {
		return reject(d, RejectTradingDisabled)
	}
	if in.Analysis.Direction == signal.Neutral {
		return reject(d, RejectNeutral)
	}
	if in.Analysis.Confidence < cfg.MinConfidence {
		return reject(d, RejectLowConfidence)
	}
	if in.EntryPrice <= 0 || in.Portfolio.Equity <= 0 {
		return reject(d, RejectUnsizeable)
	}

	if in.Analysis.Direction.Bullish() {
		d.Side = portfolio.SideLong
	} else {
		d.Side = portfolio.SideShort
	}
	d.MarginMode = cfg.MarginType

	// Correlation gate before sizing: past the cap there is nothing to size.
	sameSide := in.Portfolio.CountSide(d.Side)
	if sameSide >= cfg.CorrelationCap {
		return reject(d, RejectCorrelationCap)
	}
	d.CorrelationMultiplier = math.Pow(cfg.CorrelationDecay, float64(sameSide))

	d = size(d, in, cfg)
	if !d.Admit {
		return d
	}
	if sameSide > 0 {
		d.Adjustments = append(d.Adjustments, AdjustCorrelationShrink)
	}

	// Risk-reward gate once stop and target exist; exactly at the minimum
	// is admitted.
	if d.RiskRewardRatio < cfg.MinRiskRewardRatio {
		return reject(d, RejectRiskReward)
	}

	logger.Debugf("risk: %s", d.String())
	return d
}

func reject(d Decision, reason RejectReason) Decision {
	d.Admit = false
	d.Reason = reason
	d.Quantity = 0
	return d
}
