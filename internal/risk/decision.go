package risk

import (
	"fmt"
	"time"

	"traxis/internal/portfolio"
)

// RejectReason names the policy gate that stopped a trade. Rejections are
// expected outcomes, not errors.
type RejectReason string

const (
	RejectNone            RejectReason = ""
	RejectTradingDisabled RejectReason = "trading_disabled"
	RejectNeutral         RejectReason = "neutral_direction"
	RejectLowConfidence   RejectReason = "confidence_below_threshold"
	RejectRiskReward      RejectReason = "risk_reward_below_minimum"
	RejectCorrelationCap  RejectReason = "correlation_cap_reached"
	RejectUnsizeable      RejectReason = "position_unsizeable"
)

// Adjustment records a sizing step that shrank or rerouted the position.
// "Admitted but shrunk" must stay distinguishable from a clean admit.
type Adjustment string

const (
	AdjustVolatilityFloor   Adjustment = "volatility_floor_fallback"
	AdjustFreeMarginCap     Adjustment = "free_margin_cap"
	AdjustNotionalCap       Adjustment = "notional_cap"
	AdjustCorrelationShrink Adjustment = "correlation_shrink"
)

// Decision is the risk manager's verdict over one CombinedAnalysis. Derived
// deterministically from the analysis, a portfolio snapshot and one config
// snapshot version.
type Decision struct {
	Admit  bool         `json:"admit"`
	Reason RejectReason `json:"reject_reason,omitempty"`

	Symbol                string         `json:"symbol"`
	Side                  portfolio.Side `json:"side,omitempty"`
	Quantity              float64        `json:"quantity"`
	EntryPrice            float64        `json:"entry_price"`
	StopLoss              float64        `json:"stop_loss"`
	TakeProfit            float64        `json:"take_profit"`
	Leverage              int            `json:"leverage"`
	MarginMode            string         `json:"margin_mode,omitempty"`
	CorrelationMultiplier float64        `json:"correlation_multiplier"`
	RiskRewardRatio       float64        `json:"risk_reward_ratio"`
	Adjustments           []Adjustment   `json:"adjustments,omitempty"`

	ConfigVersion int64     `json:"config_version"`
	TraceID       string    `json:"trace_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// Notional is the position value the decision requests.
func (d Decision) Notional() float64 { return d.Quantity * d.EntryPrice }

// Adjusted reports whether a given sizing adjustment was applied.
func (d Decision) Adjusted(a Adjustment) bool {
	for _, x := range d.Adjustments {
		if x == a {
			return true
		}
	}
	return false
}

func (d Decision) String() string {
	if !d.Admit {
		return fmt.Sprintf("%s REJECT reason=%s (cfg v%d)", d.Symbol, d.Reason, d.ConfigVersion)
	}
	return fmt.Sprintf("%s ADMIT %s qty=%.6f entry=%.4f sl=%.4f tp=%.4f lev=%dx corr=%.2f rr=%.2f adj=%v (cfg v%d)",
		d.Symbol, d.Side, d.Quantity, d.EntryPrice, d.StopLoss, d.TakeProfit, d.Leverage,
		d.CorrelationMultiplier, d.RiskRewardRatio, d.Adjustments, d.ConfigVersion)
}
