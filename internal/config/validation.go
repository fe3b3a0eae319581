package config

import (
	"fmt"
	"strings"
)

var combinationModes = map[string]bool{
	"weighted_average": true,
	"consensus":        true,
	"max_confidence":   true,
	"unanimous":        true,
}

// Validate rejects configurations that would only fail later at decision time.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	var problems []string

	if len(cfg.Market.Symbols) == 0 {
		problems = append(problems, "market.symbols must not be empty")
	}
	if !combinationModes[strings.ToLower(cfg.Signals.CombinationMode)] {
		problems = append(problems, fmt.Sprintf("signals.combination_mode %q is not recognized", cfg.Signals.CombinationMode))
	}
	if cfg.Signals.LowConfidence >= cfg.Signals.HighConfidence {
		problems = append(problems, "signals.low_confidence must be below signals.high_confidence")
	}
	r := cfg.Risk
	if r.RiskPerTradePct <= 0 || r.RiskPerTradePct > 0.10 {
		problems = append(problems, fmt.Sprintf("risk.risk_per_trade_pct=%.4f outside (0, 0.10]", r.RiskPerTradePct))
	}
	if r.MaxNotionalFractionEquity <= 0 || r.MaxNotionalFractionEquity > 1 {
		problems = append(problems, fmt.Sprintf("risk.max_notional_fraction_of_equity=%.4f outside (0, 1]", r.MaxNotionalFractionEquity))
	}
	if r.MinConfidence < 0 || r.MinConfidence > 1 {
		problems = append(problems, fmt.Sprintf("risk.min_confidence=%.4f outside [0, 1]", r.MinConfidence))
	}
	if r.MinRiskRewardRatio <= 0 {
		problems = append(problems, "risk.min_risk_reward_ratio must be positive")
	}
	if r.CorrelationCap <= 0 {
		problems = append(problems, "risk.correlation_cap must be at least 1")
	}
	if r.CorrelationDecay <= 0 || r.CorrelationDecay >= 1 {
		problems = append(problems, fmt.Sprintf("risk.correlation_decay=%.4f outside (0, 1)", r.CorrelationDecay))
	}
	if r.StopLossATRMultiplier <= 0 {
		problems = append(problems, "risk.stop_loss_atr_multiplier must be positive")
	}
	if r.TakeProfitMultiple <= 0 {
		problems = append(problems, "risk.take_profit_multiple must be positive")
	}
	if r.MinStopDistancePct <= 0 {
		problems = append(problems, "risk.min_stop_distance_pct must be positive")
	}
	if r.FreeMarginSafetyFactor <= 0 || r.FreeMarginSafetyFactor > 1 {
		problems = append(problems, fmt.Sprintf("risk.free_margin_safety_factor=%.4f outside (0, 1]", r.FreeMarginSafetyFactor))
	}
	switch strings.ToLower(r.MarginType) {
	case "cross", "isolated":
	default:
		problems = append(problems, fmt.Sprintf("risk.margin_type %q is not recognized", r.MarginType))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}
