package config

import "strings"

// Config is the main configuration carrier for the engine.
type Config struct {
	App        AppConfig        `toml:"app"`
	Market     MarketConfig     `toml:"market"`
	Signals    SignalsConfig    `toml:"signals"`
	Advisor    AdvisorConfig    `toml:"advisor"`
	Risk       RiskConfig       `toml:"risk"`
	Exchange   ExchangeConfig   `toml:"exchange"`
	Resilience ResilienceConfig `toml:"resilience"`
	Store      StoreConfig      `toml:"store"`
	Metrics    MetricsConfig    `toml:"metrics"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
}

type MarketConfig struct {
	Symbols           []string `toml:"symbols"`
	Timeframe         string   `toml:"timeframe"`
	RegimeTimeframe   string   `toml:"regime_timeframe"`
	CandleLookback    int      `toml:"candle_lookback"`
	RegimeLookback    int      `toml:"regime_lookback"`
	VolatileThreshold float64  `toml:"volatile_threshold"`
	TrendDeviationPct float64  `toml:"trend_deviation_pct"`
}

// SignalsConfig selects the enabled sources and how their verdicts combine.
type SignalsConfig struct {
	Enabled         []string       `toml:"enabled"`
	CombinationMode string         `toml:"combination_mode"` // weighted_average | consensus | max_confidence | unanimous
	Momentum        MomentumConfig `toml:"momentum"`
	TrendCross      TrendConfig    `toml:"trend_cross"`
	Breakout        BreakoutConfig `toml:"breakout"`
	Volume          VolumeConfig   `toml:"volume"`
	HighConfidence  float64        `toml:"high_confidence"` // risk level tier boundaries
	LowConfidence   float64        `toml:"low_confidence"`
}

type MomentumConfig struct {
	Period     int     `toml:"period"`
	Oversold   float64 `toml:"oversold"`
	Overbought float64 `toml:"overbought"`
}

type TrendConfig struct {
	FastPeriod int `toml:"fast_period"`
	SlowPeriod int `toml:"slow_period"`
}

type BreakoutConfig struct {
	Period int     `toml:"period"`
	StdDev float64 `toml:"std_dev"`
}

type VolumeConfig struct {
	Lookback int     `toml:"lookback"`
	SpikeZ   float64 `toml:"spike_z"`
}

// AdvisorConfig describes the external market-analysis provider.
type AdvisorConfig struct {
	Enabled        bool   `toml:"enabled"`
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// RiskConfig holds every knob the risk manager reads. One snapshot of this
// struct backs a single decision end to end.
type RiskConfig struct {
	TradingEnabled            bool    `toml:"trading_enabled"`
	RiskPerTradePct           float64 `toml:"risk_per_trade_pct"`
	MaxLeverage               int     `toml:"max_leverage"`
	MaxNotionalFractionEquity float64 `toml:"max_notional_fraction_of_equity"`
	MinConfidence             float64 `toml:"min_confidence"`
	MinRiskRewardRatio        float64 `toml:"min_risk_reward_ratio"`
	CorrelationCap            int     `toml:"correlation_cap"`
	CorrelationDecay          float64 `toml:"correlation_decay"`
	StopLossATRMultiplier     float64 `toml:"stop_loss_atr_multiplier"`
	ATRPeriod                 int     `toml:"atr_period"`
	TakeProfitMultiple        float64 `toml:"take_profit_multiple"`
	MinStopDistancePct        float64 `toml:"min_stop_distance_pct"`
	DefaultQuantityUSD        float64 `toml:"default_quantity_usd"`
	FreeMarginSafetyFactor    float64 `toml:"free_margin_safety_factor"`
	MarginType                string  `toml:"margin_type"` // cross | isolated
}

type ExchangeConfig struct {
	Name           string `toml:"name"`
	APIKey         string `toml:"api_key"`
	APISecret      string `toml:"api_secret"`
	Testnet        bool   `toml:"testnet"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type ResilienceConfig struct {
	FailureThreshold     int `toml:"failure_threshold"`
	DowntimeTripSeconds  int `toml:"downtime_trip_seconds"`
	BackoffBaseMillis    int `toml:"backoff_base_millis"`
	BackoffCeilingMillis int `toml:"backoff_ceiling_millis"`
	ReconcileSeconds     int `toml:"reconcile_seconds"`
}

type StoreConfig struct {
	Path                    string `toml:"path"`
	SnapshotIntervalSeconds int    `toml:"snapshot_interval_seconds"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = ":8792"
	}
	if c.Market.Timeframe == "" {
		c.Market.Timeframe = "1h"
	}
	if c.Market.RegimeTimeframe == "" {
		c.Market.RegimeTimeframe = "1d"
	}
	if c.Market.CandleLookback <= 0 {
		c.Market.CandleLookback = 200
	}
	if c.Market.RegimeLookback <= 0 {
		c.Market.RegimeLookback = 20
	}
	if c.Signals.CombinationMode == "" {
		c.Signals.CombinationMode = "weighted_average"
	}
	if len(c.Signals.Enabled) == 0 {
		c.Signals.Enabled = []string{"momentum", "trend_cross", "breakout", "volume"}
	}
	if c.Signals.HighConfidence <= 0 {
		c.Signals.HighConfidence = 0.75
	}
	if c.Signals.LowConfidence <= 0 {
		c.Signals.LowConfidence = 0.45
	}
	if c.Advisor.TimeoutSeconds <= 0 {
		c.Advisor.TimeoutSeconds = 30
	}
	if c.Risk.RiskPerTradePct <= 0 {
		c.Risk.RiskPerTradePct = 0.01
	}
	if c.Risk.MaxLeverage <= 0 {
		c.Risk.MaxLeverage = 5
	}
	if c.Risk.MaxNotionalFractionEquity <= 0 {
		c.Risk.MaxNotionalFractionEquity = 0.20
	}
	if c.Risk.MinConfidence <= 0 {
		c.Risk.MinConfidence = 0.60
	}
	if c.Risk.MinRiskRewardRatio <= 0 {
		c.Risk.MinRiskRewardRatio = 1.5
	}
	if c.Risk.CorrelationCap <= 0 {
		c.Risk.CorrelationCap = 3
	}
	if c.Risk.CorrelationDecay <= 0 {
		c.Risk.CorrelationDecay = 0.5
	}
	if c.Risk.StopLossATRMultiplier <= 0 {
		c.Risk.StopLossATRMultiplier = 2.0
	}
	if c.Risk.ATRPeriod <= 0 {
		c.Risk.ATRPeriod = 14
	}
	if c.Risk.TakeProfitMultiple <= 0 {
		c.Risk.TakeProfitMultiple = 2.0
	}
	if c.Risk.MinStopDistancePct <= 0 {
		c.Risk.MinStopDistancePct = 0.005
	}
	if c.Risk.FreeMarginSafetyFactor <= 0 {
		c.Risk.FreeMarginSafetyFactor = 0.95
	}
	if c.Risk.MarginType == "" {
		c.Risk.MarginType = "isolated"
	}
	if c.Exchange.Name == "" {
		c.Exchange.Name = "binance"
	}
	if c.Exchange.TimeoutSeconds <= 0 {
		c.Exchange.TimeoutSeconds = 10
	}
	if c.Resilience.FailureThreshold <= 0 {
		c.Resilience.FailureThreshold = 5
	}
	if c.Resilience.DowntimeTripSeconds <= 0 {
		c.Resilience.DowntimeTripSeconds = 45
	}
	if c.Resilience.BackoffBaseMillis <= 0 {
		c.Resilience.BackoffBaseMillis = 1000
	}
	if c.Resilience.BackoffCeilingMillis <= 0 {
		c.Resilience.BackoffCeilingMillis = 60000
	}
	if c.Resilience.ReconcileSeconds <= 0 {
		c.Resilience.ReconcileSeconds = 30
	}
	if c.Store.Path == "" {
		c.Store.Path = "data/traxis.db"
	}
	if c.Store.SnapshotIntervalSeconds <= 0 {
		c.Store.SnapshotIntervalSeconds = 300
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9109"
	}
	for i, s := range c.Market.Symbols {
		c.Market.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
}
