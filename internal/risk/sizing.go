package risk

import (
	"github.com/shopspring/decimal"

	"traxis/internal/config"
	"traxis/internal/portfolio"
)

// size runs the sizing pipeline. The order matters: each step bounds the
// previous one. Every division by a market-derived distance is guarded by the
// volatility floor so flat-price data cannot blow up the position value.
func size(d Decision, in Input, cfg config.RiskConfig) Decision {
	entry := decimal.NewFromFloat(in.EntryPrice)
	d.Leverage = cfg.MaxLeverage

	// Step 1: stop-loss price. Explicit stop wins, otherwise derive from
	// volatility so the stop adapts to current conditions.
	stop := decimal.NewFromFloat(in.ExplicitStop)
	if !stop.IsPositive() {
		atrDist := decimal.NewFromFloat(in.ATR).Mul(decimal.NewFromFloat(cfg.StopLossATRMultiplier))
		if d.Side == portfolio.SideLong {
			stop = entry.Sub(atrDist)
		} else {
			stop = entry.Add(atrDist)
		}
	}
	if stop.IsNegative() {
		stop = decimal.Zero
	}

	// Step 2: stop distance with floor. Exactly at the floor the computed
	// stop is used; strictly below it the trade is un-sizeable by
	// volatility and takes the fixed default value instead.
	stopDist := entry.Sub(stop).Abs()
	stopDistPct := stopDist.Div(entry)
	floor := decimal.NewFromFloat(cfg.MinStopDistancePct)

	var value decimal.Decimal
	if stopDistPct.LessThan(floor) {
		if cfg.DefaultQuantityUSD <= 0 {
			return reject(d, RejectUnsizeable)
		}
		d.Adjustments = append(d.Adjustments, AdjustVolatilityFloor)
		value = decimal.NewFromFloat(cfg.DefaultQuantityUSD)
		// Widen the stop to the floor distance so the protective order is
		// not placed on top of the entry.
		stopDist = entry.Mul(floor)
		if d.Side == portfolio.SideLong {
			stop = entry.Sub(stopDist)
		} else {
			stop = entry.Add(stopDist)
		}
		stopDistPct = floor
	} else {
		// Step 3: risk budget over stop distance.
		riskBudget := decimal.NewFromFloat(in.Portfolio.Equity).Mul(decimal.NewFromFloat(cfg.RiskPerTradePct))
		value = riskBudget.Div(stopDistPct)

		// Step 4a: leverage expands the raw value.
		value = value.Mul(decimal.NewFromInt(int64(d.Leverage)))
	}

	// Step 4b: cap by usable free margin.
	marginCap := decimal.NewFromFloat(in.Portfolio.FreeMargin).
		Mul(decimal.NewFromFloat(cfg.FreeMarginSafetyFactor)).
		Mul(decimal.NewFromInt(int64(d.Leverage)))
	if value.GreaterThan(marginCap) {
		value = marginCap
		d.Adjustments = append(d.Adjustments, AdjustFreeMarginCap)
	}

	// Step 4c: notional ceiling as a fraction of equity.
	notionalCap := decimal.NewFromFloat(in.Portfolio.Equity).
		Mul(decimal.NewFromFloat(cfg.MaxNotionalFractionEquity))
	if value.GreaterThan(notionalCap) {
		value = notionalCap
		d.Adjustments = append(d.Adjustments, AdjustNotionalCap)
	}

	// Step 5: same-direction correlation multiplier.
	value = value.Mul(decimal.NewFromFloat(d.CorrelationMultiplier))

	// Step 6: quantity.
	qty := value.Div(entry)
	if !qty.IsPositive() {
		return reject(d, RejectUnsizeable)
	}

	// Step 7: take-profit at a multiple of the stop distance, preserving
	// the configured risk-reward.
	tpDist := stopDist.Mul(decimal.NewFromFloat(cfg.TakeProfitMultiple))
	var tp decimal.Decimal
	if d.Side == portfolio.SideLong {
		tp = entry.Add(tpDist)
	} else {
		tp = entry.Sub(tpDist)
	}

	d.Admit = true
	d.Quantity, _ = qty.Float64()
	d.StopLoss, _ = stop.Float64()
	d.TakeProfit, _ = tp.Float64()
	if stopDist.IsPositive() {
		d.RiskRewardRatio, _ = tpDist.Div(stopDist).Float64()
	}
	return d
}
