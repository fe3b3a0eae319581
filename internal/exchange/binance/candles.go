package binance

import (
	"context"

	"traxis/internal/market"
)

// Candles fetches recent klines so the Adapter doubles as the engine's
// candle source.
func (a *Adapter) Candles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 200
	}
	rows, err := a.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, classify(err)
	}
	out := make([]market.Candle, 0, len(rows))
	for _, k := range rows {
		out = append(out, market.Candle{
			OpenTime:  k.OpenTime,
			CloseTime: k.CloseTime,
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
			Trades:    k.TradeNum,
		})
	}
	return out, nil
}

var _ market.CandleSource = (*Adapter)(nil)
