package market

import "context"

// CandleSource retrieves recent candle history for a symbol/interval.
type CandleSource interface {
	Candles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}
