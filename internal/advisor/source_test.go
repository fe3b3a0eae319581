package advisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"traxis/internal/market"
	"traxis/internal/signal"
)

type stubClient struct {
	raw []byte
	err error
}

func (c *stubClient) Analyze(_ context.Context, _ Request) ([]byte, error) {
	return c.raw, c.err
}

func candleWindow() []market.Candle {
	return []market.Candle{{
		OpenTime: time.Now().Add(-time.Hour).UnixMilli(),
		Open:     50000, High: 50500, Low: 49800, Close: 50200, Volume: 12,
	}}
}

func TestEvaluateParsesWellFormedResponse(t *testing.T) {
	src := NewSignalSource(&stubClient{raw: []byte(`{
		"direction": "long",
		"confidence": 0.72,
		"rationale": "higher lows on rising volume"
	}`)}, "BTCUSDT", "15m")

	sig, err := src.Evaluate(context.Background(), candleWindow())
	assert.NoError(t, err)
	assert.NotNil(t, sig)
	assert.Equal(t, "advisor", sig.Source)
	assert.Equal(t, signal.Long, sig.Direction)
	assert.InDelta(t, 0.72, sig.Confidence, 1e-9)
	assert.Equal(t, "higher lows on rising volume", sig.Rationale)
}

func TestEvaluatePropagatesTransportError(t *testing.T) {
	src := NewSignalSource(&stubClient{err: errors.New("502 bad gateway")}, "BTCUSDT", "15m")
	sig, err := src.Evaluate(context.Background(), candleWindow())
	assert.Error(t, err)
	assert.Nil(t, sig)
}

func TestEvaluateNoClientOrNoCandles(t *testing.T) {
	src := NewSignalSource(nil, "BTCUSDT", "15m")
	sig, err := src.Evaluate(context.Background(), candleWindow())
	assert.NoError(t, err)
	assert.Nil(t, sig)

	src = NewSignalSource(&stubClient{}, "BTCUSDT", "15m")
	sig, err = src.Evaluate(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, sig)
}

func TestEvaluateDropsMalformedResponses(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `<html>rate limited</html>`},
		{"missing direction", `{"confidence": 0.8}`},
		{"missing confidence", `{"direction": "long"}`},
		{"confidence above one", `{"direction": "long", "confidence": 1.4}`},
		{"confidence not a number", `{"direction": "long", "confidence": "high"}`},
		{"unknown direction", `{"direction": "sideways-ish", "confidence": 0.5}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := NewSignalSource(&stubClient{raw: []byte(tc.raw)}, "BTCUSDT", "15m")
			sig, err := src.Evaluate(context.Background(), candleWindow())
			assert.NoError(t, err)
			assert.Nil(t, sig)
		})
	}
}

func TestParseDirectionSynonyms(t *testing.T) {
	cases := map[string]signal.Direction{
		"long":         signal.Long,
		"BUY":          signal.Long,
		"bullish":      signal.Long,
		"strong_buy":   signal.StrongLong,
		"hold":         signal.Neutral,
		"wait":         signal.Neutral,
		"sell":         signal.Short,
		"bearish":      signal.Short,
		"strong_sell":  signal.StrongShort,
		"strong_short": signal.StrongShort,
	}
	for in, want := range cases {
		dir, ok := parseDirection(in)
		assert.True(t, ok, "input %q", in)
		assert.Equal(t, want, dir, "input %q", in)
	}

	_, ok := parseDirection("diagonal")
	assert.False(t, ok)
}
