package advisor

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"traxis/internal/logger"
	"traxis/internal/market"
	"traxis/internal/signal"
)

// responseSchema is the minimum contract the provider must satisfy. Anything
// violating it degrades to "no signal from this source".
const responseSchema = `{
  "type": "object",
  "required": ["direction", "confidence"],
  "properties": {
    "direction": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "rationale": {"type": "string"}
  }
}`

var compiledSchema = jsonschema.MustCompileString("advisor_response.json", responseSchema)

// SignalSource adapts the analysis provider into the signal.Source interface,
// so the combiner treats it like any in-process evaluator. One instance is
// bound to a symbol/timeframe pair.
type SignalSource struct {
	client    Client
	symbol    string
	timeframe string
}

var _ signal.Source = (*SignalSource)(nil)

func NewSignalSource(client Client, symbol, timeframe string) *SignalSource {
	return &SignalSource{client: client, symbol: symbol, timeframe: timeframe}
}

func (s *SignalSource) Name() string { return "advisor" }

// Evaluate queries the provider. Transport failures surface as errors (the
// combiner absorbs them); malformed responses are logged and dropped.
func (s *SignalSource) Evaluate(ctx context.Context, candles []market.Candle) (*signal.Signal, error) {
	if s.client == nil || len(candles) == 0 {
		return nil, nil
	}
	raw, err := s.client.Analyze(ctx, Request{
		Symbol:       s.symbol,
		Timeframe:    s.timeframe,
		Candles:      candles,
		CurrentPrice: market.LastClose(candles),
	})
	if err != nil {
		return nil, err
	}
	return s.parse(raw), nil
}

func (s *SignalSource) parse(raw []byte) *signal.Signal {
	if !gjson.ValidBytes(raw) {
		logger.Warnf("advisor: response is not valid JSON, ignoring")
		return nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		logger.Warnf("advisor: decode failed: %v", err)
		return nil
	}
	if err := compiledSchema.Validate(doc); err != nil {
		logger.Warnf("advisor: response failed schema validation: %v", err)
		return nil
	}

	body := gjson.ParseBytes(raw)
	dir, ok := parseDirection(body.Get("direction").String())
	if !ok {
		logger.Warnf("advisor: unrecognized direction %q, ignoring", body.Get("direction").String())
		return nil
	}
	return &signal.Signal{
		Source:     s.Name(),
		Direction:  dir,
		Confidence: body.Get("confidence").Float(),
		Rationale:  body.Get("rationale").String(),
	}
}

// parseDirection tolerates the synonyms providers actually emit.
func parseDirection(s string) (signal.Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strong_long", "strong_buy":
		return signal.StrongLong, true
	case "long", "buy", "bullish":
		return signal.Long, true
	case "neutral", "hold", "wait":
		return signal.Neutral, true
	case "short", "sell", "bearish":
		return signal.Short, true
	case "strong_short", "strong_sell":
		return signal.StrongShort, true
	default:
		return signal.Neutral, false
	}
}
