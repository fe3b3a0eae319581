package signal

import (
	"context"
	"sort"
	"sync"
	"time"

	"traxis/internal/market"
)

// Direction is a source's directional call, strongest to weakest.
type Direction string

const (
	StrongLong  Direction = "strong_long"
	Long        Direction = "long"
	Neutral     Direction = "neutral"
	Short       Direction = "short"
	StrongShort Direction = "strong_short"
)

// Score maps a direction onto a signed scale for weighted combination.
func (d Direction) Score() float64 {
	switch d {
	case StrongLong:
		return 2
	case Long:
		return 1
	case Short:
		return -1
	case StrongShort:
		return -2
	default:
		return 0
	}
}

// Bullish reports whether the direction is long-biased.
func (d Direction) Bullish() bool { return d == Long || d == StrongLong }

// Bearish reports whether the direction is short-biased.
func (d Direction) Bearish() bool { return d == Short || d == StrongShort }

// Signal is one evaluator's verdict over a candle window.
type Signal struct {
	Source     string    `json:"source"`
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"`
	Rationale  string    `json:"rationale"`
}

// Source evaluates a candle window into a Signal. Returning (nil, nil) means
// "no opinion", distinct from a Neutral verdict, which is a real opinion.
// Insufficient history must yield no signal, not a default-neutral one.
type Source interface {
	Name() string
	Evaluate(ctx context.Context, candles []market.Candle) (*Signal, error)
}

// Registry keeps Sources keyed by name so config can enable or disable them
// without touching the combiner.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

func (r *Registry) Register(src Source) {
	if src == nil {
		return
	}
	r.mu.Lock()
	r.sources[src.Name()] = src
	r.mu.Unlock()
}

// Enabled returns the registered sources matching names, in stable order.
// Unknown names are skipped.
func (r *Registry) Enabled(names []string) []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Source, 0, len(names))
	for _, name := range names {
		if src, ok := r.sources[name]; ok {
			out = append(out, src)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func now() time.Time { return time.Now().UTC() }
