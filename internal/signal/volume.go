package signal

import (
	"context"
	"fmt"
	"math"

	"traxis/internal/market"
)

// VolumeAnomalySource flags abnormal volume. A spike confirms the candle's
// direction; normal volume is a genuine Neutral verdict.
type VolumeAnomalySource struct {
	Lookback int
	SpikeZ   float64
}

func NewVolumeAnomalySource(lookback int, spikeZ float64) *VolumeAnomalySource {
	if lookback <= 0 {
		lookback = 20
	}
	if spikeZ <= 0 {
		spikeZ = 2.0
	}
	return &VolumeAnomalySource{Lookback: lookback, SpikeZ: spikeZ}
}

func (s *VolumeAnomalySource) Name() string { return "volume" }

func (s *VolumeAnomalySource) Evaluate(_ context.Context, candles []market.Candle) (*Signal, error) {
	if len(candles) <= s.Lookback {
		return nil, nil
	}
	window := candles[len(candles)-1-s.Lookback : len(candles)-1]
	last := candles[len(candles)-1]

	var sum, sumSq float64
	for _, c := range window {
		sum += c.Volume
		sumSq += c.Volume * c.Volume
	}
	n := float64(len(window))
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	std := math.Sqrt(variance)
	if std == 0 {
		// Identical volumes across the window carry no anomaly information.
		return nil, nil
	}
	z := (last.Volume - mean) / std

	sig := &Signal{Source: s.Name(), Direction: Neutral}
	if z >= s.SpikeZ {
		conf := clampConfidence(0.5 + (z-s.SpikeZ)/(2*s.SpikeZ))
		switch {
		case last.Close > last.Open:
			sig.Direction = Long
			sig.Confidence = conf
		case last.Close < last.Open:
			sig.Direction = Short
			sig.Confidence = conf
		default:
			sig.Confidence = 0.3
		}
	} else {
		sig.Confidence = 0.3
	}
	sig.Rationale = fmt.Sprintf("volume z=%.2f mean=%.2f last=%.2f spike_at=%.1f", z, mean, last.Volume, s.SpikeZ)
	return sig, nil
}
