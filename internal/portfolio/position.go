package portfolio

import (
	"time"
)

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// MarginType mirrors the exchange's margin mode per symbol.
type MarginType string

const (
	MarginCross    MarginType = "cross"
	MarginIsolated MarginType = "isolated"
)

// Position is the local view of one open (or retained closed) position.
// Mutated only through the Book so fills and reads serialize.
type Position struct {
	Symbol           string     `json:"symbol"`
	Side             Side       `json:"side"`
	EntryPrice       float64    `json:"entry_price"`
	Quantity         float64    `json:"quantity"`
	Leverage         int        `json:"leverage"`
	MarginType       MarginType `json:"margin_type"`
	LiquidationPrice float64    `json:"liquidation_price"`
	MarkPrice        float64    `json:"mark_price"`
	UnrealizedPnL    float64    `json:"unrealized_pnl"`
	StopLoss         float64    `json:"stop_loss"`
	TakeProfit       float64    `json:"take_profit"`
	OpenedAt         time.Time  `json:"opened_at"`
	ClosedAt         *time.Time `json:"closed_at,omitempty"`
	// Recovered marks positions adopted from the exchange during
	// reconciliation rather than opened by this process.
	Recovered bool `json:"recovered,omitempty"`
}

// Open reports whether the position still carries quantity.
func (p *Position) Open() bool { return p != nil && p.ClosedAt == nil && p.Quantity > 0 }

// Portfolio is a point-in-time aggregate the risk manager reads. It is a
// value copy; holding one never blocks writers.
type Portfolio struct {
	Equity        float64    `json:"equity"`
	FreeMargin    float64    `json:"free_margin"`
	RealizedPnL   float64    `json:"realized_pnl"`
	OpenPositions []Position `json:"open_positions"`
	SnapshotAt    time.Time  `json:"snapshot_at"`
}

// CountSide counts open positions sharing a direction, for correlation sizing.
func (p Portfolio) CountSide(side Side) int {
	n := 0
	for i := range p.OpenPositions {
		if p.OpenPositions[i].Side == side {
			n++
		}
	}
	return n
}
