package portfolio

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"traxis/internal/logger"
)

// Book holds the canonical position and balance state. Every mutation runs
// under its lock for the duration of one logical update; the order lifecycle
// manager applies an order's fill and its position delta inside a single
// ApplyFill call so no reader can observe one without the other.
type Book struct {
	mu        sync.Mutex
	equity    float64
	free      float64
	realized  float64
	open      map[string]*Position // keyed symbol|side
	closed    []Position
	updatedAt time.Time
}

func NewBook() *Book {
	return &Book{open: make(map[string]*Position)}
}

func key(symbol string, side Side) string { return symbol + "|" + string(side) }

// SetBalance overwrites the account balances, normally from exchange truth.
func (b *Book) SetBalance(equity, freeMargin float64) {
	b.mu.Lock()
	b.equity = equity
	b.free = freeMargin
	b.updatedAt = time.Now()
	b.mu.Unlock()
}

// FillDelta describes one execution's effect on a position.
type FillDelta struct {
	Symbol     string
	Side       Side // direction of the POSITION the fill belongs to
	Quantity   float64
	Price      float64
	Reduce     bool // true when the fill shrinks the position
	Leverage   int
	MarginType MarginType
	StopLoss   float64
	TakeProfit float64
	Recovered  bool
	At         time.Time
}

// ApplyFill applies one fill's position delta and returns the resulting
// position snapshot. Quantity math runs through decimals so repeated partial
// fills do not drift.
func (b *Book) ApplyFill(d FillDelta) Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	if d.At.IsZero() {
		d.At = time.Now().UTC()
	}
	k := key(d.Symbol, d.Side)
	pos := b.open[k]

	if d.Reduce {
		if pos == nil || !pos.Open() {
			logger.Warnf("book: reduce fill for %s %s with no open position, ignoring delta", d.Symbol, d.Side)
			return Position{Symbol: d.Symbol, Side: d.Side}
		}
		b.reduce(pos, d)
		if !pos.Open() {
			closedAt := d.At
			pos.ClosedAt = &closedAt
			b.closed = append(b.closed, *pos)
			delete(b.open, k)
		}
		b.updatedAt = d.At
		return *pos
	}

	if pos == nil || !pos.Open() {
		pos = &Position{
			Symbol:     d.Symbol,
			Side:       d.Side,
			EntryPrice: d.Price,
			Quantity:   d.Quantity,
			Leverage:   d.Leverage,
			MarginType: d.MarginType,
			MarkPrice:  d.Price,
			StopLoss:   d.StopLoss,
			TakeProfit: d.TakeProfit,
			OpenedAt:   d.At,
			Recovered:  d.Recovered,
		}
		b.open[k] = pos
		b.updatedAt = d.At
		return *pos
	}

	// Increase: entry becomes the quantity-weighted average.
	oldQty := decimal.NewFromFloat(pos.Quantity)
	addQty := decimal.NewFromFloat(d.Quantity)
	newQty := oldQty.Add(addQty)
	if newQty.IsPositive() {
		oldNotional := oldQty.Mul(decimal.NewFromFloat(pos.EntryPrice))
		addNotional := addQty.Mul(decimal.NewFromFloat(d.Price))
		entry, _ := oldNotional.Add(addNotional).Div(newQty).Float64()
		pos.EntryPrice = entry
	}
	pos.Quantity, _ = newQty.Float64()
	pos.MarkPrice = d.Price
	if d.StopLoss > 0 {
		pos.StopLoss = d.StopLoss
	}
	if d.TakeProfit > 0 {
		pos.TakeProfit = d.TakeProfit
	}
	b.updatedAt = d.At
	return *pos
}

func (b *Book) reduce(pos *Position, d FillDelta) {
	qty := decimal.NewFromFloat(pos.Quantity)
	cut := decimal.NewFromFloat(d.Quantity)
	if cut.GreaterThan(qty) {
		logger.Warnf("book: reduce %s %s by %.8f exceeds held %.8f, clamping", d.Symbol, d.Side, d.Quantity, pos.Quantity)
		cut = qty
	}

	entry := decimal.NewFromFloat(pos.EntryPrice)
	price := decimal.NewFromFloat(d.Price)
	var pnl decimal.Decimal
	if pos.Side == SideLong {
		pnl = price.Sub(entry).Mul(cut)
	} else {
		pnl = entry.Sub(price).Mul(cut)
	}
	realized, _ := pnl.Float64()
	b.realized += realized
	b.equity += realized

	pos.Quantity, _ = qty.Sub(cut).Float64()
	pos.MarkPrice = d.Price
	if pos.Quantity < 0 {
		pos.Quantity = 0
	}
}

// UpdateMark refreshes mark price and unrealized PnL for an open position.
func (b *Book) UpdateMark(symbol string, side Side, markPrice float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.open[key(symbol, side)]
	if !ok || !pos.Open() {
		return
	}
	pos.MarkPrice = markPrice
	qty := decimal.NewFromFloat(pos.Quantity)
	entry := decimal.NewFromFloat(pos.EntryPrice)
	mark := decimal.NewFromFloat(markPrice)
	var pnl decimal.Decimal
	if pos.Side == SideLong {
		pnl = mark.Sub(entry).Mul(qty)
	} else {
		pnl = entry.Sub(mark).Mul(qty)
	}
	pos.UnrealizedPnL, _ = pnl.Float64()
}

// Adopt inserts an exchange-reported position missing locally, flagged as
// recovered for audit.
func (b *Book) Adopt(pos Position) {
	pos.Recovered = true
	if pos.OpenedAt.IsZero() {
		pos.OpenedAt = time.Now().UTC()
	}
	b.mu.Lock()
	cp := pos
	b.open[key(pos.Symbol, pos.Side)] = &cp
	b.updatedAt = time.Now()
	b.mu.Unlock()
}

// ReconcileOpen replaces the open-position set with exchange truth and
// returns how many entries disagreed. Exchange-only positions are adopted
// with the recovered flag, local-only positions are closed at their last
// mark, and quantity or entry mismatches are overwritten in place.
func (b *Book) ReconcileOpen(truth []Position, at time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	diffs := 0
	seen := make(map[string]bool, len(truth))
	for _, tp := range truth {
		k := key(tp.Symbol, tp.Side)
		seen[k] = true
		local, ok := b.open[k]
		if !ok || !local.Open() {
			cp := tp
			cp.Recovered = true
			if cp.OpenedAt.IsZero() {
				cp.OpenedAt = at
			}
			b.open[k] = &cp
			diffs++
			logger.Warnf("book: adopted exchange-only position %s %s qty=%.8f", tp.Symbol, tp.Side, tp.Quantity)
			continue
		}
		if !closeEnough(local.Quantity, tp.Quantity) || !closeEnough(local.EntryPrice, tp.EntryPrice) {
			logger.Warnf("book: position %s %s diverged (local qty=%.8f entry=%.4f, exchange qty=%.8f entry=%.4f), taking exchange truth",
				tp.Symbol, tp.Side, local.Quantity, local.EntryPrice, tp.Quantity, tp.EntryPrice)
			local.Quantity = tp.Quantity
			local.EntryPrice = tp.EntryPrice
			local.MarkPrice = tp.MarkPrice
			local.UnrealizedPnL = tp.UnrealizedPnL
			local.LiquidationPrice = tp.LiquidationPrice
			diffs++
		}
	}

	for k, local := range b.open {
		if seen[k] || !local.Open() {
			continue
		}
		logger.Warnf("book: position %s %s missing on exchange, closing locally", local.Symbol, local.Side)
		closedAt := at
		local.ClosedAt = &closedAt
		local.Quantity = 0
		b.closed = append(b.closed, *local)
		delete(b.open, k)
		diffs++
	}

	if diffs > 0 {
		b.updatedAt = at
	}
	return diffs
}

func closeEnough(a, b float64) bool {
	d := a - b
	return d < 1e-8 && d > -1e-8
}

// Get returns a copy of the open position for symbol/side.
func (b *Book) Get(symbol string, side Side) (Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.open[key(symbol, side)]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Snapshot builds the point-in-time aggregate the risk manager consumes.
func (b *Book) Snapshot() Portfolio {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := Portfolio{
		Equity:      b.equity,
		FreeMargin:  b.free,
		RealizedPnL: b.realized,
		SnapshotAt:  time.Now().UTC(),
	}
	for _, pos := range b.open {
		if pos.Open() {
			out.OpenPositions = append(out.OpenPositions, *pos)
		}
	}
	return out
}

// ClosedPositions copies the retained closed positions, oldest first.
func (b *Book) ClosedPositions() []Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Position, len(b.closed))
	copy(out, b.closed)
	return out
}
