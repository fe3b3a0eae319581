package portfolio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyFillOpensAndAverages(t *testing.T) {
	b := NewBook()
	b.SetBalance(10000, 8000)

	pos := b.ApplyFill(FillDelta{
		Symbol: "BTCUSDT", Side: SideLong,
		Quantity: 0.01, Price: 50000,
		Leverage: 5, MarginType: MarginIsolated,
		StopLoss: 49000, TakeProfit: 52000,
	})
	assert.InDelta(t, 0.01, pos.Quantity, 1e-12)
	assert.InDelta(t, 50000, pos.EntryPrice, 1e-9)
	assert.Equal(t, 5, pos.Leverage)

	// Second fill at a higher price moves the entry to the weighted average.
	pos = b.ApplyFill(FillDelta{
		Symbol: "BTCUSDT", Side: SideLong,
		Quantity: 0.03, Price: 51000,
	})
	assert.InDelta(t, 0.04, pos.Quantity, 1e-12)
	assert.InDelta(t, 50750, pos.EntryPrice, 1e-9)
	// Protective levels survive an increase that carries none.
	assert.InDelta(t, 49000, pos.StopLoss, 1e-9)
	assert.InDelta(t, 52000, pos.TakeProfit, 1e-9)
}

func TestApplyFillReduceRealizesPnL(t *testing.T) {
	b := NewBook()
	b.SetBalance(10000, 8000)
	b.ApplyFill(FillDelta{Symbol: "BTCUSDT", Side: SideLong, Quantity: 0.04, Price: 50000})

	pos := b.ApplyFill(FillDelta{
		Symbol: "BTCUSDT", Side: SideLong,
		Quantity: 0.01, Price: 51000, Reduce: true,
	})
	assert.InDelta(t, 0.03, pos.Quantity, 1e-12)

	snap := b.Snapshot()
	assert.InDelta(t, 10, snap.RealizedPnL, 1e-9)
	assert.InDelta(t, 10010, snap.Equity, 1e-9)
}

func TestApplyFillReduceToZeroClosesPosition(t *testing.T) {
	b := NewBook()
	b.ApplyFill(FillDelta{Symbol: "ETHUSDT", Side: SideShort, Quantity: 2, Price: 3000})

	pos := b.ApplyFill(FillDelta{
		Symbol: "ETHUSDT", Side: SideShort,
		Quantity: 2, Price: 2900, Reduce: true,
	})
	assert.False(t, pos.Open())
	assert.NotNil(t, pos.ClosedAt)

	_, ok := b.Get("ETHUSDT", SideShort)
	assert.False(t, ok)

	closed := b.ClosedPositions()
	assert.Len(t, closed, 1)
	assert.Equal(t, "ETHUSDT", closed[0].Symbol)
	// Short closed 100 below entry realizes 200.
	assert.InDelta(t, 200, b.Snapshot().RealizedPnL, 1e-9)
}

func TestApplyFillOverReduceClamps(t *testing.T) {
	b := NewBook()
	b.ApplyFill(FillDelta{Symbol: "BTCUSDT", Side: SideLong, Quantity: 0.02, Price: 50000})

	pos := b.ApplyFill(FillDelta{
		Symbol: "BTCUSDT", Side: SideLong,
		Quantity: 0.05, Price: 50500, Reduce: true,
	})
	assert.False(t, pos.Open())
	// PnL covers only the quantity actually held.
	assert.InDelta(t, 10, b.Snapshot().RealizedPnL, 1e-9)
}

func TestApplyFillReduceWithoutPositionIgnored(t *testing.T) {
	b := NewBook()
	pos := b.ApplyFill(FillDelta{
		Symbol: "BTCUSDT", Side: SideLong,
		Quantity: 0.01, Price: 50000, Reduce: true,
	})
	assert.False(t, pos.Open())
	assert.Zero(t, b.Snapshot().RealizedPnL)
}

func TestHedgeModeSidesAreIndependent(t *testing.T) {
	b := NewBook()
	b.ApplyFill(FillDelta{Symbol: "BTCUSDT", Side: SideLong, Quantity: 0.01, Price: 50000})
	b.ApplyFill(FillDelta{Symbol: "BTCUSDT", Side: SideShort, Quantity: 0.02, Price: 50100})

	long, ok := b.Get("BTCUSDT", SideLong)
	assert.True(t, ok)
	short, ok := b.Get("BTCUSDT", SideShort)
	assert.True(t, ok)
	assert.InDelta(t, 0.01, long.Quantity, 1e-12)
	assert.InDelta(t, 0.02, short.Quantity, 1e-12)
	assert.Len(t, b.Snapshot().OpenPositions, 2)
}

func TestUpdateMarkRefreshesUnrealized(t *testing.T) {
	b := NewBook()
	b.ApplyFill(FillDelta{Symbol: "BTCUSDT", Side: SideLong, Quantity: 0.04, Price: 50000})

	b.UpdateMark("BTCUSDT", SideLong, 51000)
	pos, _ := b.Get("BTCUSDT", SideLong)
	assert.InDelta(t, 51000, pos.MarkPrice, 1e-9)
	assert.InDelta(t, 40, pos.UnrealizedPnL, 1e-9)

	// No position on the other side, call is a no-op.
	b.UpdateMark("BTCUSDT", SideShort, 51000)
}

func TestReconcileOpen(t *testing.T) {
	at := time.Now().UTC()

	t.Run("adopts exchange-only", func(t *testing.T) {
		b := NewBook()
		diffs := b.ReconcileOpen([]Position{{
			Symbol: "BTCUSDT", Side: SideLong, Quantity: 0.04, EntryPrice: 50000,
		}}, at)
		assert.Equal(t, 1, diffs)
		pos, ok := b.Get("BTCUSDT", SideLong)
		assert.True(t, ok)
		assert.True(t, pos.Recovered)
	})

	t.Run("closes local-only", func(t *testing.T) {
		b := NewBook()
		b.ApplyFill(FillDelta{Symbol: "BTCUSDT", Side: SideLong, Quantity: 0.04, Price: 50000})
		diffs := b.ReconcileOpen(nil, at)
		assert.Equal(t, 1, diffs)
		_, ok := b.Get("BTCUSDT", SideLong)
		assert.False(t, ok)
		assert.Len(t, b.ClosedPositions(), 1)
	})

	t.Run("overwrites divergent quantity", func(t *testing.T) {
		b := NewBook()
		b.ApplyFill(FillDelta{Symbol: "BTCUSDT", Side: SideLong, Quantity: 0.04, Price: 50000})
		diffs := b.ReconcileOpen([]Position{{
			Symbol: "BTCUSDT", Side: SideLong, Quantity: 0.05, EntryPrice: 50000,
		}}, at)
		assert.Equal(t, 1, diffs)
		pos, _ := b.Get("BTCUSDT", SideLong)
		assert.InDelta(t, 0.05, pos.Quantity, 1e-12)
	})

	t.Run("matching state reports zero diffs", func(t *testing.T) {
		b := NewBook()
		b.ApplyFill(FillDelta{Symbol: "BTCUSDT", Side: SideLong, Quantity: 0.04, Price: 50000})
		diffs := b.ReconcileOpen([]Position{{
			Symbol: "BTCUSDT", Side: SideLong, Quantity: 0.04, EntryPrice: 50000,
		}}, at)
		assert.Zero(t, diffs)
		pos, _ := b.Get("BTCUSDT", SideLong)
		assert.False(t, pos.Recovered)
	})
}
