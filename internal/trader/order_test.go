package trader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"traxis/internal/exchange"
)

func TestCanTransition(t *testing.T) {
	legal := []struct{ from, to OrderStatus }{
		{StatusPending, StatusNew},
		{StatusPending, StatusRejected},
		{StatusNew, StatusPartiallyFilled},
		{StatusNew, StatusFilled},
		{StatusNew, StatusCanceled},
		{StatusNew, StatusExpired},
		{StatusPartiallyFilled, StatusFilled},
		{StatusPartiallyFilled, StatusCanceled},
		{StatusPartiallyFilled, StatusPartiallyFilled},
	}
	for _, tc := range legal {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s should be legal", tc.from, tc.to)
	}

	illegal := []struct{ from, to OrderStatus }{
		{StatusPending, StatusFilled},
		{StatusNew, StatusPending},
		{StatusFilled, StatusCanceled},
		{StatusFilled, StatusFilled},
		{StatusCanceled, StatusFilled},
		{StatusRejected, StatusNew},
		{StatusExpired, StatusFilled},
		{StatusPartiallyFilled, StatusExpired},
		{StatusPartiallyFilled, StatusNew},
	}
	for _, tc := range illegal {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s should be illegal", tc.from, tc.to)
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []OrderStatus{StatusFilled, StatusCanceled, StatusRejected, StatusExpired} {
		assert.True(t, s.Terminal())
	}
	for _, s := range []OrderStatus{StatusPending, StatusNew, StatusPartiallyFilled} {
		assert.False(t, s.Terminal())
	}
}

func newTestOrder() *Order {
	return &Order{
		ClientOrderID: "tx-test",
		Symbol:        "BTCUSDT",
		Side:          exchange.Buy,
		PositionSide:  exchange.PositionLong,
		Type:          exchange.Market,
		Quantity:      1.0,
		Status:        StatusNew,
		CreatedAt:     time.Now(),
	}
}

func report(status string, executed, lastQty, lastPrice float64) exchange.ExecutionReport {
	return exchange.ExecutionReport{
		OrderID:         "900",
		ClientOrderID:   "tx-test",
		Symbol:          "BTCUSDT",
		Status:          status,
		Quantity:        1.0,
		ExecutedQty:     executed,
		LastFilledQty:   lastQty,
		LastFilledPrice: lastPrice,
		Side:            exchange.Buy,
		PositionSide:    exchange.PositionLong,
		EventTime:       time.Now(),
	}
}

func TestApplyReportPartialFillsThenCancel(t *testing.T) {
	o := newTestOrder()

	fill, price, err := o.applyReport(report("PARTIALLY_FILLED", 0.4, 0.4, 50000))
	assert.NoError(t, err)
	assert.InDelta(t, 0.4, fill, 1e-9)
	assert.InDelta(t, 50000, price, 1e-9)
	assert.Equal(t, StatusPartiallyFilled, o.Status)

	fill, price, err = o.applyReport(report("PARTIALLY_FILLED", 0.7, 0.3, 50100))
	assert.NoError(t, err)
	assert.InDelta(t, 0.3, fill, 1e-9)
	assert.InDelta(t, 50100, price, 1e-9)
	assert.InDelta(t, 0.7, o.ExecutedQuantity, 1e-9)

	// Cancel arrives with no further fills: executed quantity stays 0.7.
	fill, _, err = o.applyReport(report("CANCELED", 0.7, 0, 0))
	assert.NoError(t, err)
	assert.Zero(t, fill)
	assert.Equal(t, StatusCanceled, o.Status)
	assert.InDelta(t, 0.7, o.ExecutedQuantity, 1e-9)

	// Terminal is absorbing: nothing moves the order afterwards.
	_, _, err = o.applyReport(report("FILLED", 1.0, 0.3, 50200))
	assert.Error(t, err)
	assert.Equal(t, StatusCanceled, o.Status)
	assert.InDelta(t, 0.7, o.ExecutedQuantity, 1e-9)
}

func TestApplyReportRejectsBackwardExecutedQty(t *testing.T) {
	o := newTestOrder()
	_, _, err := o.applyReport(report("PARTIALLY_FILLED", 0.5, 0.5, 50000))
	assert.NoError(t, err)

	_, _, err = o.applyReport(report("PARTIALLY_FILLED", 0.3, 0, 0))
	assert.Error(t, err)
	assert.InDelta(t, 0.5, o.ExecutedQuantity, 1e-9)
}

func TestApplyReportRejectsOverfill(t *testing.T) {
	o := newTestOrder()
	_, _, err := o.applyReport(report("FILLED", 1.5, 1.5, 50000))
	assert.Error(t, err)
	assert.Equal(t, StatusNew, o.Status)
}

func TestApplyReportImplicitAck(t *testing.T) {
	// A fill can outrun the placement response; PENDING accepts it through
	// the implicit NEW step.
	o := newTestOrder()
	o.Status = StatusPending

	fill, _, err := o.applyReport(report("FILLED", 1.0, 1.0, 50000))
	assert.NoError(t, err)
	assert.InDelta(t, 1.0, fill, 1e-9)
	assert.Equal(t, StatusFilled, o.Status)
}

func TestApplyReportAveragesFillPrice(t *testing.T) {
	o := newTestOrder()
	_, _, err := o.applyReport(report("PARTIALLY_FILLED", 0.5, 0.5, 50000))
	assert.NoError(t, err)
	_, _, err = o.applyReport(report("FILLED", 1.0, 0.5, 51000))
	assert.NoError(t, err)
	assert.InDelta(t, 50500, o.AvgFillPrice, 1e-6)
}
