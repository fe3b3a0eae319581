package trader

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"traxis/internal/exchange"
	"traxis/internal/pkg/circuit"
	"traxis/internal/portfolio"
	"traxis/internal/risk"
)

type mockExchange struct {
	mock.Mock
}

func (m *mockExchange) Name() string { return "mock" }

func (m *mockExchange) PlaceOrder(ctx context.Context, spec exchange.OrderSpec) (exchange.Ack, error) {
	args := m.Called(ctx, spec)
	return args.Get(0).(exchange.Ack), args.Error(1)
}

func (m *mockExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	args := m.Called(ctx, symbol, orderID)
	return args.Error(0)
}

func (m *mockExchange) QueryOrder(ctx context.Context, symbol, orderID string) (exchange.OrderState, error) {
	args := m.Called(ctx, symbol, orderID)
	return args.Get(0).(exchange.OrderState), args.Error(1)
}

func (m *mockExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	args := m.Called(ctx, symbol, leverage)
	return args.Error(0)
}

func (m *mockExchange) SetMarginMode(ctx context.Context, symbol string, mode exchange.MarginMode) error {
	args := m.Called(ctx, symbol, mode)
	return args.Error(0)
}

func (m *mockExchange) OpenOrders(ctx context.Context) ([]exchange.OrderState, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]exchange.OrderState), args.Error(1)
}

func (m *mockExchange) Positions(ctx context.Context) ([]exchange.PositionInfo, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]exchange.PositionInfo), args.Error(1)
}

func (m *mockExchange) AccountBalance(ctx context.Context) (exchange.Balance, error) {
	args := m.Called(ctx)
	return args.Get(0).(exchange.Balance), args.Error(1)
}

func admittedDecision() risk.Decision {
	return risk.Decision{
		Admit:      true,
		Symbol:     "BTCUSDT",
		Side:       portfolio.SideLong,
		Quantity:   0.04,
		EntryPrice: 50000,
		StopLoss:   49000,
		TakeProfit: 52000,
		Leverage:   5,
		MarginMode: "isolated",
		TraceID:    "trace-1",
		CreatedAt:  time.Now(),
	}
}

func newTestTrader(t *testing.T, exch exchange.Client, breaker *circuit.Breaker) (*Trader, *portfolio.Book) {
	t.Helper()
	book := portfolio.NewBook()
	book.SetBalance(10000, 8000)
	tr := NewTrader(exch, book, breaker, nil, nil)
	tr.Start()
	t.Cleanup(tr.Stop)
	return tr, book
}

func expectSymbolSetup(exch *mockExchange) {
	exch.On("SetMarginMode", mock.Anything, "BTCUSDT", exchange.MarginModeIsolated).Return(nil).Once()
	exch.On("SetLeverage", mock.Anything, "BTCUSDT", 5).Return(nil).Once()
}

func TestSubmitPlacesEntryAndProtectiveLegs(t *testing.T) {
	exch := &mockExchange{}
	expectSymbolSetup(exch)
	exch.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(s exchange.OrderSpec) bool {
		return s.Type == exchange.Market && !s.ReduceOnly
	})).Return(exchange.Ack{OrderID: "100", Status: "NEW", At: time.Now()}, nil).Once()
	exch.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(s exchange.OrderSpec) bool {
		return s.Type == exchange.StopMarket && s.ReduceOnly && s.StopPrice == 49000 && s.Side == exchange.Sell
	})).Return(exchange.Ack{OrderID: "101", Status: "NEW", At: time.Now()}, nil).Once()
	exch.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(s exchange.OrderSpec) bool {
		return s.Type == exchange.TakeProfitMarket && s.ReduceOnly && s.StopPrice == 52000 && s.Side == exchange.Sell
	})).Return(exchange.Ack{OrderID: "102", Status: "NEW", At: time.Now()}, nil).Once()

	tr, _ := newTestTrader(t, exch, nil)
	order, err := tr.Submit(context.Background(), admittedDecision())
	assert.NoError(t, err)
	assert.NotNil(t, order)
	assert.Equal(t, StatusNew, order.Status)
	assert.Equal(t, "100", order.ExchangeOrderID)
	assert.Len(t, tr.Orders(), 3)
	exch.AssertExpectations(t)

	// Submitting again must not reconfigure leverage or margin.
	exch.On("PlaceOrder", mock.Anything, mock.Anything).Return(exchange.Ack{OrderID: "103", Status: "NEW"}, nil).Times(3)
	_, err = tr.Submit(context.Background(), admittedDecision())
	assert.NoError(t, err)
}

func TestSubmitRejectedDecisionRefused(t *testing.T) {
	tr, _ := newTestTrader(t, &mockExchange{}, nil)
	d := admittedDecision()
	d.Admit = false
	d.Reason = risk.RejectLowConfidence
	_, err := tr.Submit(context.Background(), d)
	assert.Error(t, err)
}

func TestSubmitHaltedWhileBreakerOpen(t *testing.T) {
	breaker := circuit.NewBreaker("test", 1, time.Minute)
	breaker.RecordFailure()

	tr, _ := newTestTrader(t, &mockExchange{}, breaker)
	_, err := tr.Submit(context.Background(), admittedDecision())
	assert.ErrorIs(t, err, ErrSubmissionsHalted)
}

func TestSubmitAmbiguousResolvedByQuery(t *testing.T) {
	exch := &mockExchange{}
	expectSymbolSetup(exch)
	exch.On("PlaceOrder", mock.Anything, mock.Anything).Return(exchange.Ack{}, exchange.ErrTimeout).Once()
	exch.On("QueryOrder", mock.Anything, "BTCUSDT", mock.Anything).
		Return(exchange.OrderState{OrderID: "200", Status: "NEW", Quantity: 0.04}, nil).Once()

	tr, _ := newTestTrader(t, exch, nil)
	d := admittedDecision()
	d.StopLoss, d.TakeProfit = 0, 0 // no protective legs in this scenario

	order, err := tr.Submit(context.Background(), d)
	assert.NoError(t, err)
	assert.Equal(t, StatusNew, order.Status)
	// One placement only: a timed-out submission is never blindly retried.
	exch.AssertNumberOfCalls(t, "PlaceOrder", 1)
}

func TestSubmitAmbiguousNeverReachedExchange(t *testing.T) {
	exch := &mockExchange{}
	expectSymbolSetup(exch)
	exch.On("PlaceOrder", mock.Anything, mock.Anything).Return(exchange.Ack{}, exchange.ErrTimeout).Once()
	exch.On("QueryOrder", mock.Anything, "BTCUSDT", mock.Anything).
		Return(exchange.OrderState{}, exchange.ErrOrderNotFound).Once()

	tr, _ := newTestTrader(t, exch, nil)
	d := admittedDecision()
	d.StopLoss, d.TakeProfit = 0, 0

	order, err := tr.Submit(context.Background(), d)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrAmbiguous)
	assert.Equal(t, StatusRejected, order.Status)
}

func TestSubmitAmbiguousStaysPending(t *testing.T) {
	exch := &mockExchange{}
	expectSymbolSetup(exch)
	exch.On("PlaceOrder", mock.Anything, mock.Anything).Return(exchange.Ack{}, exchange.ErrTimeout).Once()
	exch.On("QueryOrder", mock.Anything, "BTCUSDT", mock.Anything).
		Return(exchange.OrderState{}, assert.AnError).Once()

	tr, _ := newTestTrader(t, exch, nil)
	d := admittedDecision()
	d.StopLoss, d.TakeProfit = 0, 0

	order, err := tr.Submit(context.Background(), d)
	assert.ErrorIs(t, err, ErrAmbiguous)
	assert.Equal(t, StatusPending, order.Status)
}

func TestExecutionReportsDriveOrderAndPosition(t *testing.T) {
	exch := &mockExchange{}
	expectSymbolSetup(exch)
	exch.On("PlaceOrder", mock.Anything, mock.Anything).Return(exchange.Ack{OrderID: "300", Status: "NEW"}, nil).Once()

	tr, book := newTestTrader(t, exch, nil)
	d := admittedDecision()
	d.StopLoss, d.TakeProfit = 0, 0
	order, err := tr.Submit(context.Background(), d)
	assert.NoError(t, err)

	rep := func(status string, executed, lastQty, lastPrice float64) EventEnvelope {
		return EventEnvelope{Type: EvtExecReport, Payload: exchange.ExecutionReport{
			OrderID:         "300",
			ClientOrderID:   order.ClientOrderID,
			Symbol:          "BTCUSDT",
			Status:          status,
			Quantity:        0.04,
			ExecutedQty:     executed,
			LastFilledQty:   lastQty,
			LastFilledPrice: lastPrice,
			Side:            exchange.Buy,
			PositionSide:    exchange.PositionLong,
			EventTime:       time.Now(),
		}}
	}

	ctx := context.Background()
	assert.NoError(t, tr.SendSync(ctx, rep("PARTIALLY_FILLED", 0.01, 0.01, 50000)))
	assert.NoError(t, tr.SendSync(ctx, rep("FILLED", 0.04, 0.03, 50200)))

	got := tr.OrderByClientID(order.ClientOrderID)
	assert.Equal(t, StatusFilled, got.Status)
	assert.InDelta(t, 0.04, got.ExecutedQuantity, 1e-9)

	pos, ok := book.Get("BTCUSDT", portfolio.SideLong)
	assert.True(t, ok)
	assert.InDelta(t, 0.04, pos.Quantity, 1e-9)
	assert.InDelta(t, 50150, pos.EntryPrice, 1e-6)

	// A stale duplicate changes nothing.
	assert.NoError(t, tr.SendSync(ctx, rep("PARTIALLY_FILLED", 0.01, 0.01, 50000)))
	got = tr.OrderByClientID(order.ClientOrderID)
	assert.Equal(t, StatusFilled, got.Status)
	pos, _ = book.Get("BTCUSDT", portfolio.SideLong)
	assert.InDelta(t, 0.04, pos.Quantity, 1e-9)
}

func TestPartialFillsThenCancelKeepExecutedQuantity(t *testing.T) {
	exch := &mockExchange{}
	expectSymbolSetup(exch)
	exch.On("PlaceOrder", mock.Anything, mock.Anything).Return(exchange.Ack{OrderID: "350", Status: "NEW"}, nil).Once()

	tr, book := newTestTrader(t, exch, nil)
	d := admittedDecision()
	d.Quantity = 1.0
	d.StopLoss, d.TakeProfit = 0, 0
	order, err := tr.Submit(context.Background(), d)
	assert.NoError(t, err)

	rep := func(status string, executed, lastQty float64) EventEnvelope {
		return EventEnvelope{Type: EvtExecReport, Payload: exchange.ExecutionReport{
			OrderID:         "350",
			ClientOrderID:   order.ClientOrderID,
			Symbol:          "BTCUSDT",
			Status:          status,
			Quantity:        1.0,
			ExecutedQty:     executed,
			LastFilledQty:   lastQty,
			LastFilledPrice: 50000,
			Side:            exchange.Buy,
			PositionSide:    exchange.PositionLong,
			EventTime:       time.Now(),
		}}
	}

	ctx := context.Background()
	assert.NoError(t, tr.SendSync(ctx, rep("PARTIALLY_FILLED", 0.4, 0.4)))
	assert.NoError(t, tr.SendSync(ctx, rep("PARTIALLY_FILLED", 0.7, 0.3)))
	assert.NoError(t, tr.SendSync(ctx, rep("CANCELED", 0.7, 0)))

	got := tr.OrderByClientID(order.ClientOrderID)
	assert.Equal(t, StatusCanceled, got.Status)
	assert.InDelta(t, 0.7, got.ExecutedQuantity, 1e-9)

	pos, ok := book.Get("BTCUSDT", portfolio.SideLong)
	assert.True(t, ok)
	assert.InDelta(t, 0.7, pos.Quantity, 1e-9)

	// Terminal status admits no further transitions.
	assert.NoError(t, tr.SendSync(ctx, rep("FILLED", 1.0, 0.3)))
	got = tr.OrderByClientID(order.ClientOrderID)
	assert.Equal(t, StatusCanceled, got.Status)
	assert.InDelta(t, 0.7, got.ExecutedQuantity, 1e-9)
	pos, _ = book.Get("BTCUSDT", portfolio.SideLong)
	assert.InDelta(t, 0.7, pos.Quantity, 1e-9)
}

func TestReconcileRealignsMissedFill(t *testing.T) {
	exch := &mockExchange{}
	expectSymbolSetup(exch)
	exch.On("PlaceOrder", mock.Anything, mock.Anything).Return(exchange.Ack{OrderID: "700", Status: "NEW"}, nil).Once()

	tr, book := newTestTrader(t, exch, nil)
	d := admittedDecision()
	d.StopLoss, d.TakeProfit = 0, 0
	order, err := tr.Submit(context.Background(), d)
	assert.NoError(t, err)

	// A fill happened during an outage and its report never arrived. The
	// open-order listing carries the executed quantity the stream missed.
	exch.On("OpenOrders", mock.Anything).Return([]exchange.OrderState{{
		OrderID:       "700",
		ClientOrderID: order.ClientOrderID,
		Symbol:        "BTCUSDT",
		Side:          exchange.Buy,
		Type:          exchange.Market,
		Status:        "PARTIALLY_FILLED",
		Quantity:      0.04,
		ExecutedQty:   0.01,
		AvgPrice:      50000,
		PositionSide:  exchange.PositionLong,
	}}, nil)
	exch.On("Positions", mock.Anything).Return([]exchange.PositionInfo{{
		Symbol:     "BTCUSDT",
		Side:       exchange.PositionLong,
		Quantity:   0.01,
		EntryPrice: 50000,
	}}, nil)
	exch.On("AccountBalance", mock.Anything).Return(exchange.Balance{Equity: 10000, Available: 7500}, nil)

	diffs, err := tr.Reconcile(context.Background())
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, diffs, 1)

	got := tr.OrderByClientID(order.ClientOrderID)
	assert.Equal(t, StatusPartiallyFilled, got.Status)
	assert.InDelta(t, 0.01, got.ExecutedQuantity, 1e-9)

	pos, ok := book.Get("BTCUSDT", portfolio.SideLong)
	assert.True(t, ok)
	assert.InDelta(t, 0.01, pos.Quantity, 1e-9)

	// Exchange truth unchanged: the next pass finds nothing to resolve.
	diffs, err = tr.Reconcile(context.Background())
	assert.NoError(t, err)
	assert.Zero(t, diffs)
}

func TestCancelNotFoundResolvesThroughQuery(t *testing.T) {
	exch := &mockExchange{}
	expectSymbolSetup(exch)
	exch.On("PlaceOrder", mock.Anything, mock.Anything).Return(exchange.Ack{OrderID: "400", Status: "NEW"}, nil).Once()

	tr, book := newTestTrader(t, exch, nil)
	d := admittedDecision()
	d.StopLoss, d.TakeProfit = 0, 0
	order, err := tr.Submit(context.Background(), d)
	assert.NoError(t, err)

	// The order filled behind our back; cancel comes back "unknown order".
	exch.On("CancelOrder", mock.Anything, "BTCUSDT", order.ClientOrderID).Return(exchange.ErrOrderNotFound).Once()
	exch.On("QueryOrder", mock.Anything, "BTCUSDT", order.ClientOrderID).Return(exchange.OrderState{
		OrderID:      "400",
		Status:       "FILLED",
		Quantity:     0.04,
		ExecutedQty:  0.04,
		AvgPrice:     50100,
		Side:         exchange.Buy,
		PositionSide: exchange.PositionLong,
	}, nil).Once()

	assert.NoError(t, tr.Cancel(context.Background(), "BTCUSDT", order.ClientOrderID))

	got := tr.OrderByClientID(order.ClientOrderID)
	assert.Equal(t, StatusFilled, got.Status)
	pos, ok := book.Get("BTCUSDT", portfolio.SideLong)
	assert.True(t, ok)
	assert.InDelta(t, 0.04, pos.Quantity, 1e-9)
}

func TestReconcileAdoptsAndConverges(t *testing.T) {
	exch := &mockExchange{}
	exch.On("OpenOrders", mock.Anything).Return([]exchange.OrderState{{
		OrderID:       "500",
		ClientOrderID: "foreign-1",
		Symbol:        "ETHUSDT",
		Side:          exchange.Buy,
		Type:          exchange.Limit,
		Status:        "NEW",
		Quantity:      2,
		PositionSide:  exchange.PositionLong,
	}}, nil)
	exch.On("Positions", mock.Anything).Return([]exchange.PositionInfo{{
		Symbol:     "ETHUSDT",
		Side:       exchange.PositionLong,
		Quantity:   2,
		EntryPrice: 3000,
		MarkPrice:  3010,
		Leverage:   5,
	}}, nil)
	exch.On("AccountBalance", mock.Anything).Return(exchange.Balance{Equity: 12000, Available: 9000}, nil)

	tr, book := newTestTrader(t, exch, nil)

	diffs, err := tr.Reconcile(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 2, diffs)

	adopted := tr.OrderByClientID("foreign-1")
	assert.NotNil(t, adopted)
	assert.True(t, adopted.Recovered)
	assert.Equal(t, StatusNew, adopted.Status)

	pos, ok := book.Get("ETHUSDT", portfolio.SideLong)
	assert.True(t, ok)
	assert.True(t, pos.Recovered)
	assert.InDelta(t, 2, pos.Quantity, 1e-9)
	assert.InDelta(t, 12000, book.Snapshot().Equity, 1e-9)

	// Same exchange truth again: nothing left to resolve.
	diffs, err = tr.Reconcile(context.Background())
	assert.NoError(t, err)
	assert.Zero(t, diffs)
}

func TestReconcileFinalizesVanishedOrder(t *testing.T) {
	exch := &mockExchange{}
	expectSymbolSetup(exch)
	exch.On("PlaceOrder", mock.Anything, mock.Anything).Return(exchange.Ack{OrderID: "600", Status: "NEW"}, nil).Once()

	tr, _ := newTestTrader(t, exch, nil)
	d := admittedDecision()
	d.StopLoss, d.TakeProfit = 0, 0
	order, err := tr.Submit(context.Background(), d)
	assert.NoError(t, err)

	exch.On("OpenOrders", mock.Anything).Return([]exchange.OrderState{}, nil)
	exch.On("Positions", mock.Anything).Return([]exchange.PositionInfo{}, nil)
	exch.On("AccountBalance", mock.Anything).Return(exchange.Balance{Equity: 10000, Available: 8000}, nil)
	exch.On("QueryOrder", mock.Anything, "BTCUSDT", order.ClientOrderID).
		Return(exchange.OrderState{OrderID: "600", Status: "CANCELED", Quantity: 0.04}, nil).Once()

	diffs, err := tr.Reconcile(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, diffs)
	assert.Equal(t, StatusCanceled, tr.OrderByClientID(order.ClientOrderID).Status)

	// Terminal orders are out of scope for later passes.
	diffs, err = tr.Reconcile(context.Background())
	assert.NoError(t, err)
	assert.Zero(t, diffs)
}
