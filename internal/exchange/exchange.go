package exchange

import "context"

// Client is the request/response surface of an exchange. Every call is
// fallible and possibly slow; the core owns no transport detail.
type Client interface {
	Name() string

	PlaceOrder(ctx context.Context, spec OrderSpec) (Ack, error)

	// CancelOrder is best-effort; an already filled or vanished order
	// surfaces as ErrOrderNotFound, which callers treat as a
	// reconciliation event rather than a failure.
	CancelOrder(ctx context.Context, symbol, orderID string) error

	// QueryOrder resolves ambiguity after a timed-out request.
	QueryOrder(ctx context.Context, symbol, orderID string) (OrderState, error)

	SetLeverage(ctx context.Context, symbol string, leverage int) error

	SetMarginMode(ctx context.Context, symbol string, mode MarginMode) error

	OpenOrders(ctx context.Context) ([]OrderState, error)

	Positions(ctx context.Context) ([]PositionInfo, error)

	AccountBalance(ctx context.Context) (Balance, error)
}

// StreamHandlers receives stream lifecycle callbacks. OnReport is invoked in
// stream order for a given symbol; consumers must not block it on long work.
type StreamHandlers struct {
	OnReport     func(ExecutionReport)
	OnConnect    func()
	OnDisconnect func(error)
}

// Stream is one connected session of the execution-report stream. Run blocks
// until the session drops or ctx is canceled; the caller owns reconnects.
type Stream interface {
	Run(ctx context.Context, h StreamHandlers) error
}
