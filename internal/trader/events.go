package trader

import (
	"time"

	"traxis/internal/exchange"
	"traxis/internal/portfolio"
)

// EventType identifies a message on the actor loop.
type EventType string

const (
	// EvtOrderRegister records a freshly built order before it is sent to
	// the exchange, so an execution report can never race an unknown order.
	EvtOrderRegister EventType = "ORDER_REGISTER"
	// EvtOrderAck applies the exchange's placement acknowledgement.
	EvtOrderAck EventType = "ORDER_ACK"
	// EvtOrderReject marks a locally registered order as rejected.
	EvtOrderReject EventType = "ORDER_REJECT"
	// EvtExecReport carries a user-stream execution report.
	EvtExecReport EventType = "EXEC_REPORT"
	// EvtOrderResolved applies a status-query result to a local order,
	// used when a placement or cancel was ambiguous.
	EvtOrderResolved EventType = "ORDER_RESOLVED"
	// EvtReconcile applies a reconciliation snapshot of exchange truth.
	EvtReconcile EventType = "RECONCILE"
	// EvtMarkPrice updates the mark price of an open position.
	EvtMarkPrice EventType = "MARK_PRICE"
)

// EventEnvelope is the standard message the actor consumes.
type EventEnvelope struct {
	ID        string
	Type      EventType
	Payload   any
	CreatedAt time.Time

	// ReplyCh unblocks SendSync callers once the event was handled.
	ReplyCh chan error
}

type orderRegisterPayload struct {
	Order *Order
}

type orderAckPayload struct {
	ClientOrderID string
	Ack           exchange.Ack
}

type orderRejectPayload struct {
	ClientOrderID string
	Reason        string
}

type orderResolvedPayload struct {
	ClientOrderID string
	State         exchange.OrderState
	// NotFound means the exchange has no record of the order at all, so
	// the submission never reached it.
	NotFound bool
}

type markPricePayload struct {
	Symbol string
	Price  float64
	At     time.Time
}

// reconcilePayload carries the full exchange snapshot fetched outside the
// actor loop, plus resolved states for local orders the snapshot did not list.
// The handler writes the diff count back through Result.
type reconcilePayload struct {
	OpenOrders []exchange.OrderState
	Positions  []exchange.PositionInfo
	Balance    *exchange.Balance
	Resolved   []orderResolvedPayload

	Result *reconcileResult
}

type reconcileResult struct {
	Diffs int
}

// Journal is the append-only persistence surface the actor writes to.
// Orders are journaled when they reach a terminal status, positions when
// they close.
type Journal interface {
	RecordOrder(o Order) error
	RecordPositionClose(p portfolio.Position) error
}
