package trader

import (
	"fmt"
	"time"

	"traxis/internal/exchange"
)

// OrderStatus is the local lifecycle state of an order. Transitions only move
// forward; a terminal status never changes again.
type OrderStatus string

const (
	// StatusPending means the order was built locally but no exchange ack
	// has been observed yet.
	StatusPending         OrderStatus = "PENDING"
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	StatusPending:         {StatusNew, StatusRejected},
	StatusNew:             {StatusPartiallyFilled, StatusFilled, StatusCanceled, StatusExpired},
	StatusPartiallyFilled: {StatusFilled, StatusCanceled},
}

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal forward move.
// Self-transitions are allowed for the non-terminal states so repeated
// PARTIALLY_FILLED reports apply cleanly.
func CanTransition(from, to OrderStatus) bool {
	if from == to {
		return !from.Terminal()
	}
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func statusFromExchange(s exchange.OrderState) OrderStatus {
	switch s.Status {
	case "NEW":
		return StatusNew
	case "PARTIALLY_FILLED":
		return StatusPartiallyFilled
	case "FILLED":
		return StatusFilled
	case "CANCELED":
		return StatusCanceled
	case "REJECTED":
		return StatusRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return StatusExpired
	}
	return StatusPending
}

func statusFromReport(s string) OrderStatus {
	return statusFromExchange(exchange.OrderState{Status: s})
}

// OrderRole distinguishes the entry order from the protective orders placed
// alongside it.
type OrderRole string

const (
	RoleEntry      OrderRole = "entry"
	RoleStopLoss   OrderRole = "stop_loss"
	RoleTakeProfit OrderRole = "take_profit"
)

// Order is the local record of one exchange order. Owned by the actor
// goroutine; everything handed out is a copy.
type Order struct {
	ClientOrderID   string
	ExchangeOrderID string
	TraceID         string
	Role            OrderRole

	Symbol       string
	Side         exchange.OrderSide
	PositionSide exchange.PositionSide
	Type         exchange.OrderType
	ReduceOnly   bool

	Quantity         float64
	ExecutedQuantity float64
	AvgFillPrice     float64
	StopPrice        float64

	Leverage   int
	MarginType string
	StopLoss   float64
	TakeProfit float64

	Status OrderStatus
	// Recovered marks orders adopted from the exchange during
	// reconciliation rather than submitted by this process.
	Recovered bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// applyReport folds an execution report into the order. It enforces the
// transition graph and the monotonic executed quantity, returning the
// incremental filled quantity and price. Stale or out-of-order reports are
// rejected with an error and leave the order untouched.
func (o *Order) applyReport(rep exchange.ExecutionReport) (fillQty, fillPrice float64, err error) {
	next := statusFromReport(rep.Status)
	if next == StatusPending {
		return 0, 0, fmt.Errorf("order %s: unknown report status %q", o.ClientOrderID, rep.Status)
	}
	from := o.Status
	if from == StatusPending && next != StatusNew && next != StatusRejected && CanTransition(StatusNew, next) {
		// The exchange saw the order even though our ack never arrived.
		// Take the implicit PENDING -> NEW step before applying the report.
		from = StatusNew
	}
	if !CanTransition(from, next) {
		return 0, 0, fmt.Errorf("order %s: illegal transition %s -> %s", o.ClientOrderID, o.Status, next)
	}
	if rep.ExecutedQty < o.ExecutedQuantity {
		return 0, 0, fmt.Errorf("order %s: executed quantity moved backwards (%.8f -> %.8f)",
			o.ClientOrderID, o.ExecutedQuantity, rep.ExecutedQty)
	}
	if rep.ExecutedQty > o.Quantity+1e-9 {
		return 0, 0, fmt.Errorf("order %s: executed quantity %.8f exceeds order quantity %.8f",
			o.ClientOrderID, rep.ExecutedQty, o.Quantity)
	}

	fillQty = rep.ExecutedQty - o.ExecutedQuantity
	fillPrice = rep.LastFilledPrice
	if fillQty > 0 && fillPrice <= 0 {
		fillPrice = o.AvgFillPrice
	}

	if rep.OrderID != "" {
		o.ExchangeOrderID = rep.OrderID
	}
	o.ExecutedQuantity = rep.ExecutedQty
	if fillQty > 0 && fillPrice > 0 {
		prev := o.ExecutedQuantity - fillQty
		o.AvgFillPrice = (o.AvgFillPrice*prev + fillPrice*fillQty) / o.ExecutedQuantity
	}
	o.Status = next
	o.UpdatedAt = rep.EventTime
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = time.Now()
	}
	return fillQty, fillPrice, nil
}

func (o *Order) clone() *Order {
	cp := *o
	return &cp
}
