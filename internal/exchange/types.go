package exchange

import "time"

type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

type OrderType string

const (
	Market             OrderType = "market"
	Limit              OrderType = "limit"
	StopMarket         OrderType = "stop_market"
	TakeProfitMarket   OrderType = "take_profit_market"
	TrailingStopMarket OrderType = "trailing_stop_market"
)

// PositionSide matches the exchange's hedge-mode position buckets.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
	PositionBoth  PositionSide = "both"
)

type MarginMode string

const (
	MarginModeCross    MarginMode = "cross"
	MarginModeIsolated MarginMode = "isolated"
)

// OrderSpec is everything needed to place one order.
type OrderSpec struct {
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Quantity      float64
	Price         float64 // limit orders only
	StopPrice     float64 // stop / take-profit orders
	ReduceOnly    bool
	PositionSide  PositionSide
}

// Ack is the exchange's synchronous answer to a placement.
type Ack struct {
	OrderID       string
	ClientOrderID string
	Status        string
	At            time.Time
}

// OrderState is an order as the exchange reports it, used both for open-order
// listings and for explicit status queries during ambiguity resolution.
type OrderState struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Status        string
	Quantity      float64
	ExecutedQty   float64
	AvgPrice      float64
	ReduceOnly    bool
	PositionSide  PositionSide
	UpdatedAt     time.Time
}

// PositionInfo is a position as the exchange reports it.
type PositionInfo struct {
	Symbol           string
	Side             PositionSide
	Quantity         float64
	EntryPrice       float64
	MarkPrice        float64
	UnrealizedPnL    float64
	LiquidationPrice float64
	Leverage         int
}

// Balance is the account-level margin state.
type Balance struct {
	Equity    float64
	Available float64
	UpdatedAt time.Time
}

// ExecutionReport is one event from the fill stream. ExecutedQty is the
// cumulative filled quantity, LastFilledQty the increment this event carries.
type ExecutionReport struct {
	OrderID         string
	ClientOrderID   string
	Symbol          string
	Status          string
	Quantity        float64
	ExecutedQty     float64
	LastFilledQty   float64
	LastFilledPrice float64
	ReduceOnly      bool
	PositionSide    PositionSide
	Side            OrderSide
	EventTime       time.Time
}
