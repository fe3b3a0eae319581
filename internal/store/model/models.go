package model

import "gorm.io/datatypes"

// OrderModel is the append-only archive row for an order that reached a
// terminal status.
type OrderModel struct {
	ID               int64          `gorm:"column:id;primaryKey"`
	ClientOrderID    string         `gorm:"column:client_order_id;uniqueIndex"`
	ExchangeOrderID  string         `gorm:"column:exchange_order_id;index"`
	TraceID          string         `gorm:"column:trace_id;index"`
	Role             string         `gorm:"column:role"`
	Symbol           string         `gorm:"column:symbol;index"`
	Side             string         `gorm:"column:side"`
	PositionSide     string         `gorm:"column:position_side"`
	Type             string         `gorm:"column:type"`
	ReduceOnly       bool           `gorm:"column:reduce_only"`
	Quantity         float64        `gorm:"column:quantity"`
	ExecutedQuantity float64        `gorm:"column:executed_quantity"`
	AvgFillPrice     float64        `gorm:"column:avg_fill_price"`
	StopPrice        float64        `gorm:"column:stop_price"`
	Status           string         `gorm:"column:status;index"`
	Recovered        bool           `gorm:"column:recovered"`
	Raw              datatypes.JSON `gorm:"column:raw"`
	CreatedAtMillis  int64          `gorm:"column:created_at;index"`
	UpdatedAtMillis  int64          `gorm:"column:updated_at"`
}

func (OrderModel) TableName() string { return "orders" }

// ClosedPositionModel records one position lifecycle from open to flat.
type ClosedPositionModel struct {
	ID             int64          `gorm:"column:id;primaryKey"`
	Symbol         string         `gorm:"column:symbol;index"`
	Side           string         `gorm:"column:side"`
	EntryPrice     float64        `gorm:"column:entry_price"`
	ExitPrice      float64        `gorm:"column:exit_price"`
	Leverage       int            `gorm:"column:leverage"`
	MarginType     string         `gorm:"column:margin_type"`
	Recovered      bool           `gorm:"column:recovered"`
	Raw            datatypes.JSON `gorm:"column:raw"`
	OpenedAtMillis int64          `gorm:"column:opened_at;index"`
	ClosedAtMillis int64          `gorm:"column:closed_at;index"`
}

func (ClosedPositionModel) TableName() string { return "closed_positions" }

// DecisionModel archives every risk verdict, admitted or not, keyed by its
// trace ID so a resulting order can be tied back to the decision.
type DecisionModel struct {
	ID              int64          `gorm:"column:id;primaryKey"`
	TraceID         string         `gorm:"column:trace_id;uniqueIndex"`
	Symbol          string         `gorm:"column:symbol;index"`
	Admit           bool           `gorm:"column:admit"`
	Reason          string         `gorm:"column:reason"`
	Side            string         `gorm:"column:side"`
	Quantity        float64        `gorm:"column:quantity"`
	EntryPrice      float64        `gorm:"column:entry_price"`
	StopLoss        float64        `gorm:"column:stop_loss"`
	TakeProfit      float64        `gorm:"column:take_profit"`
	RiskReward      float64        `gorm:"column:risk_reward"`
	ConfigVersion   int64          `gorm:"column:config_version"`
	Adjustments     datatypes.JSON `gorm:"column:adjustments"`
	CreatedAtMillis int64          `gorm:"column:created_at;index"`
}

func (DecisionModel) TableName() string { return "risk_decisions" }

// PortfolioSnapshotModel is a periodic point-in-time account capture.
type PortfolioSnapshotModel struct {
	ID              int64          `gorm:"column:id;primaryKey"`
	Equity          float64        `gorm:"column:equity"`
	FreeMargin      float64        `gorm:"column:free_margin"`
	RealizedPnL     float64        `gorm:"column:realized_pnl"`
	OpenCount       int            `gorm:"column:open_count"`
	Positions       datatypes.JSON `gorm:"column:positions"`
	CreatedAtMillis int64          `gorm:"column:created_at;index"`
}

func (PortfolioSnapshotModel) TableName() string { return "portfolio_snapshots" }
