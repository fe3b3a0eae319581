package binance

import (
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"traxis/internal/exchange"
)

func toSide(s exchange.OrderSide) futures.SideType {
	if s == exchange.Sell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func toOrderType(t exchange.OrderType) futures.OrderType {
	switch t {
	case exchange.Limit:
		return futures.OrderTypeLimit
	case exchange.StopMarket:
		return futures.OrderTypeStopMarket
	case exchange.TakeProfitMarket:
		return futures.OrderTypeTakeProfitMarket
	case exchange.TrailingStopMarket:
		return futures.OrderTypeTrailingStopMarket
	default:
		return futures.OrderTypeMarket
	}
}

func toPositionSide(s exchange.PositionSide) futures.PositionSideType {
	switch s {
	case exchange.PositionLong:
		return futures.PositionSideTypeLong
	case exchange.PositionShort:
		return futures.PositionSideTypeShort
	default:
		return futures.PositionSideTypeBoth
	}
}

func fromPositionSide(s futures.PositionSideType) exchange.PositionSide {
	switch s {
	case futures.PositionSideTypeLong:
		return exchange.PositionLong
	case futures.PositionSideTypeShort:
		return exchange.PositionShort
	default:
		return exchange.PositionBoth
	}
}

func fromOrderType(t futures.OrderType) exchange.OrderType {
	switch t {
	case futures.OrderTypeLimit:
		return exchange.Limit
	case futures.OrderTypeStopMarket:
		return exchange.StopMarket
	case futures.OrderTypeTakeProfitMarket:
		return exchange.TakeProfitMarket
	case futures.OrderTypeTrailingStopMarket:
		return exchange.TrailingStopMarket
	default:
		return exchange.Market
	}
}

func fromOrder(o *futures.Order) exchange.OrderState {
	side := exchange.Buy
	if o.Side == futures.SideTypeSell {
		side = exchange.Sell
	}
	return exchange.OrderState{
		OrderID:       strconv.FormatInt(o.OrderID, 10),
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          side,
		Type:          fromOrderType(o.Type),
		Status:        string(o.Status),
		Quantity:      parseFloat(o.OrigQuantity),
		ExecutedQty:   parseFloat(o.ExecutedQuantity),
		AvgPrice:      parseFloat(o.AvgPrice),
		ReduceOnly:    o.ReduceOnly,
		PositionSide:  fromPositionSide(o.PositionSide),
		UpdatedAt:     time.UnixMilli(o.UpdateTime).UTC(),
	}
}

// fromPositionRisk drops flat entries; Binance reports every symbol the
// account ever touched.
func fromPositionRisk(p *futures.PositionRisk) (exchange.PositionInfo, bool) {
	qty := parseFloat(p.PositionAmt)
	if qty == 0 {
		return exchange.PositionInfo{}, false
	}
	side := exchange.PositionLong
	if qty < 0 {
		side = exchange.PositionShort
		qty = -qty
	}
	if ps := strings.ToLower(p.PositionSide); ps == "long" || ps == "short" {
		side = exchange.PositionSide(ps)
	}
	lev, _ := strconv.Atoi(strings.TrimSpace(p.Leverage))
	return exchange.PositionInfo{
		Symbol:           p.Symbol,
		Side:             side,
		Quantity:         qty,
		EntryPrice:       parseFloat(p.EntryPrice),
		MarkPrice:        parseFloat(p.MarkPrice),
		UnrealizedPnL:    parseFloat(p.UnRealizedProfit),
		LiquidationPrice: parseFloat(p.LiquidationPrice),
		Leverage:         lev,
	}, true
}

func fromOrderTradeUpdate(ev *futures.WsOrderTradeUpdate, eventTime int64) exchange.ExecutionReport {
	side := exchange.Buy
	if ev.Side == futures.SideTypeSell {
		side = exchange.Sell
	}
	return exchange.ExecutionReport{
		OrderID:         strconv.FormatInt(ev.ID, 10),
		ClientOrderID:   ev.ClientOrderID,
		Symbol:          ev.Symbol,
		Status:          string(ev.Status),
		Quantity:        parseFloat(ev.OriginalQty),
		ExecutedQty:     parseFloat(ev.AccumulatedFilledQty),
		LastFilledQty:   parseFloat(ev.LastFilledQty),
		LastFilledPrice: parseFloat(ev.LastFilledPrice),
		ReduceOnly:      ev.IsReduceOnly,
		PositionSide:    fromPositionSide(ev.PositionSide),
		Side:            side,
		EventTime:       time.UnixMilli(eventTime).UTC(),
	}
}
