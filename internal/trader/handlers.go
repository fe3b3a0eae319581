package trader

import (
	"fmt"
	"time"

	"traxis/internal/exchange"
	"traxis/internal/logger"
	"traxis/internal/portfolio"
)

// All handlers in this file run on the actor goroutine only.

func (t *Trader) handleOrderRegister(evt EventEnvelope) error {
	p, ok := evt.Payload.(orderRegisterPayload)
	if !ok {
		return fmt.Errorf("bad payload for %s", evt.Type)
	}
	o := p.Order.clone()
	if _, exists := t.orders[o.ClientOrderID]; exists {
		return fmt.Errorf("order %s already registered", o.ClientOrderID)
	}
	t.orders[o.ClientOrderID] = o
	t.publish(o)
	return nil
}

func (t *Trader) handleOrderAck(evt EventEnvelope) error {
	p, ok := evt.Payload.(orderAckPayload)
	if !ok {
		return fmt.Errorf("bad payload for %s", evt.Type)
	}
	o := t.orders[p.ClientOrderID]
	if o == nil {
		return fmt.Errorf("ack for unknown order %s", p.ClientOrderID)
	}
	if p.Ack.OrderID != "" {
		o.ExchangeOrderID = p.Ack.OrderID
		t.byExchID[p.Ack.OrderID] = o.ClientOrderID
	}
	// The fill stream can outrun the placement response; an ack for an
	// order that already advanced carries no new state.
	if o.Status == StatusPending {
		next := statusFromReport(p.Ack.Status)
		if next == StatusPending {
			next = StatusNew
		}
		if CanTransition(o.Status, next) {
			o.Status = next
			o.UpdatedAt = p.Ack.At
		}
	}
	t.publish(o)
	t.journalOrder(o)
	return nil
}

func (t *Trader) handleOrderReject(evt EventEnvelope) error {
	p, ok := evt.Payload.(orderRejectPayload)
	if !ok {
		return fmt.Errorf("bad payload for %s", evt.Type)
	}
	o := t.orders[p.ClientOrderID]
	if o == nil {
		return fmt.Errorf("reject for unknown order %s", p.ClientOrderID)
	}
	if !CanTransition(o.Status, StatusRejected) {
		logger.Warnf("trader: reject arrived for %s in state %s, keeping state", p.ClientOrderID, o.Status)
		return nil
	}
	o.Status = StatusRejected
	o.UpdatedAt = time.Now()
	logger.Warnf("trader: order %s rejected: %s", p.ClientOrderID, p.Reason)
	t.publish(o)
	t.journalOrder(o)
	return nil
}

func (t *Trader) handleExecReport(evt EventEnvelope) error {
	rep, ok := evt.Payload.(exchange.ExecutionReport)
	if !ok {
		return fmt.Errorf("bad payload for %s", evt.Type)
	}
	o := t.lookupOrder(rep.ClientOrderID, rep.OrderID)
	if o == nil {
		o = t.adoptFromReport(rep)
	}
	t.applyReportToOrder(o, rep)
	return nil
}

func (t *Trader) handleOrderResolved(evt EventEnvelope) error {
	p, ok := evt.Payload.(orderResolvedPayload)
	if !ok {
		return fmt.Errorf("bad payload for %s", evt.Type)
	}
	o := t.orders[p.ClientOrderID]
	if o == nil {
		return fmt.Errorf("resolution for unknown order %s", p.ClientOrderID)
	}
	t.resolveOrder(o, p)
	return nil
}

func (t *Trader) handleMarkPrice(evt EventEnvelope) error {
	p, ok := evt.Payload.(markPricePayload)
	if !ok {
		return fmt.Errorf("bad payload for %s", evt.Type)
	}
	t.book.UpdateMark(p.Symbol, portfolio.SideLong, p.Price)
	t.book.UpdateMark(p.Symbol, portfolio.SideShort, p.Price)
	return nil
}

// lookupOrder finds the local order by client ID first, exchange ID second.
func (t *Trader) lookupOrder(clientID, exchID string) *Order {
	if clientID != "" {
		if o := t.orders[clientID]; o != nil {
			return o
		}
	}
	if exchID != "" {
		if cid, ok := t.byExchID[exchID]; ok {
			return t.orders[cid]
		}
	}
	return nil
}

// adoptFromReport registers an order the exchange knows about but this
// process never placed, marked recovered.
func (t *Trader) adoptFromReport(rep exchange.ExecutionReport) *Order {
	clientID := rep.ClientOrderID
	if clientID == "" {
		clientID = "adopted-" + rep.OrderID
	}
	logger.Warnf("trader: adopting exchange-side order %s (%s %s)", clientID, rep.Symbol, rep.Side)
	o := &Order{
		ClientOrderID:   clientID,
		ExchangeOrderID: rep.OrderID,
		Role:            RoleEntry,
		Symbol:          rep.Symbol,
		Side:            rep.Side,
		PositionSide:    rep.PositionSide,
		Type:            exchange.Market,
		ReduceOnly:      rep.ReduceOnly,
		Quantity:        rep.Quantity,
		Status:          StatusPending,
		Recovered:       true,
		CreatedAt:       time.Now(),
	}
	t.orders[o.ClientOrderID] = o
	if rep.OrderID != "" {
		t.byExchID[rep.OrderID] = o.ClientOrderID
	}
	return o
}

// applyReportToOrder folds the report into the order and, when it carried a
// fill, applies the position delta in the same actor turn. Stale or
// out-of-order reports are logged and dropped without touching state.
func (t *Trader) applyReportToOrder(o *Order, rep exchange.ExecutionReport) {
	fillQty, fillPrice, err := o.applyReport(rep)
	if err != nil {
		logger.Warnf("trader: dropping report: %v", err)
		return
	}
	if rep.OrderID != "" && t.byExchID[rep.OrderID] == "" {
		t.byExchID[rep.OrderID] = o.ClientOrderID
	}

	if fillQty > 0 {
		posSide, reduce := fillDirection(rep)
		pos := t.book.ApplyFill(portfolio.FillDelta{
			Symbol:     o.Symbol,
			Side:       posSide,
			Quantity:   fillQty,
			Price:      fillPrice,
			Reduce:     reduce,
			Leverage:   o.Leverage,
			MarginType: portfolio.MarginType(o.MarginType),
			StopLoss:   o.StopLoss,
			TakeProfit: o.TakeProfit,
			Recovered:  o.Recovered,
			At:         rep.EventTime,
		})
		t.metrics.OrderFill(o.Symbol, fillQty)
		if reduce && !pos.Open() && t.journal != nil {
			closed := pos
			if err := t.journal.RecordPositionClose(closed); err != nil {
				logger.Warnf("trader: journal position close %s %s failed: %v", pos.Symbol, pos.Side, err)
			}
		}
	}

	t.publish(o)
	t.journalOrder(o)
}

// resolveOrder applies a status-query verdict. A definitive "not found" for a
// non-terminal order means the exchange purged it, which maps to CANCELED for
// working orders and REJECTED for never-acked ones.
func (t *Trader) resolveOrder(o *Order, p orderResolvedPayload) {
	if p.NotFound {
		if o.Status.Terminal() {
			return
		}
		final := StatusCanceled
		if o.Status == StatusPending {
			final = StatusRejected
		}
		if !CanTransition(o.Status, final) {
			logger.Warnf("trader: cannot finalize vanished order %s from %s", o.ClientOrderID, o.Status)
			return
		}
		o.Status = final
		o.UpdatedAt = time.Now()
		t.publish(o)
		t.journalOrder(o)
		return
	}

	t.applyReportToOrder(o, reportFromState(o, p.State))
}

// reportFromState turns a status-query result into a synthetic execution
// report so resolution and stream delivery share one application path. Any
// fill delta it exposes is priced at the query's average price.
func reportFromState(o *Order, s exchange.OrderState) exchange.ExecutionReport {
	at := s.UpdatedAt
	if at.IsZero() {
		at = time.Now()
	}
	return exchange.ExecutionReport{
		OrderID:         s.OrderID,
		ClientOrderID:   o.ClientOrderID,
		Symbol:          o.Symbol,
		Status:          s.Status,
		Quantity:        s.Quantity,
		ExecutedQty:     s.ExecutedQty,
		LastFilledPrice: s.AvgPrice,
		ReduceOnly:      s.ReduceOnly,
		PositionSide:    s.PositionSide,
		Side:            s.Side,
		EventTime:       at,
	}
}

// fillDirection maps a report onto the position it moves and whether it
// shrinks it. In hedge mode the position side is explicit; in one-way mode a
// buy grows the long unless flagged reduce-only.
func fillDirection(rep exchange.ExecutionReport) (portfolio.Side, bool) {
	switch rep.PositionSide {
	case exchange.PositionLong:
		return portfolio.SideLong, rep.Side == exchange.Sell || rep.ReduceOnly
	case exchange.PositionShort:
		return portfolio.SideShort, rep.Side == exchange.Buy || rep.ReduceOnly
	}
	if rep.ReduceOnly {
		if rep.Side == exchange.Sell {
			return portfolio.SideLong, true
		}
		return portfolio.SideShort, true
	}
	if rep.Side == exchange.Buy {
		return portfolio.SideLong, false
	}
	return portfolio.SideShort, false
}
