package trader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"traxis/internal/exchange"
	"traxis/internal/logger"
	"traxis/internal/portfolio"
)

// Reconcile fetches exchange truth and folds it into local state. It returns
// the number of divergences it had to resolve; zero means both sides agreed.
// Running it twice in a row with a quiet exchange is a no-op, so callers may
// invoke it freely after reconnects, on a timer, or at startup.
func (t *Trader) Reconcile(ctx context.Context) (int, error) {
	openOrders, err := t.exch.OpenOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("trader: reconcile: open orders: %w", err)
	}
	positions, err := t.exch.Positions(ctx)
	if err != nil {
		return 0, fmt.Errorf("trader: reconcile: positions: %w", err)
	}

	var balance *exchange.Balance
	if bal, err := t.exch.AccountBalance(ctx); err != nil {
		logger.Warnf("trader: reconcile: balance fetch failed, keeping local: %v", err)
	} else {
		balance = &bal
	}

	resolved, queryErr := t.resolveMissingOrders(ctx, openOrders)

	payload := reconcilePayload{
		OpenOrders: openOrders,
		Positions:  positions,
		Balance:    balance,
		Resolved:   resolved,
		Result:     &reconcileResult{},
	}
	if err := t.SendSync(ctx, EventEnvelope{Type: EvtReconcile, Payload: payload}); err != nil {
		return 0, err
	}
	if payload.Result.Diffs > 0 {
		logger.Warnf("trader: reconcile resolved %d divergence(s)", payload.Result.Diffs)
	}
	t.metrics.ReconcileRun(payload.Result.Diffs)
	return payload.Result.Diffs, queryErr
}

// Recover rebuilds in-memory state from exchange truth at startup. Positions
// and working orders found on the exchange are adopted with the recovered
// marker; divergences at this point are expected, not errors.
func (t *Trader) Recover(ctx context.Context) error {
	logger.Infof("trader: recovering state from exchange")
	diffs, err := t.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("trader: recovery: %w", err)
	}
	logger.Infof("trader: recovery complete, %d item(s) adopted or corrected", diffs)
	return nil
}

// resolveMissingOrders status-queries every local non-terminal order the
// open-order listing does not mention; each of them terminated, filled behind
// our back, or never existed.
func (t *Trader) resolveMissingOrders(ctx context.Context, openOrders []exchange.OrderState) ([]orderResolvedPayload, error) {
	listed := make(map[string]bool, len(openOrders))
	for _, s := range openOrders {
		if s.ClientOrderID != "" {
			listed[s.ClientOrderID] = true
		}
	}

	var resolved []orderResolvedPayload
	var firstErr error
	for _, o := range t.Orders() {
		if o.Status.Terminal() || listed[o.ClientOrderID] {
			continue
		}
		state, err := t.exch.QueryOrder(ctx, o.Symbol, o.ClientOrderID)
		switch {
		case err == nil:
			resolved = append(resolved, orderResolvedPayload{ClientOrderID: o.ClientOrderID, State: state})
		case errors.Is(err, exchange.ErrOrderNotFound):
			resolved = append(resolved, orderResolvedPayload{ClientOrderID: o.ClientOrderID, NotFound: true})
		default:
			logger.Warnf("trader: reconcile: status query for %s failed: %v", o.ClientOrderID, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("trader: reconcile: status query for %s: %w", o.ClientOrderID, err)
			}
		}
	}
	return resolved, firstErr
}

// handleReconcile applies one reconciliation snapshot on the actor goroutine.
func (t *Trader) handleReconcile(evt EventEnvelope) error {
	p, ok := evt.Payload.(reconcilePayload)
	if !ok {
		return fmt.Errorf("bad payload for %s", evt.Type)
	}
	diffs := 0

	// Local orders the exchange no longer lists.
	for _, r := range p.Resolved {
		o := t.orders[r.ClientOrderID]
		if o == nil || o.Status.Terminal() {
			continue
		}
		t.resolveOrder(o, r)
		diffs++
	}

	// Exchange-listed orders: adopt unknowns, realign knowns.
	for _, s := range p.OpenOrders {
		o := t.lookupOrder(s.ClientOrderID, s.OrderID)
		if o == nil {
			o = t.adoptFromState(s)
			diffs++
			continue
		}
		beforeStatus, beforeQty := o.Status, o.ExecutedQuantity
		t.applyReportToOrder(o, reportFromState(o, s))
		if o.Status != beforeStatus || o.ExecutedQuantity != beforeQty {
			diffs++
		}
	}

	diffs += t.book.ReconcileOpen(positionsFromExchange(p.Positions), time.Now().UTC())

	if p.Balance != nil {
		t.book.SetBalance(p.Balance.Equity, p.Balance.Available)
	}

	p.Result.Diffs = diffs
	return nil
}

// adoptFromState registers a working order discovered on the exchange.
func (t *Trader) adoptFromState(s exchange.OrderState) *Order {
	clientID := s.ClientOrderID
	if clientID == "" {
		clientID = "adopted-" + s.OrderID
	}
	logger.Warnf("trader: adopting exchange-side working order %s (%s %s %s)", clientID, s.Symbol, s.Side, s.Type)
	o := &Order{
		ClientOrderID:    clientID,
		ExchangeOrderID:  s.OrderID,
		Role:             RoleEntry,
		Symbol:           s.Symbol,
		Side:             s.Side,
		PositionSide:     s.PositionSide,
		Type:             s.Type,
		ReduceOnly:       s.ReduceOnly,
		Quantity:         s.Quantity,
		ExecutedQuantity: s.ExecutedQty,
		AvgFillPrice:     s.AvgPrice,
		Status:           statusFromExchange(s),
		Recovered:        true,
		CreatedAt:        time.Now(),
		UpdatedAt:        s.UpdatedAt,
	}
	if o.Status == StatusPending {
		o.Status = StatusNew
	}
	t.orders[o.ClientOrderID] = o
	if s.OrderID != "" {
		t.byExchID[s.OrderID] = o.ClientOrderID
	}
	t.publish(o)
	return o
}

func positionsFromExchange(infos []exchange.PositionInfo) []portfolio.Position {
	out := make([]portfolio.Position, 0, len(infos))
	for _, pi := range infos {
		side := portfolio.SideLong
		if pi.Side == exchange.PositionShort {
			side = portfolio.SideShort
		}
		out = append(out, portfolio.Position{
			Symbol:           pi.Symbol,
			Side:             side,
			EntryPrice:       pi.EntryPrice,
			Quantity:         pi.Quantity,
			Leverage:         pi.Leverage,
			MarkPrice:        pi.MarkPrice,
			UnrealizedPnL:    pi.UnrealizedPnL,
			LiquidationPrice: pi.LiquidationPrice,
		})
	}
	return out
}
