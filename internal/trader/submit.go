package trader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"traxis/internal/exchange"
	"traxis/internal/logger"
	"traxis/internal/portfolio"
	"traxis/internal/risk"
)

// ErrSubmissionsHalted is returned while the circuit breaker is open. New
// entries are refused; cancels and reduce-only exits still pass.
var ErrSubmissionsHalted = errors.New("trader: submissions halted by circuit breaker")

// ErrAmbiguous is returned when a placement timed out and neither the fill
// stream nor a status query could settle whether the exchange accepted it.
// The order stays registered and the next reconcile pass resolves it; the
// caller must not retry the submission.
var ErrAmbiguous = errors.New("trader: order state ambiguous, awaiting reconciliation")

// Submit turns an admitted risk decision into an entry order plus its
// protective stop-loss and take-profit orders. It returns the entry order as
// last known locally.
func (t *Trader) Submit(ctx context.Context, d risk.Decision) (*Order, error) {
	if !d.Admit {
		return nil, fmt.Errorf("trader: decision for %s was not admitted (%s)", d.Symbol, d.Reason)
	}
	if t.breaker != nil && !t.breaker.Allow() {
		return nil, ErrSubmissionsHalted
	}
	if err := t.ensureSymbolSetup(ctx, d.Symbol, d.Leverage, marginModeFor(d.MarginMode)); err != nil {
		return nil, err
	}

	entry := &Order{
		ClientOrderID: newClientOrderID(),
		TraceID:       d.TraceID,
		Role:          RoleEntry,
		Symbol:        d.Symbol,
		Side:          sideFor(d.Side, false),
		PositionSide:  positionSideFor(d.Side),
		Type:          exchange.Market,
		Quantity:      d.Quantity,
		Leverage:      d.Leverage,
		MarginType:    d.MarginMode,
		StopLoss:      d.StopLoss,
		TakeProfit:    d.TakeProfit,
		Status:        StatusPending,
		CreatedAt:     time.Now(),
	}

	placed, err := t.placeRegistered(ctx, entry)
	if err != nil {
		return placed, err
	}

	t.placeProtective(ctx, d, placed)
	return placed, nil
}

// placeProtective submits the reduce-only stop and take-profit legs. Failures
// leave the position unprotected, which is worth an error log but must not
// unwind the already placed entry.
func (t *Trader) placeProtective(ctx context.Context, d risk.Decision, entry *Order) {
	legs := []struct {
		role  OrderRole
		typ   exchange.OrderType
		price float64
	}{
		{RoleStopLoss, exchange.StopMarket, d.StopLoss},
		{RoleTakeProfit, exchange.TakeProfitMarket, d.TakeProfit},
	}
	for _, leg := range legs {
		if leg.price <= 0 {
			continue
		}
		o := &Order{
			ClientOrderID: newClientOrderID(),
			TraceID:       d.TraceID,
			Role:          leg.role,
			Symbol:        d.Symbol,
			Side:          sideFor(d.Side, true),
			PositionSide:  positionSideFor(d.Side),
			Type:          leg.typ,
			ReduceOnly:    true,
			Quantity:      d.Quantity,
			StopPrice:     leg.price,
			Status:        StatusPending,
			CreatedAt:     time.Now(),
		}
		if _, err := t.placeRegistered(ctx, o); err != nil {
			logger.Errorf("trader: %s %s leg for %s failed, position unprotected: %v",
				d.Symbol, leg.role, entry.ClientOrderID, err)
		}
	}
}

// placeRegistered records the order in the actor before the network call, so
// an execution report arriving mid-flight always finds its order, then places
// it and applies the outcome.
func (t *Trader) placeRegistered(ctx context.Context, o *Order) (*Order, error) {
	if err := t.SendSync(ctx, EventEnvelope{Type: EvtOrderRegister, Payload: orderRegisterPayload{Order: o}}); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, t.submitTimeout)
	defer cancel()
	ack, err := t.exch.PlaceOrder(callCtx, t.specFor(o))
	switch {
	case err == nil:
		if t.breaker != nil {
			t.breaker.RecordSuccess()
		}
		t.metrics.OrderPlaced(o.Symbol, string(o.Role))
		if sendErr := t.SendSync(ctx, EventEnvelope{Type: EvtOrderAck, Payload: orderAckPayload{ClientOrderID: o.ClientOrderID, Ack: ack}}); sendErr != nil {
			return t.OrderByClientID(o.ClientOrderID), sendErr
		}
		return t.OrderByClientID(o.ClientOrderID), nil

	case exchange.IsAmbiguous(err):
		if t.breaker != nil {
			t.breaker.RecordFailure()
		}
		t.metrics.OrderFailed(o.Symbol, "timeout")
		return t.resolveAmbiguousPlacement(ctx, o)

	default:
		if exchange.IsRetryable(err) && t.breaker != nil {
			t.breaker.RecordFailure()
		}
		t.metrics.OrderFailed(o.Symbol, "rejected")
		_ = t.SendSync(ctx, EventEnvelope{Type: EvtOrderReject, Payload: orderRejectPayload{ClientOrderID: o.ClientOrderID, Reason: err.Error()}})
		return t.OrderByClientID(o.ClientOrderID), err
	}
}

// resolveAmbiguousPlacement settles a timed-out placement without retrying
// it. The fill stream is consulted first: if the actor already advanced the
// order past PENDING, the exchange accepted it. Otherwise a status query
// decides; only a definitive "unknown order" verdict downgrades to rejection.
func (t *Trader) resolveAmbiguousPlacement(ctx context.Context, o *Order) (*Order, error) {
	if known := t.OrderByClientID(o.ClientOrderID); known != nil && known.Status != StatusPending {
		logger.Infof("trader: ambiguous placement of %s settled by fill stream (%s)", o.ClientOrderID, known.Status)
		return known, nil
	}

	state, err := t.exch.QueryOrder(ctx, o.Symbol, o.ClientOrderID)
	switch {
	case err == nil:
		if sendErr := t.SendSync(ctx, EventEnvelope{Type: EvtOrderResolved, Payload: orderResolvedPayload{ClientOrderID: o.ClientOrderID, State: state}}); sendErr != nil {
			return t.OrderByClientID(o.ClientOrderID), sendErr
		}
		logger.Infof("trader: ambiguous placement of %s settled by status query (%s)", o.ClientOrderID, state.Status)
		return t.OrderByClientID(o.ClientOrderID), nil

	case errors.Is(err, exchange.ErrOrderNotFound):
		// The exchange never saw it. Safe to mark rejected locally.
		_ = t.SendSync(ctx, EventEnvelope{Type: EvtOrderReject, Payload: orderRejectPayload{ClientOrderID: o.ClientOrderID, Reason: "placement timed out and order unknown to exchange"}})
		return t.OrderByClientID(o.ClientOrderID), fmt.Errorf("trader: placement of %s never reached the exchange", o.ClientOrderID)

	default:
		logger.Warnf("trader: status query for ambiguous order %s failed: %v", o.ClientOrderID, err)
		return t.OrderByClientID(o.ClientOrderID), ErrAmbiguous
	}
}

// Cancel requests cancellation of a working order. A "not found" answer means
// the order already reached a terminal state on the exchange, so it is
// resolved through a status query instead of being treated as a failure.
func (t *Trader) Cancel(ctx context.Context, symbol, clientOrderID string) error {
	err := t.exch.CancelOrder(ctx, symbol, clientOrderID)
	if err == nil {
		logger.Infof("trader: cancel accepted for %s", clientOrderID)
		return nil
	}
	if !errors.Is(err, exchange.ErrOrderNotFound) {
		return fmt.Errorf("trader: cancel %s: %w", clientOrderID, err)
	}

	state, qerr := t.exch.QueryOrder(ctx, symbol, clientOrderID)
	if qerr != nil {
		if errors.Is(qerr, exchange.ErrOrderNotFound) {
			return t.SendSync(ctx, EventEnvelope{Type: EvtOrderResolved, Payload: orderResolvedPayload{ClientOrderID: clientOrderID, NotFound: true}})
		}
		return fmt.Errorf("trader: cancel %s: order vanished and status query failed: %w", clientOrderID, qerr)
	}
	return t.SendSync(ctx, EventEnvelope{Type: EvtOrderResolved, Payload: orderResolvedPayload{ClientOrderID: clientOrderID, State: state}})
}

// ensureSymbolSetup applies leverage and margin mode once per symbol per
// process lifetime.
func (t *Trader) ensureSymbolSetup(ctx context.Context, symbol string, leverage int, margin exchange.MarginMode) error {
	t.mu.Lock()
	done := t.symbolSetup[symbol]
	t.mu.Unlock()
	if done {
		return nil
	}

	if err := t.exch.SetMarginMode(ctx, symbol, margin); err != nil {
		return fmt.Errorf("trader: set margin mode for %s: %w", symbol, err)
	}
	if err := t.exch.SetLeverage(ctx, symbol, leverage); err != nil {
		return fmt.Errorf("trader: set leverage for %s: %w", symbol, err)
	}

	t.mu.Lock()
	t.symbolSetup[symbol] = true
	t.mu.Unlock()
	logger.Infof("trader: %s configured with %s margin at %dx", symbol, margin, leverage)
	return nil
}

func (t *Trader) specFor(o *Order) exchange.OrderSpec {
	return exchange.OrderSpec{
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          o.Side,
		Type:          o.Type,
		Quantity:      o.Quantity,
		StopPrice:     o.StopPrice,
		ReduceOnly:    o.ReduceOnly,
		PositionSide:  o.PositionSide,
	}
}

func marginModeFor(s string) exchange.MarginMode {
	if s == string(exchange.MarginModeIsolated) {
		return exchange.MarginModeIsolated
	}
	return exchange.MarginModeCross
}

func newClientOrderID() string {
	return "tx-" + uuid.NewString()
}

func sideFor(s portfolio.Side, reduce bool) exchange.OrderSide {
	long := s == portfolio.SideLong
	if reduce {
		long = !long
	}
	if long {
		return exchange.Buy
	}
	return exchange.Sell
}

func positionSideFor(s portfolio.Side) exchange.PositionSide {
	if s == portfolio.SideLong {
		return exchange.PositionLong
	}
	return exchange.PositionShort
}
