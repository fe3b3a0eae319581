package binance

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"

	"traxis/internal/exchange"
)

// Adapter implements exchange.Client against Binance USD-M futures.
type Adapter struct {
	client  *futures.Client
	timeout time.Duration
}

var _ exchange.Client = (*Adapter)(nil)

func New(apiKey, apiSecret string, testnet bool, timeout time.Duration) *Adapter {
	futures.UseTestnet = testnet
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Adapter{
		client:  futures.NewClient(apiKey, apiSecret),
		timeout: timeout,
	}
}

func (a *Adapter) Name() string { return "binance" }

func (a *Adapter) PlaceOrder(ctx context.Context, spec exchange.OrderSpec) (exchange.Ack, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	svc := a.client.NewCreateOrderService().
		Symbol(spec.Symbol).
		Side(toSide(spec.Side)).
		Type(toOrderType(spec.Type)).
		Quantity(formatQty(spec.Quantity))
	if spec.ClientOrderID != "" {
		svc = svc.NewClientOrderID(spec.ClientOrderID)
	}
	if spec.Type == exchange.Limit {
		svc = svc.Price(formatQty(spec.Price)).TimeInForce(futures.TimeInForceTypeGTC)
	}
	if spec.StopPrice > 0 {
		svc = svc.StopPrice(formatQty(spec.StopPrice))
	}
	if spec.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	if spec.PositionSide != "" && spec.PositionSide != exchange.PositionBoth {
		svc = svc.PositionSide(toPositionSide(spec.PositionSide))
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return exchange.Ack{}, classify(err)
	}
	return exchange.Ack{
		OrderID:       strconv.FormatInt(res.OrderID, 10),
		ClientOrderID: res.ClientOrderID,
		Status:        string(res.Status),
		At:            time.Now().UTC(),
	}, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("binance: bad order id %q: %w", orderID, err)
	}
	_, err = a.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	return classify(err)
}

func (a *Adapter) QueryOrder(ctx context.Context, symbol, orderID string) (exchange.OrderState, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return exchange.OrderState{}, fmt.Errorf("binance: bad order id %q: %w", orderID, err)
	}
	res, err := a.client.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return exchange.OrderState{}, classify(err)
	}
	return fromOrder(res), nil
}

func (a *Adapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	_, err := a.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	return classify(err)
}

func (a *Adapter) SetMarginMode(ctx context.Context, symbol string, mode exchange.MarginMode) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	mt := futures.MarginTypeIsolated
	if mode == exchange.MarginModeCross {
		mt = futures.MarginTypeCrossed
	}
	err := a.client.NewChangeMarginTypeService().Symbol(symbol).MarginType(mt).Do(ctx)
	// Binance answers -4046 when the margin type is already what we asked for.
	var apiErr *common.APIError
	if errors.As(err, &apiErr) && apiErr.Code == -4046 {
		return nil
	}
	return classify(err)
}

func (a *Adapter) OpenOrders(ctx context.Context) ([]exchange.OrderState, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	res, err := a.client.NewListOpenOrdersService().Do(ctx)
	if err != nil {
		return nil, classify(err)
	}
	out := make([]exchange.OrderState, 0, len(res))
	for _, o := range res {
		out = append(out, fromOrder(o))
	}
	return out, nil
}

func (a *Adapter) Positions(ctx context.Context) ([]exchange.PositionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	res, err := a.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, classify(err)
	}
	out := make([]exchange.PositionInfo, 0, len(res))
	for _, p := range res {
		info, ok := fromPositionRisk(p)
		if ok {
			out = append(out, info)
		}
	}
	return out, nil
}

func (a *Adapter) AccountBalance(ctx context.Context) (exchange.Balance, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	acc, err := a.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return exchange.Balance{}, classify(err)
	}
	equity := parseFloat(acc.TotalMarginBalance)
	avail := parseFloat(acc.AvailableBalance)
	return exchange.Balance{Equity: equity, Available: avail, UpdatedAt: time.Now().UTC()}, nil
}

// classify maps transport and API errors onto the core's failure classes.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("binance: %w: %v", exchange.ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("binance: %w: %v", exchange.ErrTimeout, err)
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -1003, -1015: // too many requests / too many orders
			return fmt.Errorf("binance: %w: %v", exchange.ErrRateLimited, err)
		case -2011, -2013: // unknown order / order does not exist
			return fmt.Errorf("binance: %w: %v", exchange.ErrOrderNotFound, err)
		}
	}
	if strings.Contains(err.Error(), "429") {
		return fmt.Errorf("binance: %w: %v", exchange.ErrRateLimited, err)
	}
	return err
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
