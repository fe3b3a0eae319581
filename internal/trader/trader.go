package trader

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"traxis/internal/exchange"
	"traxis/internal/logger"
	"traxis/internal/monitoring"
	"traxis/internal/pkg/circuit"
	"traxis/internal/portfolio"
)

// Trader is the order lifecycle actor. All order and position mutations flow
// through a single event loop, so an order record and its position delta are
// always applied together and observers never see one without the other.
//
// Network calls (placement, cancels, status queries, reconcile snapshots)
// happen on the caller's goroutine; only the resulting facts enter the loop.
type Trader struct {
	exch    exchange.Client
	book    *portfolio.Book
	breaker *circuit.Breaker
	journal Journal
	metrics *monitoring.Metrics

	msgCh  chan EventEnvelope
	stopCh chan struct{}
	wg     sync.WaitGroup

	// Actor-owned state. Never touched outside the loop.
	orders   map[string]*Order // client order ID -> order
	byExchID map[string]string // exchange order ID -> client order ID
	handlers map[EventType]func(EventEnvelope) error

	// published mirrors orders as copies for lock-free reads. Entries are
	// stored only after the loop finished applying a mutation.
	published sync.Map // client order ID -> *Order (copy)

	mu          sync.Mutex
	symbolSetup map[string]bool // leverage and margin mode applied

	submitTimeout time.Duration
}

func NewTrader(exch exchange.Client, book *portfolio.Book, breaker *circuit.Breaker, journal Journal, metrics *monitoring.Metrics) *Trader {
	t := &Trader{
		exch:          exch,
		book:          book,
		breaker:       breaker,
		journal:       journal,
		metrics:       metrics,
		msgCh:         make(chan EventEnvelope, 100),
		stopCh:        make(chan struct{}),
		orders:        make(map[string]*Order),
		byExchID:      make(map[string]string),
		symbolSetup:   make(map[string]bool),
		submitTimeout: 5 * time.Second,
	}
	t.handlers = map[EventType]func(EventEnvelope) error{
		EvtOrderRegister: t.handleOrderRegister,
		EvtOrderAck:      t.handleOrderAck,
		EvtOrderReject:   t.handleOrderReject,
		EvtExecReport:    t.handleExecReport,
		EvtOrderResolved: t.handleOrderResolved,
		EvtReconcile:     t.handleReconcile,
		EvtMarkPrice:     t.handleMarkPrice,
	}
	return t
}

func (t *Trader) Start() {
	t.wg.Add(1)
	go t.runLoop()
}

func (t *Trader) Stop() {
	close(t.stopCh)
	t.wg.Wait()
}

func (t *Trader) Send(evt EventEnvelope) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now()
	}
	select {
	case t.msgCh <- evt:
		return nil
	case <-t.stopCh:
		return fmt.Errorf("trader is stopped")
	}
}

func (t *Trader) SendSync(ctx context.Context, evt EventEnvelope) error {
	if evt.ReplyCh == nil {
		evt.ReplyCh = make(chan error, 1)
	}
	if err := t.Send(evt); err != nil {
		return err
	}
	select {
	case err := <-evt.ReplyCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-t.stopCh:
		return fmt.Errorf("trader stopped during sync call")
	}
}

// OnExecutionReport feeds a user-stream report into the loop. Safe to call
// from the stream goroutine.
func (t *Trader) OnExecutionReport(rep exchange.ExecutionReport) {
	if err := t.Send(EventEnvelope{Type: EvtExecReport, Payload: rep}); err != nil {
		logger.Warnf("trader: dropping execution report for %s: %v", rep.Symbol, err)
	}
}

// UpdateMark pushes a mark price for open-position PnL tracking.
func (t *Trader) UpdateMark(symbol string, price float64) {
	_ = t.Send(EventEnvelope{Type: EvtMarkPrice, Payload: markPricePayload{Symbol: symbol, Price: price, At: time.Now()}})
}

// OrderByClientID returns a copy of the order, or nil if unknown.
func (t *Trader) OrderByClientID(id string) *Order {
	v, ok := t.published.Load(id)
	if !ok {
		return nil
	}
	return v.(*Order).clone()
}

// Orders returns copies of all known orders.
func (t *Trader) Orders() []Order {
	var out []Order
	t.published.Range(func(_, v any) bool {
		out = append(out, *v.(*Order))
		return true
	})
	return out
}

func (t *Trader) runLoop() {
	defer t.wg.Done()
	logger.Infof("trader: actor started")
	for {
		select {
		case evt := <-t.msgCh:
			t.handleEvent(evt)
		case <-t.stopCh:
			logger.Infof("trader: actor stopping")
			return
		}
	}
}

func (t *Trader) handleEvent(evt EventEnvelope) {
	var err error
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("trader: panic handling event %s: %v", evt.Type, r)
			debug.PrintStack()
			err = fmt.Errorf("panic: %v", r)
		}
		if evt.ReplyCh != nil {
			evt.ReplyCh <- err
			close(evt.ReplyCh)
		}
		if dur := time.Since(start); dur > 100*time.Millisecond {
			logger.Warnf("trader: slow event %s took %v", evt.Type, dur)
		}
	}()

	handler, ok := t.handlers[evt.Type]
	if !ok {
		logger.Warnf("trader: no handler for event type %s", evt.Type)
		return
	}
	err = handler(evt)
	if err != nil {
		logger.Errorf("trader: failed to handle %s: %v", evt.Type, err)
	}
}

// publish stores a copy for lock-free readers. Loop-only.
func (t *Trader) publish(o *Order) {
	t.published.Store(o.ClientOrderID, o.clone())
}

func (t *Trader) journalOrder(o *Order) {
	if t.journal == nil || !o.Status.Terminal() {
		return
	}
	if err := t.journal.RecordOrder(*o); err != nil {
		logger.Warnf("trader: journal order %s failed: %v", o.ClientOrderID, err)
	}
}
