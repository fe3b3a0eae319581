package binance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"traxis/internal/exchange"
	"traxis/internal/logger"
)

// UserStream is one session of the futures user-data stream. Run blocks for
// the lifetime of the session; the stream supervisor owns reconnects and
// backoff, so this type deliberately does not retry.
type UserStream struct {
	client *futures.Client
}

var _ exchange.Stream = (*UserStream)(nil)

func NewUserStream(a *Adapter) *UserStream {
	return &UserStream{client: a.client}
}

func (s *UserStream) Run(ctx context.Context, h exchange.StreamHandlers) error {
	listenKey, err := s.client.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return fmt.Errorf("binance stream: listen key: %w", classify(err))
	}

	var errMu sync.Mutex
	var lastErr error
	handler := func(event *futures.WsUserDataEvent) {
		if event == nil || event.Event != futures.UserDataEventTypeOrderTradeUpdate {
			return
		}
		if h.OnReport != nil {
			h.OnReport(fromOrderTradeUpdate(&event.OrderTradeUpdate, event.Time))
		}
	}
	errHandler := func(err error) {
		if err == nil {
			return
		}
		errMu.Lock()
		lastErr = err
		errMu.Unlock()
	}

	doneC, stopC, err := futures.WsUserDataServe(listenKey, handler, errHandler)
	if err != nil {
		return fmt.Errorf("binance stream: connect: %w", err)
	}
	if h.OnConnect != nil {
		h.OnConnect()
	}

	// Binance expires listen keys after 60 minutes without a keepalive.
	keepalive := time.NewTicker(25 * time.Minute)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
			return ctx.Err()
		case <-keepalive.C:
			kaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := s.client.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(kaCtx); err != nil {
				logger.Warnf("binance stream: keepalive failed: %v", err)
			}
			cancel()
		case <-doneC:
			errMu.Lock()
			errCopy := lastErr
			errMu.Unlock()
			if h.OnDisconnect != nil {
				h.OnDisconnect(errCopy)
			}
			if errCopy == nil {
				errCopy = fmt.Errorf("binance stream: session closed")
			}
			return errCopy
		}
	}
}
