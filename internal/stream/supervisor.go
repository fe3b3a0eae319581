package stream

import (
	"context"
	"time"

	"traxis/internal/exchange"
	"traxis/internal/logger"
	"traxis/internal/pkg/circuit"
)

// Reconciler is the piece of the order lifecycle manager the supervisor
// drives after every reconnect. It returns how many diffs the pass had to
// resolve.
type Reconciler interface {
	Reconcile(ctx context.Context) (diffs int, err error)
}

// Supervisor keeps the execution-report stream alive. Each drop reconnects
// with exponential backoff up to a ceiling; each successful reconnect runs a
// reconciliation pass before the breaker may close again.
type Supervisor struct {
	stream     exchange.Stream
	breaker    *circuit.Breaker
	reconciler Reconciler
	onReport   func(exchange.ExecutionReport)

	base    time.Duration
	ceiling time.Duration
}

func NewSupervisor(s exchange.Stream, b *circuit.Breaker, r Reconciler, onReport func(exchange.ExecutionReport), base, ceiling time.Duration) *Supervisor {
	if base <= 0 {
		base = time.Second
	}
	if ceiling < base {
		ceiling = 60 * time.Second
	}
	return &Supervisor{
		stream:     s,
		breaker:    b,
		reconciler: r,
		onReport:   onReport,
		base:       base,
		ceiling:    ceiling,
	}
}

// Run blocks until ctx is canceled.
func (s *Supervisor) Run(ctx context.Context) {
	delay := s.base
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.stream.Run(ctx, exchange.StreamHandlers{
			OnReport: s.onReport,
			OnConnect: func() {
				s.breaker.StreamUp()
				s.resyncAfterReconnect(ctx)
			},
			OnDisconnect: func(err error) {
				logger.Warnf("stream: disconnected: %v", err)
				s.breaker.StreamDown()
			},
		})
		if ctx.Err() != nil {
			return
		}
		// Run only returns on failure; session errors count as stream
		// downtime even when OnDisconnect never fired (connect failures).
		s.breaker.StreamDown()
		logger.Warnf("stream: session ended: %v, reconnecting in %s", err, delay)
		if !sleepWithContext(ctx, delay) {
			return
		}
		delay = nextDelay(delay, s.ceiling)
	}
}

func (s *Supervisor) resyncAfterReconnect(ctx context.Context) {
	if s.reconciler == nil {
		return
	}
	// A pass that resolved diffs does not prove state agreement, so keep
	// reconciling until a pass comes back with zero diffs. Bounded: a live
	// market can keep producing diffs forever and the next reconnect will
	// try again.
	for attempt := 0; attempt < maxResyncPasses; attempt++ {
		diffs, err := s.reconciler.Reconcile(ctx)
		if err != nil {
			logger.Warnf("stream: post-reconnect reconcile failed: %v", err)
			return
		}
		if diffs == 0 {
			logger.Infof("stream: clean reconcile after reconnect, submissions resume")
			s.breaker.NotifyCleanResync()
			return
		}
		logger.Warnf("stream: reconcile resolved %d diffs, re-running for a clean pass", diffs)
	}
	logger.Warnf("stream: no clean reconcile pass after %d attempts, breaker stays open", maxResyncPasses)
}

const maxResyncPasses = 3

func nextDelay(current, ceiling time.Duration) time.Duration {
	next := current * 2
	if next > ceiling {
		return ceiling
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
