package stream

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"traxis/internal/exchange"
	"traxis/internal/pkg/circuit"
)

// scriptedStream connects, optionally delivers reports, then drops.
type scriptedStream struct {
	sessions atomic.Int32
	reports  []exchange.ExecutionReport
	maxRuns  int32
	done     chan struct{}
}

func (s *scriptedStream) Run(ctx context.Context, h exchange.StreamHandlers) error {
	n := s.sessions.Add(1)
	if s.maxRuns > 0 && n > s.maxRuns {
		close(s.done)
		<-ctx.Done()
		return ctx.Err()
	}
	h.OnConnect()
	for _, rep := range s.reports {
		h.OnReport(rep)
	}
	err := errors.New("connection reset")
	h.OnDisconnect(err)
	return err
}

// scriptedReconciler returns the queued diff counts in order, then zeros.
type scriptedReconciler struct {
	diffs []int
	calls atomic.Int32
	err   error
}

func (r *scriptedReconciler) Reconcile(_ context.Context) (int, error) {
	n := int(r.calls.Add(1)) - 1
	if r.err != nil {
		return 0, r.err
	}
	if n < len(r.diffs) {
		return r.diffs[n], nil
	}
	return 0, nil
}

func runSupervisor(t *testing.T, s *scriptedStream, r Reconciler, b *circuit.Breaker) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup := NewSupervisor(s, b, r, func(exchange.ExecutionReport) {}, time.Millisecond, 4*time.Millisecond)
	go sup.Run(ctx)

	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not reach scripted session count")
	}
}

func TestSupervisorCleanResyncClosesBreaker(t *testing.T) {
	b := circuit.NewBreaker("stream", 1, time.Minute)
	b.RecordFailure()
	assert.Equal(t, circuit.StateOpen, b.State())

	s := &scriptedStream{maxRuns: 1, done: make(chan struct{})}
	rec := &scriptedReconciler{diffs: []int{0}}
	runSupervisor(t, s, rec, b)

	assert.Equal(t, circuit.StateClosed, b.State())
	assert.GreaterOrEqual(t, rec.calls.Load(), int32(1))
}

func TestSupervisorRepeatsReconcileUntilClean(t *testing.T) {
	b := circuit.NewBreaker("stream", 1, time.Minute)
	b.RecordFailure()

	s := &scriptedStream{maxRuns: 1, done: make(chan struct{})}
	rec := &scriptedReconciler{diffs: []int{2, 1, 0}}
	runSupervisor(t, s, rec, b)

	assert.Equal(t, int32(3), rec.calls.Load())
	assert.Equal(t, circuit.StateClosed, b.State())
}

func TestSupervisorKeepsBreakerOpenOnReconcileError(t *testing.T) {
	b := circuit.NewBreaker("stream", 1, time.Minute)
	b.RecordFailure()

	s := &scriptedStream{maxRuns: 1, done: make(chan struct{})}
	rec := &scriptedReconciler{err: errors.New("exchange unreachable")}
	runSupervisor(t, s, rec, b)

	assert.Equal(t, circuit.StateOpen, b.State())
}

func TestSupervisorReconnectsAfterDrop(t *testing.T) {
	b := circuit.NewBreaker("stream", 5, time.Minute)
	s := &scriptedStream{maxRuns: 3, done: make(chan struct{})}
	rec := &scriptedReconciler{}
	runSupervisor(t, s, rec, b)

	// Three full sessions, each reconnect ran a reconcile pass.
	assert.Equal(t, int32(3), rec.calls.Load())
}

func TestNextDelayDoublesToCeiling(t *testing.T) {
	ceiling := 8 * time.Second
	d := time.Second
	d = nextDelay(d, ceiling)
	assert.Equal(t, 2*time.Second, d)
	d = nextDelay(d, ceiling)
	assert.Equal(t, 4*time.Second, d)
	d = nextDelay(d, ceiling)
	assert.Equal(t, 8*time.Second, d)
	d = nextDelay(d, ceiling)
	assert.Equal(t, 8*time.Second, d)
}
