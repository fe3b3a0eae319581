package circuit

import (
	"sync"
	"time"

	"traxis/internal/logger"
)

type State int

const (
	StateClosed State = iota
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// Breaker gates order submission. It opens after a run of consecutive request
// failures or once the fill stream has been down beyond a threshold, and it
// closes only when told that a clean reconnect plus a zero-diff
// reconciliation pass completed. There is no half-open probe: exchange truth,
// not elapsed time, is what proves recovery.
type Breaker struct {
	mu            sync.Mutex
	state         State
	failures      int
	threshold     int
	downtimeTrip  time.Duration
	streamDownAt  time.Time
	streamUp      bool
	name          string
	onStateChange func(name string, from, to State)
}

func NewBreaker(name string, failureThreshold int, downtimeTrip time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if downtimeTrip <= 0 {
		downtimeTrip = 45 * time.Second
	}
	return &Breaker{
		name:         name,
		threshold:    failureThreshold,
		downtimeTrip: downtimeTrip,
		state:        StateClosed,
		streamUp:     true,
	}
}

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) SetStateChangeHandler(handler func(name string, from, to State)) {
	b.mu.Lock()
	b.onStateChange = handler
	b.mu.Unlock()
}

// Allow reports whether a new submission may proceed. While the stream is
// down it also trips on elapsed downtime, so a silent outage opens the
// breaker without any request failing first.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateClosed && !b.streamUp && !b.streamDownAt.IsZero() {
		if time.Since(b.streamDownAt) > b.downtimeTrip {
			b.transition(StateOpen)
		}
	}
	return b.state == StateClosed
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RecordSuccess resets the failure run. It never closes an open breaker;
// only NotifyCleanResync does that.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	b.failures = 0
	b.mu.Unlock()
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.state == StateClosed && b.failures >= b.threshold {
		b.transition(StateOpen)
	}
}

// StreamDown marks the fill stream as disconnected.
func (b *Breaker) StreamDown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.streamUp {
		b.streamUp = false
		b.streamDownAt = time.Now()
	}
}

// StreamUp marks the fill stream as reconnected. The breaker stays wherever
// it is until a reconciliation pass confirms state converged.
func (b *Breaker) StreamUp() {
	b.mu.Lock()
	b.streamUp = true
	b.streamDownAt = time.Time{}
	b.mu.Unlock()
}

// NotifyCleanResync closes the breaker after a reconnect followed by a
// reconciliation pass that found zero unresolved diffs.
func (b *Breaker) NotifyCleanResync() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.streamUp {
		return
	}
	b.failures = 0
	if b.state == StateOpen {
		b.transition(StateClosed)
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if b.onStateChange != nil {
		go b.onStateChange(b.name, from, to)
	} else {
		logger.Warnf("Breaker %s state change: %s -> %s (failures=%d/%d)", b.name, from, to, b.failures, b.threshold)
	}
}
