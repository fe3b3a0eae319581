package circuit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker("exchange", 3, time.Minute)
	assert.True(t, b.Allow())

	b.RecordFailure()
	b.RecordFailure()
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerSuccessResetsFailureRun(t *testing.T) {
	b := NewBreaker("exchange", 3, time.Minute)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	// Never three in a row, stays closed.
	assert.True(t, b.Allow())
}

func TestBreakerSuccessNeverClosesOpenBreaker(t *testing.T) {
	b := NewBreaker("exchange", 1, time.Minute)
	b.RecordFailure()
	assert.False(t, b.Allow())

	b.RecordSuccess()
	assert.False(t, b.Allow())
}

func TestBreakerTripsOnStreamDowntime(t *testing.T) {
	b := NewBreaker("exchange", 5, 10*time.Millisecond)
	b.StreamDown()
	assert.True(t, b.Allow())

	time.Sleep(20 * time.Millisecond)
	assert.False(t, b.Allow())
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerCleanResyncClosesOnlyWithStreamUp(t *testing.T) {
	b := NewBreaker("exchange", 1, time.Minute)
	b.RecordFailure()
	b.StreamDown()
	assert.Equal(t, StateOpen, b.State())

	// A resync report while the stream is still down must not close.
	b.NotifyCleanResync()
	assert.Equal(t, StateOpen, b.State())

	b.StreamUp()
	assert.Equal(t, StateOpen, b.State())

	b.NotifyCleanResync()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreakerStateChangeHandler(t *testing.T) {
	b := NewBreaker("exchange", 1, time.Minute)

	var mu sync.Mutex
	var got []State
	done := make(chan struct{}, 2)
	b.SetStateChangeHandler(func(name string, from, to State) {
		assert.Equal(t, "exchange", name)
		mu.Lock()
		got = append(got, to)
		mu.Unlock()
		done <- struct{}{}
	})

	b.RecordFailure()
	<-done
	b.NotifyCleanResync()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateOpen, StateClosed}, got)
}

func TestBreakerDefaults(t *testing.T) {
	b := NewBreaker("exchange", 0, 0)
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	assert.True(t, b.Allow())
	b.RecordFailure()
	assert.False(t, b.Allow())
}
