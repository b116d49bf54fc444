package xmsg

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakpointObserverFilters(t *testing.T) {
	hot := BuildTag(8, 1)
	cold := BuildTag(8, 2)

	var hits atomic.Int64
	bo := BreakpointObserver{
		Breakpoints: []Breakpoint{TagBreakpoint{Tag: hot, Enabled: true}},
		Sink:        ObserverFunc(func(Event) { hits.Add(1) }),
	}

	bo.OnEvent(Event{Type: EventPublished, Context: testContext(hot)})
	bo.OnEvent(Event{Type: EventPublished, Context: testContext(cold)})
	bo.OnEvent(Event{Type: EventRegistered}) // no context, ignored

	assert.Equal(t, int64(1), hits.Load())
}

func TestBreakpointObserverDisabled(t *testing.T) {
	tag := BuildTag(8, 3)

	var hits atomic.Int64
	bo := BreakpointObserver{
		Breakpoints: []Breakpoint{TagBreakpoint{Tag: tag, Enabled: false}},
		Sink:        ObserverFunc(func(Event) { hits.Add(1) }),
	}
	bo.OnEvent(Event{Type: EventPublished, Context: testContext(tag)})
	assert.Zero(t, hits.Load())
}

func TestLoggingObserverNilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		LoggingObserver{}.OnEvent(Event{Type: EventDelivered})
	})
}

func TestObserverPoolDispatches(t *testing.T) {
	p := newObserverPool(2, 16)
	defer func() { _ = p.close(time.Second) }()

	var seen atomic.Int64
	obs := []Observer{ObserverFunc(func(Event) { seen.Add(1) })}
	for i := 0; i < 10; i++ {
		p.notify(Event{Type: EventPublished}, obs)
	}

	require.Eventually(t, func() bool {
		return seen.Load() == 10
	}, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, p.stats().Processed, uint64(10))
}

func TestObserverPoolSurvivesPanickingObserver(t *testing.T) {
	p := newObserverPool(1, 16)
	defer func() { _ = p.close(time.Second) }()

	var seen atomic.Int64
	obs := []Observer{
		ObserverFunc(func(Event) { panic("bad observer") }),
		ObserverFunc(func(Event) { seen.Add(1) }),
	}
	p.notify(Event{Type: EventPublished}, obs)
	p.notify(Event{Type: EventPublished}, obs)

	require.Eventually(t, func() bool {
		return seen.Load() == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestObserverPoolDropsWhenFull(t *testing.T) {
	p := newObserverPool(1, 1)

	block := make(chan struct{})
	obs := []Observer{ObserverFunc(func(Event) { <-block })}

	// One event occupies the worker, one fills the buffer; the rest drop.
	for i := 0; i < 10; i++ {
		p.notify(Event{Type: EventPublished}, obs)
	}
	require.Eventually(t, func() bool {
		return p.stats().Dropped > 0
	}, 2*time.Second, 5*time.Millisecond)

	close(block)
	assert.NoError(t, p.close(2*time.Second))
}

func TestObserverPoolCloseIdempotent(t *testing.T) {
	p := newObserverPool(1, 4)
	assert.NoError(t, p.close(time.Second))
	assert.NoError(t, p.close(time.Second))
}
