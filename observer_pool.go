package xmsg

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// observerPool dispatches events to observers asynchronously so that slow
// observers never block the router. Non-blocking design: events are
// dropped when the buffer is full.
type observerPool struct {
	events    chan *Event
	workers   int
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closed    atomic.Bool
	dropped   atomic.Uint64
	processed atomic.Uint64
}

// PoolStats reports observer pool telemetry.
type PoolStats struct {
	Dropped   uint64
	Processed uint64
}

func newObserverPool(workers, bufferSize int) *observerPool {
	if workers < 1 {
		workers = 2
	}
	if bufferSize < 1 {
		bufferSize = 512
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &observerPool{
		events:  make(chan *Event, bufferSize),
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// notify queues an event for asynchronous dispatch. The observer set is
// captured at send time.
func (p *observerPool) notify(e Event, observers []Observer) {
	if len(observers) == 0 || p.closed.Load() {
		return
	}
	e.observers = make([]Observer, len(observers))
	copy(e.observers, observers)

	select {
	case p.events <- &e:
	default:
		p.dropped.Add(1)
	}
}

func (p *observerPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			// Drain whatever is still queued, then exit.
			for {
				select {
				case e := <-p.events:
					p.dispatch(e)
				default:
					return
				}
			}
		case e := <-p.events:
			p.dispatch(e)
			p.processed.Add(1)
		}
	}
}

// dispatch tolerates observer panics so one misbehaving observer cannot
// take a pool worker down.
func (p *observerPool) dispatch(e *Event) {
	if e == nil {
		return
	}
	for _, obs := range e.observers {
		if obs == nil {
			continue
		}
		func() {
			defer func() { _ = recover() }()
			obs.OnEvent(*e)
		}()
	}
}

func (p *observerPool) close(timeout time.Duration) error {
	if p.closed.Swap(true) {
		return nil
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrObserverPoolStuck
	}
}

func (p *observerPool) stats() PoolStats {
	return PoolStats{
		Dropped:   p.dropped.Load(),
		Processed: p.processed.Load(),
	}
}
