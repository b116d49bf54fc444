package xmsg

import (
	"container/heap"
	"time"

	"github.com/trickstertwo/xlog"
)

// staged is one delayed emission waiting in the router's min-heap.
type staged struct {
	sender  *Endpoint
	ctx     *Context
	readyAt time.Time
	index   int
}

type delayHeap []*staged

func (h delayHeap) Len() int { return len(h) }

func (h delayHeap) Less(i, j int) bool { return h[i].readyAt.Before(h[j].readyAt) }

func (h delayHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }

func (h *delayHeap) Push(x any) { s := x.(*staged); s.index = len(*h); *h = append(*h, s) }

func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	s := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return s
}

// router accepts outbound messages, resolves their recipient sets and
// queues one delivery task per recipient on its affinity thread. A single
// goroutine drains the work queue, which is what preserves FIFO order per
// (sender, recipient) pair.
type router struct {
	bus     *Bus
	tasks   chan func()
	delayed delayHeap
	timer   *time.Timer
	quit    chan struct{}
	done    chan struct{}
}

const defaultRouterQueue = 4096

func newRouter(bus *Bus, queueCapacity int) *router {
	if queueCapacity < 1 {
		queueCapacity = defaultRouterQueue
	}
	r := &router{
		bus:   bus,
		tasks: make(chan func(), queueCapacity),
		timer: time.NewTimer(time.Hour),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	if !r.timer.Stop() {
		<-r.timer.C
	}
	return r
}

func (r *router) run() {
	defer close(r.done)
	for {
		select {
		case task := <-r.tasks:
			task()
		case <-r.timer.C:
			r.dispatchReady()
		case <-r.quit:
			// Best-effort flush of queued work, then exit. Entries still
			// waiting in the delay heap are abandoned.
			for {
				select {
				case task := <-r.tasks:
					task()
				default:
					return
				}
			}
		}
	}
}

// submit queues work for the router goroutine. Returns false once the
// router has been told to stop.
func (r *router) submit(task func()) bool {
	select {
	case <-r.quit:
		return false
	default:
	}
	select {
	case r.tasks <- task:
		return true
	case <-r.quit:
		return false
	}
}

func (r *router) stop() {
	close(r.quit)
}

// emit is the entry point for all outbound messages. Called from any
// goroutine; the actual routing happens on the router goroutine.
func (r *router) emit(sender *Endpoint, ctx *Context, delay time.Duration) {
	if r.bus.isClosed() {
		r.bus.reportError(sender, ctx, ErrorBusShutdown)
		return
	}

	var task func()
	if delay > 0 {
		readyAt := r.bus.clock.Now().Add(delay)
		task = func() { r.stage(sender, ctx, readyAt) }
	} else {
		task = func() { r.route(sender, ctx) }
	}
	if !r.submit(task) {
		r.bus.reportError(sender, ctx, ErrorBusShutdown)
	}
}

// stage parks a delayed emission in the min-heap and re-arms the timer to
// the earliest deadline. Runs on the router goroutine.
func (r *router) stage(sender *Endpoint, ctx *Context, readyAt time.Time) {
	heap.Push(&r.delayed, &staged{sender: sender, ctx: ctx, readyAt: readyAt})
	r.rearm()
}

func (r *router) dispatchReady() {
	now := r.bus.clock.Now()
	for len(r.delayed) > 0 && !r.delayed[0].readyAt.After(now) {
		s := heap.Pop(&r.delayed).(*staged)
		r.route(s.sender, s.ctx)
	}
	r.rearm()
}

func (r *router) rearm() {
	if len(r.delayed) == 0 {
		return
	}
	d := r.delayed[0].readyAt.Sub(r.bus.clock.Now())
	if d < 0 {
		d = 0
	}
	if !r.timer.Stop() {
		select {
		case <-r.timer.C:
		default:
		}
	}
	r.timer.Reset(d)
}

// route implements the dispatch pipeline for one emission. Runs on the
// router goroutine.
func (r *router) route(sender *Endpoint, ctx *Context) {
	bus := r.bus

	if ep := bus.endpoint(ctx.Sender()); ep == nil {
		bus.logger.With(
			xlog.Str("sender", ctx.Sender().String()),
			xlog.Str("tag", ctx.Tag().String()),
		).Warn().Msg("xmsg: emission from unregistered sender")
		bus.reportError(sender, ctx, ErrorUnknownSender)
		return
	}

	now := bus.clock.Now()
	if exp := ctx.Expiration(); !exp.IsZero() && (ctx.TimeSent().After(exp) || !now.Before(exp)) {
		bus.metrics.expired.Add(1)
		bus.notifyAsync(Event{Type: EventExpired, Tag: ctx.Tag(), Sender: ctx.Sender(), Context: ctx})
		bus.reportError(sender, ctx, ErrorExpired)
		return
	}

	recipients := r.resolve(sender, ctx)
	for _, ep := range recipients {
		r.deliver(ep, ctx)
	}
}

// resolve enumerates the recipient set. Explicit recipient lists are
// intersected with currently registered addresses; unknown addresses are
// reported back to the sender without aborting the emission. Broadcasts
// use the subscription table with the publish scope as filter.
func (r *router) resolve(sender *Endpoint, ctx *Context) []*Endpoint {
	bus := r.bus

	if addrs := ctx.Recipients(); len(addrs) > 0 {
		recipients := make([]*Endpoint, 0, len(addrs))
		for _, addr := range addrs {
			ep := bus.endpoint(addr)
			if ep == nil {
				bus.reportError(sender, ctx, ErrorUnknownRecipient)
				continue
			}
			recipients = append(recipients, ep)
		}
		return recipients
	}

	return bus.subscriptions.recipients(ctx.Tag(), ctx.Scope())
}

// deliver enqueues one delivery task on the recipient's affinity thread.
// AnyThread recipients are dispatched inline on the router goroutine.
func (r *router) deliver(ep *Endpoint, ctx *Context) {
	r.bus.dispatcher.Post(ep.RecipientThread(), func() {
		ep.receive(ctx)
	})
}
