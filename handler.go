package xmsg

import (
	"fmt"
	"reflect"
	"sync"
	"weak"

	"github.com/trickstertwo/xlog"
)

// Handler processes a single delivered message.
type Handler interface {
	HandleMessage(ctx *Context)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx *Context)

func (f HandlerFunc) HandleMessage(ctx *Context) { f(ctx) }

// liveness is implemented by handlers whose receiver may lapse. Dead
// handlers are skipped during dispatch and pruned from the registry.
type liveness interface {
	live() bool
}

type boundHandler struct {
	resolve func() (func(*Context), bool)
}

func (h *boundHandler) HandleMessage(ctx *Context) {
	if invoke, ok := h.resolve(); ok {
		invoke(ctx)
	}
}

func (h *boundHandler) live() bool {
	_, ok := h.resolve()
	return ok
}

// Bound wraps a method on receiver into a Handler holding only a weak
// reference. Once the receiver is collected, the handler reports dead and
// its registrations are garbage-collected on the next dispatch.
func Bound[R any](receiver *R, fn func(recv *R, ctx *Context)) Handler {
	wp := weak.Make(receiver)
	return &boundHandler{
		resolve: func() (func(*Context), bool) {
			recv := wp.Value()
			if recv == nil {
				return nil, false
			}
			return func(ctx *Context) { fn(recv, ctx) }, true
		},
	}
}

// sameHandler compares handler identity. Function-backed handlers compare
// by code pointer so raw HandlerFunc values can be unregistered.
func sameHandler(a, b Handler) bool {
	ra := reflect.ValueOf(a)
	rb := reflect.ValueOf(b)
	if ra.Kind() == reflect.Func || rb.Kind() == reflect.Func {
		return ra.Kind() == rb.Kind() && ra.Pointer() == rb.Pointer()
	}
	if !ra.Comparable() || !rb.Comparable() {
		return false
	}
	return a == b
}

type handlerEntry struct {
	tag     Tag
	handler Handler
}

// handlerRegistry maps tags to handler lists for one endpoint. Handlers
// fire in registration order; duplicates are permitted and each is invoked.
type handlerRegistry struct {
	mu        sync.Mutex
	entries   []handlerEntry
	catchalls []Handler
	logger    *xlog.Logger
}

func newHandlerRegistry(logger *xlog.Logger) *handlerRegistry {
	return &handlerRegistry{logger: logger}
}

func (r *handlerRegistry) register(tag Tag, h Handler) {
	if h == nil {
		return
	}
	r.mu.Lock()
	r.entries = append(r.entries, handlerEntry{tag: tag, handler: h})
	r.mu.Unlock()
}

// unregister removes the first entry matching (tag, handler identity).
// No-op when absent.
func (r *handlerRegistry) unregister(tag Tag, h Handler) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.tag == tag && sameHandler(e.handler, h) {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

func (r *handlerRegistry) registerCatchall(h Handler) {
	if h == nil {
		return
	}
	r.mu.Lock()
	r.catchalls = append(r.catchalls, h)
	r.mu.Unlock()
}

// snapshot collects the handlers matching tag plus every catch-all, in
// registration order, pruning entries whose receiver has lapsed.
func (r *handlerRegistry) snapshot(tag Tag) []Handler {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.entries[:0]
	var matched []Handler
	for _, e := range r.entries {
		if l, ok := e.handler.(liveness); ok && !l.live() {
			continue
		}
		kept = append(kept, e)
		if e.tag == tag {
			matched = append(matched, e.handler)
		}
	}
	r.entries = kept

	keptCatchalls := r.catchalls[:0]
	for _, h := range r.catchalls {
		if l, ok := h.(liveness); ok && !l.live() {
			continue
		}
		keptCatchalls = append(keptCatchalls, h)
		matched = append(matched, h)
	}
	r.catchalls = keptCatchalls

	return matched
}

// dispatch invokes every handler matching the context's tag, then every
// catch-all. A panicking handler is isolated: the panic is logged with the
// message identity and the loop continues. Returns the panic count.
func (r *handlerRegistry) dispatch(ctx *Context) int {
	faults := 0
	for _, h := range r.snapshot(ctx.Tag()) {
		if err := r.invoke(h, ctx); err != nil {
			faults++
			r.logger.With(
				xlog.Str("tag", ctx.Tag().String()),
				xlog.Str("sender", ctx.Sender().String()),
			).Warn().Err(err).Msg("xmsg: handler panic (recovered)")
		}
	}
	return faults
}

func (r *handlerRegistry) invoke(h Handler, ctx *Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic recovered: %v", rec)
		}
	}()
	h.HandleMessage(ctx)
	return nil
}
