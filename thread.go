package xmsg

import (
	"runtime"
	"sync"
)

// ThreadID names a delivery thread supplied by the embedding host. The
// reserved AnyThread value means "run inline on the posting goroutine".
type ThreadID string

// AnyThread is the fastest way to receive messages: deliveries run inline
// on the router goroutine. It must only be used when the receiving code is
// thread-safe and fast, because it blocks the router while handlers run.
const AnyThread ThreadID = ""

// Dispatcher abstracts the host's threading primitives. The bus posts each
// delivery task to the recipient's configured thread through it.
type Dispatcher interface {
	// Post schedules task on the named thread. Posting to AnyThread runs
	// the task inline. Tasks posted to the same thread run in post order.
	Post(thread ThreadID, task func())
	// Current returns the identity of the calling thread, or AnyThread if
	// the caller is not a thread known to the dispatcher.
	Current() ThreadID
}

// InlineDispatcher runs every task inline regardless of thread name.
type InlineDispatcher struct{}

func (InlineDispatcher) Post(_ ThreadID, task func()) { task() }

func (InlineDispatcher) Current() ThreadID { return AnyThread }

// LoopDispatcher backs each named thread with a dedicated goroutine that
// drains a task queue in FIFO order. It is the default dispatcher.
type LoopDispatcher struct {
	mu      sync.Mutex
	loops   map[ThreadID]chan func()
	current sync.Map // goroutine id -> ThreadID
	closed  bool
	wg      sync.WaitGroup
}

// NewLoopDispatcher creates an empty dispatcher. Thread loops are started
// lazily on first Post.
func NewLoopDispatcher() *LoopDispatcher {
	return &LoopDispatcher{loops: make(map[ThreadID]chan func())}
}

const loopQueueCapacity = 1024

func (d *LoopDispatcher) Post(thread ThreadID, task func()) {
	if thread == AnyThread {
		task()
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	tasks, ok := d.loops[thread]
	if !ok {
		tasks = make(chan func(), loopQueueCapacity)
		d.loops[thread] = tasks
		d.wg.Add(1)
		go d.run(thread, tasks)
	}
	d.mu.Unlock()

	tasks <- task
}

func (d *LoopDispatcher) run(thread ThreadID, tasks chan func()) {
	defer d.wg.Done()
	id := goid()
	d.current.Store(id, thread)
	defer d.current.Delete(id)
	for task := range tasks {
		task()
	}
}

func (d *LoopDispatcher) Current() ThreadID {
	if v, ok := d.current.Load(goid()); ok {
		return v.(ThreadID)
	}
	return AnyThread
}

// Close stops all thread loops after draining their queues.
func (d *LoopDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, tasks := range d.loops {
		close(tasks)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// goid extracts the current goroutine id from the runtime stack header
// ("goroutine N [running]: ..."). Used only to resolve Current.
func goid() uint64 {
	var buf [32]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for _, c := range buf[10:n] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}
