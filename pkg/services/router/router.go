// Package router is the in-process nervous system of the orchestrator: a
// priority-ordered publish/subscribe bus with wildcard subscriptions, a
// bounded event history for audit queries, and a single background dispatch
// goroutine. Producers only ever enqueue; subscriber state is touched by the
// dispatch loop alone.
package router

import (
	"container/heap"
	"fmt"
	"log"
	"sync"
	"time"

	"groundctl/pkg/shared"
)

// Wildcard subscribes a handler to every event in addition to its
// exact-match handlers.
const Wildcard = "*"

const historyCapacity = 1000

// Handler receives dispatched events. A returned error (or a panic) is
// contained by the router: it is logged, forwarded to the error observers,
// and never reaches the publisher or the other handlers.
type Handler interface {
	Handle(event *shared.Event) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(event *shared.Event) error

func (f HandlerFunc) Handle(event *shared.Event) error { return f(event) }

// queueItem keeps a sequence number so that events with equal priority and
// equal timestamps still dispatch in publish order.
type queueItem struct {
	event *shared.Event
	seq   uint64
}

type eventHeap []queueItem

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].event.Priority != h[j].event.Priority {
		return h[i].event.Priority < h[j].event.Priority
	}
	if !h[i].event.Timestamp.Equal(h[j].event.Timestamp) {
		return h[i].event.Timestamp.Before(h[j].event.Timestamp)
	}
	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) { *h = append(*h, x.(queueItem)) }

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Router dispatches published events to subscribers in priority order.
// The queue is unbounded; under sustained overload it grows without limit.
type Router struct {
	mu             sync.Mutex
	queue          eventHeap
	seq            uint64
	subscribers    map[string][]Handler
	errorObservers []func(error)

	history      []*shared.Event // ring, oldest evicted first
	historyStart int
	historyLen   int
	totalSeen    int
	dispatched   int

	running bool
	wake    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

func New() *Router {
	return &Router{
		subscribers: make(map[string][]Handler),
		history:     make([]*shared.Event, historyCapacity),
		wake:        make(chan struct{}, 1),
	}
}

// Subscribe registers a handler for an exact event type, or for every event
// when eventType is the wildcard "*". Handlers run in registration order.
func (r *Router) Subscribe(eventType string, handler Handler) {
	r.mu.Lock()
	r.subscribers[eventType] = append(r.subscribers[eventType], handler)
	r.mu.Unlock()
	log.Printf("[Router] Subscribed to %s", eventType)
}

// OnError registers an observer that receives handler and dispatch failures.
func (r *Router) OnError(observer func(error)) {
	r.mu.Lock()
	r.errorObservers = append(r.errorObservers, observer)
	r.mu.Unlock()
}

// Publish enqueues the event and records it in the bounded history. It never
// blocks on dispatch; ordering toward subscribers is by priority first, then
// timestamp, then publish order.
func (r *Router) Publish(event *shared.Event) {
	r.mu.Lock()
	r.seq++
	heap.Push(&r.queue, queueItem{event: event, seq: r.seq})
	r.appendHistory(event)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	log.Printf("[Router] Event published: %s [priority: %s]", event.Type, event.Priority)
}

func (r *Router) appendHistory(event *shared.Event) {
	idx := (r.historyStart + r.historyLen) % historyCapacity
	if r.historyLen == historyCapacity {
		r.history[r.historyStart] = event
		r.historyStart = (r.historyStart + 1) % historyCapacity
	} else {
		r.history[idx] = event
		r.historyLen++
	}
	r.totalSeen++
}

// Recent returns up to n most recent events, newest last.
func (r *Router) Recent(n int) []*shared.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || n > r.historyLen {
		n = r.historyLen
	}
	out := make([]*shared.Event, 0, n)
	for i := r.historyLen - n; i < r.historyLen; i++ {
		out = append(out, r.history[(r.historyStart+i)%historyCapacity])
	}
	return out
}

// HistoryCount reports how many events have been published since start,
// including any already evicted from the bounded history and any still
// waiting in the queue.
func (r *Router) HistoryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalSeen
}

// DispatchedCount reports how many events have been delivered to subscribers.
// It trails HistoryCount by whatever is still queued.
func (r *Router) DispatchedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dispatched
}

// Start launches the dispatch goroutine. Calling Start on a running router
// is a no-op.
func (r *Router) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.done = make(chan struct{})
	r.mu.Unlock()

	r.wg.Add(1)
	go r.processEvents()
	log.Printf("[Router] Started")
}

// Stop halts the dispatch loop after the event currently being dispatched
// finishes. Queued events remain queued and dispatch on the next Start.
func (r *Router) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.done)
	r.mu.Unlock()

	r.wg.Wait()
	log.Printf("[Router] Stopped")
}

func (r *Router) processEvents() {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case <-r.wake:
		}

		for {
			r.mu.Lock()
			if len(r.queue) == 0 {
				r.mu.Unlock()
				break
			}
			item := heap.Pop(&r.queue).(queueItem)
			r.mu.Unlock()

			r.dispatch(item.event)

			select {
			case <-r.done:
				return
			default:
			}
		}
	}
}

func (r *Router) dispatch(event *shared.Event) {
	r.mu.Lock()
	handlers := make([]Handler, 0, len(r.subscribers[event.Type])+len(r.subscribers[Wildcard]))
	handlers = append(handlers, r.subscribers[event.Type]...)
	handlers = append(handlers, r.subscribers[Wildcard]...)
	r.mu.Unlock()

	for _, h := range handlers {
		if err := r.invoke(h, event); err != nil {
			log.Printf("[Router] Handler error for %s: %v", event.Type, err)
			r.notifyError(err)
		}
	}
	event.Processed = true

	r.mu.Lock()
	r.dispatched++
	r.mu.Unlock()
}

func (r *Router) invoke(h Handler, event *shared.Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic for %s: %v", event.Type, rec)
		}
	}()
	return h.Handle(event)
}

func (r *Router) notifyError(err error) {
	r.mu.Lock()
	observers := make([]func(error), len(r.errorObservers))
	copy(observers, r.errorObservers)
	r.mu.Unlock()

	for _, observe := range observers {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					log.Printf("[Router] Error observer panic: %v", rec)
				}
			}()
			observe(err)
		}()
	}
}

// Drain waits until the queue is empty or the timeout elapses. Intended for
// tests and shutdown paths that need published events fully delivered.
func (r *Router) Drain(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		empty := len(r.queue) == 0
		r.mu.Unlock()
		if empty {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}
