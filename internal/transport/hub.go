package transport

import (
	"sync"

	"github.com/antinvestor/pilot/internal/engine"
	"github.com/antinvestor/pilot/internal/events"
)

// subQueue is one subscriber's pending updates. push never blocks the
// publisher; next blocks the drain goroutine until an item arrives or
// the queue is closed and fully drained.
type subQueue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
}

func newSubQueue[T any]() *subQueue[T] {
	q := &subQueue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *subQueue[T]) push(v T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, v)
	q.cond.Signal()
}

func (q *subQueue[T]) next() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	v := q.items[0]
	q.items = q.items[1:]
	return v, true
}

func (q *subQueue[T]) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Signal()
}

// stream fans one kind of update out to its subscribers. Each
// subscriber gets its own goroutine and an unbounded ordered queue, so
// every update reaches every subscriber in publish order, delivery is
// never concurrent for the same subscriber, and a slow subscriber
// backlogs its own queue instead of stalling the engine or losing
// updates.
type stream[T any] struct {
	mu     sync.Mutex
	subs   map[int]*subQueue[T]
	nextID int
	closed bool

	wg sync.WaitGroup
}

func newStream[T any]() *stream[T] {
	return &stream[T]{subs: map[int]*subQueue[T]{}}
}

func (s *stream[T]) subscribe(fn func(T)) Unsubscribe {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return func() {}
	}
	id := s.nextID
	s.nextID++
	q := newSubQueue[T]()
	s.subs[id] = q
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			v, ok := q.next()
			if !ok {
				return
			}
			fn(v)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			q.close()
		})
	}
}

func (s *stream[T]) publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, q := range s.subs {
		q.push(v)
	}
}

func (s *stream[T]) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, q := range s.subs {
		delete(s.subs, id)
		q.close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// Hub multiplexes engine notifications to any number of subscribers.
// It is the engine's Sink; both transport deployments hang their
// listeners off one.
type Hub struct {
	states    *stream[engine.StateUpdate]
	logs      *stream[engine.LogEntry]
	approvals *stream[engine.ApprovalRequest]
	events    *stream[events.Event]
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		states:    newStream[engine.StateUpdate](),
		logs:      newStream[engine.LogEntry](),
		approvals: newStream[engine.ApprovalRequest](),
		events:    newStream[events.Event](),
	}
}

// PublishState implements engine.Sink.
func (h *Hub) PublishState(u engine.StateUpdate) { h.states.publish(u) }

// PublishLog implements engine.Sink.
func (h *Hub) PublishLog(e engine.LogEntry) { h.logs.publish(e) }

// PublishApproval implements engine.Sink.
func (h *Hub) PublishApproval(r engine.ApprovalRequest) { h.approvals.publish(r) }

// PublishEvent implements engine.Sink.
func (h *Hub) PublishEvent(e events.Event) { h.events.publish(e) }

// OnStateUpdate registers a state transition listener.
func (h *Hub) OnStateUpdate(fn func(engine.StateUpdate)) Unsubscribe {
	return h.states.subscribe(fn)
}

// OnLog registers a progress message listener.
func (h *Hub) OnLog(fn func(engine.LogEntry)) Unsubscribe {
	return h.logs.subscribe(fn)
}

// OnApprovalRequest registers a pending approval listener.
func (h *Hub) OnApprovalRequest(fn func(engine.ApprovalRequest)) Unsubscribe {
	return h.approvals.subscribe(fn)
}

// OnEvent registers a recorded event listener.
func (h *Hub) OnEvent(fn func(events.Event)) Unsubscribe {
	return h.events.subscribe(fn)
}

// Dispose drops all subscribers and waits for in-flight deliveries,
// draining anything still queued.
func (h *Hub) Dispose() {
	h.states.close()
	h.logs.close()
	h.approvals.close()
	h.events.close()
}
