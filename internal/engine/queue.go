package engine

import (
	"sync"

	"github.com/roach88/lineage/internal/process"
	"github.com/roach88/lineage/internal/transport"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventStart begins a submitted or recovered process.
	EventStart EventType = iota + 1
	// EventStep advances a workchain by one outline step.
	EventStep
	// EventChildTerminated reports that an awaited child reached a terminal state.
	EventChildTerminated
	// EventTransportReady delivers a transport lease to a calcjob.
	EventTransportReady
	// EventJobDone delivers the result of a remote job.
	EventJobDone
	// EventKill kills a process and its live descendants.
	EventKill
	// EventPause stops a process from stepping.
	EventPause
	// EventPlay resumes a paused process.
	EventPlay
)

var eventNames = map[EventType]string{
	EventStart:           "start",
	EventStep:            "step",
	EventChildTerminated: "child_terminated",
	EventTransportReady:  "transport_ready",
	EventJobDone:         "job_done",
	EventKill:            "kill",
	EventPause:           "pause",
	EventPlay:            "play",
}

func (t EventType) String() string {
	if name, ok := eventNames[t]; ok {
		return name
	}
	return "unknown"
}

// Event is one unit of work for the runner loop.
type Event struct {
	Type EventType
	// Seq is stamped from the runner clock on enqueue.
	Seq int64
	// Process is the uuid of the process the event is for.
	Process string
	// Child is the terminated child for EventChildTerminated.
	Child string
	// Message is the kill reason.
	Message string

	Lease *transport.Lease
	Job   *process.JobResult
	Err   error

	inst *instance
}

// eventQueue is a thread-safe FIFO queue for events.
//
// The queue is unbounded so a step can submit any number of children
// without blocking the loop that drains it. Transport callbacks enqueue
// from their own goroutines while the runner loop dequeues.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// Buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (Event{}, false) if queue is empty.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]

	// Nil out the slot so the backing array does not pin leases and results.
	q.events[0] = Event{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
// Use with select for context-aware waiting:
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // Try TryDequeue
//	}
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Closed reports whether Close was called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals that no more events will be enqueued and wakes waiters.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
