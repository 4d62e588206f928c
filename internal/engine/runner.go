package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/lineage/internal/graph"
	"github.com/roach88/lineage/internal/ir"
	"github.com/roach88/lineage/internal/process"
	"github.com/roach88/lineage/internal/store"
	"github.com/roach88/lineage/internal/transport"
)

// DefaultMaxSteps is the default maximum number of outline steps per process.
const DefaultMaxSteps = 1000

// Runner executes processes on a single goroutine.
//
// All process state is owned by the loop draining the event queue (Run,
// RunSync or ProcessNext); steps run to completion and processes suspend
// only on awaitables and transport requests. Submit, Kill, Pause and Play
// may be called from any goroutine: they only enqueue events.
type Runner struct {
	store    *store.Store
	registry *process.Registry
	pool     *transport.Pool
	ids      IDGenerator
	clock    *Clock
	queue    *eventQueue
	maxSteps int
	userPK   int64

	// owned by the loop
	procs map[string]*instance

	mu   sync.Mutex
	done map[string]chan struct{}
}

// Option configures a Runner.
type Option func(*Runner)

// WithMaxSteps sets the maximum steps quota per process.
func WithMaxSteps(n int) Option {
	return func(r *Runner) { r.maxSteps = n }
}

// WithIDGenerator replaces the process uuid generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(r *Runner) { r.ids = g }
}

// WithUser records userPK as the creator of every node the runner makes.
func WithUser(pk int64) Option {
	return func(r *Runner) { r.userPK = pk }
}

// WithPool sets the transport pool calcjobs lease connections from.
func WithPool(p *transport.Pool) Option {
	return func(r *Runner) { r.pool = p }
}

// WithClock sets the logical clock stamping events.
func WithClock(c *Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// New creates a runner over a store and a process registry.
func New(s *store.Store, reg *process.Registry, opts ...Option) *Runner {
	r := &Runner{
		store:    s,
		registry: reg,
		ids:      UUIDv7Generator{},
		clock:    NewClock(),
		queue:    newEventQueue(),
		maxSteps: DefaultMaxSteps,
		procs:    make(map[string]*instance),
		done:     make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.pool == nil {
		r.pool = transport.NewPool()
	}
	return r
}

// Result is the outcome of a terminated process.
type Result struct {
	Node        *graph.Node
	State       ir.ProcessState
	ExitStatus  int
	ExitMessage string
	Outputs     map[string]*graph.Node
}

// Succeeded reports whether the process finished with exit status 0.
func (r *Result) Succeeded() bool {
	return r.State == ir.StateFinished && r.ExitStatus == 0
}

// enqueue stamps and queues an event.
func (r *Runner) enqueue(e Event) error {
	e.Seq = r.clock.Next()
	if !r.queue.Enqueue(e) {
		return errStopped(e.Process)
	}
	return nil
}

// Submit validates inputs, stores a new top-level process and schedules it.
func (r *Runner) Submit(ctx context.Context, name string, inputs process.Inputs) (process.Handle, error) {
	return r.submit(ctx, nil, name, inputs)
}

// Kill kills a process and every live process it called.
func (r *Runner) Kill(id, message string) error {
	if message == "" {
		message = "killed by request"
	}
	return r.enqueue(Event{Type: EventKill, Process: id, Message: message})
}

// Pause stops a process from stepping until Play.
func (r *Runner) Pause(id string) error {
	return r.enqueue(Event{Type: EventPause, Process: id})
}

// Play resumes a paused process.
func (r *Runner) Play(id string) error {
	return r.enqueue(Event{Type: EventPlay, Process: id})
}

// Stop closes the event queue. Run returns once it is drained.
func (r *Runner) Stop() {
	r.queue.Close()
}

// ProcessNext handles one queued event. It reports whether an event was
// available. Handler errors are logged, not returned.
func (r *Runner) ProcessNext(ctx context.Context) bool {
	e, ok := r.queue.TryDequeue()
	if !ok {
		return false
	}
	if err := r.processEvent(ctx, e); err != nil {
		logEventError(e, err)
	}
	return true
}

// Run is the daemon loop. It blocks until ctx is cancelled or Stop is
// called.
//
// On event processing failure the error is logged with full event context
// and processing continues; the affected process is excepted where
// possible.
func (r *Runner) Run(ctx context.Context) error {
	slog.Info("runner starting")

	for {
		if r.ProcessNext(ctx) {
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("runner stopping: context cancelled")
			r.queue.Close()
			return ctx.Err()

		case <-r.queue.Wait():
			// The signal channel closes with the queue.
			if r.queue.Len() == 0 && r.queue.Closed() {
				slog.Info("runner stopping: queue closed")
				return nil
			}
		}
	}
}

// RunSync submits a process and drives the loop until it terminates. It
// must not run concurrently with Run.
func (r *Runner) RunSync(ctx context.Context, name string, inputs process.Inputs) (*Result, error) {
	h, err := r.Submit(ctx, name, inputs)
	if err != nil {
		return nil, err
	}
	if err := r.drainUntil(ctx, h.UUID); err != nil {
		return nil, err
	}
	return r.Result(ctx, h.UUID)
}

// Drain processes events until the queue is empty and no live process
// waits on off-loop work. It must not run concurrently with Run.
func (r *Runner) Drain(ctx context.Context) error {
	for {
		if r.ProcessNext(ctx) {
			continue
		}
		if !r.hasOffLoopWork() {
			return nil
		}
		if r.queue.Closed() {
			return errStopped("")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.queue.Wait():
		}
	}
}

func (r *Runner) drainUntil(ctx context.Context, id string) error {
	done := r.doneChan(id)
	for {
		select {
		case <-done:
			return nil
		default:
		}
		if r.ProcessNext(ctx) {
			continue
		}
		if r.queue.Closed() {
			return errStopped(id)
		}
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-r.queue.Wait():
		}
	}
}

// Wait blocks until the process terminates. Another goroutine must be
// driving the loop.
func (r *Runner) Wait(ctx context.Context, id string) (*Result, error) {
	select {
	case <-r.doneChan(id):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return r.Result(ctx, id)
}

// doneChan returns the channel closed when the process terminates. Unknown
// ids that are already terminal in the store get a closed channel.
func (r *Runner) doneChan(id string) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.done[id]
	if !ok {
		ch = make(chan struct{})
		r.done[id] = ch
		if n, err := r.store.LoadNodeByUUID(context.Background(), id); err == nil && processState(n).IsTerminal() {
			close(ch)
		}
	}
	return ch
}

func (r *Runner) markDone(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.done[id]
	if !ok {
		ch = make(chan struct{})
		r.done[id] = ch
	}
	select {
	case <-ch:
	default:
		close(ch)
	}
}

// Result loads the outcome of a process from the store.
func (r *Runner) Result(ctx context.Context, id string) (*Result, error) {
	n, err := r.store.LoadNodeByUUID(ctx, id)
	if err != nil {
		return nil, err
	}
	outs, err := r.outputs(ctx, n)
	if err != nil {
		return nil, err
	}
	res := &Result{Node: n, State: processState(n), Outputs: outs}
	if v, ok := n.Attribute(ir.AttrExitStatus); ok {
		if i, ok := v.(ir.IRInt); ok {
			res.ExitStatus = int(i)
		}
	}
	if v, ok := n.Attribute(ir.AttrExitMessage); ok {
		if s, ok := v.(ir.IRString); ok {
			res.ExitMessage = string(s)
		}
	}
	return res, nil
}

// outputs loads the CREATE or RETURN outputs of a process by link label.
func (r *Runner) outputs(ctx context.Context, n *graph.Node) (map[string]*graph.Node, error) {
	triples, err := r.store.OutgoingLinks(ctx, n, ir.LinkCreate, ir.LinkReturn)
	if err != nil {
		return nil, fmt.Errorf("load outputs of %s: %w", n.UUID(), err)
	}
	out := make(map[string]*graph.Node, len(triples))
	for _, t := range triples {
		out[t.Link.Label] = t.Node
	}
	return out, nil
}

// Live lists the uuids of processes the loop currently holds. Loop only.
func (r *Runner) Live() []string {
	out := make([]string, 0, len(r.procs))
	for id := range r.procs {
		out = append(out, id)
	}
	return sortedStrings(out)
}

func processState(n *graph.Node) ir.ProcessState {
	v, _ := n.Attribute(ir.AttrProcessState)
	s, _ := v.(ir.IRString)
	return ir.ProcessState(s)
}

// processEvent routes an event to its handler. Loop only.
func (r *Runner) processEvent(ctx context.Context, e Event) error {
	slog.Debug("processing event", "type", e.Type, "seq", e.Seq, "process_uuid", e.Process)

	if e.Type == EventStart {
		return r.handleStart(ctx, e.inst)
	}

	inst, ok := r.procs[e.Process]
	if !ok {
		switch e.Type {
		case EventTransportReady:
			if e.Lease != nil {
				e.Lease.Release()
			}
			return nil
		case EventJobDone, EventChildTerminated:
			// The process terminated while the work was in flight.
			return nil
		}
		return processNotFound(e.Process)
	}

	var err error
	switch e.Type {
	case EventStep:
		err = r.handleStep(ctx, inst)
	case EventChildTerminated:
		err = r.handleChildTerminated(ctx, inst, e.Child)
	case EventTransportReady:
		err = r.handleTransportReady(ctx, inst, e.Lease, e.Err)
	case EventJobDone:
		err = r.handleJobDone(ctx, inst, e.Job, e.Err)
	case EventKill:
		return r.kill(ctx, inst, e.Message)
	case EventPause:
		return r.setPaused(ctx, inst, true)
	case EventPlay:
		return r.setPaused(ctx, inst, false)
	default:
		return fmt.Errorf("unknown event type: %d", e.Type)
	}
	if err != nil {
		return r.except(ctx, inst, err)
	}
	return nil
}

// logEventError logs a failed event with enough context to investigate.
func logEventError(e Event, err error) {
	slog.Error("event processing failed",
		"type", e.Type,
		"seq", e.Seq,
		"process_uuid", e.Process,
		"child_uuid", e.Child,
		"error", err,
	)
}

// newNode creates an unstored node owned by the runner's user.
func (r *Runner) newNode(subtype string, opts ...graph.NodeOption) (*graph.Node, error) {
	n, err := r.store.NewNode(subtype, opts...)
	if err != nil || r.userPK == 0 {
		return n, err
	}
	return n, n.SetUser(r.userPK)
}
