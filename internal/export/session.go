package export

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oakbridge/recordsync/internal/anchor"
	"github.com/oakbridge/recordsync/internal/circuitbreaker"
	"github.com/oakbridge/recordsync/internal/metrics"
	"github.com/oakbridge/recordsync/internal/record"
	"github.com/oakbridge/recordsync/internal/source"
)

// State is a session's lifecycle state.
type State string

const (
	StateCreated   State = "created"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Options describes the session to obtain. ID plus the processor's Kind form
// the session identity; obtaining an existing ID with a different kind is a
// conflict.
type Options struct {
	ID          string
	Collections []string
	Interval    record.Interval
	Policy      SizePolicy
	Predicate   string
	Processor   Processor
	PageSize    int
	AutoStart   bool
}

func (o Options) validate() error {
	if len(o.Collections) == 0 {
		return fmt.Errorf("session: at least one collection is required")
	}
	if o.Interval.Empty() {
		return fmt.Errorf("session: interval [%s, %s) is empty", o.Interval.Start, o.Interval.End)
	}
	if o.Processor == nil {
		return fmt.Errorf("session: processor is required")
	}
	if o.PageSize <= 0 {
		return fmt.Errorf("session: page size must be positive, got %d", o.PageSize)
	}
	return o.Policy.Validate()
}

// Session walks a fixed list of boundaries, collection by collection and
// window by window, handing each batch to its processor and emitting a
// Result per boundary attempt on the stream. Progress is persisted after every
// boundary so an interrupted session resumes where it left off.
//
// Batches are strictly sequential; pause and cancel take effect at boundary
// edges, never mid-batch.
type Session struct {
	id            string
	processorKind string
	boundaries    []Boundary
	collections   []string
	interval      record.Interval
	policy        SizePolicy

	collectors map[string]*source.Collector
	processor  Processor
	anchors    anchor.Store
	pageSize   int
	logger     *slog.Logger
	onFinish   func(*Session, State)

	results chan Result

	mu        sync.Mutex
	state     State
	next      int
	failed    []int
	pausing   bool
	canceling bool
	done      bool
	started   time.Time
}

// newSession builds a session and its per-collection collectors, resuming
// from rs when a restoration snapshot exists. Registry is the only caller.
func newSession(
	ctx context.Context,
	opts Options,
	rs *restorationState,
	src source.Source,
	auth source.Authorizer,
	anchors anchor.Store,
	breakerFailures int,
	breakerReset time.Duration,
	logger *slog.Logger,
) (*Session, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	boundaries, err := ComputeBoundaries(opts.Collections, opts.Interval, opts.Policy)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:            opts.ID,
		processorKind: opts.Processor.Kind(),
		boundaries:    boundaries,
		collections:   opts.Collections,
		interval:      opts.Interval,
		policy:        opts.Policy,
		collectors:    make(map[string]*source.Collector, len(opts.Collections)),
		processor:     opts.Processor,
		anchors:       anchors,
		pageSize:      opts.PageSize,
		logger:        logger.With("session_id", opts.ID),
		results:       make(chan Result, len(boundaries)+1),
		state:         StateCreated,
	}
	if rs != nil {
		s.next = rs.NextBoundary
		s.failed = append(s.failed, rs.Failed...)
		if s.next > len(boundaries) {
			s.next = len(boundaries)
		}
	}

	for _, collection := range opts.Collections {
		breaker := circuitbreaker.New(breakerFailures, breakerReset)
		c, err := source.NewSessionCollector(ctx, opts.ID, collection, opts.Predicate,
			opts.PageSize, true, src, auth, anchors, breaker, s.logger)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", opts.ID, err)
		}
		s.collectors[collection] = c
	}

	metrics.SessionsActive.Inc()
	return s, nil
}

func (s *Session) ID() string            { return s.id }
func (s *Session) ProcessorKind() string { return s.processorKind }
func (s *Session) Boundaries() []Boundary {
	out := make([]Boundary, len(s.boundaries))
	copy(out, s.boundaries)
	return out
}

func (s *Session) Collections() []string {
	out := make([]string, len(s.collections))
	copy(out, s.collections)
	return out
}

func (s *Session) Interval() record.Interval { return s.interval }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Failed returns the indexes of boundaries whose processor calls failed.
func (s *Session) Failed() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.failed...)
}

// Results is the session's output stream. It carries one value per boundary
// attempt (retried boundaries emit once per attempt) and is closed when the
// session reaches a terminal state.
func (s *Session) Results() <-chan Result { return s.results }

// Progress reports processed and total boundary counts.
func (s *Session) Progress() (processed, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next, len(s.boundaries)
}

// Start moves the session to Running and launches the batch loop. Starting a
// running session is a no-op; starting a terminal session is an error.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateRunning:
		return nil
	case StateCreated, StatePaused:
	default:
		return fmt.Errorf("session %s: cannot start from state %s", s.id, s.state)
	}
	s.state = StateRunning
	s.pausing = false
	s.started = time.Now()

	// The loop outlives the caller's request.
	go s.run(context.WithoutCancel(ctx))
	return nil
}

// Pause requests a stop at the next boundary edge. The in-flight batch, if
// any, runs to completion first.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return fmt.Errorf("session %s: cannot pause from state %s", s.id, s.state)
	}
	s.pausing = true
	return nil
}

// Cancel terminates the session. A running session cancels at the next
// boundary edge; an idle one cancels immediately.
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateCreated, StatePaused:
		s.finishLocked(StateCancelled)
		return nil
	case StateRunning:
		s.canceling = true
		return nil
	default:
		return fmt.Errorf("session %s: cannot cancel from state %s", s.id, s.state)
	}
}

// run drains the boundary queue: restoration-failed boundaries first, then
// everything from the resume point onward.
func (s *Session) run(ctx context.Context) {
	for _, idx := range s.takeQueue() {
		if s.edgeStop(ctx) {
			return
		}
		if !s.processBoundary(ctx, idx) {
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.canceling {
		s.finishLocked(StateCancelled)
		return
	}
	s.logger.Info("session completed",
		"boundaries", len(s.boundaries),
		"failed", len(s.failed),
		"elapsed", time.Since(s.started))
	s.finishLocked(StateCompleted)
}

// takeQueue snapshots the boundary indexes this run will process. Boundaries
// that failed in an earlier process lifetime sit before the resume point and
// are retried first.
func (s *Session) takeQueue() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var queue []int
	for _, idx := range s.failed {
		if idx < s.next {
			queue = append(queue, idx)
		}
	}
	for idx := s.next; idx < len(s.boundaries); idx++ {
		queue = append(queue, idx)
	}
	return queue
}

// edgeStop handles pause and cancel requests between batches. Returns true
// when the loop should exit.
func (s *Session) edgeStop(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil || s.canceling {
		s.finishLocked(StateCancelled)
		return true
	}
	if s.pausing {
		s.pausing = false
		s.state = StatePaused
		s.persistLocked(ctx)
		s.logger.Info("session paused", "next_boundary", s.next)
		return true
	}
	return false
}

// processBoundary runs one collect/process/emit cycle. Returns false when the
// session reached a terminal state and the loop must stop.
func (s *Session) processBoundary(ctx context.Context, idx int) bool {
	b := s.boundaries[idx]
	collector := s.collectors[b.Collection]

	batch, position, err := collector.CollectBatch(ctx, b.Interval, s.pageSize)
	if err != nil {
		// Source failures are not retryable within the run; the session
		// fails and the stream carries the error as its final value.
		s.logger.Error("batch fetch failed",
			"collection", b.Collection, "boundary", idx, "error", err)
		metrics.BatchesProcessed.WithLabelValues("failed").Inc()
		s.emit(Result{Boundary: b, Error: err.Error()})
		s.mu.Lock()
		defer s.mu.Unlock()
		s.persistLocked(ctx)
		s.finishLocked(StateFailed)
		return false
	}

	output, perr := s.processor.Process(ctx, b, batch)
	if perr != nil {
		s.logger.Warn("processor rejected batch",
			"collection", b.Collection, "boundary", idx, "error", perr)
		metrics.BatchesProcessed.WithLabelValues("error").Inc()
		s.emit(Result{Boundary: b, Error: perr.Error()})
		s.recordFailure(ctx, idx)
		return true
	}

	metrics.BatchesProcessed.WithLabelValues("ok").Inc()
	s.emit(Result{Boundary: b, Output: output})

	// The anchor moves only after the processor has taken the batch.
	if err := collector.AdvanceAnchor(ctx, position); err != nil {
		s.logger.Warn("failed to advance anchor",
			"collection", b.Collection, "boundary", idx, "error", err)
	}
	s.recordSuccess(ctx, idx)
	return true
}

// emit delivers one result on the stream. The buffer covers one result per
// boundary, but a boundary retried after a pause emits again, so the send
// blocks on a full buffer until the consumer drains. Results are never
// dropped. The run goroutine is the sole sender, and the channel closes only
// while no run is in flight, so the send cannot race the close.
func (s *Session) emit(r Result) {
	s.results <- r
}

func (s *Session) recordSuccess(ctx context.Context, idx int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.failed[:0]
	for _, f := range s.failed {
		if f != idx {
			kept = append(kept, f)
		}
	}
	s.failed = kept
	if idx >= s.next {
		s.next = idx + 1
	}
	s.persistLocked(ctx)
}

func (s *Session) recordFailure(ctx context.Context, idx int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.failed {
		if f == idx {
			s.persistLocked(ctx)
			return
		}
	}
	s.failed = append(s.failed, idx)
	if idx >= s.next {
		s.next = idx + 1
	}
	s.persistLocked(ctx)
}

// persistLocked writes the restoration snapshot. Persistence failures do not
// stop the session; they only widen the at-least-once replay window.
func (s *Session) persistLocked(ctx context.Context) {
	rs := restorationState{
		ProcessorKind: s.processorKind,
		Collections:   s.collections,
		Start:         s.interval.Start,
		End:           s.interval.End,
		Policy:        s.policy,
		NextBoundary:  s.next,
		Failed:        append([]int(nil), s.failed...),
	}
	if err := rs.save(ctx, s.anchors, s.id); err != nil {
		s.logger.Warn("failed to persist session progress", "error", err)
	}
}

// finishLocked moves to a terminal state and closes the stream exactly once.
func (s *Session) finishLocked(state State) {
	if s.done {
		return
	}
	s.done = true
	s.state = state
	close(s.results)
	metrics.SessionsActive.Dec()
	if s.onFinish != nil {
		go s.onFinish(s, state)
	}
}
