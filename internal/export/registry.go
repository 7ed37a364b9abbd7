package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oakbridge/recordsync/internal/anchor"
	"github.com/oakbridge/recordsync/internal/source"
)

var (
	// ErrConflictingSession means the session ID is already bound to a
	// different processor type, either live or in persisted restoration
	// state.
	ErrConflictingSession = errors.New("session already exists with a different processor type")

	// ErrSessionRegistered means restoration info cannot be deleted while
	// the session is live in this registry.
	ErrSessionRegistered = errors.New("session is registered, cancel it before deleting restoration info")
)

// Registry owns every session in the process and enforces session identity:
// one live session per ID, and one processor type per ID across restarts.
type Registry struct {
	src     source.Source
	auth    source.Authorizer
	anchors anchor.Store
	logger  *slog.Logger

	breakerFailures int
	breakerReset    time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	onFinish func(*Session, State)
}

// OnFinish installs a hook invoked once, in its own goroutine, whenever a
// session reaches a terminal state. Call before obtaining sessions.
func (r *Registry) OnFinish(fn func(*Session, State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFinish = fn
}

func NewRegistry(
	src source.Source,
	auth source.Authorizer,
	anchors anchor.Store,
	breakerFailures int,
	breakerReset time.Duration,
	logger *slog.Logger,
) *Registry {
	return &Registry{
		src:             src,
		auth:            auth,
		anchors:         anchors,
		logger:          logger,
		breakerFailures: breakerFailures,
		breakerReset:    breakerReset,
		sessions:        make(map[string]*Session),
	}
}

// ObtainSession returns the live session for opts.ID, or builds one, resuming
// from persisted restoration state when present. The created flag is true
// when a new session was built. A kind mismatch against either a live session
// or persisted state returns ErrConflictingSession.
func (r *Registry) ObtainSession(ctx context.Context, opts Options) (*Session, bool, error) {
	if opts.Processor == nil {
		return nil, false, fmt.Errorf("registry: processor is required")
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[opts.ID]; ok {
		if existing.ProcessorKind() != opts.Processor.Kind() {
			return nil, false, fmt.Errorf("session %s: %w", opts.ID, ErrConflictingSession)
		}
		return existing, false, nil
	}

	rs, err := loadRestoration(ctx, r.anchors, opts.ID)
	if err != nil {
		r.logger.Warn("failed to load session restoration state, starting fresh",
			"session_id", opts.ID, "error", err)
		rs = nil
	}
	if rs != nil && rs.ProcessorKind != opts.Processor.Kind() {
		return nil, false, fmt.Errorf("session %s: persisted for processor %q: %w",
			opts.ID, rs.ProcessorKind, ErrConflictingSession)
	}

	sess, err := newSession(ctx, opts, rs, r.src, r.auth, r.anchors,
		r.breakerFailures, r.breakerReset, r.logger)
	if err != nil {
		return nil, false, err
	}
	sess.onFinish = r.onFinish
	r.sessions[opts.ID] = sess
	r.logger.Info("session registered",
		"session_id", opts.ID,
		"processor", sess.ProcessorKind(),
		"boundaries", len(sess.boundaries),
		"resumed", rs != nil)

	if opts.AutoStart {
		if err := sess.Start(ctx); err != nil {
			return nil, false, err
		}
	}
	return sess, true, nil
}

// Session returns the live session for the given ID.
func (r *Registry) Session(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Sessions returns all live sessions ordered by ID.
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// DeleteSessionRestorationInfo drops the persisted snapshot and anchors for a
// session that is not live. A registered session must reach a terminal state
// first; deleting it then also frees its ID for reuse.
func (r *Registry) DeleteSessionRestorationInfo(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		if !s.State().Terminal() {
			return fmt.Errorf("session %s: %w", id, ErrSessionRegistered)
		}
		delete(r.sessions, id)
	}

	rs, err := loadRestoration(ctx, r.anchors, id)
	if err != nil {
		return fmt.Errorf("session %s: load restoration info: %w", id, err)
	}
	var collections []string
	if rs != nil {
		collections = rs.Collections
	}
	if err := deleteRestoration(ctx, r.anchors, id, collections); err != nil {
		return fmt.Errorf("session %s: delete restoration info: %w", id, err)
	}
	return nil
}
