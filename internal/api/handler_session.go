package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/oakbridge/recordsync/internal/export"
	"github.com/oakbridge/recordsync/internal/plugin"
	"github.com/oakbridge/recordsync/internal/record"
)

// --- Huma Input/Output types ---

type BoundaryPolicyBody struct {
	Automatic  bool   `json:"automatic,omitempty" doc:"Let the engine pick a window width per collection"`
	Unit       string `json:"unit,omitempty" doc:"Calendar unit for fixed windows" enum:"day,week,month,year"`
	Multiplier int    `json:"multiplier,omitempty" doc:"Number of calendar units per window" minimum:"1"`
}

type ObtainSessionBody struct {
	SessionID   string              `json:"session_id,omitempty" doc:"Session identity; generated when empty"`
	Collections []string            `json:"collections" doc:"Collections to export" required:"true" minItems:"1"`
	Start       time.Time           `json:"start" doc:"Inclusive range start" required:"true"`
	End         time.Time           `json:"end" doc:"Exclusive range end" required:"true"`
	Processor   string              `json:"processor" doc:"Name of the registered plugin to process batches" required:"true" minLength:"1"`
	Predicate   json.RawMessage     `json:"predicate,omitempty" doc:"JSON containment predicate on record bodies"`
	Boundary    *BoundaryPolicyBody `json:"boundary,omitempty" doc:"Window sizing policy; automatic when omitted"`
	PageSize    int                 `json:"page_size,omitempty" doc:"Fetch page size; server default when omitted" minimum:"1"`
	AutoStart   bool                `json:"auto_start,omitempty" doc:"Start the session immediately after obtaining it"`
}

type ObtainSessionInput struct {
	Body ObtainSessionBody
}

type BoundaryResponse struct {
	Collection string    `json:"collection" doc:"Collection this window covers"`
	Start      time.Time `json:"start" doc:"Inclusive window start"`
	End        time.Time `json:"end" doc:"Exclusive window end"`
}

type SessionResponse struct {
	SessionID   string             `json:"session_id" doc:"Session identity"`
	Processor   string             `json:"processor" doc:"Processor type bound to this identity"`
	State       string             `json:"state" doc:"Lifecycle state" example:"running"`
	Collections []string           `json:"collections" doc:"Collections being exported"`
	Start       time.Time          `json:"start" doc:"Inclusive range start"`
	End         time.Time          `json:"end" doc:"Exclusive range end"`
	Processed   int                `json:"processed" doc:"Boundaries processed so far"`
	Total       int                `json:"total" doc:"Total boundaries in the session"`
	Failed      []int              `json:"failed,omitempty" doc:"Indexes of boundaries whose processing failed"`
	Boundaries  []BoundaryResponse `json:"boundaries,omitempty" doc:"Planned windows, in processing order"`
}

type ObtainSessionOutput struct {
	Status int
	Body   SessionResponse
}

type ListSessionsInput struct{}

type ListSessionsOutput struct {
	Body []SessionResponse
}

type GetSessionInput struct {
	SessionID string `path:"session_id" doc:"Session identity"`
}

type GetSessionOutput struct {
	Body SessionResponse
}

type SessionActionInput struct {
	SessionID string `path:"session_id" doc:"Session identity"`
}

type SessionActionOutput struct {
	Body SessionResponse
}

type DeleteRestorationInput struct {
	SessionID string `path:"session_id" doc:"Session identity"`
}

// --- Handler ---

type SessionHandler struct {
	sessions *export.Registry
	plugins  *plugin.Registry
	rpc      *plugin.RPCClient
	pageSize int
	logger   *slog.Logger
}

func NewSessionHandler(sessions *export.Registry, plugins *plugin.Registry, rpc *plugin.RPCClient, pageSize int, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, plugins: plugins, rpc: rpc, pageSize: pageSize, logger: logger}
}

func registerSessionRoutes(api huma.API, h *SessionHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "obtain-session",
		Method:      http.MethodPost,
		Path:        "/v1/sessions",
		Summary:     "Obtain an export session",
		Description: "Returns the existing session for this identity, or creates one, resuming persisted progress when present.",
		Tags:        []string{"sessions"},
	}, h.ObtainSession)

	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/v1/sessions",
		Summary:     "List live sessions",
		Tags:        []string{"sessions"},
	}, h.ListSessions)

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/v1/sessions/{session_id}",
		Summary:     "Get a session by ID",
		Tags:        []string{"sessions"},
	}, h.GetSession)

	huma.Register(api, huma.Operation{
		OperationID: "start-session",
		Method:      http.MethodPost,
		Path:        "/v1/sessions/{session_id}/start",
		Summary:     "Start or resume a session",
		Tags:        []string{"sessions"},
	}, h.StartSession)

	huma.Register(api, huma.Operation{
		OperationID: "pause-session",
		Method:      http.MethodPost,
		Path:        "/v1/sessions/{session_id}/pause",
		Summary:     "Pause a session at the next boundary edge",
		Tags:        []string{"sessions"},
	}, h.PauseSession)

	huma.Register(api, huma.Operation{
		OperationID: "cancel-session",
		Method:      http.MethodPost,
		Path:        "/v1/sessions/{session_id}/cancel",
		Summary:     "Cancel a session",
		Tags:        []string{"sessions"},
	}, h.CancelSession)

	huma.Register(api, huma.Operation{
		OperationID:   "delete-session-restoration",
		Method:        http.MethodDelete,
		Path:          "/v1/sessions/{session_id}/restoration",
		Summary:       "Delete a session's persisted progress",
		Tags:          []string{"sessions"},
		DefaultStatus: http.StatusNoContent,
	}, h.DeleteRestoration)
}

func (h *SessionHandler) ObtainSession(ctx context.Context, input *ObtainSessionInput) (*ObtainSessionOutput, error) {
	p, err := h.plugins.ByName(input.Body.Processor)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}

	policy := export.Automatic()
	if b := input.Body.Boundary; b != nil && !b.Automatic {
		mult := b.Multiplier
		if mult == 0 {
			mult = 1
		}
		policy = export.ByCalendar(export.CalendarUnit(b.Unit), mult)
	}

	pageSize := input.Body.PageSize
	if pageSize <= 0 {
		pageSize = h.pageSize
	}

	opts := export.Options{
		ID:          input.Body.SessionID,
		Collections: input.Body.Collections,
		Interval:    record.Interval{Start: input.Body.Start, End: input.Body.End},
		Policy:      policy,
		Predicate:   string(input.Body.Predicate),
		Processor:   plugin.NewRemoteProcessor(p, h.rpc),
		PageSize:    pageSize,
		AutoStart:   input.Body.AutoStart,
	}

	sess, created, err := h.sessions.ObtainSession(ctx, opts)
	if err != nil {
		if errors.Is(err, export.ErrConflictingSession) {
			return nil, huma.Error409Conflict(err.Error())
		}
		return nil, huma.Error400BadRequest(err.Error())
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return &ObtainSessionOutput{Status: status, Body: sessionToResponse(sess, true)}, nil
}

func (h *SessionHandler) ListSessions(ctx context.Context, input *ListSessionsInput) (*ListSessionsOutput, error) {
	sessions := h.sessions.Sessions()
	resp := make([]SessionResponse, len(sessions))
	for i, s := range sessions {
		resp[i] = sessionToResponse(s, false)
	}
	return &ListSessionsOutput{Body: resp}, nil
}

func (h *SessionHandler) GetSession(ctx context.Context, input *GetSessionInput) (*GetSessionOutput, error) {
	sess, ok := h.sessions.Session(input.SessionID)
	if !ok {
		return nil, huma.Error404NotFound("session not found")
	}
	return &GetSessionOutput{Body: sessionToResponse(sess, true)}, nil
}

func (h *SessionHandler) StartSession(ctx context.Context, input *SessionActionInput) (*SessionActionOutput, error) {
	sess, ok := h.sessions.Session(input.SessionID)
	if !ok {
		return nil, huma.Error404NotFound("session not found")
	}
	if err := sess.Start(ctx); err != nil {
		return nil, huma.Error409Conflict(err.Error())
	}
	return &SessionActionOutput{Body: sessionToResponse(sess, false)}, nil
}

func (h *SessionHandler) PauseSession(ctx context.Context, input *SessionActionInput) (*SessionActionOutput, error) {
	sess, ok := h.sessions.Session(input.SessionID)
	if !ok {
		return nil, huma.Error404NotFound("session not found")
	}
	if err := sess.Pause(); err != nil {
		return nil, huma.Error409Conflict(err.Error())
	}
	return &SessionActionOutput{Body: sessionToResponse(sess, false)}, nil
}

func (h *SessionHandler) CancelSession(ctx context.Context, input *SessionActionInput) (*SessionActionOutput, error) {
	sess, ok := h.sessions.Session(input.SessionID)
	if !ok {
		return nil, huma.Error404NotFound("session not found")
	}
	if err := sess.Cancel(); err != nil {
		return nil, huma.Error409Conflict(err.Error())
	}
	return &SessionActionOutput{Body: sessionToResponse(sess, false)}, nil
}

func (h *SessionHandler) DeleteRestoration(ctx context.Context, input *DeleteRestorationInput) (*struct{}, error) {
	if err := h.sessions.DeleteSessionRestorationInfo(ctx, input.SessionID); err != nil {
		if errors.Is(err, export.ErrSessionRegistered) {
			return nil, huma.Error409Conflict(err.Error())
		}
		return nil, huma.Error500InternalServerError(err.Error())
	}
	h.logger.Info("session restoration info deleted", "session_id", input.SessionID)
	return nil, nil
}

// StreamResults streams the session's result channel as newline-delimited
// JSON, one object per boundary, flushing after each. The stream ends when
// the session reaches a terminal state or the client disconnects. Served
// outside the typed API: an unbounded stream has no schema.
func (h *SessionHandler) StreamResults(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessions.Session(chi.URLParam(r, "session_id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	for {
		select {
		case res, open := <-sess.Results():
			if !open {
				return
			}
			if err := enc.Encode(res); err != nil {
				h.logger.Warn("result stream write failed",
					"session_id", sess.ID(), "error", err)
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

func sessionToResponse(s *export.Session, includeBoundaries bool) SessionResponse {
	processed, total := s.Progress()
	iv := s.Interval()
	resp := SessionResponse{
		SessionID:   s.ID(),
		Processor:   s.ProcessorKind(),
		State:       string(s.State()),
		Collections: s.Collections(),
		Start:       iv.Start,
		End:         iv.End,
		Processed:   processed,
		Total:       total,
		Failed:      s.Failed(),
	}
	if includeBoundaries {
		boundaries := s.Boundaries()
		resp.Boundaries = make([]BoundaryResponse, len(boundaries))
		for i, b := range boundaries {
			resp.Boundaries[i] = BoundaryResponse{
				Collection: b.Collection,
				Start:      b.Interval.Start,
				End:        b.Interval.End,
			}
		}
	}
	return resp
}
