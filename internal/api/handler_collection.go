package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/oakbridge/recordsync/internal/record"
	"github.com/oakbridge/recordsync/internal/source"
)

// --- Huma Input/Output types ---

type CollectionResponse struct {
	ID       string `json:"id" doc:"Collection identifier"`
	Mode     string `json:"mode" doc:"Delivery mode" example:"anchored"`
	Start    string `json:"start,omitempty" doc:"Start mode for triggered delivery"`
	Persist  bool   `json:"persist" doc:"Whether the collection's anchor is persisted"`
	Active   bool   `json:"active" doc:"Whether a collection pass is in flight"`
	Anchored bool   `json:"anchored" doc:"Whether an anchor position exists"`
}

type ListCollectionsInput struct{}

type ListCollectionsOutput struct {
	Body []CollectionResponse
}

type SyncCollectionInput struct {
	Collection string `path:"collection" doc:"Collection identifier"`
}

type SyncCollectionOutput struct {
	Status int
	Body   struct {
		Status string `json:"status" doc:"Trigger outcome" example:"started"`
	}
}

type AggregateInput struct {
	Collection  string    `path:"collection" doc:"Collection identifier"`
	Start       time.Time `query:"start" doc:"Inclusive range start" required:"true"`
	End         time.Time `query:"end" doc:"Exclusive range end" required:"true"`
	Granularity string    `query:"granularity" doc:"Bucket width as a duration, e.g. 1h" required:"true"`
	Kind        string    `query:"kind" doc:"Statistic to compute" enum:"min,max,avg,sum,count" required:"true"`
}

type AggregateOutput struct {
	Body []source.AggregateSample
}

// --- Handler ---

type CollectionHandler struct {
	router *source.Router
	src    source.Source
	logger *slog.Logger
}

func NewCollectionHandler(router *source.Router, src source.Source, logger *slog.Logger) *CollectionHandler {
	return &CollectionHandler{router: router, src: src, logger: logger}
}

func registerCollectionRoutes(api huma.API, h *CollectionHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "list-collections",
		Method:      http.MethodGet,
		Path:        "/v1/collections",
		Summary:     "List configured collections",
		Tags:        []string{"collections"},
	}, h.ListCollections)

	huma.Register(api, huma.Operation{
		OperationID: "sync-collection",
		Method:      http.MethodPost,
		Path:        "/v1/collections/{collection}/sync",
		Summary:     "Trigger a collection pass",
		Tags:        []string{"collections"},
	}, h.SyncCollection)

	huma.Register(api, huma.Operation{
		OperationID: "collection-authorized",
		Method:      http.MethodPost,
		Path:        "/v1/collections/{collection}/authorized",
		Summary:     "Report that read access for a collection was granted",
		Description: "Resets the collection's failure history and, for trigger-based delivery with automatic start, runs a collection pass.",
		Tags:        []string{"collections"},
	}, h.Authorized)

	huma.Register(api, huma.Operation{
		OperationID: "aggregate-collection",
		Method:      http.MethodGet,
		Path:        "/v1/collections/{collection}/aggregate",
		Summary:     "Compute bucketed statistics over a collection",
		Tags:        []string{"collections"},
	}, h.Aggregate)
}

func (h *CollectionHandler) ListCollections(ctx context.Context, input *ListCollectionsInput) (*ListCollectionsOutput, error) {
	ids := h.router.Collections()
	resp := make([]CollectionResponse, 0, len(ids))
	for _, id := range ids {
		c, err := h.router.CollectorFor(id)
		if err != nil {
			continue
		}
		d := c.Delivery()
		resp = append(resp, CollectionResponse{
			ID:       id,
			Mode:     string(d.Mode),
			Start:    string(d.Start),
			Persist:  d.Persist,
			Active:   c.Active(),
			Anchored: len(c.Anchor()) > 0,
		})
	}
	return &ListCollectionsOutput{Body: resp}, nil
}

// SyncCollection kicks off a pass in the background and returns 202. A pass
// already in flight is a conflict, not a queue.
func (h *CollectionHandler) SyncCollection(ctx context.Context, input *SyncCollectionInput) (*SyncCollectionOutput, error) {
	c, err := h.router.CollectorFor(input.Collection)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	if err := c.EnsureAuthorized(); err != nil {
		return nil, huma.Error403Forbidden(err.Error())
	}
	if c.Active() {
		return nil, huma.Error409Conflict("collection pass already in flight")
	}

	// The pass outlives the request; failures land in the collector's log.
	go func() {
		if err := c.TriggerManualCollection(context.WithoutCancel(ctx)); err != nil {
			h.logger.Error("triggered collection failed",
				"collection", input.Collection, "error", err)
		}
	}()

	out := &SyncCollectionOutput{Status: http.StatusAccepted}
	out.Body.Status = "started"
	return out, nil
}

// Authorized is called after an access prompt resolves in the caller's
// environment. The collector decides whether that implies a pass.
func (h *CollectionHandler) Authorized(ctx context.Context, input *SyncCollectionInput) (*SyncCollectionOutput, error) {
	c, err := h.router.CollectorFor(input.Collection)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	if err := c.EnsureAuthorized(); err != nil {
		return nil, huma.Error403Forbidden(err.Error())
	}

	go func() {
		if err := c.AskedForAuthorization(context.WithoutCancel(ctx)); err != nil {
			h.logger.Error("post-authorization collection failed",
				"collection", input.Collection, "error", err)
		}
	}()

	out := &SyncCollectionOutput{Status: http.StatusAccepted}
	out.Body.Status = "accepted"
	return out, nil
}

func (h *CollectionHandler) Aggregate(ctx context.Context, input *AggregateInput) (*AggregateOutput, error) {
	granularity, err := time.ParseDuration(input.Granularity)
	if err != nil || granularity <= 0 {
		return nil, huma.Error400BadRequest("invalid granularity")
	}
	iv := record.Interval{Start: input.Start, End: input.End}
	if iv.Empty() {
		return nil, huma.Error400BadRequest("empty interval")
	}

	samples, err := h.src.FetchAggregate(ctx, input.Collection, iv, granularity, source.AggregateKind(input.Kind))
	if err != nil {
		h.logger.Error("aggregate query failed",
			"collection", input.Collection, "kind", input.Kind, "error", err)
		return nil, huma.Error500InternalServerError("aggregate query failed")
	}
	return &AggregateOutput{Body: samples}, nil
}
