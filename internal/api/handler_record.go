package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/oakbridge/recordsync/internal/record"
	"github.com/oakbridge/recordsync/internal/storage"
)

// --- Huma Input/Output types ---

type InsertRecordBody struct {
	ID         uuid.UUID       `json:"id,omitempty" doc:"Record UUID; generated when omitted"`
	Body       json.RawMessage `json:"body" doc:"Arbitrary JSON payload" required:"true"`
	RecordedAt time.Time       `json:"recorded_at" doc:"Sample timestamp" required:"true"`
}

type InsertRecordInput struct {
	Collection string `path:"collection" doc:"Collection identifier"`
	Body       InsertRecordBody
}

type RecordResponse struct {
	ID         uuid.UUID       `json:"id" doc:"Record UUID"`
	Collection string          `json:"collection" doc:"Collection identifier"`
	Body       json.RawMessage `json:"body" doc:"Stored JSON payload"`
	RecordedAt time.Time       `json:"recorded_at" doc:"Sample timestamp"`
	AddedID    int64           `json:"added_id" doc:"Monotonic insert sequence number"`
}

type InsertRecordOutput struct {
	Body RecordResponse
}

type GetRecordInput struct {
	Collection string `path:"collection" doc:"Collection identifier"`
	RecordID   string `path:"record_id" doc:"Record UUID" format:"uuid"`
}

type GetRecordOutput struct {
	Body RecordResponse
}

type DeleteRecordInput struct {
	Collection string `path:"collection" doc:"Collection identifier"`
	RecordID   string `path:"record_id" doc:"Record UUID" format:"uuid"`
}

type ListRecordsInput struct {
	Collection string `path:"collection" doc:"Collection identifier"`
	Anchor     string `query:"anchor" doc:"Opaque paging anchor from a previous response" required:"false"`
	Limit      int    `query:"limit" doc:"Maximum records to return" required:"false" minimum:"1" maximum:"1000"`
}

type ListRecordsBody struct {
	Records    []RecordResponse `json:"records" doc:"Records in insert order"`
	NextAnchor string           `json:"next_anchor,omitempty" doc:"Anchor for the next page; absent on the last page"`
}

type ListRecordsOutput struct {
	Body ListRecordsBody
}

// --- Handler ---

type RecordHandler struct {
	store  storage.RecordStore
	logger *slog.Logger
}

func NewRecordHandler(store storage.RecordStore, logger *slog.Logger) *RecordHandler {
	return &RecordHandler{store: store, logger: logger}
}

func registerRecordRoutes(api huma.API, h *RecordHandler) {
	huma.Register(api, huma.Operation{
		OperationID:   "insert-record",
		Method:        http.MethodPost,
		Path:          "/v1/records/{collection}",
		Summary:       "Insert a record",
		Tags:          []string{"records"},
		DefaultStatus: http.StatusCreated,
	}, h.InsertRecord)

	huma.Register(api, huma.Operation{
		OperationID: "list-records",
		Method:      http.MethodGet,
		Path:        "/v1/records/{collection}",
		Summary:     "List records in insert order",
		Tags:        []string{"records"},
	}, h.ListRecords)

	huma.Register(api, huma.Operation{
		OperationID: "get-record",
		Method:      http.MethodGet,
		Path:        "/v1/records/{collection}/{record_id}",
		Summary:     "Get a record by ID",
		Tags:        []string{"records"},
	}, h.GetRecord)

	huma.Register(api, huma.Operation{
		OperationID:   "delete-record",
		Method:        http.MethodDelete,
		Path:          "/v1/records/{collection}/{record_id}",
		Summary:       "Delete a record",
		Description:   "Removes the record and writes a tombstone so incremental consumers observe the deletion.",
		Tags:          []string{"records"},
		DefaultStatus: http.StatusNoContent,
	}, h.DeleteRecord)
}

func (h *RecordHandler) InsertRecord(ctx context.Context, input *InsertRecordInput) (*InsertRecordOutput, error) {
	rec, err := h.store.InsertRecord(ctx, input.Collection, input.Body.ID, input.Body.Body, input.Body.RecordedAt)
	if err != nil {
		h.logger.Error("failed to insert record",
			"collection", input.Collection, "error", err)
		return nil, huma.Error500InternalServerError("failed to insert record")
	}
	return &InsertRecordOutput{Body: recordToResponse(rec)}, nil
}

func (h *RecordHandler) GetRecord(ctx context.Context, input *GetRecordInput) (*GetRecordOutput, error) {
	id, err := uuid.Parse(input.RecordID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid record_id")
	}

	rec, err := h.store.GetRecord(ctx, input.Collection, id)
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			return nil, huma.Error404NotFound("record not found")
		}
		h.logger.Error("failed to get record",
			"collection", input.Collection, "record_id", id, "error", err)
		return nil, huma.Error500InternalServerError("failed to get record")
	}
	return &GetRecordOutput{Body: recordToResponse(rec)}, nil
}

func (h *RecordHandler) DeleteRecord(ctx context.Context, input *DeleteRecordInput) (*struct{}, error) {
	id, err := uuid.Parse(input.RecordID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid record_id")
	}

	if err := h.store.DeleteRecord(ctx, input.Collection, id); err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			return nil, huma.Error404NotFound("record not found")
		}
		h.logger.Error("failed to delete record",
			"collection", input.Collection, "record_id", id, "error", err)
		return nil, huma.Error500InternalServerError("failed to delete record")
	}
	return nil, nil
}

func (h *RecordHandler) ListRecords(ctx context.Context, input *ListRecordsInput) (*ListRecordsOutput, error) {
	var anchor []byte
	if input.Anchor != "" {
		if _, err := base64.URLEncoding.DecodeString(input.Anchor); err != nil {
			return nil, huma.Error400BadRequest("invalid anchor")
		}
		anchor = []byte(input.Anchor)
	}

	limit := input.Limit
	if limit <= 0 {
		limit = 100
	}

	records, next, err := h.store.ListRecords(ctx, input.Collection, anchor, limit)
	if err != nil {
		h.logger.Error("failed to list records",
			"collection", input.Collection, "error", err)
		return nil, huma.Error500InternalServerError("failed to list records")
	}

	body := ListRecordsBody{Records: make([]RecordResponse, len(records))}
	for i, rec := range records {
		body.Records[i] = recordToResponse(&rec)
	}
	if len(next) > 0 {
		body.NextAnchor = string(next)
	}
	return &ListRecordsOutput{Body: body}, nil
}

func recordToResponse(rec *record.Record) RecordResponse {
	return RecordResponse{
		ID:         rec.ID,
		Collection: rec.Collection,
		Body:       rec.Body,
		RecordedAt: rec.RecordedAt,
		AddedID:    rec.AddedID,
	}
}
