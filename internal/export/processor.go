package export

import (
	"context"
	"encoding/json"

	"github.com/oakbridge/recordsync/internal/record"
)

// Processor consumes one batch per boundary and produces an opaque output
// value for the session's result stream. Kind is the processor-type half of
// session identity: a session persisted with one kind can never be resumed
// with another.
//
// Process is invoked from the session's sequential batch loop; it is never
// called concurrently for the same session. A Process error tags that
// boundary's result and leaves its anchor unadvanced; it does not fail the
// session.
type Processor interface {
	Kind() string
	Process(ctx context.Context, boundary Boundary, batch record.Batch) (json.RawMessage, error)
}

// Result is one value on a session's output stream: the processor output for
// a boundary, or the error that kept the boundary from producing one.
type Result struct {
	Boundary Boundary        `json:"boundary"`
	Output   json.RawMessage `json:"output,omitempty"`
	Error    string          `json:"error,omitempty"`
}
