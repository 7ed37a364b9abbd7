package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oakbridge/recordsync/internal/export"
	"github.com/oakbridge/recordsync/internal/record"
)

// BatchParams is the batch.process request payload sent to a plugin: one
// boundary's additions and deletions.
type BatchParams struct {
	Collection string              `json:"collection"`
	Start      time.Time           `json:"start"`
	End        time.Time           `json:"end"`
	Added      []record.Record     `json:"added"`
	Deleted    []record.DeletedRef `json:"deleted"`
}

// RemoteProcessor adapts a registered plugin into an export processor. Each
// boundary batch becomes one batch.process call; the RPC result is the
// boundary's output verbatim.
type RemoteProcessor struct {
	plugin *Plugin
	client *RPCClient
}

func NewRemoteProcessor(p *Plugin, client *RPCClient) *RemoteProcessor {
	return &RemoteProcessor{plugin: p, client: client}
}

// Kind is the processor-type identity: two sessions obtained against the
// same plugin name are the same processor type.
func (p *RemoteProcessor) Kind() string {
	return "plugin:" + p.plugin.Name
}

func (p *RemoteProcessor) Process(ctx context.Context, boundary export.Boundary, batch record.Batch) (json.RawMessage, error) {
	params := BatchParams{
		Collection: boundary.Collection,
		Start:      boundary.Interval.Start,
		End:        boundary.Interval.End,
		Added:      batch.Added,
		Deleted:    batch.Deleted,
	}

	resp, err := p.client.Call(ctx, p.plugin.Endpoint, "batch.process", params)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", p.plugin.Name, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("plugin %s: %w", p.plugin.Name, resp.Error)
	}
	return resp.Result, nil
}
