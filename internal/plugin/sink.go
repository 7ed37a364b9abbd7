package plugin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oakbridge/recordsync/internal/record"
)

// Sink fans collected pages out to the plugins subscribed to each record's
// collection. Delivery reuses batch.process with a zero window; plugins treat
// a zero interval as incremental delivery rather than an export boundary.
//
// Any plugin failure surfaces as an error so the collector does not advance
// its anchor; the page is redelivered on the next trigger. Plugins must
// tolerate duplicates.
type Sink struct {
	registry *Registry
	client   *RPCClient
	logger   *slog.Logger
}

func NewSink(registry *Registry, client *RPCClient, logger *slog.Logger) *Sink {
	return &Sink{registry: registry, client: client, logger: logger}
}

func (s *Sink) Remove(ctx context.Context, refs []record.DeletedRef) error {
	byCollection := make(map[string][]record.DeletedRef)
	for _, ref := range refs {
		byCollection[ref.Collection] = append(byCollection[ref.Collection], ref)
	}
	for collection, group := range byCollection {
		if err := s.deliver(ctx, collection, nil, group); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Add(ctx context.Context, records []record.Record) error {
	byCollection := make(map[string][]record.Record)
	for _, rec := range records {
		byCollection[rec.Collection] = append(byCollection[rec.Collection], rec)
	}
	for collection, group := range byCollection {
		if err := s.deliver(ctx, collection, group, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) deliver(ctx context.Context, collection string, added []record.Record, deleted []record.DeletedRef) error {
	for _, p := range s.registry.ForCollection(collection) {
		params := BatchParams{
			Collection: collection,
			Added:      added,
			Deleted:    deleted,
		}
		resp, err := s.client.Call(ctx, p.Endpoint, "batch.process", params)
		if err != nil {
			return fmt.Errorf("deliver %s to plugin %s: %w", collection, p.Name, err)
		}
		if resp.Error != nil {
			return fmt.Errorf("deliver %s to plugin %s: %w", collection, p.Name, resp.Error)
		}
		s.logger.Debug("page delivered",
			"collection", collection, "plugin", p.Name,
			"added", len(added), "deleted", len(deleted))
	}
	return nil
}
