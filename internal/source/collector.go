package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/oakbridge/recordsync/internal/anchor"
	"github.com/oakbridge/recordsync/internal/circuitbreaker"
	"github.com/oakbridge/recordsync/internal/metrics"
	"github.com/oakbridge/recordsync/internal/record"
)

// Collector owns the anchored fetch loop for one collection. It holds the
// collection's anchor, loads it at construction, advances it only after a
// page has been applied downstream, and guards against re-entrant triggers
// with the active flag.
//
// A Collector is either standalone (NewCollector: has a Sink, driven by the
// delivery trigger methods) or session-owned (NewSessionCollector: no Sink,
// driven by an export session through CollectBatch and AdvanceAnchor).
type Collector struct {
	collection string
	predicate  string
	delivery   DeliverySetting
	pageSize   int
	anchorKey  string
	persist    bool

	src     Source
	sink    Sink
	auth    Authorizer
	anchors anchor.Store
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger

	// active collapses concurrent triggers into the in-flight loop.
	active atomic.Bool

	mu       sync.Mutex
	position []byte
}

// NewCollector creates the standalone incremental collector for a collection.
// The sink is a required capability: pages cannot be collected without a
// downstream to acknowledge them.
func NewCollector(
	ctx context.Context,
	collection, predicate string,
	delivery DeliverySetting,
	pageSize int,
	src Source,
	sink Sink,
	auth Authorizer,
	anchors anchor.Store,
	breaker *circuitbreaker.Breaker,
	logger *slog.Logger,
) (*Collector, error) {
	if sink == nil {
		return nil, errors.New("collector: sink is required")
	}
	if err := delivery.Validate(); err != nil {
		return nil, fmt.Errorf("collector %s: %w", collection, err)
	}
	c := &Collector{
		collection: collection,
		predicate:  predicate,
		delivery:   delivery,
		pageSize:   pageSize,
		anchorKey:  anchor.CollectorKey(collection),
		persist:    delivery.Persist,
		src:        src,
		sink:       sink,
		auth:       auth,
		anchors:    anchors,
		breaker:    breaker,
		logger:     logger,
	}
	if err := c.init(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// NewSessionCollector creates a collector owned by one export session, with
// its anchor namespaced to that session. Trigger methods are not used on a
// session collector; the session drives it batch by batch.
func NewSessionCollector(
	ctx context.Context,
	sessionID, collection, predicate string,
	pageSize int,
	persist bool,
	src Source,
	auth Authorizer,
	anchors anchor.Store,
	breaker *circuitbreaker.Breaker,
	logger *slog.Logger,
) (*Collector, error) {
	c := &Collector{
		collection: collection,
		predicate:  predicate,
		delivery:   DeliverySetting{Mode: DeliveryManual},
		pageSize:   pageSize,
		anchorKey:  anchor.SessionCollectionKey(sessionID, collection),
		persist:    persist,
		src:        src,
		auth:       auth,
		anchors:    anchors,
		breaker:    breaker,
		logger:     logger,
	}
	if err := c.init(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// init loads or resets the persisted anchor according to the persist flag.
// A load failure is treated as first-run, never as a construction error.
func (c *Collector) init(ctx context.Context) error {
	if c.src == nil {
		return errors.New("collector: source is required")
	}
	if c.auth == nil {
		return errors.New("collector: authorizer is required")
	}
	if c.anchors == nil {
		return errors.New("collector: anchor store is required")
	}
	if c.breaker == nil {
		return errors.New("collector: breaker is required")
	}
	if c.pageSize <= 0 {
		return fmt.Errorf("collector %s: page size must be positive, got %d", c.collection, c.pageSize)
	}

	if !c.persist {
		if err := c.anchors.Delete(ctx, c.anchorKey); err != nil {
			c.logger.Warn("failed to reset anchor", "collection", c.collection, "error", err)
		}
		return nil
	}

	pos, err := c.anchors.Load(ctx, c.anchorKey)
	if err != nil {
		c.logger.Warn("failed to load anchor, starting from scratch", "collection", c.collection, "error", err)
		return nil
	}
	c.position = pos
	return nil
}

// Collection returns the collection this collector owns.
func (c *Collector) Collection() string { return c.collection }

// Delivery returns the collector's delivery setting.
func (c *Collector) Delivery() DeliverySetting { return c.delivery }

// Active reports whether a fetch loop is currently in flight.
func (c *Collector) Active() bool { return c.active.Load() }

// Anchor returns the current in-memory anchor position.
func (c *Collector) Anchor() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// EnsureAuthorized is idempotent: a no-op when the collection is readable,
// ErrAuthorizationDenied otherwise.
func (c *Collector) EnsureAuthorized() error {
	if !c.auth.Authorized(c.collection) {
		return fmt.Errorf("%w: %s", ErrAuthorizationDenied, c.collection)
	}
	return nil
}

// AskedForAuthorization is called after an authorization prompt resolves.
// If the collection is now readable and delivery is trigger-based, it runs
// one collection pass. The breaker is reset first: a re-granted capability
// invalidates the failure history that opened it.
func (c *Collector) AskedForAuthorization(ctx context.Context) error {
	if !c.delivery.Triggered() {
		return nil
	}
	if err := c.EnsureAuthorized(); err != nil {
		return err
	}
	c.breaker.Reset()
	return c.runTriggered(ctx)
}

// StartAutomaticCollection runs a collection pass when the delivery setting
// starts automatically. A no-op for manual start; the caller must use
// TriggerManualCollection explicitly.
func (c *Collector) StartAutomaticCollection(ctx context.Context) error {
	if !c.delivery.Triggered() || c.delivery.Start != StartAutomatic {
		return nil
	}
	if err := c.EnsureAuthorized(); err != nil {
		return err
	}
	return c.runTriggered(ctx)
}

// TriggerManualCollection runs one collection pass now. A no-op if a pass is
// already in flight: concurrent triggers collapse, they do not queue.
func (c *Collector) TriggerManualCollection(ctx context.Context) error {
	if err := c.EnsureAuthorized(); err != nil {
		return err
	}
	return c.runTriggered(ctx)
}

// runTriggered guards the fetch loop with the active flag and always returns
// the collector to idle, success or failure.
func (c *Collector) runTriggered(ctx context.Context) error {
	if !c.active.CompareAndSwap(false, true) {
		c.logger.Debug("collection already in flight, trigger dropped", "collection", c.collection)
		return nil
	}
	defer c.active.Store(false)

	if err := c.collectPages(ctx, record.Interval{}, c.pageSize, c.applyPage); err != nil {
		c.logger.Error("collection failed", "collection", c.collection, "error", err)
		return err
	}
	return nil
}

// CollectOnce runs the bounded anchored fetch loop over interval, applying
// each page to the sink and advancing the anchor after each acknowledged
// page. It is restartable only from the top: an error leaves already-applied
// pages applied and their anchors persisted.
func (c *Collector) CollectOnce(ctx context.Context, interval record.Interval, pageSize int) error {
	if c.sink == nil {
		return errors.New("collector: no sink configured")
	}
	if pageSize <= 0 {
		pageSize = c.pageSize
	}
	return c.collectPages(ctx, interval, pageSize, c.applyPage)
}

// CollectBatch accumulates every page in interval into a single batch
// without touching the persisted anchor, returning the anchor position after
// the final page. Export sessions call AdvanceAnchor only after the batch
// has been handed off downstream.
func (c *Collector) CollectBatch(ctx context.Context, interval record.Interval, pageSize int) (record.Batch, []byte, error) {
	if pageSize <= 0 {
		pageSize = c.pageSize
	}

	var batch record.Batch
	next := c.Anchor()

	err := c.collectPagesFrom(ctx, next, interval, pageSize, func(_ context.Context, page Page) error {
		batch.Added = append(batch.Added, page.Added...)
		batch.Deleted = append(batch.Deleted, page.Deleted...)
		next = page.NewAnchor
		return nil
	})
	if err != nil {
		return record.Batch{}, nil, err
	}
	return batch, next, nil
}

// AdvanceAnchor moves the in-memory anchor forward and persists it when the
// collector's delivery setting asks for persistence. Anchors only move
// forward; an empty position is ignored.
func (c *Collector) AdvanceAnchor(ctx context.Context, position []byte) error {
	if len(position) == 0 {
		return nil
	}
	c.mu.Lock()
	c.position = position
	c.mu.Unlock()

	if !c.persist {
		return nil
	}
	if err := c.anchors.Save(ctx, c.anchorKey, position); err != nil {
		return fmt.Errorf("save anchor %s: %w", c.anchorKey, err)
	}
	metrics.AnchorSaves.Inc()
	return nil
}

// collectPages runs the page loop starting at the collector's own anchor.
func (c *Collector) collectPages(ctx context.Context, interval record.Interval, pageSize int, apply func(context.Context, Page) error) error {
	return c.collectPagesFrom(ctx, c.Anchor(), interval, pageSize, apply)
}

// collectPagesFrom is the core loop: fetch a page past the anchor, apply it,
// move on. Termination is the first fully empty page: a page with no
// additions and no deletions is the store's "nothing left" signal; a page
// that is empty on one side only is not terminal.
func (c *Collector) collectPagesFrom(ctx context.Context, from []byte, interval record.Interval, pageSize int, apply func(context.Context, Page) error) error {
	position := from
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := c.fetchPage(ctx, position, interval, pageSize)
		if err != nil {
			return err
		}
		if page.Empty() {
			return nil
		}

		if err := apply(ctx, page); err != nil {
			return err
		}
		position = page.NewAnchor
	}
}

// applyPage delivers one page to the sink, deletions strictly before
// additions, and advances the persisted anchor once both are acknowledged.
func (c *Collector) applyPage(ctx context.Context, page Page) error {
	if err := c.sink.Remove(ctx, page.Deleted); err != nil {
		return fmt.Errorf("apply deletions for %s: %w", c.collection, err)
	}
	if err := c.sink.Add(ctx, page.Added); err != nil {
		return fmt.Errorf("apply additions for %s: %w", c.collection, err)
	}

	metrics.RecordsCollected.WithLabelValues(c.collection, "added").Add(float64(len(page.Added)))
	metrics.RecordsCollected.WithLabelValues(c.collection, "deleted").Add(float64(len(page.Deleted)))

	return c.AdvanceAnchor(ctx, page.NewAnchor)
}

// fetchPage wraps one FetchPage call in the circuit breaker. All failures,
// including breaker rejections, surface as a FetchError.
func (c *Collector) fetchPage(ctx context.Context, position []byte, interval record.Interval, limit int) (Page, error) {
	var page Page
	err := c.breaker.Execute(func() error {
		var err error
		page, err = c.src.FetchPage(ctx, c.collection, c.predicate, position, interval, limit)
		return err
	})
	if err != nil {
		return Page{}, &FetchError{Collection: c.collection, Err: err}
	}

	metrics.PagesFetched.WithLabelValues(c.collection).Inc()
	return page, nil
}
