package source

import (
	"context"
	"time"

	"github.com/oakbridge/recordsync/internal/record"
)

// Page is one bounded result of an anchored fetch. NewAnchor is the opaque
// position after this page; it is only meaningful to the Source that
// produced it.
type Page struct {
	Added     []record.Record
	Deleted   []record.DeletedRef
	NewAnchor []byte
}

// Empty reports whether the page is the terminal "no more data" signal:
// neither additions nor deletions remain past the anchor.
func (p Page) Empty() bool {
	return len(p.Added) == 0 && len(p.Deleted) == 0
}

// AggregateKind selects the statistic computed by FetchAggregate.
type AggregateKind string

const (
	AggregateMin   AggregateKind = "min"
	AggregateMax   AggregateKind = "max"
	AggregateAvg   AggregateKind = "avg"
	AggregateSum   AggregateKind = "sum"
	AggregateCount AggregateKind = "count"
)

// AggregateSample is one bucketed statistic over a collection.
type AggregateSample struct {
	Bucket time.Time `json:"bucket"`
	Value  float64   `json:"value"`
}

// Source is the external record store. FetchPage returns additions and
// deletions past anchor, restricted to interval (a zero interval means
// unbounded) and at most limit additions. A nil anchor means "from the
// beginning".
type Source interface {
	FetchPage(ctx context.Context, collection, predicate string, anchor []byte, interval record.Interval, limit int) (Page, error)
	FetchAggregate(ctx context.Context, collection string, interval record.Interval, granularity time.Duration, kind AggregateKind) ([]AggregateSample, error)
}

// Authorizer answers whether the process may read a collection. Checked
// before every fetch loop; never prompts, never blocks.
type Authorizer interface {
	Authorized(collection string) bool
}

// Sink receives each page of changes. The collector calls Remove before Add
// for every page, and persists the anchor only after both return nil.
type Sink interface {
	Remove(ctx context.Context, refs []record.DeletedRef) error
	Add(ctx context.Context, records []record.Record) error
}
