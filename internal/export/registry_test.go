package export

import (
	"context"
	"errors"
	"testing"

	"github.com/oakbridge/recordsync/internal/anchor"
)

func baseOptions(t *testing.T, id string, proc Processor) Options {
	t.Helper()
	return Options{
		ID:          id,
		Collections: []string{"steps"},
		Interval:    monthInterval(t),
		Policy:      ByCalendar(UnitMonth, 1),
		Processor:   proc,
		PageSize:    100,
	}
}

func TestRegistry_ObtainIsIdempotentForSameKind(t *testing.T) {
	reg := newTestRegistry(newWindowSource(), anchor.NewMemoryStore())

	first, created, err := reg.ObtainSession(context.Background(), baseOptions(t, "s1", &tallyProcessor{kind: "tally"}))
	if err != nil {
		t.Fatalf("first obtain: %v", err)
	}
	if !created {
		t.Fatal("first obtain should create")
	}

	second, created, err := reg.ObtainSession(context.Background(), baseOptions(t, "s1", &tallyProcessor{kind: "tally"}))
	if err != nil {
		t.Fatalf("second obtain: %v", err)
	}
	if created {
		t.Error("second obtain should not create")
	}
	if first != second {
		t.Error("expected the same live session back")
	}
}

func TestRegistry_KindMismatchConflicts(t *testing.T) {
	reg := newTestRegistry(newWindowSource(), anchor.NewMemoryStore())

	if _, _, err := reg.ObtainSession(context.Background(), baseOptions(t, "s1", &tallyProcessor{kind: "tally"})); err != nil {
		t.Fatalf("obtain: %v", err)
	}

	_, _, err := reg.ObtainSession(context.Background(), baseOptions(t, "s1", &tallyProcessor{kind: "csv"}))
	if !errors.Is(err, ErrConflictingSession) {
		t.Fatalf("err = %v, want ErrConflictingSession", err)
	}
}

func TestRegistry_PersistedKindMismatchConflicts(t *testing.T) {
	anchors := anchor.NewMemoryStore()
	reg := newTestRegistry(newWindowSource(), anchors)

	rs := restorationState{
		ProcessorKind: "tally",
		Collections:   []string{"steps"},
		NextBoundary:  1,
	}
	if err := rs.save(context.Background(), anchors, "s1"); err != nil {
		t.Fatalf("save restoration: %v", err)
	}

	// No live session, but the persisted snapshot pins the processor type.
	_, _, err := reg.ObtainSession(context.Background(), baseOptions(t, "s1", &tallyProcessor{kind: "csv"}))
	if !errors.Is(err, ErrConflictingSession) {
		t.Fatalf("err = %v, want ErrConflictingSession", err)
	}
}

func TestRegistry_ResumesFromRestorationState(t *testing.T) {
	src := newWindowSource()
	anchors := anchor.NewMemoryStore()
	reg := newTestRegistry(src, anchors)

	// Two of three monthly windows already handed off in a previous
	// process lifetime.
	iv := monthInterval(t)
	rs := restorationState{
		ProcessorKind: "tally",
		Collections:   []string{"steps"},
		Start:         iv.Start,
		End:           iv.End,
		Policy:        ByCalendar(UnitMonth, 1),
		NextBoundary:  2,
	}
	if err := rs.save(context.Background(), anchors, "s1"); err != nil {
		t.Fatalf("save restoration: %v", err)
	}

	sess, created, err := reg.ObtainSession(context.Background(), baseOptions(t, "s1", &tallyProcessor{kind: "tally"}))
	if err != nil {
		t.Fatalf("obtain: %v", err)
	}
	if !created {
		t.Fatal("rehydration should build a new live session")
	}
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	results := drain(t, sess)
	if len(results) != 1 {
		t.Fatalf("expected only the final window, got %d results", len(results))
	}
	if !results[0].Boundary.Interval.Start.Equal(day(t, "2024-03-01")) {
		t.Errorf("resumed at %s, want 2024-03-01", results[0].Boundary.Interval.Start)
	}
}

func TestRegistry_RetriesPersistedFailedBoundary(t *testing.T) {
	src := newWindowSource()
	anchors := anchor.NewMemoryStore()
	reg := newTestRegistry(src, anchors)

	iv := monthInterval(t)
	rs := restorationState{
		ProcessorKind: "tally",
		Collections:   []string{"steps"},
		Start:         iv.Start,
		End:           iv.End,
		Policy:        ByCalendar(UnitMonth, 1),
		NextBoundary:  3,
		Failed:        []int{1},
	}
	if err := rs.save(context.Background(), anchors, "s1"); err != nil {
		t.Fatalf("save restoration: %v", err)
	}

	sess, _, err := reg.ObtainSession(context.Background(), baseOptions(t, "s1", &tallyProcessor{kind: "tally"}))
	if err != nil {
		t.Fatalf("obtain: %v", err)
	}
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	results := drain(t, sess)
	if len(results) != 1 {
		t.Fatalf("expected the retried window only, got %d results", len(results))
	}
	if !results[0].Boundary.Interval.Start.Equal(day(t, "2024-02-01")) {
		t.Errorf("retried %s, want the failed 2024-02-01 window", results[0].Boundary.Interval.Start)
	}
	if results[0].Error != "" {
		t.Errorf("retry carries error %q", results[0].Error)
	}

	after, err := loadRestoration(context.Background(), anchors, "s1")
	if err != nil || after == nil {
		t.Fatalf("loadRestoration: rs=%v err=%v", after, err)
	}
	if len(after.Failed) != 0 {
		t.Errorf("failed list = %v after successful retry, want empty", after.Failed)
	}
}

func TestRegistry_DeleteRestorationInfo(t *testing.T) {
	src := newWindowSource()
	anchors := anchor.NewMemoryStore()
	reg := newTestRegistry(src, anchors)

	sess, _, err := reg.ObtainSession(context.Background(), baseOptions(t, "s1", &tallyProcessor{kind: "tally"}))
	if err != nil {
		t.Fatalf("obtain: %v", err)
	}

	err = reg.DeleteSessionRestorationInfo(context.Background(), "s1")
	if !errors.Is(err, ErrSessionRegistered) {
		t.Fatalf("err = %v, want ErrSessionRegistered for a live session", err)
	}

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	drain(t, sess)

	if err := reg.DeleteSessionRestorationInfo(context.Background(), "s1"); err != nil {
		t.Fatalf("delete after terminal state: %v", err)
	}

	rs, err := loadRestoration(context.Background(), anchors, "s1")
	if err != nil {
		t.Fatalf("loadRestoration: %v", err)
	}
	if rs != nil {
		t.Error("restoration state survived deletion")
	}
	pos, err := anchors.Load(context.Background(), anchor.SessionCollectionKey("s1", "steps"))
	if err != nil {
		t.Fatalf("load anchor: %v", err)
	}
	if pos != nil {
		t.Error("session collection anchor survived deletion")
	}

	if _, ok := reg.Session("s1"); ok {
		t.Error("session still registered after deletion")
	}
}

func TestRegistry_DeleteUnknownSessionIsNoop(t *testing.T) {
	reg := newTestRegistry(newWindowSource(), anchor.NewMemoryStore())
	if err := reg.DeleteSessionRestorationInfo(context.Background(), "ghost"); err != nil {
		t.Fatalf("delete unknown: %v", err)
	}
}

func TestRegistry_GeneratesIDWhenEmpty(t *testing.T) {
	reg := newTestRegistry(newWindowSource(), anchor.NewMemoryStore())
	sess, created, err := reg.ObtainSession(context.Background(), baseOptions(t, "", &tallyProcessor{kind: "tally"}))
	if err != nil {
		t.Fatalf("obtain: %v", err)
	}
	if !created || sess.ID() == "" {
		t.Errorf("created=%v id=%q, want a fresh generated id", created, sess.ID())
	}
}
