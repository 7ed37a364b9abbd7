package export

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oakbridge/recordsync/internal/anchor"
)

// restorationState is the durable progress snapshot for a session, persisted
// after every boundary handoff under the session's anchor key. It is what
// makes a session resumable across process restarts.
type restorationState struct {
	ProcessorKind string     `json:"processor_kind"`
	Collections   []string   `json:"collections"`
	Start         time.Time  `json:"start"`
	End           time.Time  `json:"end"`
	Policy        SizePolicy `json:"policy"`
	NextBoundary  int        `json:"next_boundary"`
	Failed        []int      `json:"failed,omitempty"`
}

// loadRestoration returns nil when no state is persisted. Corrupt state is
// logged by the caller and treated as absent.
func loadRestoration(ctx context.Context, store anchor.Store, sessionID string) (*restorationState, error) {
	raw, err := store.Load(ctx, anchor.SessionKey(sessionID))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var rs restorationState
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil, err
	}
	return &rs, nil
}

func (rs restorationState) save(ctx context.Context, store anchor.Store, sessionID string) error {
	raw, err := json.Marshal(rs)
	if err != nil {
		return err
	}
	return store.Save(ctx, anchor.SessionKey(sessionID), raw)
}

// deleteRestoration removes the session snapshot and every per-collection
// anchor it owns.
func deleteRestoration(ctx context.Context, store anchor.Store, sessionID string, collections []string) error {
	for _, c := range collections {
		if err := store.Delete(ctx, anchor.SessionCollectionKey(sessionID, c)); err != nil {
			return err
		}
	}
	return store.Delete(ctx, anchor.SessionKey(sessionID))
}
