package plugin

import (
	"context"
	"log/slog"
	"time"
)

// SessionCompletedParams is the session.completed notification payload.
type SessionCompletedParams struct {
	SessionID   string    `json:"session_id"`
	State       string    `json:"state"`
	Collections []string  `json:"collections"`
	Boundaries  int       `json:"boundaries"`
	Failed      int       `json:"failed"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Notifier fans session lifecycle notifications out to the plugins that
// declared any of the session's collections.
type Notifier struct {
	registry  *Registry
	rpcClient *RPCClient
	logger    *slog.Logger
}

func NewNotifier(registry *Registry, rpcClient *RPCClient, logger *slog.Logger) *Notifier {
	return &Notifier{
		registry:  registry,
		rpcClient: rpcClient,
		logger:    logger,
	}
}

// SessionCompleted fires a goroutine per subscribed plugin. Errors are
// logged, not propagated; a slow plugin never holds up session teardown.
func (n *Notifier) SessionCompleted(params SessionCompletedParams) {
	seen := make(map[string]*Plugin)
	for _, collection := range params.Collections {
		for _, p := range n.registry.ForCollection(collection) {
			seen[p.Name] = p
		}
	}
	if len(seen) == 0 {
		return
	}
	params.FinishedAt = time.Now()

	for _, p := range seen {
		go func(endpoint, pluginName string) {
			err := n.rpcClient.Notify(context.Background(), endpoint, "session.completed", params)
			if err != nil {
				n.logger.Error("session notification failed",
					"plugin", pluginName, "endpoint", endpoint, "error", err)
			}
		}(p.Endpoint, p.Name)
	}
}
