package api

import (
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oakbridge/recordsync/internal/export"
	"github.com/oakbridge/recordsync/internal/metrics"
	"github.com/oakbridge/recordsync/internal/plugin"
	"github.com/oakbridge/recordsync/internal/source"
	"github.com/oakbridge/recordsync/internal/storage"
)

// ServerConfig bundles the service dependencies the HTTP layer exposes.
type ServerConfig struct {
	Sessions    *export.Registry
	Collections *source.Router
	Source      source.Source
	Records     storage.RecordStore
	Plugins     *plugin.Registry
	PluginStore plugin.Store
	RPCClient   *plugin.RPCClient
	PageSize    int
	Backends    map[string]Pinger
}

// NewServer creates an HTTP server with all routes configured. Typed
// operations go through the OpenAPI layer; health probes, metrics, and the
// result stream are plain handlers.
func NewServer(logger *slog.Logger, cfg ServerConfig) http.Handler {
	mux := chi.NewRouter()

	mux.Use(RequestID)
	mux.Use(Logging(logger))
	mux.Use(Recovery(logger))
	mux.Use(metrics.Metrics)

	healthHandler := NewHealthHandler(cfg.Backends, logger)
	sessionHandler := NewSessionHandler(cfg.Sessions, cfg.Plugins, cfg.RPCClient, cfg.PageSize, logger)
	collectionHandler := NewCollectionHandler(cfg.Collections, cfg.Source, logger)
	recordHandler := NewRecordHandler(cfg.Records, logger)
	pluginHandler := NewPluginHandler(cfg.Plugins, cfg.PluginStore, logger)

	mux.Get("/livez", healthHandler.Livez)
	mux.Get("/readyz", healthHandler.Readyz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Get("/v1/sessions/{session_id}/results", sessionHandler.StreamResults)

	humaAPI := humachi.New(mux, huma.DefaultConfig("recordsync", "1.0.0"))
	registerSessionRoutes(humaAPI, sessionHandler)
	registerCollectionRoutes(humaAPI, collectionHandler)
	registerRecordRoutes(humaAPI, recordHandler)
	registerPluginRoutes(humaAPI, pluginHandler)

	return mux
}
