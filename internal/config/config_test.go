package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/recordsync")
	t.Setenv("COLLECTION_CONFIG_PATH", "/etc/recordsync/collections.json")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg := Load()
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.PageSize != 500 {
		t.Errorf("PageSize = %d, want 500", cfg.PageSize)
	}
	if cfg.AnchorBackend != "postgres" {
		t.Errorf("AnchorBackend = %q, want postgres", cfg.AnchorBackend)
	}
	if cfg.BreakerResetTimeout != 30*time.Second {
		t.Errorf("BreakerResetTimeout = %s, want 30s", cfg.BreakerResetTimeout)
	}
	if cfg.PluginRetryMax != 3 {
		t.Errorf("PluginRetryMax = %d, want 3", cfg.PluginRetryMax)
	}
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9999")
	t.Setenv("PAGE_SIZE", "50")
	t.Setenv("ANCHOR_BACKEND", "sqlite")
	t.Setenv("SQLITE_PATH", "/var/lib/recordsync/anchors.db")
	t.Setenv("PLUGIN_RPC_TIMEOUT", "10s")

	cfg := Load()
	if cfg.Port != "9999" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.PageSize != 50 {
		t.Errorf("PageSize = %d", cfg.PageSize)
	}
	if cfg.AnchorBackend != "sqlite" || cfg.SQLitePath != "/var/lib/recordsync/anchors.db" {
		t.Errorf("anchor backend = %q path = %q", cfg.AnchorBackend, cfg.SQLitePath)
	}
	if cfg.PluginRPCTimeout != 10*time.Second {
		t.Errorf("PluginRPCTimeout = %s", cfg.PluginRPCTimeout)
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	setRequired(t)
	t.Setenv("PAGE_SIZE", "lots")
	t.Setenv("QUERY_TIMEOUT", "soon")

	cfg := Load()
	if cfg.PageSize != 500 {
		t.Errorf("PageSize = %d, want default 500", cfg.PageSize)
	}
	if cfg.QueryTimeout != 5*time.Second {
		t.Errorf("QueryTimeout = %s, want default 5s", cfg.QueryTimeout)
	}
}

func TestLoad_MissingRequiredPanics(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("COLLECTION_CONFIG_PATH", "/etc/recordsync/collections.json")

	defer func() {
		if recover() == nil {
			t.Error("expected panic for missing DATABASE_URL")
		}
	}()
	Load()
}
