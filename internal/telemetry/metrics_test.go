package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	if m.RequestsTotal == nil {
		t.Error("RequestsTotal is nil")
	}
	if m.TierLookups == nil {
		t.Error("TierLookups is nil")
	}
	if m.InterceptorOutcomes == nil {
		t.Error("InterceptorOutcomes is nil")
	}
	if m.HydrationRuns == nil {
		t.Error("HydrationRuns is nil")
	}

	// Verify metrics can be gathered without error.
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather: %v", err)
	}
}

func TestMetricsHelpers(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	m.Lookup("memory", "search", "hit")
	m.Upstream("search", 0.05, "")
	m.Upstream("search", 0.2, "network")
	m.Joined("search")
	m.Intercepted("api", "stale-while-revalidate")
	m.Refreshed("ok")
	m.Hydrated("set_list", "published", 312)
	m.Swept("api", 3)
	m.Swept("api", 0)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather after increment: %v", err)
	}

	byName := make(map[string]*dto.MetricFamily)
	for _, f := range families {
		byName[f.GetName()] = f
	}

	want := []string{
		"tcgcache_tier_lookups_total",
		"tcgcache_upstream_duration_seconds",
		"tcgcache_upstream_errors_total",
		"tcgcache_coalesced_joins_total",
		"tcgcache_interceptor_outcomes_total",
		"tcgcache_background_refreshes_total",
		"tcgcache_hydration_runs_total",
		"tcgcache_hydration_items",
		"tcgcache_swept_entries_total",
	}
	for _, name := range want {
		if byName[name] == nil {
			t.Errorf("missing metric %q in gathered families", name)
		}
	}

	items := byName["tcgcache_hydration_items"].GetMetric()[0].GetGauge().GetValue()
	if items != 312 {
		t.Errorf("hydration_items = %v, want 312", items)
	}
	swept := byName["tcgcache_swept_entries_total"].GetMetric()[0].GetCounter().GetValue()
	if swept != 3 {
		t.Errorf("swept_entries_total = %v, want 3", swept)
	}
}

func TestNilMetrics(t *testing.T) {
	t.Parallel()

	var m *Metrics
	// Must not panic.
	m.Lookup("memory", "search", "miss")
	m.Upstream("search", 1, "network")
	m.Joined("search")
	m.Intercepted("static", "offline")
	m.Refreshed("error")
	m.Hydrated("set_list", "failed", 0)
	m.Swept("image", 1)
}
