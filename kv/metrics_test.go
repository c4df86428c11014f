package kv_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/erlorenz/memvault/kv"
)

func TestEngineMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()

	engine := kv.NewEngine(kv.NewMemoryStore(),
		kv.WithLogger(quietLogger()),
		kv.WithMetrics(reg),
	)

	if err := engine.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	engine.Set(ctx, "a", []byte("1"))
	engine.Set(ctx, "b", []byte("2"))
	engine.Get(ctx, "a")
	engine.Get(ctx, "missing")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	counts := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "memvault_kv_operations_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			var op, result string
			for _, l := range m.GetLabel() {
				switch l.GetName() {
				case "op":
					op = l.GetValue()
				case "result":
					result = l.GetValue()
				}
			}
			counts[op+"/"+result] = m.GetCounter().GetValue()
		}
	}

	want := map[string]float64{
		"open/ok":       1,
		"set/ok":        2,
		"get/ok":        1,
		"get/not_found": 1,
	}
	for k, v := range want {
		if counts[k] != v {
			t.Errorf("operations_total{%s} = %v, want %v", k, counts[k], v)
		}
	}

	if n := testutil.CollectAndCount(reg, "memvault_kv_operation_duration_seconds"); n != 3 {
		t.Errorf("duration series = %d, want 3 (open, set, get)", n)
	}

	engine.Close()
	gauge, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, mf := range gauge {
		if mf.GetName() == "memvault_kv_state" {
			if got := mf.GetMetric()[0].GetGauge().GetValue(); got != float64(kv.StateClosed) {
				t.Errorf("state gauge = %v, want %v", got, float64(kv.StateClosed))
			}
		}
	}
}
