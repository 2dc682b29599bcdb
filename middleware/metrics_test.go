package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/nexus-link/durable"
	mw "github.com/nexus-link/durable/middleware"
)

func setupTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return reader, mp
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func outcomeOf(t *testing.T, rm metricdata.ResourceMetrics) string {
	t.Helper()
	metric := findMetric(rm, "durable.activity.invocations")
	if metric == nil {
		t.Fatal("durable.activity.invocations metric not found")
	}
	sum, ok := metric.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("expected Sum[int64] data type")
	}
	if len(sum.DataPoints) != 1 {
		t.Fatalf("expected 1 data point, got %d", len(sum.DataPoints))
	}
	if sum.DataPoints[0].Value != 1 {
		t.Errorf("expected value=1, got %d", sum.DataPoints[0].Value)
	}
	v, _ := sum.DataPoints[0].Attributes.Value(attribute.Key("outcome"))
	return v.AsString()
}

func TestMetrics_RecordsDuration(t *testing.T) {
	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))

	_ = m(context.Background(), newTestInfo(), func(_ context.Context) error { return nil })

	metric := findMetric(collectMetrics(t, reader), "durable.activity.duration")
	if metric == nil {
		t.Fatal("durable.activity.duration metric not found")
	}
	hist, ok := metric.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("expected Histogram[float64] data type")
	}
	if len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("expected one recorded duration, got %+v", hist.DataPoints)
	}
}

func TestMetrics_Outcomes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"ok", nil, "ok"},
		{"error", errors.New("boom"), "error"},
		{"postponed", durable.Postpone(), "postponed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, mp := setupTestMeter()
			m := mw.MetricsWithMeter(mp.Meter("test"))

			_ = m(context.Background(), newTestInfo(), func(_ context.Context) error { return tt.err })

			if got := outcomeOf(t, collectMetrics(t, reader)); got != tt.want {
				t.Errorf("outcome = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMetrics_Attributes(t *testing.T) {
	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))

	_ = m(context.Background(), newTestInfo(), func(_ context.Context) error { return nil })

	rm := collectMetrics(t, reader)
	for _, name := range []string{"durable.activity.duration", "durable.activity.invocations"} {
		metric := findMetric(rm, name)
		if metric == nil {
			t.Errorf("%s metric not found", name)
			continue
		}

		var set attribute.Set
		switch data := metric.Data.(type) {
		case metricdata.Histogram[float64]:
			set = data.DataPoints[0].Attributes
		case metricdata.Sum[int64]:
			set = data.DataPoints[0].Attributes
		}

		expected := map[string]string{
			"activity": "reserve-stock",
			"type":     "function",
			"outcome":  "ok",
		}
		for key, want := range expected {
			v, ok := set.Value(attribute.Key(key))
			if !ok {
				t.Errorf("%s: missing attribute %q", name, key)
				continue
			}
			if v.AsString() != want {
				t.Errorf("%s: attribute %q = %q, want %q", name, key, v.AsString(), want)
			}
		}
	}
}

func TestMetrics_DefaultNoopSafe(t *testing.T) {
	called := false
	err := mw.Metrics()(context.Background(), newTestInfo(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("handler was not called")
	}
}
