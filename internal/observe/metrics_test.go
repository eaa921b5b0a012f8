package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
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

// sumWhere totals the data points of an int64 sum whose attributes include
// every pair in want.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name string, want ...attribute.KeyValue) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %s not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %s is %T, want Sum[int64]", name, met.Data)
	}
	var total int64
outer:
	for _, dp := range sum.DataPoints {
		for _, kv := range want {
			if v, ok := dp.Attributes.Value(kv.Key); !ok || v.Emit() != kv.Value.Emit() {
				continue outer
			}
		}
		total += dp.Value
	}
	return total
}

func TestHistograms(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"simi.live.connect.duration", m.ConnectDuration},
		{"simi.content.duration", m.ContentDuration},
	}
	for _, tc := range histograms {
		tc.h.Record(ctx, 0.2)
		tc.h.Record(ctx, 0.7)
	}

	rm := collect(t, reader)
	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatal("not found")
			}
			if met.Unit != "s" {
				t.Errorf("unit = %q, want s", met.Unit)
			}
			hist := met.Data.(metricdata.Histogram[float64])
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("count = %d, want 2", got)
			}
			if len(hist.DataPoints[0].Bounds) != len(latencyBuckets) {
				t.Errorf("bounds = %v", hist.DataPoints[0].Bounds)
			}
		})
	}
}

func TestPlainCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.FramesSent.Add(ctx, 3)
	m.PlaybackBuffers.Add(ctx, 2)
	m.Interruptions.Add(ctx, 1)
	m.DecodeErrors.Add(ctx, 4)
	m.ToolAckFailures.Add(ctx, 1)

	rm := collect(t, reader)
	tests := map[string]int64{
		"simi.audio.frames_sent":      3,
		"simi.playback.buffers":       2,
		"simi.playback.interruptions": 1,
		"simi.audio.decode_errors":    4,
		"simi.tool.ack_failures":      1,
	}
	for name, want := range tests {
		if got := sumWhere(t, rm, name); got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
}

func TestRecordHelpers(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "gemini", "gossip", "ok")
	m.RecordProviderRequest(ctx, "gemini", "gossip", "error")
	m.RecordProviderError(ctx, "openai", "complete")
	m.RecordToolCall(ctx, "navigate", "received")
	m.RecordCommand(ctx, "add_to_cart", "voice", true)
	m.RecordCommand(ctx, "add_to_cart", "voice", true)
	m.RecordCommand(ctx, "nonsense", "api", false)
	m.RecordFrameDropped(ctx, "backpressure")
	m.RecordSessionError(ctx, "connection")

	rm := collect(t, reader)

	if got := sumWhere(t, rm, "simi.provider.requests", attribute.String("status", "ok")); got != 1 {
		t.Errorf("ok provider requests = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "simi.provider.requests", attribute.String("provider", "gemini")); got != 2 {
		t.Errorf("gemini provider requests = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "simi.provider.errors", attribute.String("provider", "openai")); got != 1 {
		t.Errorf("openai errors = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "simi.tool.calls", attribute.String("tool", "navigate")); got != 1 {
		t.Errorf("navigate tool calls = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "simi.commands", attribute.String("kind", "add_to_cart"), attribute.Bool("changed", true)); got != 2 {
		t.Errorf("changed add_to_cart = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "simi.commands", attribute.Bool("changed", false)); got != 1 {
		t.Errorf("unchanged commands = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "simi.audio.frames_dropped", attribute.String("reason", "backpressure")); got != 1 {
		t.Errorf("dropped frames = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "simi.session.errors", attribute.String("kind", "connection")); got != 1 {
		t.Errorf("session errors = %d, want 1", got)
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)
	m.StateSubscribers.Add(ctx, 3)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "simi.active_sessions"); got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "simi.state.subscribers"); got != 3 {
		t.Errorf("state subscribers = %d, want 3", got)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}

func TestAttr(t *testing.T) {
	kv := Attr("provider", "gemini")
	if kv.Key != "provider" || kv.Value.AsString() != "gemini" {
		t.Errorf("Attr = %v", kv)
	}
}
