package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
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

// matches reports whether set carries every key/value pair in kv.
func matches(set attribute.Set, kv []string) bool {
	for i := 0; i+1 < len(kv); i += 2 {
		v, ok := set.Value(attribute.Key(kv[i]))
		if !ok || v.AsString() != kv[i+1] {
			return false
		}
	}
	return true
}

// sum adds the int64 points of name whose attributes match kv.
func sum(t *testing.T, rm metricdata.ResourceMetrics, name string, kv ...string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not collected", name)
	}
	data, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, want a sum", name, met.Data)
	}
	var total int64
	for _, dp := range data.DataPoints {
		if matches(dp.Attributes, kv) {
			total += dp.Value
		}
	}
	return total
}

// samples counts the histogram observations of name whose attributes match kv.
func samples(t *testing.T, rm metricdata.ResourceMetrics, name string, kv ...string) uint64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not collected", name)
	}
	data, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric %q is %T, want a histogram", name, met.Data)
	}
	var n uint64
	for _, dp := range data.DataPoints {
		if matches(dp.Attributes, kv) {
			n += dp.Count
		}
	}
	return n
}

func TestRecordStage(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStage(ctx, StageSTT, 120*time.Millisecond, nil, "")
	m.RecordStage(ctx, StageSTT, 80*time.Millisecond, nil, "")
	m.RecordStage(ctx, StageLLM, 5*time.Second, context.DeadlineExceeded, "timeout")
	m.RecordStage(ctx, StageTTS, time.Second, errors.New("empty clip"), "empty")

	rm := collect(t, reader)
	tests := []struct {
		name string
		kv   []string
		want int64
	}{
		{MetricProviderRequests, []string{"stage", StageSTT, "status", "ok"}, 2},
		{MetricProviderRequests, []string{"status", "error"}, 2},
		{MetricProviderErrors, []string{"stage", StageLLM, "kind", "timeout"}, 1},
		{MetricProviderErrors, []string{"stage", StageTTS, "kind", "empty"}, 1},
		{MetricProviderErrors, []string{"stage", StageSTT}, 0},
	}
	for _, tt := range tests {
		if got := sum(t, rm, tt.name, tt.kv...); got != tt.want {
			t.Errorf("%s%v = %d, want %d", tt.name, tt.kv, got, tt.want)
		}
	}
	if n := samples(t, rm, MetricStageDuration, "stage", StageSTT); n != 2 {
		t.Errorf("stt duration samples = %d, want 2", n)
	}
}

func TestCallCounters(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.CallStarted(ctx)
	m.CallStarted(ctx)
	m.CallEnded(ctx)
	m.RecordTurn(ctx, "caller")
	m.RecordTurn(ctx, "caller")
	m.RecordTurn(ctx, "system")
	m.RecordFlush(ctx, "forced")
	m.RecordFlush(ctx, "natural")
	m.RecordBargeIn(ctx)
	m.RecordMalformed(ctx, "payload")
	m.RecordTurnLatency(ctx, 700*time.Millisecond)

	rm := collect(t, reader)
	tests := []struct {
		name string
		kv   []string
		want int64
	}{
		{MetricActiveCalls, nil, 1},
		{MetricTurns, []string{"role", "caller"}, 2},
		{MetricTurns, []string{"role", "system"}, 1},
		{MetricFlushes, []string{"reason", "forced"}, 1},
		{MetricBargeIns, nil, 1},
		{MetricMalformed, []string{"kind", "payload"}, 1},
	}
	for _, tt := range tests {
		if got := sum(t, rm, tt.name, tt.kv...); got != tt.want {
			t.Errorf("%s%v = %d, want %d", tt.name, tt.kv, got, tt.want)
		}
	}
	if n := samples(t, rm, MetricTurnLatency); n != 1 {
		t.Errorf("turn latency samples = %d", n)
	}
}

func TestRecordBreakerTransition(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()
	for _, state := range []string{"open", "half-open", "open", "closed"} {
		m.RecordBreakerTransition(ctx, StageSTT, "deepgram", state)
	}
	m.RecordBreakerTransition(ctx, StageTTS, "elevenlabs", "open")

	rm := collect(t, reader)
	if got := sum(t, rm, MetricBreakerTransitions, "provider", "deepgram", "state", "open"); got != 2 {
		t.Errorf("deepgram opened %d times, want 2", got)
	}
	if got := sum(t, rm, MetricBreakerTransitions, "stage", StageTTS); got != 1 {
		t.Errorf("tts transitions = %d, want 1", got)
	}
}

func TestRecordHTTP(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	m.RecordHTTP(context.Background(), "GET", "GET /healthz", 2*time.Millisecond)
	m.RecordHTTP(context.Background(), "GET", "GET /media", 90*time.Second)

	rm := collect(t, reader)
	if n := samples(t, rm, MetricHTTPDuration, "route", "GET /healthz"); n != 1 {
		t.Errorf("healthz samples = %d", n)
	}
	if n := samples(t, rm, MetricHTTPDuration, "method", "GET"); n != 2 {
		t.Errorf("GET samples = %d", n)
	}
}

func TestNewMetrics_NoopProvider(t *testing.T) {
	t.Parallel()
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordStage(context.Background(), StageLLM, time.Second, nil, "")
	m.CallStarted(context.Background())
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
