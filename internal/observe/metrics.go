// Package observe carries the telemetry of a telvoxa instance: OpenTelemetry
// metrics and traces, call-scoped structured logging and the HTTP middleware
// joining them.
//
// Metrics go through the OpenTelemetry API. [InitProvider] installs the
// Prometheus bridge that backs GET /metrics. Production code records on
// [DefaultMetrics]; tests build their own with [NewMetrics] and a manual
// reader.
package observe

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/telvoxa"

// Stage names of the per-turn pipeline, used as the "stage" attribute.
const (
	StageSTT = "stt"
	StageLLM = "llm"
	StageTTS = "tts"
)

// Instrument names.
const (
	MetricStageDuration      = "telvoxa.stage.duration"
	MetricTurnLatency        = "telvoxa.turn.latency"
	MetricProviderRequests   = "telvoxa.provider.requests"
	MetricProviderErrors     = "telvoxa.provider.errors"
	MetricBreakerTransitions = "telvoxa.provider.breaker.transitions"
	MetricTurns              = "telvoxa.turns"
	MetricFlushes            = "telvoxa.utterance.flushes"
	MetricBargeIns           = "telvoxa.bargeins"
	MetricMalformed          = "telvoxa.media.malformed"
	MetricActiveCalls        = "telvoxa.calls.active"
	MetricHTTPDuration       = "telvoxa.http.request.duration"
)

// voiceBuckets are histogram boundaries in seconds sized for provider round
// trips and caller-perceived reply delay.
var voiceBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 0.75, 1, 1.5, 2.5, 5, 10}

// Metrics records the instance's instruments. It is safe for concurrent use.
type Metrics struct {
	stageDuration metric.Float64Histogram
	turnLatency   metric.Float64Histogram
	httpDuration  metric.Float64Histogram

	requests    metric.Int64Counter
	failures    metric.Int64Counter
	transitions metric.Int64Counter
	turns       metric.Int64Counter
	flushes     metric.Int64Counter
	bargeIns    metric.Int64Counter
	malformed   metric.Int64Counter

	activeCalls metric.Int64UpDownCounter
}

// builder creates instruments on one meter and keeps the first errors.
type builder struct {
	m    metric.Meter
	errs []error
}

func (b *builder) histogram(name, desc string, buckets ...float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := b.m.Float64Histogram(name, opts...)
	b.errs = append(b.errs, err)
	return h
}

func (b *builder) counter(name, desc string) metric.Int64Counter {
	c, err := b.m.Int64Counter(name, metric.WithDescription(desc))
	b.errs = append(b.errs, err)
	return c
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &builder{m: mp.Meter(meterName)}
	m := &Metrics{
		stageDuration: b.histogram(MetricStageDuration, "Latency of STT, LLM and TTS calls.", voiceBuckets...),
		turnLatency:   b.histogram(MetricTurnLatency, "Delay from the end of caller speech to the first reply frame.", voiceBuckets...),
		httpDuration:  b.histogram(MetricHTTPDuration, "HTTP request latency by method and route."),

		requests:    b.counter(MetricProviderRequests, "Provider calls by stage and status."),
		failures:    b.counter(MetricProviderErrors, "Failed provider calls by stage and kind."),
		transitions: b.counter(MetricBreakerTransitions, "Provider circuit breaker state changes."),
		turns:       b.counter(MetricTurns, "Recorded conversation turns by role."),
		flushes:     b.counter(MetricFlushes, "Utterance flushes by reason."),
		bargeIns:    b.counter(MetricBargeIns, "Replies cut short by caller speech."),
		malformed:   b.counter(MetricMalformed, "Inbound media messages dropped by kind."),
	}
	var err error
	m.activeCalls, err = b.m.Int64UpDownCounter(MetricActiveCalls, metric.WithDescription("Live call sessions."))
	b.errs = append(b.errs, err)
	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	return m, nil
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// DefaultMetrics returns the instance bound to the global meter provider. It
// panics if the instruments cannot be created.
func DefaultMetrics() *Metrics {
	defaultOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: default metrics: " + err.Error())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

func attrs(kv ...string) metric.MeasurementOption {
	out := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, attribute.String(kv[i], kv[i+1]))
	}
	return metric.WithAttributes(out...)
}

// RecordStage records one provider call of stage. A non-nil err is also
// counted as a failure of kind (error, timeout or empty).
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration, err error, kind string) {
	m.stageDuration.Record(ctx, d.Seconds(), attrs("stage", stage))
	status := "ok"
	if err != nil {
		status = "error"
		m.failures.Add(ctx, 1, attrs("stage", stage, "kind", kind))
	}
	m.requests.Add(ctx, 1, attrs("stage", stage, "status", status))
}

// RecordTurnLatency records how long the caller waited for a reply to start.
func (m *Metrics) RecordTurnLatency(ctx context.Context, d time.Duration) {
	m.turnLatency.Record(ctx, d.Seconds())
}

// RecordTurn counts one turn appended to a call's history.
func (m *Metrics) RecordTurn(ctx context.Context, role string) {
	m.turns.Add(ctx, 1, attrs("role", role))
}

// RecordFlush counts one utterance leaving the turn detector. reason is
// natural, forced or discarded.
func (m *Metrics) RecordFlush(ctx context.Context, reason string) {
	m.flushes.Add(ctx, 1, attrs("reason", reason))
}

// RecordBargeIn counts a reply interrupted by the caller.
func (m *Metrics) RecordBargeIn(ctx context.Context) {
	m.bargeIns.Add(ctx, 1)
}

// RecordMalformed counts one dropped inbound message. kind is json, payload
// or event.
func (m *Metrics) RecordMalformed(ctx context.Context, kind string) {
	m.malformed.Add(ctx, 1, attrs("kind", kind))
}

// RecordBreakerTransition counts the breaker of one stage backend entering
// state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, stage, provider, state string) {
	m.transitions.Add(ctx, 1, attrs("stage", stage, "provider", provider, "state", state))
}

// CallStarted and CallEnded move the live call gauge.
func (m *Metrics) CallStarted(ctx context.Context) { m.activeCalls.Add(ctx, 1) }
func (m *Metrics) CallEnded(ctx context.Context)   { m.activeCalls.Add(ctx, -1) }

// RecordHTTP records one served request.
func (m *Metrics) RecordHTTP(ctx context.Context, method, route string, d time.Duration) {
	m.httpDuration.Record(ctx, d.Seconds(), attrs("method", method, "route", route))
}
