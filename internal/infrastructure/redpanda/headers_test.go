package redpanda

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceHeadersRoundTrip(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	record := &kgo.Record{Topic: TopicCounterfeitReports}
	injectTraceHeaders(ctx, record)

	carrier := headerCarrier{record: record}
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", carrier.Get("traceparent"))
	assert.Contains(t, carrier.Keys(), "traceparent")

	out := trace.SpanContextFromContext(extractTraceContext(context.Background(), record))
	assert.Equal(t, traceID, out.TraceID())
	assert.True(t, out.IsRemote())
}

func TestHeaderCarrier_SetReplaces(t *testing.T) {
	record := &kgo.Record{}
	c := headerCarrier{record: record}
	c.Set("k", "a")
	c.Set("k", "b")
	assert.Len(t, record.Headers, 1)
	assert.Equal(t, "b", c.Get("k"))
	assert.Equal(t, "", c.Get("missing"))
}

func TestDefaultTopicConfigs(t *testing.T) {
	names := map[string]bool{}
	for _, cfg := range DefaultTopicConfigs() {
		names[cfg.Name] = true
		assert.Positive(t, cfg.Partitions)
	}
	assert.True(t, names[TopicCounterfeitReports])
	assert.True(t, names[TopicRegistryUpdates])
	assert.True(t, names[TopicDeadLetter])
}
