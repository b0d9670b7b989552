package providercache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestNoopTracer(t *testing.T) {
	tracer := &NoopTracer{}
	span := tracer.StartSpan("test_span", "tag1", "value1")

	_, ok := span.(*NoopSpan)
	assert.True(t, ok, "Should return a NoopSpan")

	// Test span methods - these should not panic
	span.Finish()
	span.SetTag("tag", "value")
	span.LogFields("field1", "value1")
}

func TestOpenTelemetryTracer(t *testing.T) {
	tp := noop.NewTracerProvider()
	noopTracer := tp.Tracer("test")

	tracer := NewOpenTelemetryTracer(noopTracer)

	span := tracer.StartSpan("test_span")
	_, ok := span.(*OpenTelemetrySpan)
	assert.True(t, ok, "Should return an OpenTelemetrySpan")

	// These should not panic against a noop provider
	span.SetTag("provider", "main")
	span.LogFields("event", "refresh")
	span.Finish()
}
