package telemetry

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

func TestSetup_WithoutEndpoint(t *testing.T) {
	prevTracer, prevMeter := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTracer)
		otel.SetMeterProvider(prevMeter)
	})

	providers, err := Setup(context.Background(), "libradesk-test", "test", "", prometheus.NewRegistry(), zap.NewNop())
	require.NoError(t, err)

	_, span := otel.Tracer("telemetry_test").Start(context.Background(), "check")
	assert.True(t, span.SpanContext().IsValid())
	assert.True(t, span.SpanContext().IsSampled())
	span.End()

	assert.NoError(t, providers.Shutdown(context.Background()))
}

func TestNewMeterProvider_ExportsToRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	mp, err := NewMeterProvider(reg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	counter, err := mp.Meter("telemetry_test").Int64Counter("libradesk.test.events")
	require.NoError(t, err)
	counter.Add(context.Background(), 2)

	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, f := range families {
		if f.GetName() != "libradesk_test_events_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 2.0, total)
}
