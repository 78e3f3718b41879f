package telemetry

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestTelemetrySetup(t *testing.T) {
	var traces, logs bytes.Buffer
	tel, err := Setup("test-service", WithTraceWriter(&traces), WithLogWriter(&logs))
	require.NoError(t, err)

	assert.NotNil(t, otel.GetTracerProvider())
	assert.NotNil(t, otel.GetMeterProvider())

	_, span := GetTracer("test-tracer").Start(context.Background(), "unit")
	span.End()
	assert.NotNil(t, GetMeter("test-meter"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tel.Shutdown(ctx))
	assert.Contains(t, traces.String(), "unit")
}

func TestTelemetrySetup_MetricsOnly(t *testing.T) {
	tel, err := Setup("metrics-only")
	require.NoError(t, err)
	assert.Nil(t, tel.tp)
	assert.Nil(t, tel.lp)
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestMetricsHolder_RecordTransition(t *testing.T) {
	m := NewMetricsHolder()
	ctx := context.Background()

	m.RecordTransition(ctx, "BTC-USD", "", "Started")
	m.RecordTransition(ctx, "BTC-USD", "Started", "BuyOrderPending")
	m.RecordTransition(ctx, "ETH-USD", "", "Started")

	states := m.GetPositionStates()
	assert.Equal(t, int64(1), states["Started"])
	assert.Equal(t, int64(1), states["BuyOrderPending"])

	m.SetOpenOrders("BTC-USD", 3)
	assert.Equal(t, int64(3), m.GetOpenOrders()["BTC-USD"])
}
