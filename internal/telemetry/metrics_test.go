package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestTickMetrics_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	m, err := NewTickMetrics(mp)
	require.NoError(t, err)

	ctx := context.Background()
	m.Record(ctx, TickSample{Tick: 0, Aided: 3, Collaborations: 1, Budget: 982000, Adapted: 40,
		MeasureCounts: map[string]int{"sandbags": 30, "elevate_house": 10}})
	m.Record(ctx, TickSample{Tick: 1, Aided: 2, Collaborations: 0, Budget: 970000, Adapted: 42})

	data := collect(t, reader)

	subsidies, ok := data["floodsim.subsidies.disbursed"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, subsidies.DataPoints, 1)
	assert.Equal(t, int64(5), subsidies.DataPoints[0].Value)

	collabs, ok := data["floodsim.collaborations"].(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Equal(t, int64(1), collabs.DataPoints[0].Value)

	budget, ok := data["floodsim.government.budget"].(metricdata.Gauge[float64])
	require.True(t, ok)
	assert.Equal(t, 970000.0, budget.DataPoints[0].Value)

	adapted, ok := data["floodsim.households.adapted"].(metricdata.Gauge[int64])
	require.True(t, ok)
	assert.Equal(t, int64(42), adapted.DataPoints[0].Value)

	measures, ok := data["floodsim.households.measure"].(metricdata.Gauge[int64])
	require.True(t, ok)
	assert.Len(t, measures.DataPoints, 2)
}

func TestTickMetrics_NilReceiver(t *testing.T) {
	var m *TickMetrics
	assert.NotPanics(t, func() { m.Record(context.Background(), TickSample{Aided: 1}) })
}

func TestInit(t *testing.T) {
	shutdown, err := Init("floodsim", "test", Config{Exporter: "none"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	_, err = Init("floodsim", "test", Config{Exporter: "zipkin"})
	assert.Error(t, err)

	_, err = Init("floodsim", "test", Config{Exporter: "otlp"})
	assert.ErrorContains(t, err, "endpoint")
}
