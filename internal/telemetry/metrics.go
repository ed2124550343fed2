package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// TickMetrics records per-tick simulation aggregates.
type TickMetrics struct {
	subsidies      metric.Int64Counter
	collaborations metric.Int64Counter
	budget         metric.Float64Gauge
	adapted        metric.Int64Gauge
	measures       metric.Int64Gauge
}

// TickSample is what one completed tick contributes to the metrics.
type TickSample struct {
	Tick           uint64
	Aided          int
	Collaborations int
	Budget         float64
	Adapted        int
	MeasureCounts  map[string]int
}

// NewTickMetrics creates the instruments on the global meter provider.
// meterProvider may be nil to use the global one.
func NewTickMetrics(meterProvider metric.MeterProvider) (*TickMetrics, error) {
	if meterProvider == nil {
		meterProvider = otel.GetMeterProvider()
	}
	meter := meterProvider.Meter("floodsim/engine")

	subsidies, err := meter.Int64Counter(
		"floodsim.subsidies.disbursed",
		metric.WithDescription("Households aided by the government"),
	)
	if err != nil {
		return nil, err
	}

	collaborations, err := meter.Int64Counter(
		"floodsim.collaborations",
		metric.WithDescription("Collaboration events that exceeded the pooling threshold"),
	)
	if err != nil {
		return nil, err
	}

	budget, err := meter.Float64Gauge(
		"floodsim.government.budget",
		metric.WithDescription("Remaining government subsidy budget"),
	)
	if err != nil {
		return nil, err
	}

	adapted, err := meter.Int64Gauge(
		"floodsim.households.adapted",
		metric.WithDescription("Households currently adapted"),
	)
	if err != nil {
		return nil, err
	}

	measures, err := meter.Int64Gauge(
		"floodsim.households.measure",
		metric.WithDescription("Households per selected measure"),
	)
	if err != nil {
		return nil, err
	}

	return &TickMetrics{
		subsidies:      subsidies,
		collaborations: collaborations,
		budget:         budget,
		adapted:        adapted,
		measures:       measures,
	}, nil
}

// Record pushes one tick's aggregates. Safe on a nil receiver.
func (m *TickMetrics) Record(ctx context.Context, s TickSample) {
	if m == nil {
		return
	}
	m.subsidies.Add(ctx, int64(s.Aided))
	m.collaborations.Add(ctx, int64(s.Collaborations))
	m.budget.Record(ctx, s.Budget)
	m.adapted.Record(ctx, int64(s.Adapted))
	for name, n := range s.MeasureCounts {
		m.measures.Record(ctx, int64(n), metric.WithAttributes(attribute.String("measure", name)))
	}
}
