package otelobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/relaywire/outbox"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
	})

	m, err := New(provider)
	require.NoError(t, err)

	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	byName := make(map[string]metricdata.Metrics)
	for _, scope := range rm.ScopeMetrics {
		require.Equal(t, scopeName, scope.Scope.Name)
		for _, md := range scope.Metrics {
			byName[md.Name] = md
		}
	}

	return byName
}

func counterValue(t *testing.T, md metricdata.Metrics, attrs ...attribute.KeyValue) int64 {
	t.Helper()

	sum, ok := md.Data.(metricdata.Sum[int64])
	require.True(t, ok, "%s must be an int64 sum", md.Name)

	want := attribute.NewSet(attrs...)
	for _, dp := range sum.DataPoints {
		if dp.Attributes.Equals(&want) {
			return dp.Value
		}
	}
	t.Fatalf("%s has no data point with attributes %v", md.Name, attrs)

	return 0
}

func gaugeValue(t *testing.T, md metricdata.Metrics) int64 {
	t.Helper()

	gauge, ok := md.Data.(metricdata.Gauge[int64])
	require.True(t, ok, "%s must be an int64 gauge", md.Name)
	require.Len(t, gauge.DataPoints, 1)

	return gauge.DataPoints[0].Value
}

func TestMetricsCounters(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.RecordCreated("User", "USER_INSERT")
	m.RecordCreated("User", "USER_INSERT")
	m.RecordCreated("Order", "ORDER_UPDATE")
	m.CreationFailure("User")
	m.RecordProcessed("User", outbox.StatusSent)
	m.RecordProcessed("User", outbox.StatusDeadLetter)
	m.PollCycle()
	m.PollCycle()

	byName := collect(t, reader)

	created := byName["outbox.messages.created"]
	require.EqualValues(t, 2, counterValue(t, created,
		attribute.String("entity_type", "User"),
		attribute.String("event_type", "USER_INSERT"),
	))
	require.EqualValues(t, 1, counterValue(t, created,
		attribute.String("entity_type", "Order"),
		attribute.String("event_type", "ORDER_UPDATE"),
	))

	require.EqualValues(t, 1, counterValue(t, byName["outbox.creation.failures"],
		attribute.String("entity_type", "User"),
	))

	processed := byName["outbox.messages.processed"]
	require.EqualValues(t, 1, counterValue(t, processed,
		attribute.String("entity_type", "User"),
		attribute.String("status", "SENT"),
	))
	require.EqualValues(t, 1, counterValue(t, processed,
		attribute.String("entity_type", "User"),
		attribute.String("status", "DEAD_LETTER"),
	))

	require.EqualValues(t, 2, counterValue(t, byName["outbox.relay.polling"]))
}

func TestMetricsGaugesKeepLastValue(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.SetPending(12)
	m.SetPending(7)
	m.SetFailed(3)
	m.SetDeadLetter(1)

	byName := collect(t, reader)

	require.EqualValues(t, 7, gaugeValue(t, byName["outbox.messages.pending"]))
	require.EqualValues(t, 3, gaugeValue(t, byName["outbox.messages.failed"]))
	require.EqualValues(t, 1, gaugeValue(t, byName["outbox.messages.dead_letter"]))
}

func TestMetricsProcessingTimeSeconds(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.ObserveProcessingTime("User", 250*time.Millisecond)
	m.ObserveProcessingTime("User", 750*time.Millisecond)

	byName := collect(t, reader)

	md := byName["outbox.processing.time"]
	require.Equal(t, "s", md.Unit)

	hist, ok := md.Data.(metricdata.Histogram[float64])
	require.True(t, ok, "processing time must be a float64 histogram")
	require.Len(t, hist.DataPoints, 1)
	require.EqualValues(t, 2, hist.DataPoints[0].Count)
	require.InDelta(t, 1.0, hist.DataPoints[0].Sum, 1e-9)
}

func TestNewDefaultProvider(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)
	require.NotNil(t, m)
}

type failingMeterProvider struct {
	metric.MeterProvider
	meter metric.Meter
}

func (p failingMeterProvider) Meter(string, ...metric.MeterOption) metric.Meter {
	return p.meter
}

type failingMeter struct {
	metric.Meter
	failOnName string
}

func (m failingMeter) Int64Counter(name string, options ...metric.Int64CounterOption) (metric.Int64Counter, error) {
	if name == m.failOnName {
		return nil, errors.New("instrument creation failed")
	}

	return m.Meter.Int64Counter(name, options...)
}

func (m failingMeter) Float64Histogram(name string, options ...metric.Float64HistogramOption) (metric.Float64Histogram, error) {
	if name == m.failOnName {
		return nil, errors.New("instrument creation failed")
	}

	return m.Meter.Float64Histogram(name, options...)
}

func (m failingMeter) Int64Gauge(name string, options ...metric.Int64GaugeOption) (metric.Int64Gauge, error) {
	if name == m.failOnName {
		return nil, errors.New("instrument creation failed")
	}

	return m.Meter.Int64Gauge(name, options...)
}

func TestNewInstrumentErrors(t *testing.T) {
	instruments := []string{
		"outbox.messages.created",
		"outbox.messages.processed",
		"outbox.creation.failures",
		"outbox.relay.polling",
		"outbox.processing.time",
		"outbox.messages.pending",
		"outbox.messages.failed",
		"outbox.messages.dead_letter",
	}

	for _, name := range instruments {
		t.Run(name, func(t *testing.T) {
			provider := failingMeterProvider{
				MeterProvider: noop.NewMeterProvider(),
				meter: failingMeter{
					Meter:      noop.NewMeterProvider().Meter("test"),
					failOnName: name,
				},
			}

			_, err := New(provider)
			require.Error(t, err)
			require.ErrorContains(t, err, name)
		})
	}
}
