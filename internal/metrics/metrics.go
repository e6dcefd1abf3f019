package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"deltavm/internal/logger"
)

// meterName is the instrumentation scope of every instrument.
const meterName = "deltavm"

var (
	// Operations counts aggregator operations by op.
	Operations metric.Int64Counter

	// Failures counts failed aggregator operations by op and kind.
	Failures metric.Int64Counter

	// Materializations counts reads that resolved a delta against a base value.
	Materializations metric.Int64Counter

	// Transactions counts executed transactions by outcome.
	Transactions metric.Int64Counter

	// Reexecutions counts transactions re-executed because they read a counter.
	Reexecutions metric.Int64Counter
)

// Instruments are created against the global provider, which forwards to
// whatever provider Init installs later.
func init() {
	if err := register(otel.Meter(meterName)); err != nil {
		panic(err)
	}
}

// Init installs a MeterProvider backed by a Prometheus exporter.
// The exporter registers with the default Prometheus registry.
func Init() error {
	exporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("create prometheus exporter:\n%w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	logger.Info("metrics initialized with prometheus exporter")

	return nil
}

// register creates every instrument on meter.
func register(meter metric.Meter) error {
	var err error

	Operations, err = meter.Int64Counter(
		"deltavm_aggregator_operations_total",
		metric.WithDescription("Aggregator operations by op"),
	)
	if err != nil {
		return fmt.Errorf("create operations counter:\n%w", err)
	}

	Failures, err = meter.Int64Counter(
		"deltavm_aggregator_failures_total",
		metric.WithDescription("Failed aggregator operations by op and kind"),
	)
	if err != nil {
		return fmt.Errorf("create failures counter:\n%w", err)
	}

	Materializations, err = meter.Int64Counter(
		"deltavm_aggregator_materializations_total",
		metric.WithDescription("Reads that resolved a delta against a base value"),
	)
	if err != nil {
		return fmt.Errorf("create materializations counter:\n%w", err)
	}

	Transactions, err = meter.Int64Counter(
		"deltavm_transactions_total",
		metric.WithDescription("Executed transactions by outcome"),
	)
	if err != nil {
		return fmt.Errorf("create transactions counter:\n%w", err)
	}

	Reexecutions, err = meter.Int64Counter(
		"deltavm_reexecutions_total",
		metric.WithDescription("Transactions re-executed because they read a counter"),
	)
	if err != nil {
		return fmt.Errorf("create reexecutions counter:\n%w", err)
	}

	return nil
}

// RecordOp counts one operation, and a failure labelled with kind when kind is not empty.
func RecordOp(ctx context.Context, op, kind string) {
	Operations.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))

	if kind != "" {
		Failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("kind", kind),
		))
	}
}
