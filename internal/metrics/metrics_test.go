package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// TestRecordOp verifies operations and failures are counted with their labels.
func TestRecordOp(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	if err := register(provider.Meter(meterName)); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	RecordOp(ctx, "add", "")
	RecordOp(ctx, "add", "")
	RecordOp(ctx, "read", "overflow")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatal(err)
	}

	ops := sumByAttr(t, rm, "deltavm_aggregator_operations_total", attribute.String("op", "add"))
	if ops != 2 {
		t.Errorf("expected 2 add operations, got %d", ops)
	}

	fails := sumByAttr(t, rm, "deltavm_aggregator_failures_total", attribute.String("kind", "overflow"))
	if fails != 1 {
		t.Errorf("expected 1 overflow failure, got %d", fails)
	}
}

// sumByAttr sums the data points of a counter carrying attr.
func sumByAttr(t *testing.T, rm metricdata.ResourceMetrics, name string, attr attribute.KeyValue) int64 {
	t.Helper()

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}

			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: unexpected data type %T", name, m.Data)
			}

			for _, dp := range sum.DataPoints {
				if v, found := dp.Attributes.Value(attr.Key); found && v == attr.Value {
					total += dp.Value
				}
			}
		}
	}

	return total
}
