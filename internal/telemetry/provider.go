package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitProvider installs an in-process OpenTelemetry SDK MeterProvider as the
// global provider, with no exporter attached: instruments record and
// aggregate normally, but nothing is scraped or shipped anywhere. This is
// enough for RecordReply's counters/histograms to be real, queryable OTel
// state (via a ManualReader in tests, or a reader added later) without
// requiring a collector to run the core loop.
//
// Returns a shutdown function to flush and release the provider; call it in
// a defer from main().
func InitProvider() (shutdown func(context.Context) error) {
	mp := sdkmetric.NewMeterProvider()
	otel.SetMeterProvider(mp)
	return mp.Shutdown
}
