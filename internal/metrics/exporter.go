// Package metrics provides the OpenTelemetry-based metrics exporter for
// the configuration service and its client SDK. It bridges OTLP metrics
// to Prometheus for server- and client-side configuration-distribution
// counters.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Server- and client-side instruments. Nil until InitOTLPExporter succeeds; call
// sites that may run before init (e.g. in isolated unit tests) should
// guard with a nil check or call InitOTLPExporter in TestMain.
var (
	meter metric.Meter

	ServerWaitersActive       metric.Int64UpDownCounter
	ServerPublishesTotal      metric.Int64Counter
	ServerNotificationsTotal  metric.Int64Counter
	ServerLongPollDuration    metric.Float64Histogram
	ServerReleaseFetchesTotal metric.Int64Counter

	ClientFetchesTotal          metric.Int64Counter
	ClientFetchFailuresTotal    metric.Int64Counter
	ClientAdoptionsTotal        metric.Int64Counter
	ClientPollBackoffSeconds    metric.Float64Histogram
	ClientListenerDispatchTotal metric.Int64Counter
)

// InitOTLPExporter initializes the OTLP-to-Prometheus bridge against the
// given Prometheus registerer (the server's own registry, or
// prometheus.DefaultRegisterer), rather than reaching for a global
// metrics registry.
func InitOTLPExporter(_ context.Context, registerer prometheus.Registerer) (func(context.Context) error, error) {
	exporter, err := otelprometheus.New(otelprometheus.WithRegisterer(registerer))
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	meter = provider.Meter("configd")

	if err := initServerInstruments(); err != nil {
		return nil, err
	}
	if err := initClientInstruments(); err != nil {
		return nil, err
	}

	return func(context.Context) error {
		return provider.Shutdown(context.Background())
	}, nil
}

func initServerInstruments() error {
	var err error
	ServerWaitersActive, err = meter.Int64UpDownCounter("configd_server_waiters_active")
	if err != nil {
		return err
	}
	ServerPublishesTotal, err = meter.Int64Counter("configd_server_publishes_total")
	if err != nil {
		return err
	}
	ServerNotificationsTotal, err = meter.Int64Counter("configd_server_notifications_dispatched_total")
	if err != nil {
		return err
	}
	ServerLongPollDuration, err = meter.Float64Histogram("configd_server_long_poll_duration_seconds")
	if err != nil {
		return err
	}
	ServerReleaseFetchesTotal, err = meter.Int64Counter("configd_server_release_fetches_total")
	return err
}

func initClientInstruments() error {
	var err error
	ClientFetchesTotal, err = meter.Int64Counter("configd_client_fetches_total")
	if err != nil {
		return err
	}
	ClientFetchFailuresTotal, err = meter.Int64Counter("configd_client_fetch_failures_total")
	if err != nil {
		return err
	}
	ClientAdoptionsTotal, err = meter.Int64Counter("configd_client_adoptions_total")
	if err != nil {
		return err
	}
	ClientPollBackoffSeconds, err = meter.Float64Histogram("configd_client_poll_backoff_seconds")
	if err != nil {
		return err
	}
	ClientListenerDispatchTotal, err = meter.Int64Counter("configd_client_listener_dispatch_total")
	return err
}
