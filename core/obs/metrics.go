package obs

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
)

// Metrics holds the instruments shared by the scheduler and its
// runner.
type Metrics struct {
	TasksEnqueued   metric.Int64Counter
	TasksDispatched metric.Int64Counter
	TasksSucceeded  metric.Int64Counter
	TasksFailed     metric.Int64Counter
	TasksRetried    metric.Int64Counter
	TasksExpired    metric.Int64Counter
	TaskDuration    metric.Float64Histogram
}

// InitMetrics wires a MeterProvider backed by both an OTLP periodic
// exporter (push, for a collector) and a Prometheus exporter (pull,
// for the /metrics endpoint), returned here as an http.Handler instead
// of the teacher's permanently-nil promHandler stub.
func InitMetrics(ctx context.Context, service string) (shutdown func(context.Context) error, metricsHandler http.Handler, m Metrics) {
	res, _ := sdkresource.Merge(sdkresource.Default(), sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
		attribute.String("service", service),
	))

	readers := make([]sdkmetric.Option, 0, 2)
	readers = append(readers, sdkmetric.WithResource(res))

	promExp, err := prometheus.New()
	if err != nil {
		slog.Warn("prometheus exporter init failed", "error", err)
	} else {
		readers = append(readers, sdkmetric.WithReader(promExp))
	}

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	ctxInit, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	otlpExp, err := otlpmetricgrpc.New(ctxInit,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithDialOption(grpc.WithInsecure()),
	)
	if err != nil {
		slog.Warn("otlp metrics exporter init failed", "error", err)
	} else {
		readers = append(readers, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(otlpExp, sdkmetric.WithInterval(10*time.Second))))
	}

	mp := sdkmetric.NewMeterProvider(readers...)
	otel.SetMeterProvider(mp)
	slog.Info("metrics initialized", "otlp_endpoint", endpoint)
	return mp.Shutdown, promhttp.Handler(), createCommonInstruments()
}

func createCommonInstruments() Metrics {
	meter := otel.Meter("scheduler-go")
	enqueued, _ := meter.Int64Counter("scheduler_task_enqueued_total")
	dispatched, _ := meter.Int64Counter("scheduler_task_dispatched_total")
	succeeded, _ := meter.Int64Counter("scheduler_task_succeeded_total")
	failed, _ := meter.Int64Counter("scheduler_task_failed_total")
	retried, _ := meter.Int64Counter("scheduler_task_retried_total")
	expired, _ := meter.Int64Counter("scheduler_task_expired_total")
	duration, _ := meter.Float64Histogram("scheduler_task_duration_ms")
	return Metrics{
		TasksEnqueued:   enqueued,
		TasksDispatched: dispatched,
		TasksSucceeded:  succeeded,
		TasksFailed:     failed,
		TasksRetried:    retried,
		TasksExpired:    expired,
		TaskDuration:    duration,
	}
}
