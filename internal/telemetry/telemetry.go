// Package telemetry unifies OpenTelemetry tracing (Google Cloud) and Prometheus metrics.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/JakeFAU/visitor-telemetry/internal/config"
)

// Drop reasons for EventsDroppedTotal.
const (
	DropDuplicate   = "duplicate"
	DropRateLimited = "rate_limited"
	DropQueueFull   = "queue_full"
	DropPanic       = "panic"
)

// --- METRIC DEFINITIONS ---

var (
	// EventsReceivedTotal counts every ingestion request.
	EventsReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_events_received_total",
			Help: "Total number of ingestion requests received.",
		},
	)

	// EventsDroppedTotal counts submissions that never reached the pipeline.
	EventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_events_dropped_total",
			Help: "Total number of submissions dropped before processing, labeled by reason.",
		},
		[]string{"reason"},
	)

	// RecordsPersistedTotal counts store writes by outcome.
	RecordsPersistedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_records_persisted_total",
			Help: "Total number of record store writes, labeled by result.",
		},
		[]string{"result"},
	)

	// NotificationsTotal counts alert deliveries by outcome.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_notifications_total",
			Help: "Total number of alert deliveries, labeled by result.",
		},
		[]string{"result"},
	)

	// GeoResolutionsTotal counts resolver answers by winning source.
	GeoResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_geo_resolutions_total",
			Help: "Total number of location resolutions, labeled by source.",
		},
		[]string{"source"},
	)

	geoNetworkLookupSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telemetry_geo_network_lookup_seconds",
			Help:    "Histogram of network geolocation latencies, labeled by result.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
		},
		[]string{"result"},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_queue_depth",
			Help: "Number of submissions waiting for a worker.",
		},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_active_workers",
			Help: "Number of workers currently processing a submission.",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "route"},
	)
)

var (
	initOnce  sync.Once
	traceProv *sdktrace.TracerProvider
	meterProv *metric.MeterProvider
	initErr   error
)

// --- INITIALIZATION ---

// InitTelemetry sets up tracing (Google Cloud Trace when a project id is set)
// and bridges OpenTelemetry metrics into the Prometheus registry.
func InitTelemetry(ctx context.Context, cfg *config.Config) (*sdktrace.TracerProvider, *metric.MeterProvider, error) {
	initOnce.Do(func() {
		res, err := resource.New(ctx,
			resource.WithAttributes(
				semconv.ServiceName(cfg.Application.ServiceName),
				semconv.ServiceVersion(cfg.Application.Version),
				semconv.CloudAccountID(cfg.Application.ProjectNumber),
				semconv.CloudRegion(cfg.Application.Region),
				semconv.CloudProviderGCP,
				semconv.CloudPlatformGCPCloudRun,
			),
		)
		if err != nil {
			initErr = fmt.Errorf("failed to create resource: %w", err)
			return
		}

		var traceExporter sdktrace.SpanExporter
		if cfg.Application.ProjectID != "" {
			traceExporter, err = texporter.New(texporter.WithProjectID(cfg.Application.ProjectID))
			if err != nil {
				initErr = fmt.Errorf("failed to create google trace exporter: %w", err)
				return
			}
		}

		opts := []sdktrace.TracerProviderOption{
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
		}
		if traceExporter != nil {
			opts = append(opts, sdktrace.WithBatcher(traceExporter))
		}

		tp := sdktrace.NewTracerProvider(opts...)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(
			propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
		)

		// OTel instruments land on the same registry as the promauto collectors.
		promExporter, err := otelprom.New(
			otelprom.WithRegisterer(prometheus.DefaultRegisterer),
		)
		if err != nil {
			initErr = fmt.Errorf("failed to create prometheus exporter: %w", err)
			return
		}

		mp := metric.NewMeterProvider(
			metric.WithResource(res),
			metric.WithReader(promExporter),
		)
		otel.SetMeterProvider(mp)
		traceProv = tp
		meterProv = mp
	})
	return traceProv, meterProv, initErr
}

// --- HTTP HANDLER & MIDDLEWARE ---

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			routePattern = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, routePattern, ww.statusCode, time.Since(start))
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// --- HELPER FUNCTIONS ---

// ObserveHTTPRequest records metrics for an HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveReceived counts one ingestion request.
func ObserveReceived() {
	EventsReceivedTotal.Inc()
}

// ObserveDropped counts a submission dropped for reason.
func ObserveDropped(reason string) {
	EventsDroppedTotal.WithLabelValues(reason).Inc()
}

// ObservePersist records a store write outcome.
func ObservePersist(result string) {
	RecordsPersistedTotal.WithLabelValues(result).Inc()
}

// ObserveNotification records an alert delivery outcome.
func ObserveNotification(result string) {
	NotificationsTotal.WithLabelValues(result).Inc()
}

// ObserveGeoResolution records which source answered, or "none".
func ObserveGeoResolution(source string) {
	GeoResolutionsTotal.WithLabelValues(source).Inc()
}

// ObserveGeoNetworkLookup records the latency of one network lookup.
func ObserveGeoNetworkLookup(result string, duration time.Duration) {
	geoNetworkLookupSeconds.WithLabelValues(result).Observe(duration.Seconds())
}

// SetQueueDepth publishes the current queue length.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// IncActiveWorkers increments the active worker count.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active worker count.
func DecActiveWorkers() {
	activeWorkers.Dec()
}
