package service

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP surface
// and the admission engine.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	decisionTotal   *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	seatConflicts   prometheus.Counter
	promotions      prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	decisionTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admission_decisions_total",
		Help: "Terminal admission outcomes by result",
	}, []string{"request_type", "outcome"})

	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "admission_job_duration_seconds",
		Help:    "Time from job pickup to terminal state",
		Buckets: prometheus.DefBuckets,
	}, []string{"request_type"})

	seatConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "admission_seat_conflicts_total",
		Help: "Optimistic seat reservations lost to a concurrent writer",
	})

	promotions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "admission_waitlist_promotions_total",
		Help: "Waitlisted students promoted into freed seats",
	})

	registry.MustRegister(requestDuration, requestTotal, decisionTotal, jobDuration, seatConflicts, promotions)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		decisionTotal:   decisionTotal,
		jobDuration:     jobDuration,
		seatConflicts:   seatConflicts,
		promotions:      promotions,
	}
}

// Handler exposes the /metrics endpoint handler.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// RegisterQueueDepth registers a gauge backed by the dispatcher's buffer.
func (s *MetricsService) RegisterQueueDepth(depth func() int) {
	s.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "admission_queue_depth",
		Help: "Requests buffered across dispatcher lanes",
	}, func() float64 { return float64(depth()) }))
}

// ObserveHTTPRequest records request metrics.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if s == nil {
		return
	}
	labels := []string{method, path, fmt.Sprintf("%d", status)}
	s.requestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
	s.requestTotal.WithLabelValues(labels...).Inc()
}

// ObserveDecision records a terminal admission outcome.
func (s *MetricsService) ObserveDecision(requestType, outcome string, duration time.Duration) {
	if s == nil {
		return
	}
	s.decisionTotal.WithLabelValues(requestType, outcome).Inc()
	s.jobDuration.WithLabelValues(requestType).Observe(duration.Seconds())
}

// SeatConflict counts a lost optimistic reservation.
func (s *MetricsService) SeatConflict() {
	if s == nil {
		return
	}
	s.seatConflicts.Inc()
}

// Promotion counts a successful waitlist promotion.
func (s *MetricsService) Promotion() {
	if s == nil {
		return
	}
	s.promotions.Inc()
}
