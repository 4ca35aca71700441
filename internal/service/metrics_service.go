package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/itd-tools/erp-change-portal/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the portal.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	transitionTotal      *prometheus.CounterVec
	notificationsSent    *prometheus.CounterVec
	notificationsFailed  *prometheus.CounterVec
	notificationsSkipped prometheus.Counter

	sessionsActive   prometheus.Gauge
	sessionsTotal    prometheus.Counter
	sessionDurations prometheus.Observer
}

// NewMetricsService registers the portal's Prometheus collectors.
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

	transitionTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workflow_transitions_total",
		Help: "Approval workflow transitions by action and resulting status",
	}, []string{"action", "status"})

	notificationsSent := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Notifications delivered, by kind",
	}, []string{"kind"})

	notificationsFailed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_failed_total",
		Help: "Notification deliveries that errored, by kind",
	}, []string{"kind"})

	notificationsSkipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifications_skipped_total",
		Help: "Notifications skipped because no recipient was configured",
	})

	sessionsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "terminal_sessions_active",
		Help: "Currently open terminal sessions",
	})

	sessionsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "terminal_sessions_total",
		Help: "Terminal sessions opened since start",
	})

	sessionDurations := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "terminal_session_duration_seconds",
		Help:    "Wall-clock duration of terminal sessions",
		Buckets: []float64{30, 60, 300, 900, 1800, 3600, 7200},
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, transitionTotal,
		notificationsSent, notificationsFailed, notificationsSkipped,
		sessionsActive, sessionsTotal, sessionDurations, goroutines)

	return &MetricsService{
		registry:             registry,
		handler:              promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:      requestDuration,
		requestTotal:         requestTotal,
		transitionTotal:      transitionTotal,
		notificationsSent:    notificationsSent,
		notificationsFailed:  notificationsFailed,
		notificationsSkipped: notificationsSkipped,
		sessionsActive:       sessionsActive,
		sessionsTotal:        sessionsTotal,
		sessionDurations:     sessionDurations,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records one served request.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveTransition counts one applied workflow transition.
func (m *MetricsService) ObserveTransition(action string, status models.ApplicationStatus) {
	if m == nil {
		return
	}
	m.transitionTotal.WithLabelValues(action, string(status)).Inc()
}

// NotificationSent counts one delivered notification.
func (m *MetricsService) NotificationSent(kind string) {
	if m == nil {
		return
	}
	m.notificationsSent.WithLabelValues(kind).Inc()
}

// NotificationFailed counts one failed delivery attempt.
func (m *MetricsService) NotificationFailed(kind string) {
	if m == nil {
		return
	}
	m.notificationsFailed.WithLabelValues(kind).Inc()
}

// NotificationSkipped counts a notification dropped for lack of recipients.
func (m *MetricsService) NotificationSkipped() {
	if m == nil {
		return
	}
	m.notificationsSkipped.Inc()
}

// SessionOpened marks a terminal session as live.
func (m *MetricsService) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
	m.sessionsTotal.Inc()
}

// SessionClosed marks a terminal session as ended.
func (m *MetricsService) SessionClosed(duration time.Duration) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	m.sessionDurations.Observe(duration.Seconds())
}
