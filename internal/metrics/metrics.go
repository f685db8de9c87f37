package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type queueMetrics struct {
	issued         *prometheus.CounterVec
	called         *prometheus.CounterVec
	finished       *prometheus.CounterVec
	closed         *prometheus.CounterVec
	renderFailures prometheus.Counter
	archived       prometheus.Counter
	displayClients prometheus.Gauge
	requests       *prometheus.CounterVec
	durations      *prometheus.HistogramVec
}

var (
	queueMetricsOnce sync.Once
	queueMetricsInst *queueMetrics
)

func global() *queueMetrics {
	queueMetricsOnce.Do(func() {
		queueMetricsInst = newQueueMetrics()
	})
	return queueMetricsInst
}

func newQueueMetrics() *queueMetrics {
	return &queueMetrics{
		issued: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qms",
			Subsystem: "queue",
			Name:      "tickets_issued_total",
			Help:      "Tickets issued, labeled by counter",
		}, []string{"counter"}),
		called: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qms",
			Subsystem: "queue",
			Name:      "tickets_called_total",
			Help:      "Tickets called to a counter",
		}, []string{"counter"}),
		finished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qms",
			Subsystem: "queue",
			Name:      "tickets_finished_total",
			Help:      "Tickets finished, labeled by counter and category",
		}, []string{"counter", "category"}),
		closed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qms",
			Subsystem: "queue",
			Name:      "tickets_closed_total",
			Help:      "Tickets closed without service",
		}, []string{"counter"}),
		renderFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "qms",
			Subsystem: "queue",
			Name:      "ticket_render_failures_total",
			Help:      "Printable ticket artifacts that failed to render",
		}),
		archived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "qms",
			Subsystem: "report",
			Name:      "records_archived_total",
			Help:      "Completion records moved into reports",
		}),
		displayClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "qms",
			Subsystem: "display",
			Name:      "clients",
			Help:      "Connected display clients",
		}),
		requests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qms",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests, labeled by method and status",
		}, []string{"method", "status"}),
		durations: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "qms",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

func TicketIssued(counter string) {
	global().issued.WithLabelValues(counter).Inc()
}

func TicketCalled(counter string) {
	global().called.WithLabelValues(counter).Inc()
}

func TicketFinished(counter, category string) {
	global().finished.WithLabelValues(counter, category).Inc()
}

func TicketClosed(counter string) {
	global().closed.WithLabelValues(counter).Inc()
}

func RenderFailed() {
	global().renderFailures.Inc()
}

func RecordsArchived(n int) {
	global().archived.Add(float64(n))
}

func DisplayConnected() func() {
	m := global()
	m.displayClients.Inc()
	return m.displayClients.Dec
}

func ObserveRequest(method string, status int, duration time.Duration) {
	m := global()
	m.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.durations.WithLabelValues(method).Observe(duration.Seconds())
}

func Handler() http.Handler {
	global()
	return promhttp.Handler()
}
