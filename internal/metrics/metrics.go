// Package metrics exposes the bot's Prometheus collectors on a private
// registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hsitotv/relaybot/internal/relay"
)

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

type BotMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	relayItems        *prometheus.CounterVec
	downloadsRecorded prometheus.Counter
	membershipChecks  *prometheus.CounterVec
	webhookUpdates    *prometheus.CounterVec
	queueDepth        prometheus.Gauge
	janitorPurged     prometheus.Counter
	keepAlivePings    *prometheus.CounterVec
	reqTotal          *prometheus.CounterVec
	reqDur            *prometheus.HistogramVec
}

// New returns a fresh registry with the Go and process collectors and the
// bot's own metrics. Labels are bounded; user and chat ids never appear.
func New() *BotMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &BotMetrics{
		relayItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_items_total",
			Help: "Relay attempts by method and result",
		}, []string{"method", "result"}),
		downloadsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "downloads_recorded_total",
			Help: "Downloads charged to user quotas",
		}),
		membershipChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "membership_checks_total",
			Help: "Live membership checks by result (eligible, ineligible, error)",
		}, []string{"result"}),
		webhookUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_updates_total",
			Help: "Webhook deliveries by result",
		}, []string{"result"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dispatch_queue_depth",
			Help: "Inbound messages waiting for a worker",
		}),
		janitorPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "janitor_purged_records_total",
			Help: "Expired verification records removed",
		}),
		keepAlivePings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keepalive_pings_total",
			Help: "Self health pings by result",
		}, []string{"result"}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		m.relayItems,
		m.downloadsRecorded,
		m.membershipChecks,
		m.webhookUpdates,
		m.queueDepth,
		m.janitorPurged,
		m.keepAlivePings,
		m.reqTotal,
		m.reqDur,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *BotMetrics) Handler() http.Handler {
	return m.handler
}

// Registry returns the private registry.
func (m *BotMetrics) Registry() *prometheus.Registry {
	return m.reg
}

// ObserveRelayAttempt implements relay.Observer.
func (m *BotMetrics) ObserveRelayAttempt(method relay.Method, err error) {
	result := ResultOK
	if err != nil {
		result = relay.KindOf(err).String()
	}
	m.relayItems.WithLabelValues(string(method), result).Inc()
}

// ObserveDownloadRecorded implements relay.Observer.
func (m *BotMetrics) ObserveDownloadRecorded() {
	m.downloadsRecorded.Inc()
}

// ObserveMembershipCheck implements membership.Observer.
func (m *BotMetrics) ObserveMembershipCheck(eligible bool, err error) {
	switch {
	case err != nil:
		m.membershipChecks.WithLabelValues(ResultError).Inc()
	case eligible:
		m.membershipChecks.WithLabelValues("eligible").Inc()
	default:
		m.membershipChecks.WithLabelValues("ineligible").Inc()
	}
}

// ObserveWebhookUpdate counts one webhook delivery.
func (m *BotMetrics) ObserveWebhookUpdate(result string) {
	m.webhookUpdates.WithLabelValues(result).Inc()
}

// ObserveQueueDepth implements dispatch.Observer.
func (m *BotMetrics) ObserveQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

// ObservePurge counts removed verification records.
func (m *BotMetrics) ObservePurge(removed int) {
	if removed > 0 {
		m.janitorPurged.Add(float64(removed))
	}
}

// ObserveKeepAlive counts one self ping.
func (m *BotMetrics) ObserveKeepAlive(err error) {
	if err != nil {
		m.keepAlivePings.WithLabelValues(ResultError).Inc()
		return
	}
	m.keepAlivePings.WithLabelValues(ResultOK).Inc()
}

// Middleware measures total and duration per route template. The webhook
// route is reported by template so the token never becomes a label.
func (m *BotMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else if status < http.StatusBadRequest {
					status = http.StatusInternalServerError
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.reqTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.reqDur.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
