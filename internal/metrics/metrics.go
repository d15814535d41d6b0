// Package metrics публикует метрики Prometheus: HTTP-запросы и изменения реестра.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mmeshcher/treeledger/internal/events"
)

const namespace = "treeledger"

// Metrics хранит собственный реестр, чтобы несколько экземпляров не конфликтовали.
type Metrics struct {
	registry *prometheus.Registry

	requests  *prometheus.CounterVec
	durations *prometheus.HistogramVec

	events         *prometheus.CounterVec
	pointsCredited prometheus.Counter
	premiumSold    prometheus.Counter
	realPurchases  prometheus.Counter
	certificates   prometheus.Counter
	paused         prometheus.Gauge
}

// New создаёт и регистрирует метрики сервиса.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "events_total",
			Help:      "Committed ledger mutations by event type.",
		}, []string{"type"}),
		pointsCredited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "points_credited_total",
			Help:      "Points credited by watering.",
		}),
		premiumSold: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "premium_trees_sold_total",
			Help:      "Premium trees sold.",
		}),
		realPurchases: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "real_asset_purchases_total",
			Help:      "Real asset purchase records created.",
		}),
		certificates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "certificates_issued_total",
			Help:      "Certificates issued.",
		}),
		paused: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "paused",
			Help:      "1 while user mutations are paused.",
		}),
	}

	m.registry.MustRegister(
		m.requests,
		m.durations,
		m.events,
		m.pointsCredited,
		m.premiumSold,
		m.realPurchases,
		m.certificates,
		m.paused,
	)
	return m
}

// Registry возвращает реестр метрик.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler отдаёт метрики в формате Prometheus.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetPaused выставляет признак паузы.
func (m *Metrics) SetPaused(paused bool) {
	if paused {
		m.paused.Set(1)
		return
	}
	m.paused.Set(0)
}

// EventHandler возвращает подписчика, обновляющего счётчики по событиям реестра.
func (m *Metrics) EventHandler() events.Handler {
	return func(ev events.Event) {
		m.events.WithLabelValues(string(ev.Type)).Inc()

		switch ev.Type {
		case events.TreeWatered:
			if v, ok := ev.Data["earned"].(int64); ok {
				m.pointsCredited.Add(float64(v))
			}
		case events.PremiumPurchased:
			if v, ok := ev.Data["quantity"].(int64); ok {
				m.premiumSold.Add(float64(v))
			}
		case events.RealAssetPurchased:
			m.realPurchases.Inc()
		case events.CertificateIssued:
			m.certificates.Inc()
		case events.Paused:
			m.SetPaused(true)
		case events.Unpaused:
			m.SetPaused(false)
		}
	}
}

// Middleware считает запросы и их длительность по шаблону маршрута chi.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.requests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		m.durations.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
