// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"handoff/internal/reaper"
)

const namespace = "handoff"

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	reg *prometheus.Registry

	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	TokensIssued    prometheus.Counter
	Uploads         *prometheus.CounterVec
	UploadBytes     prometheus.Counter
	SessionsCreated prometheus.Counter
	Downloads       prometheus.Counter
	ReapedTotal     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		TokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Upload tokens issued.",
		}),
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Upload attempts by outcome code.",
		}, []string{"result"}),
		UploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Bytes stored through upload tokens.",
		}),
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Sharing sessions created.",
		}),
		Downloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Files served from sessions.",
		}),
		ReapedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaped_total",
			Help:      "Expired records removed by the reaper.",
		}, []string{"kind"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Requests, m.RequestDuration, m.TokensIssued, m.Uploads,
		m.UploadBytes, m.SessionsCreated, m.Downloads, m.ReapedTotal,
	)
	return m
}

var _ reaper.Observer = (*Metrics)(nil)

// Reaped implements reaper.Observer.
func (m *Metrics) Reaped(r reaper.Result) {
	m.ReapedTotal.WithLabelValues("session").Add(float64(r.Sessions))
	m.ReapedTotal.WithLabelValues("token").Add(float64(r.Tokens))
}

// Observe records one finished request.
func (m *Metrics) Observe(route string, status int, seconds float64) {
	m.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(seconds)
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
