package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cipherbid/auction"
)

// Metrics 收集 HTTP 與拍賣狀態的指標
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	auctionsCreated prometheus.Counter
	bids            *prometheus.CounterVec
	settlements     prometheus.Counter
	transferred     prometheus.Counter
	openAuctions    prometheus.Gauge
	rateLimited     prometheus.Counter
}

// NewMetrics 建立獨立的 registry，測試時不會互相干擾
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cipherbid",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cipherbid",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		auctionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cipherbid",
			Name:      "auctions_created_total",
			Help:      "Auctions created.",
		}),
		bids: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cipherbid",
			Name:      "bids_total",
			Help:      "Bid submissions by result.",
		}, []string{"result"}),
		settlements: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cipherbid",
			Name:      "settlements_total",
			Help:      "Auctions closed.",
		}),
		transferred: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cipherbid",
			Name:      "transferred_total",
			Help:      "Total amount transferred to sellers.",
		}),
		openAuctions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "cipherbid",
			Name:      "open_auctions",
			Help:      "Auctions not yet closed.",
		}),
		rateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cipherbid",
			Name:      "rate_limited_total",
			Help:      "Bid submissions rejected by the rate limiter.",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// GinMiddleware 以路由樣板(而非實際路徑)作為 label，避免 label 數量無限增長
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) observeCreated(summary auction.Summary) {
	m.auctionsCreated.Inc()
	m.openAuctions.Set(float64(summary.Open))
}

// observeBid 以錯誤種類作為結果，成功時為 accepted
func (m *Metrics) observeBid(err error) {
	result := "accepted"
	if err != nil {
		result = auction.KindOf(err).String()
	}
	m.bids.WithLabelValues(result).Inc()
}

func (m *Metrics) observeSettlement(s auction.Settlement, summary auction.Summary) {
	m.settlements.Inc()
	m.transferred.Add(float64(s.Amount))
	m.openAuctions.Set(float64(summary.Open))
}
