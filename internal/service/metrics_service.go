package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP, cache and ledger activity.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	paymentsTotal      *prometheus.CounterVec
	paymentAmount      *prometheus.CounterVec
	paymentConflicts   prometheus.Counter
	feeRecordsTotal    *prometheus.CounterVec
	absenceFinesTotal  *prometheus.CounterVec
	generationDuration prometheus.Histogram

	cacheHitCount  uint64
	cacheMissCount uint64
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

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	paymentsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fee_payments_total",
		Help: "Payments processed by kind and outcome",
	}, []string{"kind", "outcome"})

	paymentAmount := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fee_payment_amount_total",
		Help: "Sum of payment amounts split into allocated and unallocated",
	}, []string{"allocation"})

	paymentConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fee_payment_conflicts_total",
		Help: "Payments rejected by optimistic locking or duplicate transaction ids",
	})

	feeRecordsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fee_records_generated_total",
		Help: "Monthly generation results per student",
	}, []string{"result"})

	absenceFinesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "absence_fine_calculations_total",
		Help: "Absence fine calculations by outcome",
	}, []string{"outcome"})

	generationDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fee_generation_duration_seconds",
		Help:    "Duration of monthly fee generation runs",
		Buckets: prometheus.DefBuckets,
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(
		requestDuration, requestTotal,
		cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		paymentsTotal, paymentAmount, paymentConflicts, feeRecordsTotal, absenceFinesTotal, generationDuration,
		goroutines,
	)

	return &MetricsService{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
		cacheLatency:       cacheLatency,
		cacheWrite:         cacheWrite,
		cacheHitRatio:      cacheHitRatio,
		cacheHits:          cacheHits,
		cacheMisses:        cacheMisses,
		paymentsTotal:      paymentsTotal,
		paymentAmount:      paymentAmount,
		paymentConflicts:   paymentConflicts,
		feeRecordsTotal:    feeRecordsTotal,
		absenceFinesTotal:  absenceFinesTotal,
		generationDuration: generationDuration,
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

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	total := hits + atomic.LoadUint64(&m.cacheMissCount)
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordPayment counts a processed payment. kind is "single" or "aggregate".
func (m *MetricsService) RecordPayment(kind string, allocated, unallocated decimal.Decimal) {
	if m == nil {
		return
	}
	m.paymentsTotal.WithLabelValues(kind, "success").Inc()
	m.paymentAmount.WithLabelValues("allocated").Add(allocated.InexactFloat64())
	if unallocated.IsPositive() {
		m.paymentAmount.WithLabelValues("unallocated").Add(unallocated.InexactFloat64())
	}
}

// RecordPaymentFailure counts a rejected payment.
func (m *MetricsService) RecordPaymentFailure(kind string, conflict bool) {
	if m == nil {
		return
	}
	m.paymentsTotal.WithLabelValues(kind, "failure").Inc()
	if conflict {
		m.paymentConflicts.Inc()
	}
}

// RecordGeneration records the outcome counts of one generation run.
func (m *MetricsService) RecordGeneration(created, updated, skipped, failed int, duration time.Duration) {
	if m == nil {
		return
	}
	m.feeRecordsTotal.WithLabelValues("created").Add(float64(created))
	m.feeRecordsTotal.WithLabelValues("existing").Add(float64(updated))
	m.feeRecordsTotal.WithLabelValues("skipped").Add(float64(skipped))
	m.feeRecordsTotal.WithLabelValues("failed").Add(float64(failed))
	m.generationDuration.Observe(duration.Seconds())
}

// RecordAbsenceFine counts a fine calculation.
func (m *MetricsService) RecordAbsenceFine(fined bool) {
	if m == nil {
		return
	}
	outcome := "clear"
	if fined {
		outcome = "fined"
	}
	m.absenceFinesTotal.WithLabelValues(outcome).Inc()
}
