package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type rpcMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics

	journalMetricsOnce sync.Once
	journalRegistry    *journalMetrics
)

// RPCMetrics returns the lazily-initialised registry used to record
// JSON-RPC activity.
func RPCMetrics() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "termlend",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "termlend",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and status code.",
			}, []string{"method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "termlend",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "termlend",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by the rate limiter.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			rpcRegistry.requests,
			rpcRegistry.errors,
			rpcRegistry.latency,
			rpcRegistry.throttles,
		)
	})
	return rpcRegistry
}

// Observe records the outcome of an RPC request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *rpcMetrics) Observe(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied reason.
// Reasons should be stable strings such as "rate_limit" so dashboards and
// alerts remain consistent.
func (m *rpcMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

type journalMetrics struct {
	appends  prometheus.Counter
	failures *prometheus.CounterVec
}

// JournalMetrics exposes the registry tracking operation journal health.
func JournalMetrics() *journalMetrics {
	journalMetricsOnce.Do(func() {
		journalRegistry = &journalMetrics{
			appends: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "termlend",
				Subsystem: "journal",
				Name:      "entries_total",
				Help:      "Count of events appended to the operation journal.",
			}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "termlend",
				Subsystem: "journal",
				Name:      "failures_total",
				Help:      "Count of journal write failures segmented by reason.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(journalRegistry.appends, journalRegistry.failures)
	})
	return journalRegistry
}

// RecordAppend counts a persisted journal entry.
func (m *journalMetrics) RecordAppend() {
	if m == nil {
		return
	}
	m.appends.Inc()
}

// RecordFailure counts a failed journal write.
func (m *journalMetrics) RecordFailure(reason string) {
	if m == nil {
		return
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unspecified"
	}
	m.failures.WithLabelValues(reason).Inc()
}

// MarketGauges wraps the per-market state gauges refreshed after every
// committed operation.
type MarketGauges struct {
	assets      *prometheus.GaugeVec
	debt        *prometheus.GaugeVec
	backup      *prometheus.GaugeVec
	accumulator *prometheus.GaugeVec
	badDebt     *prometheus.GaugeVec
	utilization *prometheus.GaugeVec
	price       *prometheus.GaugeVec
}

var (
	marketGaugesOnce sync.Once
	marketRegistry   *MarketGauges
)

// Markets exposes the per-market gauge registry.
func Markets() *MarketGauges {
	marketGaugesOnce.Do(func() {
		marketRegistry = &MarketGauges{
			assets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "termlend",
				Subsystem: "market",
				Name:      "floating_assets",
				Help:      "Floating pool asset base per market.",
			}, []string{"market"}),
			debt: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "termlend",
				Subsystem: "market",
				Name:      "floating_debt",
				Help:      "Outstanding floating debt per market.",
			}, []string{"market"}),
			backup: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "termlend",
				Subsystem: "market",
				Name:      "backup_borrowed",
				Help:      "Floating liquidity lent to fixed pools per market.",
			}, []string{"market"}),
			accumulator: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "termlend",
				Subsystem: "market",
				Name:      "earnings_accumulator",
				Help:      "Undistributed treasury earnings per market.",
			}, []string{"market"}),
			badDebt: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "termlend",
				Subsystem: "market",
				Name:      "bad_debt",
				Help:      "Accumulated uncovered write-offs per market.",
			}, []string{"market"}),
			utilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "termlend",
				Subsystem: "market",
				Name:      "utilization",
				Help:      "Pool utilization ratios per market (0-1 and above at cap).",
			}, []string{"market", "kind"}),
			price: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "termlend",
				Subsystem: "market",
				Name:      "oracle_price",
				Help:      "Latest oracle price per market in quote units.",
			}, []string{"market"}),
		}
		prometheus.MustRegister(
			marketRegistry.assets,
			marketRegistry.debt,
			marketRegistry.backup,
			marketRegistry.accumulator,
			marketRegistry.badDebt,
			marketRegistry.utilization,
			marketRegistry.price,
		)
	})
	return marketRegistry
}

// RecordState refreshes the balance gauges for a market.
func (m *MarketGauges) RecordState(market string, assets, debt, backup, accumulator, badDebt *big.Int) {
	if m == nil {
		return
	}
	label := labelMarket(market)
	m.assets.WithLabelValues(label).Set(bigToFloat(assets))
	m.debt.WithLabelValues(label).Set(bigToFloat(debt))
	m.backup.WithLabelValues(label).Set(bigToFloat(backup))
	m.accumulator.WithLabelValues(label).Set(bigToFloat(accumulator))
	m.badDebt.WithLabelValues(label).Set(bigToFloat(badDebt))
}

// RecordUtilization refreshes the utilization ratio gauges for a market.
func (m *MarketGauges) RecordUtilization(market string, floating, global *big.Int) {
	if m == nil {
		return
	}
	label := labelMarket(market)
	m.utilization.WithLabelValues(label, "floating").Set(wadToFloat(floating))
	m.utilization.WithLabelValues(label, "global").Set(wadToFloat(global))
}

// RecordPrice refreshes the oracle price gauge for a market.
func (m *MarketGauges) RecordPrice(market string, price *big.Int) {
	if m == nil {
		return
	}
	m.price.WithLabelValues(labelMarket(market)).Set(wadToFloat(price))
}

func labelMarket(market string) string {
	trimmed := strings.TrimSpace(market)
	if trimmed == "" {
		return "unknown"
	}
	return strings.ToLower(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}

var wadFloat = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// wadToFloat converts an 18-decimal fixed point value to its float64 ratio.
func wadToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	ratio, _ := new(big.Float).Quo(new(big.Float).SetInt(value), wadFloat).Float64()
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return 0
	}
	return ratio
}
