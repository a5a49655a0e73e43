package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics tracks ledger engine activity that is not tied to a single
// request: committed operations, liquidations, and write-offs.
type EngineMetrics struct {
	operations     *prometheus.CounterVec
	rejections     *prometheus.CounterVec
	liquidations   prometheus.Counter
	seizedAssets   prometheus.Counter
	badDebtCleared prometheus.Counter
}

var (
	engineOnce     sync.Once
	engineRegistry *EngineMetrics
)

// Engine returns the singleton engine metrics registry.
func Engine() *EngineMetrics {
	engineOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "termlend_engine_operations_total",
				Help: "Count of committed ledger operations by kind.",
			}, []string{"kind"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "termlend_engine_rejections_total",
				Help: "Count of rejected ledger operations by kind.",
			}, []string{"kind"}),
			liquidations: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "termlend_engine_liquidations_total",
				Help: "Count of executed liquidations.",
			}),
			seizedAssets: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "termlend_engine_seized_events_total",
				Help: "Count of collateral seizure events.",
			}),
			badDebtCleared: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "termlend_engine_bad_debt_events_total",
				Help: "Count of bad debt write-off events.",
			}),
		}
		prometheus.MustRegister(
			engineRegistry.operations,
			engineRegistry.rejections,
			engineRegistry.liquidations,
			engineRegistry.seizedAssets,
			engineRegistry.badDebtCleared,
		)
	})
	return engineRegistry
}

// ObserveOperation counts a committed operation of the given kind.
func (m *EngineMetrics) ObserveOperation(kind string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(labelKind(kind)).Inc()
}

// ObserveRejection counts a rejected operation of the given kind.
func (m *EngineMetrics) ObserveRejection(kind string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(labelKind(kind)).Inc()
}

// ObserveLiquidation counts an executed liquidation.
func (m *EngineMetrics) ObserveLiquidation() {
	if m == nil {
		return
	}
	m.liquidations.Inc()
}

// ObserveSeize counts a collateral seizure.
func (m *EngineMetrics) ObserveSeize() {
	if m == nil {
		return
	}
	m.seizedAssets.Inc()
}

// ObserveBadDebt counts a bad debt write-off.
func (m *EngineMetrics) ObserveBadDebt() {
	if m == nil {
		return
	}
	m.badDebtCleared.Inc()
}

// InitOperationKind pre-registers the label so dashboards show zero rather
// than absent series.
func (m *EngineMetrics) InitOperationKind(kind string) {
	if m == nil {
		return
	}
	label := labelKind(kind)
	m.operations.WithLabelValues(label).Add(0)
	m.rejections.WithLabelValues(label).Add(0)
}

func labelKind(kind string) string {
	trimmed := strings.TrimSpace(kind)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
