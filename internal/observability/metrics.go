package observability

import (
	"context"
	"net/http"

	"github.com/MarkoPoloResearchLab/commissions/pkg/commission"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "commissions"

// Metrics holds the prometheus collectors for commission operations and sweeps.
type Metrics struct {
	registry      *prometheus.Registry
	operations    *prometheus.CounterVec
	creditedCents *prometheus.CounterVec
	debitedCents  *prometheus.CounterVec
	sweepOrders   *prometheus.CounterVec
}

// NewMetrics registers the collectors on a fresh registry, together with the
// Go runtime and process collectors.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	metrics := &Metrics{
		registry: registry,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "operations_total",
			Help:      "Commission operations by operation and outcome status.",
		}, []string{"operation", "status"}),
		creditedCents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "balance_credited_cents_total",
			Help:      "Cents credited to agent balances.",
		}, []string{"operation"}),
		debitedCents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "balance_debited_cents_total",
			Help:      "Cents debited from agent balances.",
		}, []string{"operation"}),
		sweepOrders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sweep_orders_total",
			Help:      "Orders visited by the auto-release sweep by outcome.",
		}, []string{"outcome"}),
	}
	for _, collector := range []prometheus.Collector{
		metrics.operations,
		metrics.creditedCents,
		metrics.debitedCents,
		metrics.sweepOrders,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := registry.Register(collector); err != nil {
			return nil, err
		}
	}
	return metrics, nil
}

// LogOperation implements commission.OperationLogger.
func (metrics *Metrics) LogOperation(ctx context.Context, entry commission.OperationLog) {
	metrics.operations.WithLabelValues(entry.Operation, entry.Status).Inc()
	if entry.Error != nil {
		return
	}
	switch delta := entry.BalanceDelta.Int64(); {
	case delta > 0:
		metrics.creditedCents.WithLabelValues(entry.Operation).Add(float64(delta))
	case delta < 0:
		metrics.debitedCents.WithLabelValues(entry.Operation).Add(float64(-delta))
	}
}

// ObserveSweep records one auto-release pass.
func (metrics *Metrics) ObserveSweep(result commission.SweepResult) {
	metrics.sweepOrders.WithLabelValues("released").Add(float64(len(result.Released)))
	metrics.sweepOrders.WithLabelValues("skipped").Add(float64(len(result.Skipped)))
	metrics.sweepOrders.WithLabelValues("failed").Add(float64(len(result.Failed)))
}

// Handler serves the registry in the prometheus exposition format.
func (metrics *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{Registry: metrics.registry})
}
