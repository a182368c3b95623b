package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ukydev/fleet-dispatch/internal/fleet"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

const namespace = "fleet_dispatch"

// Metrics holds all prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	OperationsTotal *prometheus.CounterVec
	WriteConflicts  prometheus.Counter
	WriteLatency    prometheus.Histogram
	Vehicles        *prometheus.GaugeVec
	SLABreached     prometheus.Gauge
	RecallOverdue   prometheus.Gauge
	AuditEntries    prometheus.Gauge
	StreamClients   prometheus.Gauge
	AlertsPublished *prometheus.CounterVec
}

// New registers the dispatch metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OperationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Fleet operations by action and result.",
		}, []string{"action", "result"}),
		WriteConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_conflicts_total",
			Help:      "Conditional writes rejected because the document revision moved.",
		}),
		WriteLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "write_duration_seconds",
			Help:      "Time spent writing the shared document.",
			Buckets:   prometheus.DefBuckets,
		}),
		Vehicles: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vehicles",
			Help:      "Vehicles per status in the current snapshot.",
		}, []string{"status"}),
		SLABreached: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sla_breached_vehicles",
			Help:      "Away vehicles past the SLA window.",
		}),
		RecallOverdue: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recall_overdue_vehicles",
			Help:      "Recalled vehicles past the recall window.",
		}),
		AuditEntries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audit_entries",
			Help:      "Entries in the capped transaction log.",
		}),
		StreamClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_clients",
			Help:      "Connected dashboard streams.",
		}),
		AlertsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_published_total",
			Help:      "Alerts sent to the notifier by kind.",
		}, []string{"kind"}),
	}
}

// ObserveOperation counts one executed operation.
func (m *Metrics) ObserveOperation(action, result string) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(action, result).Inc()
}

// ObserveConflict counts a rejected conditional write.
func (m *Metrics) ObserveConflict() {
	if m == nil {
		return
	}
	m.WriteConflicts.Inc()
}

// ObserveWrite records the duration of a store write.
func (m *Metrics) ObserveWrite(d time.Duration) {
	if m == nil {
		return
	}
	m.WriteLatency.Observe(d.Seconds())
}

// ObserveFleet sets the fleet gauges from a computed Stats.
func (m *Metrics) ObserveFleet(stats fleet.Stats, auditLen int) {
	if m == nil {
		return
	}
	m.Vehicles.WithLabelValues(string(models.StatusAvailable)).Set(float64(stats.Available))
	m.Vehicles.WithLabelValues(string(models.StatusInUse)).Set(float64(stats.InUse))
	m.Vehicles.WithLabelValues(string(models.StatusWaiting)).Set(float64(stats.Waiting))
	m.Vehicles.WithLabelValues(string(models.StatusRecall)).Set(float64(stats.Recall))
	m.Vehicles.WithLabelValues(string(models.StatusMaintenance)).Set(float64(stats.Maintenance))
	m.SLABreached.Set(float64(stats.SLABreached))
	m.RecallOverdue.Set(float64(stats.RecallOverdue))
	m.AuditEntries.Set(float64(auditLen))
}

// StreamOpened and StreamClosed track live dashboard connections.
func (m *Metrics) StreamOpened() {
	if m == nil {
		return
	}
	m.StreamClients.Inc()
}

func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.StreamClients.Dec()
}

// ObserveAlert counts a published alert.
func (m *Metrics) ObserveAlert(kind string) {
	if m == nil {
		return
	}
	m.AlertsPublished.WithLabelValues(kind).Inc()
}
