package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all the Prometheus metrics for the opswatch service.
type Metrics struct {
	EventsIngestedTotal  *prometheus.CounterVec
	EventsInvalidTotal   *prometheus.CounterVec
	AnalysesTotal        *prometheus.CounterVec
	AnalysisDuration     prometheus.Histogram
	SnapshotsPublished   prometheus.Counter
	PublishErrorsTotal   prometheus.Counter
	CorrelatedEvents     prometheus.Gauge
	RiskScore            prometheus.Gauge
	BehaviorAnomalyScore prometheus.Gauge
	TrafficAnomalyScore  prometheus.Gauge
	StoreRecords         *prometheus.GaugeVec
	NatsConnected        prometheus.Gauge
}

// NewMetrics creates a Metrics instance with all collectors registered on
// the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		EventsIngestedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "opswatch_records_ingested_total",
			Help: "Total number of records ingested, by record type",
		}, []string{"record_type"}),
		EventsInvalidTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "opswatch_records_invalid_total",
			Help: "Total number of records rejected by validation, by record type",
		}, []string{"record_type"}),
		AnalysesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "opswatch_analyses_total",
			Help: "Total number of engine analyses run, by analysis kind",
		}, []string{"kind"}),
		AnalysisDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "opswatch_analysis_duration_seconds",
			Help:    "Time spent running one full analysis pass",
			Buckets: prometheus.DefBuckets,
		}),
		SnapshotsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "opswatch_snapshots_published_total",
			Help: "Total number of analytics snapshots published",
		}),
		PublishErrorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "opswatch_publish_errors_total",
			Help: "Total number of NATS publish errors",
		}),
		CorrelatedEvents: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "opswatch_correlated_events",
			Help: "Correlated events in the most recent analysis pass",
		}),
		RiskScore: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "opswatch_risk_score",
			Help: "Composite risk score from the most recent analysis pass",
		}),
		BehaviorAnomalyScore: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "opswatch_behavior_anomaly_score",
			Help: "Behavior anomaly score from the most recent analysis pass",
		}),
		TrafficAnomalyScore: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "opswatch_traffic_anomaly_score",
			Help: "Traffic anomaly score from the most recent analysis pass",
		}),
		StoreRecords: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "opswatch_store_records",
			Help: "Records currently held in the store, by record type",
		}, []string{"record_type"}),
		NatsConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "opswatch_nats_connected",
			Help: "Whether the NATS connection is currently up (1) or down (0)",
		}),
	}
}

// IncIngested increments the ingested counter for a record type.
func (m *Metrics) IncIngested(recordType string) {
	m.EventsIngestedTotal.WithLabelValues(recordType).Inc()
}

// IncInvalid increments the invalid counter for a record type.
func (m *Metrics) IncInvalid(recordType string) {
	m.EventsInvalidTotal.WithLabelValues(recordType).Inc()
}

// IncAnalysis increments the analysis counter for a kind.
func (m *Metrics) IncAnalysis(kind string) {
	m.AnalysesTotal.WithLabelValues(kind).Inc()
}

// SetNatsConnected records NATS connectivity.
func (m *Metrics) SetNatsConnected(connected bool) {
	if connected {
		m.NatsConnected.Set(1)
		return
	}
	m.NatsConnected.Set(0)
}
