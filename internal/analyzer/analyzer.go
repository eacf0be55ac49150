// Package analyzer runs the periodic analysis loop over the record store.
package analyzer

import (
	"context"
	"log/slog"
	"time"

	"github.com/opswatch/opswatch/internal/engine"
	"github.com/opswatch/opswatch/internal/feed"
	"github.com/opswatch/opswatch/internal/metrics"
	"github.com/opswatch/opswatch/internal/model"
	natstransport "github.com/opswatch/opswatch/internal/nats"
	"github.com/opswatch/opswatch/internal/store"
)

// Publisher is the slice of the NATS publisher the analyzer needs.
type Publisher interface {
	Publish(subject string, payload interface{}) error
}

// Snapshot is one full analysis pass over the current record windows.
type Snapshot struct {
	Timestamp       time.Time               `json:"timestamp"`
	Behavior        model.AnomalyResult     `json:"behavior"`
	Traffic         model.AnomalyResult     `json:"traffic"`
	Correlated      []model.CorrelatedEvent `json:"correlated"`
	RiskScore       float64                 `json:"risk_score"`
	EventCount      int                     `json:"event_count"`
	PacketCount     int                     `json:"packet_count"`
	BehaviorCount   int                     `json:"behavior_count"`
	IndicatorCount  int                     `json:"indicator_count"`
}

// Analyzer periodically pulls bounded windows from the store, runs the
// engine over them, updates gauges, and publishes the results.
type Analyzer struct {
	store       store.Store
	feeds       *feed.Loader
	publisher   Publisher
	metrics     *metrics.Metrics
	logger      *slog.Logger
	windowLimit int
	interval    time.Duration
}

// New creates an analyzer. windowLimit bounds how many records of each
// type one pass reads from the store.
func New(st store.Store, feeds *feed.Loader, pub Publisher, m *metrics.Metrics, windowLimit int, interval time.Duration, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		store:       st,
		feeds:       feeds,
		publisher:   pub,
		metrics:     m,
		logger:      logger,
		windowLimit: windowLimit,
		interval:    interval,
	}
}

// Run loops until the context is cancelled, running one analysis pass
// per tick.
func (a *Analyzer) Run(ctx context.Context) {
	a.logger.Info("Starting analyzer loop", "interval", a.interval, "window_limit", a.windowLimit)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Analyzer loop stopped")
			return
		case <-ticker.C:
			if _, err := a.RunOnce(); err != nil {
				a.logger.Error("Analysis pass failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single analysis pass and publishes the snapshot.
func (a *Analyzer) RunOnce() (*Snapshot, error) {
	start := time.Now()

	events, err := a.store.RecentEvents(a.windowLimit, "")
	if err != nil {
		return nil, err
	}
	packets, err := a.store.RecentPackets(a.windowLimit)
	if err != nil {
		return nil, err
	}
	behavior, err := a.store.RecentBehavior(a.windowLimit)
	if err != nil {
		return nil, err
	}
	stored, err := a.store.RecentIndicators(a.windowLimit)
	if err != nil {
		return nil, err
	}

	indicators := a.allIndicators(stored)

	snapshot := &Snapshot{
		Timestamp:      time.Now().UTC(),
		Behavior:       engine.DetectUserBehaviorAnomaly(behavior),
		Traffic:        engine.DetectNetworkAnomaly(packets),
		Correlated:     engine.CorrelateThreatEvents(events, a.correlationCandidates(stored, indicators, events)),
		RiskScore:      engine.GenerateRiskScore(events, behavior, indicators),
		EventCount:     len(events),
		PacketCount:    len(packets),
		BehaviorCount:  len(behavior),
		IndicatorCount: len(indicators),
	}

	a.metrics.IncAnalysis("behavior")
	a.metrics.IncAnalysis("traffic")
	a.metrics.IncAnalysis("correlation")
	a.metrics.IncAnalysis("risk")
	a.metrics.AnalysisDuration.Observe(time.Since(start).Seconds())

	a.metrics.BehaviorAnomalyScore.Set(snapshot.Behavior.Score)
	a.metrics.TrafficAnomalyScore.Set(snapshot.Traffic.Score)
	a.metrics.CorrelatedEvents.Set(float64(len(snapshot.Correlated)))
	a.metrics.RiskScore.Set(snapshot.RiskScore)
	a.updateStoreGauges()

	a.publish(snapshot)

	a.logger.Debug("Analysis pass complete",
		"events", snapshot.EventCount,
		"correlated", len(snapshot.Correlated),
		"risk_score", snapshot.RiskScore,
		"elapsed", time.Since(start))
	return snapshot, nil
}

// allIndicators appends the current feed snapshot to stored indicators.
// Risk scoring and reported counts always see the full list.
func (a *Analyzer) allIndicators(stored []model.ThreatIndicator) []model.ThreatIndicator {
	if a.feeds == nil {
		return stored
	}
	snapshot := a.feeds.GetSnapshot()
	if len(snapshot.Indicators) == 0 {
		return stored
	}

	merged := make([]model.ThreatIndicator, 0, len(stored)+len(snapshot.Indicators))
	merged = append(merged, stored...)
	merged = append(merged, snapshot.Indicators...)
	return merged
}

// correlationCandidates picks the indicator list handed to correlation.
// The feed's bloom filter is consulted first: when no event field could
// possibly match a feed indicator, correlation runs on stored indicators
// only. Correlation drops non-matching indicators anyway, so a skipped
// feed never changes the correlated output, and a bloom false positive
// only means some indicators are evaluated that end up matching nothing.
func (a *Analyzer) correlationCandidates(stored, merged []model.ThreatIndicator, events []model.SecurityEvent) []model.ThreatIndicator {
	if a.feeds == nil || len(merged) == len(stored) {
		return merged
	}
	snapshot := a.feeds.GetSnapshot()

	for _, event := range events {
		if snapshot.MightContain(event.Source) || snapshot.MightContain(event.Destination) {
			return merged
		}
		if hash, ok := event.RawData["hash"].(string); ok && snapshot.MightContain(hash) {
			return merged
		}
	}
	return stored
}

func (a *Analyzer) publish(snapshot *Snapshot) {
	if a.publisher == nil {
		return
	}

	if err := a.publisher.Publish(natstransport.SubjectSnapshot, snapshot); err != nil {
		a.metrics.PublishErrorsTotal.Inc()
		a.logger.Error("Failed to publish snapshot", "error", err)
	} else {
		a.metrics.SnapshotsPublished.Inc()
	}

	if len(snapshot.Correlated) == 0 {
		return
	}
	if err := a.publisher.Publish(natstransport.SubjectFindings, snapshot.Correlated); err != nil {
		a.metrics.PublishErrorsTotal.Inc()
		a.logger.Error("Failed to publish correlated findings", "error", err)
	}
}

func (a *Analyzer) updateStoreGauges() {
	stats := a.store.Stats()
	for _, recordType := range []string{"events", "indicators", "packets", "behavior"} {
		if count, ok := stats[recordType].(int); ok {
			a.metrics.StoreRecords.WithLabelValues(recordType).Set(float64(count))
		}
	}
}
