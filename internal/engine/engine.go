// Package engine implements the anomaly-scoring and threat-correlation
// heuristics. All functions are pure: they operate on a caller-supplied
// snapshot of records, hold no state, and never fail. Callers are
// responsible for windowing the input and for any timeout handling.
package engine

import (
	"fmt"
	"math"
	"sort"

	"github.com/opswatch/opswatch/internal/model"
)

// Tuning constants. These are deliberately kept identical to the values
// the dashboards were calibrated against; do not re-derive them.
const (
	// MinBehaviorRecords is the floor below which behavior analysis
	// reports an insufficient-data result.
	MinBehaviorRecords = 5
	// MinNetworkPackets is the floor below which traffic analysis
	// reports an insufficient-data result.
	MinNetworkPackets = 10

	afterHoursStart = 18 // hour > 18 counts as off-hours
	afterHoursEnd   = 8  // hour < 8 counts as off-hours
	afterHoursShare = 0.3
	afterHoursScore = 30

	actionFreqShare = 0.7
	actionFreqScore = 25

	sourceIPLimit = 3
	sourceIPScore = 20

	behaviorAnomalyThreshold = 50

	oversizeFactor = 3
	oversizeShare  = 0.1
	oversizeScore  = 25

	icmpShare = 0.2
	icmpScore = 30

	pairAttemptLimit = 20
	portScanScore    = 35

	trafficAnomalyThreshold = 40

	criticalEventWeight  = 2.0
	highConfidenceFloor  = 80
	highConfidenceWeight = 1.5
	anomalousScoreFloor  = 70
	anomalousUserWeight  = 1.2
	riskDivisor          = 10
	riskCeiling          = 10
)

// Insufficient-data factor messages.
const (
	FactorInsufficientBehavior = "Insufficient data for analysis"
	FactorInsufficientNetwork  = "Insufficient network data"
)

// DetectUserBehaviorAnomaly scores a window of user behavior records for
// anomalous patterns: off-hours logins, action-frequency concentration,
// and source-IP diversity. Record order is irrelevant.
func DetectUserBehaviorAnomaly(records []model.UserBehaviorRecord) model.AnomalyResult {
	if len(records) < MinBehaviorRecords {
		return model.AnomalyResult{
			Factors: []string{FactorInsufficientBehavior},
		}
	}

	var factors []string
	var score float64

	// Off-hours logins. Records without a usable timestamp are excluded
	// from the sample rather than skewing it.
	var loginHours []int
	for _, r := range records {
		if r.Action != "login" || r.Timestamp.IsZero() {
			continue
		}
		loginHours = append(loginHours, r.Timestamp.Hour())
	}
	if len(loginHours) > 0 {
		afterHours := 0
		for _, h := range loginHours {
			if h < afterHoursEnd || h > afterHoursStart {
				afterHours++
			}
		}
		if float64(afterHours) > float64(len(loginHours))*afterHoursShare {
			score += afterHoursScore
			factors = append(factors, "Unusual login hours detected")
		}
	}

	// Action-frequency concentration. Each action whose share of the
	// whole window exceeds the threshold contributes independently.
	// Factors are emitted in first-appearance order.
	actionCounts := make(map[string]int, len(records))
	var actionOrder []string
	for _, r := range records {
		if r.Action == "" {
			continue
		}
		if _, seen := actionCounts[r.Action]; !seen {
			actionOrder = append(actionOrder, r.Action)
		}
		actionCounts[r.Action]++
	}
	total := float64(len(records))
	for _, action := range actionOrder {
		if float64(actionCounts[action])/total > actionFreqShare {
			score += actionFreqScore
			factors = append(factors, fmt.Sprintf("High frequency of %s actions", action))
		}
	}

	// Source-IP diversity.
	uniqueIPs := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r.SourceIP != "" {
			uniqueIPs[r.SourceIP] = struct{}{}
		}
	}
	if len(uniqueIPs) > sourceIPLimit {
		score += sourceIPScore
		factors = append(factors, "Multiple source IP addresses")
	}

	return model.AnomalyResult{
		IsAnomaly:  score > behaviorAnomalyThreshold,
		Score:      score,
		Confidence: math.Min(score, 100),
		Factors:    factors,
	}
}

// DetectNetworkAnomaly scores a window of packets for anomalous patterns:
// oversized packets, ICMP floods, and port-scan connection signatures.
func DetectNetworkAnomaly(packets []model.NetworkPacket) model.AnomalyResult {
	if len(packets) < MinNetworkPackets {
		return model.AnomalyResult{
			Factors: []string{FactorInsufficientNetwork},
		}
	}

	var factors []string
	var score float64

	// Oversized packets, measured against the mean of packets that carry
	// a size. Packets without a size stay out of the comparison entirely.
	var sizes []int
	sizeSum := 0
	for _, p := range packets {
		if p.PacketSize > 0 {
			sizes = append(sizes, p.PacketSize)
			sizeSum += p.PacketSize
		}
	}
	if len(sizes) > 0 {
		mean := float64(sizeSum) / float64(len(sizes))
		large := 0
		for _, s := range sizes {
			if float64(s) > mean*oversizeFactor {
				large++
			}
		}
		if float64(large) > float64(len(sizes))*oversizeShare {
			score += oversizeScore
			factors = append(factors, "Unusually large packet sizes detected")
		}
	}

	// ICMP share of the whole window.
	icmpCount := 0
	for _, p := range packets {
		if p.Protocol == "ICMP" {
			icmpCount++
		}
	}
	if float64(icmpCount)/float64(len(packets)) > icmpShare {
		score += icmpScore
		factors = append(factors, "High ICMP traffic (possible network scan)")
	}

	// Port-scan signature: many attempts over a single directed
	// source->destination pair. Direction matters: A->B and B->A are
	// counted separately. Scores once no matter how many pairs qualify.
	attempts := make(map[string]int, len(packets))
	for _, p := range packets {
		attempts[p.SourceIP+"-"+p.DestinationIP]++
	}
	for _, count := range attempts {
		if count > pairAttemptLimit {
			score += portScanScore
			factors = append(factors, "Potential port scanning activity")
			break
		}
	}

	return model.AnomalyResult{
		IsAnomaly:  score > trafficAnomalyThreshold,
		Score:      score,
		Confidence: math.Min(score, 100),
		Factors:    factors,
	}
}

// CorrelateThreatEvents cross-references events against threat indicators.
// Events with no matching indicator are dropped. The result is sorted by
// correlation score descending; ties keep their relative input order.
func CorrelateThreatEvents(events []model.SecurityEvent, indicators []model.ThreatIndicator) []model.CorrelatedEvent {
	var correlated []model.CorrelatedEvent

	for _, event := range events {
		var matched []model.ThreatIndicator
		for _, indicator := range indicators {
			if indicatorMatches(indicator, event) {
				matched = append(matched, indicator)
			}
		}
		if len(matched) == 0 {
			continue
		}

		sum := 0.0
		for _, m := range matched {
			sum += float64(m.Confidence)
		}
		correlated = append(correlated, model.CorrelatedEvent{
			SecurityEvent:     event,
			CorrelatedThreats: matched,
			CorrelationScore:  sum / float64(len(matched)),
		})
	}

	sort.SliceStable(correlated, func(i, j int) bool {
		return correlated[i].CorrelationScore > correlated[j].CorrelationScore
	})

	return correlated
}

// indicatorMatches reports whether an indicator applies to an event. An
// indicator matches on the event source, the event destination, or for
// hash indicators on a "hash" entry in the event's raw data.
func indicatorMatches(indicator model.ThreatIndicator, event model.SecurityEvent) bool {
	if indicator.Indicator == event.Source {
		return true
	}
	if event.Destination != "" && indicator.Indicator == event.Destination {
		return true
	}
	if indicator.IndicatorType == "hash" && event.RawData != nil {
		if hash, ok := event.RawData["hash"].(string); ok && hash == indicator.Indicator {
			return true
		}
	}
	return false
}

// GenerateRiskScore blends critical event counts, high-confidence threat
// counts, and anomalous user counts into a single score in [0,10]. Empty
// inputs yield 0; arbitrarily large inputs saturate at 10.
func GenerateRiskScore(events []model.SecurityEvent, behavior []model.UserBehaviorRecord, indicators []model.ThreatIndicator) float64 {
	var risk float64

	for _, e := range events {
		if e.Severity == "critical" {
			risk += criticalEventWeight
		}
	}
	for _, t := range indicators {
		if t.Confidence > highConfidenceFloor {
			risk += highConfidenceWeight
		}
	}
	for _, b := range behavior {
		if b.AnomalyScore > anomalousScoreFloor {
			risk += anomalousUserWeight
		}
	}

	return math.Min(risk/riskDivisor, riskCeiling)
}
