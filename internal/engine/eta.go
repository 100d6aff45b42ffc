package engine

import (
	"fmt"
	"time"
)

// EtaKind classifies a time estimate.
type EtaKind string

const (
	EtaTimeToEmpty EtaKind = "time_to_empty"
	EtaTimeToFull  EtaKind = "time_to_full"
	EtaUnknown     EtaKind = "unknown"
)

const (
	// DefaultMinConfidence gates whether a numeric estimate is reported at
	// all. Below it the calculator returns unknown.
	DefaultMinConfidence = 0.35

	// minActivePowerMW is the draw below which the battery is considered
	// idle (on AC, fully charged): no polarity, no estimate.
	minActivePowerMW = 1.0

	// maxChargeDuration caps time-to-full. Charge current tapers near 100%,
	// so a linear extrapolation from early-charge current can run away.
	maxChargeDuration = 24 * time.Hour

	// chargeTaperPercent is the level above which a time-to-full estimate is
	// reported with reduced confidence.
	chargeTaperPercent = 80.0

	chargeTaperDiscount = 0.5
)

// EtaResult is the derived time estimate. Ephemeral: recomputed on demand,
// never stored.
type EtaResult struct {
	Kind       EtaKind       `json:"kind"`
	Duration   time.Duration `json:"duration"`
	Confidence float64       `json:"confidence"`
	ComputedAt time.Time     `json:"computed_at"`
}

// String renders the estimate for display, e.g. "2h 15m remaining".
func (r EtaResult) String() string {
	switch r.Kind {
	case EtaTimeToEmpty:
		return formatDuration(r.Duration) + " remaining"
	case EtaTimeToFull:
		if r.Duration < time.Minute {
			return "Fully charged"
		}
		return formatDuration(r.Duration) + " until full"
	default:
		return "Calculating..."
	}
}

func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	if minutes < 1 {
		return "< 1m"
	}
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}

// ComputeEta derives a time estimate from the latest sample, the smoothed
// rate, and the health-adjusted capacity. Pure function over its inputs:
// identical inputs yield identical outputs, and the duration is never
// negative.
func ComputeEta(s Sample, rate RateEstimate, profile CapacityProfile, minConfidence float64) EtaResult {
	unknown := EtaResult{Kind: EtaUnknown, Confidence: rate.Confidence, ComputedAt: s.Timestamp}

	if rate.Confidence < minConfidence {
		return unknown
	}

	capacityMWH := profile.MeasuredFullMWH
	if capacityMWH <= 0 {
		capacityMWH = s.clampCapacity().FullCapacityMWH
	}
	if capacityMWH <= 0 {
		return unknown
	}

	rateMA := rate.SmoothedRateMA
	if rateMA < 0 {
		rateMA = -rateMA
	}
	powerMW := rateMA * s.VoltageMV / 1000
	if powerMW < minActivePowerMW {
		return unknown
	}

	if s.Charging {
		if s.ChargePercent >= 100 {
			return unknown
		}
		neededMWH := (100 - s.ChargePercent) / 100 * capacityMWH
		d := hoursToDuration(neededMWH / powerMW)
		if d > maxChargeDuration {
			d = maxChargeDuration
		}
		confidence := rate.Confidence
		if s.ChargePercent > chargeTaperPercent {
			confidence *= chargeTaperDiscount
		}
		return EtaResult{Kind: EtaTimeToFull, Duration: d, Confidence: confidence, ComputedAt: s.Timestamp}
	}

	// Not charging, but positive polarity or a full battery means idle on
	// AC (firmware reporting Full, trickle current): no discharge is in
	// progress, so there is nothing to extrapolate.
	if rate.SmoothedRateMA > 0 || s.CurrentMA > 0 || s.ChargePercent >= 100 {
		return unknown
	}

	remainingMWH := s.ChargePercent / 100 * capacityMWH
	if remainingMWH < 0 {
		remainingMWH = 0
	}
	return EtaResult{
		Kind:       EtaTimeToEmpty,
		Duration:   hoursToDuration(remainingMWH / powerMW),
		Confidence: rate.Confidence,
		ComputedAt: s.Timestamp,
	}
}

func hoursToDuration(hours float64) time.Duration {
	if hours < 0 {
		return 0
	}
	return time.Duration(hours * float64(time.Hour))
}
