package engine

const (
	// fullCycleStartPercent / fullCycleEndPercent bound the discharge
	// sessions eligible to re-measure capacity. Partial discharges are noisy
	// estimators of true capacity and only contribute to the cycle count.
	fullCycleStartPercent = 95.0
	fullCycleEndPercent   = 5.0

	// healthBlendWeight is the share of a new measurement folded into the
	// capacity estimate.
	healthBlendWeight = 0.25

	// healthMaxSwing caps how far a single session can move the estimate,
	// as a fraction of the prior value.
	healthMaxSwing = 0.10
)

// CapacityProfile is the long-run battery-health model: measured true full
// capacity against design capacity. Persisted across restarts.
type CapacityProfile struct {
	MeasuredFullMWH    float64 `json:"measured_full_capacity_mwh"`
	DesignMWH          float64 `json:"design_capacity_mwh"`
	CycleCount         float64 `json:"cycle_count"`
	DegradationPercent float64 `json:"degradation_percent"` // fraction in [0,1]
}

// CapacityHealth maintains the capacity profile, updating it from closed
// discharge sessions.
type CapacityHealth struct {
	profile CapacityProfile
}

// NewCapacityHealth restores the model from a persisted profile; a zero
// profile starts fresh.
func NewCapacityHealth(profile CapacityProfile) *CapacityHealth {
	return &CapacityHealth{profile: profile}
}

// Profile returns a copy of the current profile.
func (h *CapacityHealth) Profile() CapacityProfile {
	return h.profile
}

// ObserveReported folds firmware-reported capacities into the profile:
// design capacity tracks the latest reading, and the measured estimate is
// seeded from the reported full capacity until the first full cycle
// produces an empirical one.
func (h *CapacityHealth) ObserveReported(fullMWH, designMWH float64) {
	if designMWH > 0 {
		h.profile.DesignMWH = designMWH
	}
	if h.profile.MeasuredFullMWH == 0 && fullMWH > 0 {
		h.profile.MeasuredFullMWH = h.clamped(fullMWH)
	}
	h.recomputeDegradation()
}

// OnSessionClosed updates the model from a closed session. Returns the
// updated profile, or nil when the session changes nothing: charge sessions,
// incomplete sessions, and sessions with zero depth or zero elapsed time are
// all ignored.
func (h *CapacityHealth) OnSessionClosed(s Session) *CapacityProfile {
	if s.Kind != SessionDischarge || s.Incomplete {
		return nil
	}
	depth := s.Depth()
	if depth <= 0 || !s.EndTime.After(s.StartTime) {
		return nil
	}

	// Cycle count accrues proportionally: a 50%-depth discharge is 0.5
	// cycles, matching how manufacturers define the metric.
	h.profile.CycleCount += depth / 100

	if s.StartPercent >= fullCycleStartPercent && s.EndPercent <= fullCycleEndPercent && s.EnergyMWH > 0 {
		observed := s.EnergyMWH / depth * 100
		prior := h.profile.MeasuredFullMWH
		if prior <= 0 {
			h.profile.MeasuredFullMWH = h.clamped(observed)
		} else {
			delta := healthBlendWeight * (observed - prior)
			if maxDelta := healthMaxSwing * prior; delta > maxDelta {
				delta = maxDelta
			} else if delta < -maxDelta {
				delta = -maxDelta
			}
			h.profile.MeasuredFullMWH = h.clamped(prior + delta)
		}
	}

	h.recomputeDegradation()
	updated := h.profile
	return &updated
}

func (h *CapacityHealth) clamped(capacityMWH float64) float64 {
	if h.profile.DesignMWH > 0 {
		if limit := h.profile.DesignMWH * capacityClampFactor; capacityMWH > limit {
			return limit
		}
	}
	return capacityMWH
}

func (h *CapacityHealth) recomputeDegradation() {
	if h.profile.DesignMWH <= 0 || h.profile.MeasuredFullMWH <= 0 {
		h.profile.DegradationPercent = 0
		return
	}
	d := 1 - h.profile.MeasuredFullMWH/h.profile.DesignMWH
	if d < 0 {
		d = 0
	} else if d > 1 {
		d = 1
	}
	h.profile.DegradationPercent = d
}
