package engine

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidSample is returned by Engine.Observe for samples that fail
// ingress validation. The sample does not mutate any component state.
var ErrInvalidSample = errors.New("invalid sample")

// capacityClampFactor bounds reported full capacity relative to design
// capacity. Firmware occasionally reports full capacity above design;
// such readings are sensor noise and get clamped rather than rejected.
const capacityClampFactor = 1.05

// Sample is a single raw power-subsystem reading. Immutable once produced;
// consecutive samples may arrive at irregular intervals.
type Sample struct {
	Timestamp         time.Time `json:"timestamp"`
	ChargePercent     float64   `json:"charge_percent"`
	CurrentMA         float64   `json:"current_ma"` // signed: negative = discharging
	VoltageMV         float64   `json:"voltage_mv"`
	FullCapacityMWH   float64   `json:"full_capacity_mwh"`
	DesignCapacityMWH float64   `json:"design_capacity_mwh"`
	Charging          bool      `json:"charging"`
}

// Validate checks the sample against the ingress invariants.
func (s Sample) Validate() error {
	if s.Timestamp.IsZero() {
		return fmt.Errorf("%w: zero timestamp", ErrInvalidSample)
	}
	for _, v := range []float64{s.ChargePercent, s.CurrentMA, s.VoltageMV, s.FullCapacityMWH, s.DesignCapacityMWH} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite field value", ErrInvalidSample)
		}
	}
	if s.ChargePercent < 0 || s.ChargePercent > 100 {
		return fmt.Errorf("%w: charge_percent %.2f outside [0,100]", ErrInvalidSample, s.ChargePercent)
	}
	if s.VoltageMV <= 0 {
		return fmt.Errorf("%w: voltage_mv %.0f must be positive", ErrInvalidSample, s.VoltageMV)
	}
	if s.FullCapacityMWH < 0 || s.DesignCapacityMWH < 0 {
		return fmt.Errorf("%w: negative capacity", ErrInvalidSample)
	}
	return nil
}

// clampCapacity returns the sample with its reported full capacity bounded
// to design capacity plus the noise allowance.
func (s Sample) clampCapacity() Sample {
	if s.DesignCapacityMWH > 0 {
		limit := s.DesignCapacityMWH * capacityClampFactor
		if s.FullCapacityMWH > limit {
			s.FullCapacityMWH = limit
		}
	}
	return s
}
