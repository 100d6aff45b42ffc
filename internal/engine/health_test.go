package engine

import (
	"math"
	"testing"
	"time"
)

func closedDischarge(startPct, endPct, energyMWH float64) Session {
	t0 := time.Unix(3000, 0)
	return Session{
		ID:           1,
		Kind:         SessionDischarge,
		StartTime:    t0,
		EndTime:      t0.Add(2 * time.Hour),
		StartPercent: startPct,
		EndPercent:   endPct,
		EnergyMWH:    energyMWH,
		SampleCount:  10,
	}
}

func TestHealth_FullDepthSessionMeasuresCapacity(t *testing.T) {
	h := NewCapacityHealth(CapacityProfile{})

	// 46500 mWh over a 93-point discharge implies 50000 mWh full capacity.
	updated := h.OnSessionClosed(closedDischarge(96, 3, 46500))
	if updated == nil {
		t.Fatal("OnSessionClosed() = nil, want updated profile")
	}
	if !almostEqual(updated.MeasuredFullMWH, 50000) {
		t.Fatalf("MeasuredFullMWH = %v, want 50000", updated.MeasuredFullMWH)
	}
	if math.Abs(updated.CycleCount-0.93) > 1e-9 {
		t.Fatalf("CycleCount = %v, want 0.93", updated.CycleCount)
	}
}

func TestHealth_EligibilityBoundary(t *testing.T) {
	tests := []struct {
		name       string
		startPct   float64
		endPct     float64
		wantUpdate bool
	}{
		{name: "exactly 95 to 5 is eligible", startPct: 95, endPct: 5, wantUpdate: true},
		{name: "94 to 10 is not", startPct: 94, endPct: 10, wantUpdate: false},
		{name: "96 to 6 is not", startPct: 96, endPct: 6, wantUpdate: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewCapacityHealth(CapacityProfile{MeasuredFullMWH: 50000, DesignMWH: 57000})
			updated := h.OnSessionClosed(closedDischarge(tt.startPct, tt.endPct, 40000))
			if updated == nil {
				t.Fatal("OnSessionClosed() = nil, want profile (cycle count always accrues)")
			}
			changed := !almostEqual(updated.MeasuredFullMWH, 50000)
			if changed != tt.wantUpdate {
				t.Fatalf("capacity changed = %v, want %v (measured=%v)", changed, tt.wantUpdate, updated.MeasuredFullMWH)
			}
		})
	}
}

func TestHealth_PartialDischargeAccruesFractionalCycle(t *testing.T) {
	h := NewCapacityHealth(CapacityProfile{MeasuredFullMWH: 50000})

	h.OnSessionClosed(closedDischarge(80, 30, 20000))
	if got := h.Profile().CycleCount; math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("CycleCount = %v after 50%%-depth discharge, want 0.5", got)
	}
}

func TestHealth_OutlierSessionClampedToTenPercent(t *testing.T) {
	h := NewCapacityHealth(CapacityProfile{MeasuredFullMWH: 50000})

	// Implied capacity 100000 would blend to 62500; the swing cap holds the
	// step to +10%.
	updated := h.OnSessionClosed(closedDischarge(96, 3, 93000))
	if !almostEqual(updated.MeasuredFullMWH, 55000) {
		t.Fatalf("MeasuredFullMWH = %v, want clamped 55000", updated.MeasuredFullMWH)
	}
}

func TestHealth_MeasuredNeverExceedsDesignAllowance(t *testing.T) {
	h := NewCapacityHealth(CapacityProfile{DesignMWH: 50000})

	updated := h.OnSessionClosed(closedDischarge(96, 3, 93000))
	if !almostEqual(updated.MeasuredFullMWH, 52500) {
		t.Fatalf("MeasuredFullMWH = %v, want design*1.05 = 52500", updated.MeasuredFullMWH)
	}
	if updated.DegradationPercent != 0 {
		t.Fatalf("DegradationPercent = %v, want 0 when measured >= design", updated.DegradationPercent)
	}
}

func TestHealth_IgnoredSessions(t *testing.T) {
	incomplete := closedDischarge(96, 3, 46500)
	incomplete.Incomplete = true

	charge := closedDischarge(3, 96, 46500)
	charge.Kind = SessionCharge

	zeroDepth := closedDischarge(50, 50, 0)

	zeroElapsed := closedDischarge(96, 3, 46500)
	zeroElapsed.EndTime = zeroElapsed.StartTime

	tests := []struct {
		name    string
		session Session
	}{
		{name: "incomplete", session: incomplete},
		{name: "charge kind", session: charge},
		{name: "zero depth", session: zeroDepth},
		{name: "zero elapsed time", session: zeroElapsed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewCapacityHealth(CapacityProfile{MeasuredFullMWH: 50000, CycleCount: 1})
			if updated := h.OnSessionClosed(tt.session); updated != nil {
				t.Fatalf("OnSessionClosed() = %#v, want nil", updated)
			}
			if got := h.Profile(); got.CycleCount != 1 || got.MeasuredFullMWH != 50000 {
				t.Fatalf("profile mutated to %#v, want untouched", got)
			}
		})
	}
}

func TestHealth_DegradationDerived(t *testing.T) {
	h := NewCapacityHealth(CapacityProfile{MeasuredFullMWH: 45000, DesignMWH: 50000})

	updated := h.OnSessionClosed(closedDischarge(80, 30, 20000))
	if updated == nil {
		t.Fatal("OnSessionClosed() = nil, want profile")
	}
	if math.Abs(updated.DegradationPercent-0.1) > 1e-9 {
		t.Fatalf("DegradationPercent = %v, want 0.1", updated.DegradationPercent)
	}
}

func TestHealth_ObserveReportedSeedsMeasured(t *testing.T) {
	h := NewCapacityHealth(CapacityProfile{})

	h.ObserveReported(60000, 50000)
	got := h.Profile()
	if !almostEqual(got.MeasuredFullMWH, 52500) {
		t.Fatalf("MeasuredFullMWH = %v, want reported clamped to 52500", got.MeasuredFullMWH)
	}
	if got.DesignMWH != 50000 {
		t.Fatalf("DesignMWH = %v, want 50000", got.DesignMWH)
	}

	// Once seeded, reported full capacity no longer overwrites the estimate.
	h.ObserveReported(40000, 50000)
	if got := h.Profile().MeasuredFullMWH; !almostEqual(got, 52500) {
		t.Fatalf("MeasuredFullMWH = %v after second report, want unchanged 52500", got)
	}
}
