package engine

import "time"

// SessionKind distinguishes charge from discharge sessions.
type SessionKind string

const (
	SessionCharge    SessionKind = "charge"
	SessionDischarge SessionKind = "discharge"
)

// Session is one contiguous run of same-polarity samples. Created on a
// polarity transition, mutated by each matching sample, closed on the next
// transition or on shutdown (Incomplete=true).
type Session struct {
	ID           int64       `json:"id"`
	Kind         SessionKind `json:"kind"`
	StartTime    time.Time   `json:"start_time"`
	EndTime      time.Time   `json:"end_time"`
	StartPercent float64     `json:"start_percent"`
	EndPercent   float64     `json:"end_percent"`
	EnergyMWH    float64     `json:"energy_mwh"`
	SampleCount  int         `json:"sample_count"`
	Incomplete   bool        `json:"incomplete,omitempty"`
}

// Depth is the charge movement covered by the session, in percent points.
func (s Session) Depth() float64 {
	if s.Kind == SessionCharge {
		return s.EndPercent - s.StartPercent
	}
	return s.StartPercent - s.EndPercent
}

// SessionTracker detects charge/discharge boundaries and accumulates
// per-session statistics. At most one session of each kind is open at any
// time; in fact at most one session total, since closing one opens the next.
type SessionTracker struct {
	open   *Session
	nextID int64
}

// NewSessionTracker starts tracking with the given first session id,
// normally max persisted id + 1.
func NewSessionTracker(nextID int64) *SessionTracker {
	if nextID < 1 {
		nextID = 1
	}
	return &SessionTracker{nextID: nextID}
}

// sessionKindOf takes polarity from the Charging flag; positive current with
// the flag unset (firmware reporting Full on AC) still counts as charge so an
// idle plugged-in battery never opens a phantom discharge session.
func sessionKindOf(s Sample) SessionKind {
	if s.Charging || s.CurrentMA > 0 {
		return SessionCharge
	}
	return SessionDischarge
}

// Observe feeds one sample to the tracker. When the sample's polarity flips
// relative to the open session, that session is closed at the last matching
// sample's timestamp and returned; a new session of the new kind opens with
// this sample. Otherwise returns nil.
func (t *SessionTracker) Observe(s Sample) *Session {
	kind := sessionKindOf(s)

	if t.open == nil {
		t.openSession(kind, s)
		return nil
	}

	if t.open.Kind == kind {
		dt := s.Timestamp.Sub(t.open.EndTime)
		if dt > 0 {
			// mA * mV * h = µWh; /1000 converts to mWh.
			current := s.CurrentMA
			if current < 0 {
				current = -current
			}
			t.open.EnergyMWH += current * s.VoltageMV * dt.Hours() / 1000
		}
		t.open.EndTime = s.Timestamp
		t.open.EndPercent = s.ChargePercent
		t.open.SampleCount++
		return nil
	}

	// Polarity flip: the flipping sample belongs to the new session, so the
	// old one ends at its own last sample.
	closed := *t.open
	t.openSession(kind, s)
	return &closed
}

// Open returns a snapshot of the currently open session, or nil.
func (t *SessionTracker) Open() *Session {
	if t.open == nil {
		return nil
	}
	snapshot := *t.open
	return &snapshot
}

// CloseOpen closes the open session, marking it incomplete so it is excluded
// from health-model training. Returns nil when nothing is open.
func (t *SessionTracker) CloseOpen() *Session {
	if t.open == nil {
		return nil
	}
	closed := *t.open
	closed.Incomplete = true
	t.open = nil
	return &closed
}

func (t *SessionTracker) openSession(kind SessionKind, s Sample) {
	t.open = &Session{
		ID:           t.nextID,
		Kind:         kind,
		StartTime:    s.Timestamp,
		EndTime:      s.Timestamp,
		StartPercent: s.ChargePercent,
		EndPercent:   s.ChargePercent,
		SampleCount:  1,
	}
	t.nextID++
}
