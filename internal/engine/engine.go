// Package engine turns a stream of raw battery samples into time-remaining
// estimates and a long-run capacity-health model. It performs no I/O and
// never sleeps; persistence goes through the Sink the caller provides.
package engine

import (
	"io"
	"log/slog"
	"sync"
)

// Sink receives closed sessions and profile updates for durable storage.
// Implementations must not block: the engine calls the sink on the ingestion
// path and relies on it to hand work off (see storage.Writer). Sink errors
// are logged, never fatal; in-memory state stays authoritative.
type Sink interface {
	SaveSession(s Session) error
	SaveCapacityProfile(p CapacityProfile) error
}

// Options configure a new Engine instance.
type Options struct {
	// Profile restores a persisted capacity profile; zero value starts fresh.
	Profile CapacityProfile
	// NextSessionID is the id for the first session this instance opens,
	// normally one past the highest persisted id.
	NextSessionID int64
	// MinConfidence gates numeric estimates; zero means DefaultMinConfidence.
	MinConfidence float64
	// Sink receives closed sessions and profile updates. Optional.
	Sink Sink
	// Logger for sink failures and session lifecycle. Optional.
	Logger *slog.Logger
}

// Engine is the single-pipeline facade over the rate estimator, session
// tracker, capacity health model, and ETA calculator. One sample is fully
// processed before the next is admitted. Each instance owns its state;
// independent instances do not interact.
type Engine struct {
	mu            sync.Mutex
	rate          *RateEstimator
	sessions      *SessionTracker
	health        *CapacityHealth
	minConfidence float64
	sink          Sink
	logger        *slog.Logger
	lastEta       EtaResult
}

func New(opts Options) *Engine {
	minConfidence := opts.MinConfidence
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		rate:          NewRateEstimator(),
		sessions:      NewSessionTracker(opts.NextSessionID),
		health:        NewCapacityHealth(opts.Profile),
		minConfidence: minConfidence,
		sink:          opts.Sink,
		logger:        logger,
		lastEta:       EtaResult{Kind: EtaUnknown},
	}
}

// Observe is the single ingress call a host makes each polling tick. It
// drives all components in sequence and returns the latest computable
// estimate. Invalid samples are rejected without mutating any state.
func (e *Engine) Observe(s Sample) (EtaResult, error) {
	if err := s.Validate(); err != nil {
		return EtaResult{Kind: EtaUnknown, ComputedAt: s.Timestamp}, err
	}
	s = s.clampCapacity()

	e.mu.Lock()
	defer e.mu.Unlock()

	rateEst := e.rate.Observe(s)

	if closed := e.sessions.Observe(s); closed != nil {
		e.logger.Info("session closed",
			"id", closed.ID,
			"kind", string(closed.Kind),
			"depth_pct", closed.Depth(),
			"energy_mwh", closed.EnergyMWH,
			"samples", closed.SampleCount)
		e.persistSession(*closed)
		if updated := e.health.OnSessionClosed(*closed); updated != nil {
			e.persistProfile(*updated)
		}
	}

	e.health.ObserveReported(s.FullCapacityMWH, s.DesignCapacityMWH)

	eta := ComputeEta(s, rateEst, e.health.Profile(), e.minConfidence)
	e.lastEta = eta
	return eta, nil
}

// Close finalizes the open session as incomplete and hands it to the sink,
// along with the final profile. The engine must not be observed afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if closed := e.sessions.CloseOpen(); closed != nil {
		e.logger.Info("session closed incomplete on shutdown", "id", closed.ID, "kind", string(closed.Kind))
		e.persistSession(*closed)
	}
	if e.sink != nil {
		if err := e.sink.SaveCapacityProfile(e.health.Profile()); err != nil {
			return err
		}
	}
	return nil
}

// CapacityProfile returns an immutable snapshot of the health model.
func (e *Engine) CapacityProfile() CapacityProfile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.health.Profile()
}

// RateConfidence reports the current rate-estimate confidence in [0,1).
func (e *Engine) RateConfidence() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rate.Confidence()
}

// LastEstimate returns the most recently computed estimate.
func (e *Engine) LastEstimate() EtaResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastEta
}

// OpenSession returns a snapshot of the in-flight session, or nil.
func (e *Engine) OpenSession() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions.Open()
}

func (e *Engine) persistSession(s Session) {
	if e.sink == nil {
		return
	}
	if err := e.sink.SaveSession(s); err != nil {
		e.logger.Error("persist session", "id", s.ID, "err", err)
	}
}

func (e *Engine) persistProfile(p CapacityProfile) {
	if e.sink == nil {
		return
	}
	if err := e.sink.SaveCapacityProfile(p); err != nil {
		e.logger.Error("persist capacity profile", "err", err)
	}
}
