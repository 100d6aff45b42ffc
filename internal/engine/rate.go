package engine

import "time"

const (
	// maxPercentPerMinute is the physical bound on charge movement. A sample
	// implying a faster swing is a sensor glitch and must not touch the
	// smoothed rate.
	maxPercentPerMinute = 50.0

	// nominalSampleGap is the cadence the gap weighting is normalized
	// against. Samples arriving slower than this get proportionally less
	// weight, since an old reading says less about the draw right now.
	nominalSampleGap = 30 * time.Second

	// ewmaBaseAlpha is the weight of a new sample arriving at or faster
	// than the nominal cadence.
	ewmaBaseAlpha = 0.3

	// confidenceHalfCount tunes how fast confidence approaches 1:
	// confidence = accepted / (accepted + confidenceHalfCount).
	confidenceHalfCount = 4.0
)

// RateEstimate is the smoothed power-draw rate. Owned by the RateEstimator,
// recomputed on every sample, never persisted.
type RateEstimate struct {
	SmoothedRateMA float64
	Confidence     float64
	LastUpdate     time.Time
}

// RateEstimator smooths raw current readings into a stable rate using an
// exponentially-weighted moving average. State resets on process restart;
// rate is a short-horizon signal, so that loss is acceptable.
type RateEstimator struct {
	ewmaMA       float64
	accepted     int
	seeded       bool
	lastTime     time.Time
	lastPercent  float64
	lastCharging bool
}

func NewRateEstimator() *RateEstimator {
	return &RateEstimator{}
}

// Observe folds one sample into the moving average and returns the updated
// estimate. Glitch samples (implausible percent swing) update timestamp
// bookkeeping only.
func (r *RateEstimator) Observe(s Sample) RateEstimate {
	if !r.seeded {
		r.seed(s)
		return r.estimate()
	}

	gap := s.Timestamp.Sub(r.lastTime)
	if gap <= 0 {
		// Out-of-order or duplicate timestamp: no usable interval. Keep
		// lastTime where it is; rewinding it would inflate the next gap.
		return r.estimate()
	}

	deltaPct := s.ChargePercent - r.lastPercent
	if deltaPct < 0 {
		deltaPct = -deltaPct
	}
	if deltaPct/gap.Minutes() > maxPercentPerMinute {
		// Keep lastPercent so a legitimate follow-up sample is judged
		// against the last sane reading, not the glitch.
		r.lastTime = s.Timestamp
		return r.estimate()
	}

	if s.Charging != r.lastCharging {
		// Polarity flip: a discharge-rate average is meaningless across a
		// plug event. Start over from this sample.
		r.seed(s)
		return r.estimate()
	}

	alpha := ewmaBaseAlpha
	if gap > nominalSampleGap {
		alpha = ewmaBaseAlpha * nominalSampleGap.Seconds() / gap.Seconds()
	}
	r.ewmaMA = alpha*s.CurrentMA + (1-alpha)*r.ewmaMA
	r.accepted++
	r.lastTime = s.Timestamp
	r.lastPercent = s.ChargePercent
	r.lastCharging = s.Charging
	return r.estimate()
}

// Confidence reports how trustworthy the smoothed rate currently is, in [0,1).
func (r *RateEstimator) Confidence() float64 {
	return float64(r.accepted) / (float64(r.accepted) + confidenceHalfCount)
}

// Reset discards all estimator state.
func (r *RateEstimator) Reset() {
	*r = RateEstimator{}
}

func (r *RateEstimator) seed(s Sample) {
	r.ewmaMA = s.CurrentMA
	r.accepted = 1
	r.seeded = true
	r.lastTime = s.Timestamp
	r.lastPercent = s.ChargePercent
	r.lastCharging = s.Charging
}

func (r *RateEstimator) estimate() RateEstimate {
	return RateEstimate{
		SmoothedRateMA: r.ewmaMA,
		Confidence:     r.Confidence(),
		LastUpdate:     r.lastTime,
	}
}
