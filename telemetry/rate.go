package telemetry

import (
	"math"
	"time"
)

// rateTau is the window constant for the QPS estimator: a sustained query
// rate is visible to within ~86% of its steady-state value after two tau,
// satisfying the 0→X-within-~2s step response spec.md calls for.
const rateTau = 1 * time.Second

// rateEstimator tracks queries-per-second with a continuously-decayed
// exponential average rather than a fixed sliding window, so reads never
// need to retain a timestamped history.
type rateEstimator struct {
	rate float64
	last time.Time
}

func newRateEstimator() *rateEstimator {
	return &rateEstimator{}
}

// record registers one query completion at instant now.
func (r *rateEstimator) record(now time.Time) {
	r.decay(now)
	r.rate += 1.0 / rateTau.Seconds()
}

// value returns the current estimated rate as of now, decaying first so
// reads between events reflect elapsed idle time.
func (r *rateEstimator) value(now time.Time) float64 {
	r.decay(now)
	return r.rate
}

func (r *rateEstimator) decay(now time.Time) {
	if r.last.IsZero() {
		r.last = now
		return
	}
	dt := now.Sub(r.last).Seconds()
	if dt <= 0 {
		return
	}
	r.rate *= math.Exp(-dt / rateTau.Seconds())
	r.last = now
}
