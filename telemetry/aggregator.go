// Package telemetry implements the event bus and aggregator: the bounded
// MPSC hand-off from sessions to a single consumer that maintains running
// counters, a bucketed latency histogram, a bounded event ring, and
// per-fingerprint statistics under live concurrent ingest.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/mevdschee/pgxray/fingerprint"
	"github.com/mevdschee/pgxray/metrics"
)

// subCapacity bounds the best-effort secondary feed consumed by Next; it is
// independent of the bus's own capacity since a slow raw-mode reader must
// never be able to apply backpressure to the aggregator's consume loop.
const subCapacity = 256

// Aggregator drains a Bus and maintains the shared in-memory telemetry
// state. It is the sole mutator of that state; readers obtain a coherent
// copy via Snapshot, which is the only place a lock is held across a
// caller boundary.
type Aggregator struct {
	bus           *Bus
	fpCache       *fingerprint.Cache
	slowThreshold time.Duration

	mu               sync.Mutex
	openConnections  int64
	totalConnections uint64
	totalQueries     uint64
	totalErrors      uint64
	rate             *rateEstimator
	histogram        [histogramBuckets]uint64
	ring             *ring
	fps              *fpTable
	txStates         map[uint64]TxState

	sub chan Observation
}

// NewAggregator creates an Aggregator draining bus, with event ring and
// fingerprint table bounds given by ringSize and fpTableSize (either may be
// zero to use the spec defaults). fpCache memoizes the normalized
// fingerprint for each distinct SQL text seen. slowThresholdMs is the
// advisory threshold (spec.md §6's --threshold) at or above which a
// completion is marked Slow in the event ring.
func NewAggregator(bus *Bus, ringSize, fpTableSize int, fpCache *fingerprint.Cache, slowThresholdMs uint64) *Aggregator {
	return &Aggregator{
		bus:           bus,
		fpCache:       fpCache,
		slowThreshold: time.Duration(slowThresholdMs) * time.Millisecond,
		rate:          newRateEstimator(),
		ring:          newRing(ringSize),
		fps:           newFPTable(fpTableSize),
		txStates:      make(map[uint64]TxState),
		sub:           make(chan Observation, subCapacity),
	}
}

// Run drains the bus until ctx is cancelled or the bus channel is closed.
func (a *Aggregator) Run(ctx context.Context) error {
	ch := a.bus.Chan()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case obs, ok := <-ch:
			if !ok {
				return nil
			}
			a.consume(obs)
		}
	}
}

func (a *Aggregator) consume(obs Observation) {
	a.mu.Lock()
	switch obs.Kind {
	case KindConnectionOpened:
		a.openConnections++
		a.totalConnections++
		metrics.RecordConnectionOpened()

	case KindConnectionClosed:
		a.openConnections--
		delete(a.txStates, obs.ConnID)
		metrics.RecordConnectionClosed()

	case KindQueryComplete:
		a.totalQueries++
		a.rate.record(obs.TEnd)
		latency := obs.Latency()
		a.histogram[bucketFor(float64(latency.Microseconds()) / 1000.0)]++
		obs.Slow = latency >= a.slowThreshold
		a.ring.push(obs)
		if obs.HasSQL {
			fp := a.fpCache.Normalize(obs.SQL)
			a.fps.upsert(fp, latency, obs.TEnd)
		}
		metrics.RecordQueryComplete(latency.Seconds())

	case KindQueryError:
		a.totalErrors++
		a.ring.push(obs)
		metrics.RecordQueryError()

	case KindTransactionState:
		a.txStates[obs.ConnID] = obs.TxState
	}
	a.mu.Unlock()

	select {
	case a.sub <- obs:
	default:
	}
}

// Snapshot returns a coherent, point-in-time copy of the aggregator's
// state.
func (a *Aggregator) Snapshot() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return Stats{
		OpenConnections:  a.openConnections,
		TotalConnections: a.totalConnections,
		TotalQueries:     a.totalQueries,
		TotalErrors:      a.totalErrors,
		QPS:              a.rate.value(time.Now()),
		Histogram:        a.histogram,
		EventRing:        a.ring.snapshot(),
		FingerprintTable: a.fps.snapshot(),
		DroppedEvents:    a.bus.Dropped(),
	}
}

// Next blocks until the next observation is available or ctx is done. It
// is the raw-mode collaborator's pull interface; a reader that falls
// behind silently misses observations rather than slowing the aggregator
// down, since sub is a best-effort, non-blocking feed.
func (a *Aggregator) Next(ctx context.Context) (Observation, bool) {
	select {
	case obs := <-a.sub:
		return obs, true
	case <-ctx.Done():
		return Observation{}, false
	}
}
