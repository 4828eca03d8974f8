package telemetry

import (
	"sync/atomic"

	"github.com/mevdschee/pgxray/metrics"
)

// DefaultBusCapacity is the bounded channel size NewBus uses when given a
// non-positive capacity.
const DefaultBusCapacity = 4096

// Bus is a multi-producer, single-consumer channel of Observations with
// bounded capacity. Publish never blocks: on overflow it drops the
// observation and increments Dropped, since the data path must never stall
// waiting for telemetry to be delivered.
type Bus struct {
	ch      chan Observation
	dropped atomic.Uint64
}

// NewBus creates a Bus with the given bounded capacity.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultBusCapacity
	}
	return &Bus{ch: make(chan Observation, capacity)}
}

// Publish enqueues obs without blocking. If the bus is full the observation
// is dropped and the dropped-event counter is incremented.
func (b *Bus) Publish(obs Observation) {
	select {
	case b.ch <- obs:
	default:
		b.dropped.Add(1)
		metrics.RecordDropped(1)
	}
}

// Dropped returns the number of observations dropped so far due to a full
// bus.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Chan exposes the underlying channel for the aggregator's consume loop.
func (b *Bus) Chan() <-chan Observation {
	return b.ch
}
