package telemetry

import (
	"container/list"
	"time"
)

// DefaultFingerprintTableSize is the default bound on distinct fingerprint
// rows tracked at once.
const DefaultFingerprintTableSize = 1000

// FingerprintStat is the per-fingerprint running aggregate.
type FingerprintStat struct {
	Fingerprint  string
	Count        uint64
	TotalLatency time.Duration
	MaxLatency   time.Duration
	LastSeen     time.Time
}

// fpRow is the value stored in the eviction list; elem lets upsert move a
// row to the back (most-recently-seen end) in O(1).
type fpRow struct {
	stat FingerprintStat
	elem *list.Element
}

// fpTable bounds the set of tracked fingerprints to a fixed size, evicting
// the row with the smallest last_seen when a new fingerprint would exceed
// it. A sharded TTL cache doesn't fit here: eviction must be deterministic
// by recency over a fixed row count, not by memory pressure or age, so this
// stays on container/list the way the teacher tracks replica health state
// in a plain mutex-guarded map.
type fpTable struct {
	cap   int
	rows  map[string]*fpRow
	order *list.List // front = least recently seen, back = most recently seen
}

func newFPTable(capacity int) *fpTable {
	if capacity <= 0 {
		capacity = DefaultFingerprintTableSize
	}
	return &fpTable{
		cap:   capacity,
		rows:  make(map[string]*fpRow, capacity),
		order: list.New(),
	}
}

// upsert records one observation of fingerprint fp with the given latency
// at instant seen, evicting the least-recently-seen row if the table is
// full and fp is new.
func (t *fpTable) upsert(fp string, latency time.Duration, seen time.Time) {
	if row, ok := t.rows[fp]; ok {
		row.stat.Count++
		row.stat.TotalLatency += latency
		if latency > row.stat.MaxLatency {
			row.stat.MaxLatency = latency
		}
		row.stat.LastSeen = seen
		t.order.MoveToBack(row.elem)
		return
	}

	if len(t.rows) >= t.cap {
		t.evictOldest()
	}

	row := &fpRow{stat: FingerprintStat{
		Fingerprint:  fp,
		Count:        1,
		TotalLatency: latency,
		MaxLatency:   latency,
		LastSeen:     seen,
	}}
	row.elem = t.order.PushBack(row)
	t.rows[fp] = row
}

func (t *fpTable) evictOldest() {
	front := t.order.Front()
	if front == nil {
		return
	}
	row := front.Value.(*fpRow)
	t.order.Remove(front)
	delete(t.rows, row.stat.Fingerprint)
}

// snapshot returns the current rows in least-to-most-recently-seen order.
func (t *fpTable) snapshot() []FingerprintStat {
	out := make([]FingerprintStat, 0, len(t.rows))
	for e := t.order.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*fpRow).stat)
	}
	return out
}
