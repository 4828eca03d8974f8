package telemetry

// HistogramBucketEdges are the fixed latency-histogram boundaries in
// milliseconds: six buckets (<1, 1-5, 5-10, 10-25, 25-100, >=100).
var HistogramBucketEdges = [5]float64{1, 5, 10, 25, 100}

const histogramBuckets = len(HistogramBucketEdges) + 1

// bucketFor returns the histogram bucket index for a latency in
// milliseconds.
func bucketFor(ms float64) int {
	for i, edge := range HistogramBucketEdges {
		if ms < edge {
			return i
		}
	}
	return histogramBuckets - 1
}

// Stats is a read-only, point-in-time snapshot of the aggregator's state,
// consumed by the (external) UI/raw-formatter collaborators.
type Stats struct {
	OpenConnections  int64
	TotalConnections uint64
	TotalQueries     uint64
	TotalErrors      uint64
	QPS              float64
	Histogram        [histogramBuckets]uint64
	EventRing        []Observation
	FingerprintTable []FingerprintStat
	DroppedEvents    uint64
}
