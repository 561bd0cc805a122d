package api

import (
	"sort"
)

// HistogramBucket counts latency observations at or below UpperBoundMs
// (and above the previous bucket's bound).
type HistogramBucket struct {
	UpperBoundMs float64 `json:"upperBoundMs"`
	Count        uint64  `json:"count"`
}

// LatencyHistogram is a fixed-bucket latency distribution reported by a
// worker. Buckets are kept sorted by upper bound. Histograms from different
// workers may use different bucket boundaries; Merge takes the union.
type LatencyHistogram struct {
	Buckets []HistogramBucket `json:"buckets"`
}

// DefaultLatencyBounds are the bucket upper bounds (milliseconds) workers use
// unless configured otherwise.
var DefaultLatencyBounds = []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

// NewLatencyHistogram returns an empty histogram with the given bucket upper
// bounds. Bounds are sorted and de-duplicated.
func NewLatencyHistogram(boundsMs []float64) LatencyHistogram {
	sorted := append([]float64{}, boundsMs...)
	sort.Float64s(sorted)
	buckets := make([]HistogramBucket, 0, len(sorted))
	for _, bound := range sorted {
		if n := len(buckets); n > 0 && buckets[n-1].UpperBoundMs == bound {
			continue
		}
		buckets = append(buckets, HistogramBucket{UpperBoundMs: bound})
	}
	return LatencyHistogram{Buckets: buckets}
}

// Observe records one latency sample. Samples beyond the last bound are
// counted in the last bucket.
func (h *LatencyHistogram) Observe(ms float64) {
	if len(h.Buckets) == 0 {
		return
	}
	for i := range h.Buckets {
		if ms <= h.Buckets[i].UpperBoundMs {
			h.Buckets[i].Count++
			return
		}
	}
	h.Buckets[len(h.Buckets)-1].Count++
}

// TotalCount returns the number of observations across all buckets.
func (h LatencyHistogram) TotalCount() uint64 {
	var total uint64
	for _, b := range h.Buckets {
		total += b.Count
	}
	return total
}

// Merge combines two histograms into a new one. Buckets with equal bounds
// have their counts summed; distinct bounds are unioned. Merge is commutative
// and associative, so merging a set of worker histograms yields the same
// result regardless of order.
func (h LatencyHistogram) Merge(other LatencyHistogram) LatencyHistogram {
	merged := make([]HistogramBucket, 0, len(h.Buckets)+len(other.Buckets))
	i, j := 0, 0
	for i < len(h.Buckets) && j < len(other.Buckets) {
		a, b := h.Buckets[i], other.Buckets[j]
		switch {
		case a.UpperBoundMs == b.UpperBoundMs:
			merged = append(merged, HistogramBucket{UpperBoundMs: a.UpperBoundMs, Count: a.Count + b.Count})
			i++
			j++
		case a.UpperBoundMs < b.UpperBoundMs:
			merged = append(merged, a)
			i++
		default:
			merged = append(merged, b)
			j++
		}
	}
	merged = append(merged, h.Buckets[i:]...)
	merged = append(merged, other.Buckets[j:]...)
	return LatencyHistogram{Buckets: merged}
}

// Quantile returns the latency (milliseconds) at quantile q in [0, 1],
// linearly interpolated within the containing bucket. An empty histogram
// yields 0.
func (h LatencyHistogram) Quantile(q float64) float64 {
	total := h.TotalCount()
	if total == 0 || len(h.Buckets) == 0 {
		return 0
	}
	if q < 0 {
		q = 0
	}
	if q > 1 {
		q = 1
	}

	rank := q * float64(total)
	var cumulative uint64
	lowerBound := 0.0
	for _, b := range h.Buckets {
		if b.Count > 0 {
			upper := float64(cumulative + b.Count)
			if rank <= upper {
				within := (rank - float64(cumulative)) / float64(b.Count)
				return lowerBound + within*(b.UpperBoundMs-lowerBound)
			}
			cumulative += b.Count
		}
		lowerBound = b.UpperBoundMs
	}
	return h.Buckets[len(h.Buckets)-1].UpperBoundMs
}
