package metrics

import (
	"fmt"
	"strings"
)

var (
	httpBuckets     = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	upstreamBuckets = []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120}
)

// histogram keeps cumulative bucket counts; values above the last bound only
// show up in the +Inf bucket through count.
type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: append([]float64(nil), buckets...),
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			return
		}
	}
}

func (h *histogram) render(builder *strings.Builder, name, labels string) {
	for idx, bound := range h.buckets {
		fmt.Fprintf(builder, "%s_bucket{%s,le=\"%s\"} %d\n", name, labels, formatFloat(bound), h.counts[idx])
	}
	fmt.Fprintf(builder, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, h.count)
	fmt.Fprintf(builder, "%s_sum{%s} %s\n", name, labels, formatFloat(h.sum))
	fmt.Fprintf(builder, "%s_count{%s} %d\n", name, labels, h.count)
}
