// Package histogram holds the bucketed latency histogram shared by the live
// collector and the offline aggregator.
package histogram

import (
	"math"
	"sort"

	dto "github.com/prometheus/client_model/go"
)

// Bucket is one cumulative bucket: Cumulative samples were <= Bound.
type Bucket struct {
	Bound      float64
	Cumulative float64
}

// Data is a cumulative histogram without the +Inf bucket.
type Data struct {
	Buckets []Bucket
	Count   float64
	Sum     float64
}

// Percentile returns the bound of the first bucket whose cumulative count
// reaches Count*p. When no bucket qualifies the last bound is returned, which
// understates tails beyond the configured range; ok is false in that case.
func (d Data) Percentile(p float64) (v float64, ok bool) {
	if d.Count <= 0 || len(d.Buckets) == 0 {
		return 0, true
	}
	target := d.Count * p
	for _, b := range d.Buckets {
		if b.Cumulative >= target {
			return b.Bound, true
		}
	}
	return d.Buckets[len(d.Buckets)-1].Bound, false
}

// Quantile is Percentile without the range flag.
func (d Data) Quantile(p float64) float64 {
	v, _ := d.Percentile(p)
	return v
}

// Mean returns Sum/Count or zero for an empty histogram.
func (d Data) Mean() float64 {
	if d.Count <= 0 {
		return 0
	}
	return d.Sum / d.Count
}

// Sort orders buckets by ascending bound.
func (d *Data) Sort() {
	sort.Slice(d.Buckets, func(i, j int) bool { return d.Buckets[i].Bound < d.Buckets[j].Bound })
}

// FromMetric converts a gathered Prometheus histogram into Data.
func FromMetric(m *dto.Metric) Data {
	h := m.GetHistogram()
	if h == nil {
		return Data{}
	}
	d := Data{Count: float64(h.GetSampleCount()), Sum: h.GetSampleSum()}
	for _, b := range h.GetBucket() {
		if math.IsInf(b.GetUpperBound(), +1) {
			continue
		}
		d.Buckets = append(d.Buckets, Bucket{Bound: b.GetUpperBound(), Cumulative: float64(b.GetCumulativeCount())})
	}
	d.Sort()
	return d
}
