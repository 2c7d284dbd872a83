package market

import (
	"fmt"
	"sort"
	"time"
)

// Resample aggregates bars into coarser buckets aligned to the epoch.
// Open is the first bar's, high/low are extremes, close is the last
// bar's and volume sums. Bucket must be a positive multiple of the
// source cadence for clean alignment, but only positivity is enforced.
func Resample(s *Series, bucket time.Duration) (*Series, error) {
	if bucket <= 0 {
		return nil, fmt.Errorf("bucket %v must be positive", bucket)
	}
	bucketMs := bucket.Milliseconds()

	agg := make(map[int64]*Bar)
	var order []int64
	for _, b := range s.Bars {
		key := (b.Timestamp.UnixMilli() / bucketMs) * bucketMs
		cur, ok := agg[key]
		if !ok {
			nb := b
			nb.Timestamp = time.UnixMilli(key).UTC()
			agg[key] = &nb
			order = append(order, key)
			continue
		}
		if b.High > cur.High {
			cur.High = b.High
		}
		if b.Low < cur.Low {
			cur.Low = b.Low
		}
		cur.Close = b.Close
		cur.Volume += b.Volume
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	bars := make([]Bar, len(order))
	for i, key := range order {
		bars[i] = *agg[key]
	}
	return NewSeries(s.Symbol, bars), nil
}
