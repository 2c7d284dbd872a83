package market

import (
	"sort"
	"time"
)

// MergeTimeline unions the timestamps observed across all series into a
// deduplicated ascending timeline. An empty input yields an empty
// timeline; callers treat that as a no-op run, not an error.
func MergeTimeline(data map[string]*Series) []time.Time {
	seen := make(map[int64]time.Time)
	for _, s := range data {
		if s == nil {
			continue
		}
		for _, b := range s.Bars {
			seen[b.Timestamp.UnixNano()] = b.Timestamp
		}
	}
	out := make([]time.Time, 0, len(seen))
	for _, ts := range seen {
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Symbols returns the sorted symbol set of a data map. Symbol order
// inside one timestep must be stable so that repeated runs produce
// identical equity curves and trade logs.
func Symbols(data map[string]*Series) []string {
	out := make([]string, 0, len(data))
	for sym := range data {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
