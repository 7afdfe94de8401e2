package rush

import (
	"slices"
	"time"
)

// Distribution summarizes attempt latencies.
type Distribution struct {
	Count int
	Min   time.Duration
	P50   time.Duration
	P75   time.Duration
	P90   time.Duration
	P95   time.Duration
	P99   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Distribute computes the distribution of latencies. The input is not modified.
func Distribute(latencies []time.Duration) Distribution {
	if len(latencies) == 0 {
		return Distribution{}
	}
	sorted := slices.Clone(latencies)
	slices.Sort(sorted)

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	n := len(sorted)
	return Distribution{
		Count: n,
		Min:   sorted[0],
		P50:   sorted[n*50/100],
		P75:   sorted[n*75/100],
		P90:   sorted[n*90/100],
		P95:   sorted[n*95/100],
		P99:   sorted[n*99/100],
		Max:   sorted[n-1],
		Avg:   sum / time.Duration(n),
	}
}
