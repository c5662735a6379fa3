package engine

import (
	"sort"
	"strconv"

	"github.com/accordhq/accord/pkg/types"
)

// computeStats aggregates revealed votes. Non-numeric cards ("?", "XL")
// are excluded from mean/median and counted as abstained; mode is
// computed over the raw card values so non-numeric scales still get a
// meaningful consensus card. Ties on mode break toward the smaller card
// value for determinism.
func computeStats(votes []*types.Vote, outlierThreshold float64) *types.VoteStats {
	stats := &types.VoteStats{}

	var numeric []float64
	counts := make(map[string]int)
	for _, v := range votes {
		counts[v.Value]++
		if n, err := strconv.ParseFloat(v.Value, 64); err == nil {
			numeric = append(numeric, n)
		} else {
			stats.Abstained++
		}
	}
	stats.Counted = len(numeric)

	if mode, ok := modeOf(counts); ok {
		stats.Mode = mode
	}

	if len(numeric) == 0 {
		return stats
	}

	sort.Float64s(numeric)

	var sum float64
	for _, n := range numeric {
		sum += n
	}
	stats.Mean = sum / float64(len(numeric))

	mid := len(numeric) / 2
	if len(numeric)%2 == 0 {
		stats.Median = (numeric[mid-1] + numeric[mid]) / 2
	} else {
		stats.Median = numeric[mid]
	}

	spread := numeric[len(numeric)-1] - numeric[0]
	stats.NoConsensus = spread > outlierThreshold

	return stats
}

func modeOf(counts map[string]int) (string, bool) {
	best := ""
	bestCount := 0
	for value, count := range counts {
		if count > bestCount || (count == bestCount && value < best) {
			best = value
			bestCount = count
		}
	}
	return best, bestCount > 0
}
