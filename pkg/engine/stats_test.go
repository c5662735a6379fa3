package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/accordhq/accord/pkg/types"
)

func votesOf(values ...string) []*types.Vote {
	votes := make([]*types.Vote, len(values))
	for i, v := range values {
		votes[i] = &types.Vote{ParticipantID: string(rune('a' + i)), Value: v}
	}
	return votes
}

func TestComputeStats(t *testing.T) {
	tests := []struct {
		name        string
		values      []string
		mean        float64
		median      float64
		mode        string
		counted     int
		abstained   int
		noConsensus bool
	}{
		{
			name:    "two numeric votes",
			values:  []string{"5", "8"},
			mean:    6.5,
			median:  6.5,
			counted: 2,
		},
		{
			name:    "odd count median",
			values:  []string{"3", "5", "8"},
			mean:    16.0 / 3.0,
			median:  5,
			counted: 3,
		},
		{
			name:      "abstain excluded from numerics",
			values:    []string{"5", "5", "?"},
			mean:      5,
			median:    5,
			mode:      "5",
			counted:   2,
			abstained: 1,
		},
		{
			name:        "outlier spread flags no consensus",
			values:      []string{"1", "13"},
			mean:        7,
			median:      7,
			counted:     2,
			noConsensus: true,
		},
		{
			name:      "non-numeric scale still has a mode",
			values:    []string{"M", "M", "XL"},
			mode:      "M",
			counted:   0,
			abstained: 3,
		},
		{
			name:    "mode tie breaks toward smaller card",
			values:  []string{"3", "5"},
			mean:    4,
			median:  4,
			mode:    "3",
			counted: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := computeStats(votesOf(tt.values...), 8)

			assert.InDelta(t, tt.mean, stats.Mean, 0.001, "mean")
			assert.InDelta(t, tt.median, stats.Median, 0.001, "median")
			if tt.mode != "" {
				assert.Equal(t, tt.mode, stats.Mode, "mode")
			}
			assert.Equal(t, tt.counted, stats.Counted, "counted")
			assert.Equal(t, tt.abstained, stats.Abstained, "abstained")
			assert.Equal(t, tt.noConsensus, stats.NoConsensus, "no consensus")
		})
	}
}

func TestComputeStatsEmpty(t *testing.T) {
	stats := computeStats(nil, 8)
	assert.Zero(t, stats.Mean)
	assert.Zero(t, stats.Counted)
	assert.False(t, stats.NoConsensus)
}
