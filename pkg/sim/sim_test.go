package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasicGame(t *testing.T) {
	report := Run(BasicGame(1))
	assert.Empty(t, report.Violations, "%v", report.Violations)
	assert.Zero(t, report.Rejections)
	// 3 joins, start, 3 votes, reveal, reset
	assert.Equal(t, 9, report.Events)
}

func TestConcurrentVoting(t *testing.T) {
	report := Run(ConcurrentVoting(7))
	assert.Empty(t, report.Violations, "%v", report.Violations)

	// The retried vote must not have produced a second event:
	// s1: 3 joins + start + 2 votes + reveal, s2: 2 joins + start + 2 votes + reveal
	assert.Equal(t, 13, report.Events)
}

func TestNetworkPartition(t *testing.T) {
	report := Run(NetworkPartition(42))
	assert.Empty(t, report.Violations, "%v", report.Violations)
	assert.GreaterOrEqual(t, report.Resyncs, 2, "both partitioned players resync on return")
}

func TestPlayerChurn(t *testing.T) {
	report := Run(PlayerChurn(99))
	assert.Empty(t, report.Violations, "%v", report.Violations)
}

func TestAllScenariosAcrossSeeds(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		for _, sc := range All(seed) {
			report := Run(sc)
			assert.Empty(t, report.Violations, "%s seed=%d: %v", sc.Name, seed, report.Violations)
		}
	}
}

func TestIdenticalSeedReproducesTrace(t *testing.T) {
	first := Run(PlayerChurn(1234))
	second := Run(PlayerChurn(1234))

	require.Empty(t, first.Violations, "%v", first.Violations)
	assert.Equal(t, first.Trace, second.Trace, "identical seed must reproduce identical event ordering")
	assert.Equal(t, first.Events, second.Events)
	assert.Equal(t, first.Resyncs, second.Resyncs)
}

func TestDifferentSeedsStillConverge(t *testing.T) {
	a := Run(PlayerChurn(5))
	b := Run(PlayerChurn(6))
	assert.Empty(t, a.Violations, "%v", a.Violations)
	assert.Empty(t, b.Violations, "%v", b.Violations)
}
