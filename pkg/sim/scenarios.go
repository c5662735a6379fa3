package sim

import (
	"fmt"
	"time"
)

// Scenario is one scripted run: a seed, a fault plan and a script
// driving virtual participants. Identical seeds reproduce identical
// event orderings and outcomes, so a failing seed can be replayed as a
// regression.
type Scenario struct {
	Name        string
	Description string
	Seed        int64
	Faults      Faults
	Script      func(h *Harness) error
}

// All returns the built-in scenarios.
func All(seed int64) []Scenario {
	return []Scenario{
		BasicGame(seed),
		ConcurrentVoting(seed),
		NetworkPartition(seed),
		PlayerChurn(seed),
	}
}

// BasicGame plays one clean round: join, vote, reveal, reset. No faults;
// this is the baseline the fault scenarios are measured against.
func BasicGame(seed int64) Scenario {
	return Scenario{
		Name:        "basic_game",
		Description: "single session, full round, no faults",
		Seed:        seed,
		Script: func(h *Harness) error {
			for _, id := range []string{"alice", "bob", "carol"} {
				h.Connect(id)
				if err := h.Join("s1", id, false); err != nil {
					return err
				}
			}
			if err := h.StartVoting("alice", "checkout flow"); err != nil {
				return err
			}
			votes := []struct{ id, value string }{
				{"alice", "5"}, {"bob", "8"}, {"carol", "5"},
			}
			for _, v := range votes {
				if _, err := h.Vote(v.id, v.value); err != nil {
					return err
				}
			}
			if err := h.Reveal("alice", false); err != nil {
				return err
			}
			if err := h.Reset("alice"); err != nil {
				return err
			}
			h.Advance(time.Minute)
			return nil
		},
	}
}

// ConcurrentVoting interleaves two independent sessions and retries a
// vote command as a client would after a lost response. The retry must
// not produce a second event.
func ConcurrentVoting(seed int64) Scenario {
	return Scenario{
		Name:        "concurrent_voting",
		Description: "two sessions in parallel, duplicated command retry",
		Seed:        seed,
		Faults:      Faults{DuplicateRate: 0.3},
		Script: func(h *Harness) error {
			for i, id := range []string{"a1", "a2", "a3"} {
				h.Connect(id)
				if err := h.Join("s1", id, i == 2); err != nil {
					return err
				}
			}
			for _, id := range []string{"b1", "b2"} {
				h.Connect(id)
				if err := h.Join("s2", id, false); err != nil {
					return err
				}
			}

			if err := h.StartVoting("a1", "search index"); err != nil {
				return err
			}
			if err := h.StartVoting("b1", "rate limiter"); err != nil {
				return err
			}

			cmd, err := h.Vote("a1", "3")
			if err != nil {
				return err
			}
			// Client retry after a lost response: same correlation id.
			if err := h.Redispatch(cmd); err != nil {
				return err
			}

			if _, err := h.Vote("b1", "13"); err != nil {
				return err
			}
			if _, err := h.Vote("a2", "5"); err != nil {
				return err
			}
			if _, err := h.Vote("b2", "8"); err != nil {
				return err
			}

			if err := h.Reveal("a1", false); err != nil {
				return err
			}
			if err := h.Reveal("b1", false); err != nil {
				return err
			}
			h.Advance(time.Minute)
			return nil
		},
	}
}

// NetworkPartition drops half the players mid-round. The reveal must
// still succeed on the votes of the connected, and the partitioned side
// must converge through resync after reconnecting.
func NetworkPartition(seed int64) Scenario {
	return Scenario{
		Name:        "network_partition",
		Description: "mid-round disconnects, reveal without the partitioned, resync on return",
		Seed:        seed,
		Faults:      Faults{DropRate: 0.1},
		Script: func(h *Harness) error {
			ids := []string{"p1", "p2", "p3", "p4"}
			for _, id := range ids {
				h.Connect(id)
				if err := h.Join("s1", id, false); err != nil {
					return err
				}
			}
			if err := h.StartVoting("p1", "payment retries"); err != nil {
				return err
			}
			if _, err := h.Vote("p1", "5"); err != nil {
				return err
			}
			if _, err := h.Vote("p2", "8"); err != nil {
				return err
			}

			// The partition: p3 and p4 drop before voting, with dials
			// failing while partitioned.
			h.SetDialSuccessRate("p3", 0)
			h.SetDialSuccessRate("p4", 0)
			h.Disconnect("p3")
			h.Disconnect("p4")

			// Disconnected non-voters do not hold up the reveal.
			if err := h.Reveal("p1", false); err != nil {
				return err
			}

			// Partition heals; reconnect dials succeed again.
			h.SetDialSuccessRate("p3", 1)
			h.SetDialSuccessRate("p4", 1)
			h.Advance(5 * time.Minute)
			return nil
		},
	}
}

// PlayerChurn runs several rounds while players join, leave, disconnect
// and reconnect under drop, duplication and delay faults.
func PlayerChurn(seed int64) Scenario {
	return Scenario{
		Name:        "player_churn",
		Description: "multi-round session with randomized churn and lossy delivery",
		Seed:        seed,
		Faults: Faults{
			DropRate:      0.15,
			DuplicateRate: 0.15,
			DelayRate:     0.2,
			MaxDelay:      3 * time.Second,
		},
		Script: func(h *Harness) error {
			roster := []string{"u1", "u2", "u3", "u4", "u5"}
			for _, id := range roster {
				h.Connect(id)
				if err := h.Join("s1", id, false); err != nil {
					return err
				}
			}

			for round := 0; round < 3; round++ {
				if err := h.StartVoting("u1", fmt.Sprintf("story-%d", round)); err != nil {
					return err
				}

				// u1 stays to facilitate; the rest churn.
				if round == 1 {
					h.Disconnect("u3")
					if err := h.Leave("u4"); err != nil {
						return err
					}
				}
				if round == 2 {
					h.Advance(2 * time.Minute) // let u3 reconnect and resync
					h.Connect("u6")
					if err := h.Join("s1", "u6", false); err != nil {
						return err
					}
				}

				for _, id := range roster {
					if !h.Deliverable(id) || !h.inSession(id, "s1") {
						continue
					}
					card := []string{"2", "3", "5", "8"}[h.rng.Intn(4)]
					if _, err := h.Vote(id, card); err != nil {
						return err
					}
				}
				if round == 2 {
					if _, err := h.Vote("u6", "3"); err != nil {
						return err
					}
				}

				// The facilitator forces the reveal; churn may have left
				// stragglers without votes. The next round starts straight
				// from Revealed.
				if err := h.Reveal("u1", true); err != nil {
					return err
				}
				h.Advance(30 * time.Second)
			}
			if err := h.Reset("u1"); err != nil {
				return err
			}
			h.Advance(5 * time.Minute)
			return nil
		},
	}
}
