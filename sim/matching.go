package sim

import (
	"cmp"
	"slices"
)

// Pair is a partnership formed in one tick.
type Pair struct {
	A, B     AgentID // A < B
	Affinity float64
}

type edge struct {
	lo, hi   *Agent // lo.ID < hi.ID
	affinity float64
}

// MatchPartners pairs seekers greedily: candidate edges are scored, sorted by
// affinity (desc), then by the lower id, then the higher id, and accepted
// while both ends are still free. Each seeker considers only its K nearest
// opposite-sex seekers by age.
// MatchPartners does not mutate anything; the caller links the pairs.
func MatchPartners(pop *Population, rates TickRates, seekers []*Agent) []Pair {
	life := rates.model.Life
	var females, males []*Agent
	for _, a := range seekers {
		if a.Sex == Female {
			females = append(females, a)
		} else {
			males = append(males, a)
		}
	}
	if len(females) == 0 || len(males) == 0 {
		return nil
	}
	byAge := func(a, b *Agent) int {
		if c := cmp.Compare(a.Age, b.Age); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	}
	slices.SortFunc(females, byAge)
	slices.SortFunc(males, byAge)

	k := max(life.CandidatesPerAgent, 1)
	seen := make(map[[2]AgentID]bool)
	var edges []edge
	addEdges := func(from []*Agent, to []*Agent) {
		for _, a := range from {
			for _, b := range nearestByAge(to, a.Age, k) {
				lo, hi := a, b
				if hi.ID < lo.ID {
					lo, hi = hi, lo
				}
				key := [2]AgentID{lo.ID, hi.ID}
				if seen[key] {
					continue
				}
				seen[key] = true
				if pop.Related(lo, hi) {
					continue
				}
				aff := rates.PartnerAffinity(lo, hi)
				if aff <= 0 || aff < life.MinAffinity {
					continue
				}
				edges = append(edges, edge{lo: lo, hi: hi, affinity: aff})
			}
		}
	}
	addEdges(females, males)
	addEdges(males, females)

	slices.SortFunc(edges, func(x, y edge) int {
		if c := cmp.Compare(y.affinity, x.affinity); c != 0 {
			return c
		}
		if c := cmp.Compare(x.lo.ID, y.lo.ID); c != 0 {
			return c
		}
		return cmp.Compare(x.hi.ID, y.hi.ID)
	})

	taken := make(map[AgentID]bool)
	var pairs []Pair
	for _, e := range edges {
		if taken[e.lo.ID] || taken[e.hi.ID] {
			continue
		}
		taken[e.lo.ID] = true
		taken[e.hi.ID] = true
		pairs = append(pairs, Pair{A: e.lo.ID, B: e.hi.ID, Affinity: e.affinity})
	}
	return pairs
}

// nearestByAge returns up to k agents from sorted whose ages are closest to
// age, expanding outward from the insertion point. Ties prefer the younger
// side, which is the lower index.
func nearestByAge(sorted []*Agent, age, k int) []*Agent {
	i, _ := slices.BinarySearchFunc(sorted, age, func(a *Agent, t int) int {
		return cmp.Compare(a.Age, t)
	})
	lo, hi := i-1, i
	out := make([]*Agent, 0, k)
	for len(out) < k && (lo >= 0 || hi < len(sorted)) {
		switch {
		case lo < 0:
			out = append(out, sorted[hi])
			hi++
		case hi >= len(sorted):
			out = append(out, sorted[lo])
			lo--
		case age-sorted[lo].Age <= sorted[hi].Age-age:
			out = append(out, sorted[lo])
			lo--
		default:
			out = append(out, sorted[hi])
			hi++
		}
	}
	return out
}
