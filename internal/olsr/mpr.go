// Copyright 2020 Acnodal Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package olsr

import "sort"

// computeMPR implements the greedy heuristic of RFC 3626 §8.3.1: pick
// the smallest subset of the symmetric one-hop neighbors N that
// covers every strict two-hop neighbor in N2, each reachable through
// at least mprCoverage selected MPRs. Ties are broken deterministically
// (by address) so two runs over the same inputs always pick the same
// set, which keeps TC content stable between nodes that compute the
// same neighborhood independently.
func computeMPR(neighbors []*Neighbor, twoHop []*TwoHopNeighbor, mprCoverage int) map[string]bool {
	selected := map[string]bool{}

	candidates := map[string]*Neighbor{}
	for _, n := range neighbors {
		if n.isSymmetric() {
			candidates[n.MainAddr.String()] = n
		}
	}

	// cover()[y] = set of strict two-hop addresses reachable via
	// candidate y.
	cover := func() map[string]map[string]bool {
		c := map[string]map[string]bool{}
		for key := range candidates {
			c[key] = map[string]bool{}
		}
		for _, t := range twoHop {
			for _, via := range t.strictNeighbors() {
				key := via.String()
				if _, ok := candidates[key]; ok {
					c[key][t.MainAddr.String()] = true
				}
			}
		}
		return c
	}

	// uncovered tracks two-hop addresses not yet reached by mprCoverage
	// selected MPRs; need counts how many more MPRs each one lacks.
	if mprCoverage < 1 {
		mprCoverage = 1
	}
	uncovered := map[string]bool{}
	need := map[string]int{}
	for _, t := range twoHop {
		if len(t.strictNeighbors()) > 0 {
			uncovered[t.MainAddr.String()] = true
			need[t.MainAddr.String()] = mprCoverage
		}
	}

	// Step 1: WILL_ALWAYS neighbors are always MPRs.
	for key, n := range candidates {
		if n.Willingness == WillAlways {
			selected[key] = true
		}
	}

	removeCovered := func(key string, c map[string]map[string]bool) {
		for twoHopAddr := range c[key] {
			need[twoHopAddr]--
			if need[twoHopAddr] <= 0 {
				delete(uncovered, twoHopAddr)
			}
		}
	}
	for key := range selected {
		removeCovered(key, cover())
	}

	// Step 2: any two-hop neighbor reachable through exactly one
	// remaining candidate forces that candidate's selection.
	for {
		c := cover()
		changed := false
		for twoHopAddr := range uncovered {
			var only string
			count := 0
			for key, covered := range c {
				if selected[key] {
					continue
				}
				if covered[twoHopAddr] {
					only = key
					count++
				}
			}
			if count == 1 && !selected[only] {
				selected[only] = true
				removeCovered(only, c)
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	// Step 3: greedily pick the candidate covering the most remaining
	// uncovered two-hop neighbors until none remain.
	for len(uncovered) > 0 {
		c := cover()
		best := bestCoverageCandidate(candidates, selected, c, uncovered)
		if best == "" {
			break // remaining uncovered two-hop neighbors are unreachable via any symmetric neighbor
		}
		selected[best] = true
		removeCovered(best, c)
	}

	minimizeMPRSet(selected, candidates, twoHop, mprCoverage)

	return selected
}

// minimizeMPRSet implements RFC 3626 §8.3.1 Step 5 ("Minimize"):
// walking the selected MPR set in ascending willingness order, any
// non-WILL_ALWAYS MPR whose withdrawal would not drop any strict
// two-hop neighbor's remaining coverage below mprCoverage is withdrawn.
func minimizeMPRSet(selected map[string]bool, candidates map[string]*Neighbor, twoHop []*TwoHopNeighbor, mprCoverage int) {
	if mprCoverage < 1 {
		mprCoverage = 1
	}

	// coveredBy[addr] = set of currently-selected MPR keys reaching
	// that strict two-hop neighbor.
	coveredBy := map[string]map[string]bool{}
	for _, t := range twoHop {
		for _, via := range t.strictNeighbors() {
			key := via.String()
			if !selected[key] {
				continue
			}
			addr := t.MainAddr.String()
			if coveredBy[addr] == nil {
				coveredBy[addr] = map[string]bool{}
			}
			coveredBy[addr][key] = true
		}
	}

	order := make([]string, 0, len(selected))
	for key := range selected {
		order = append(order, key)
	}
	sort.Slice(order, func(i, j int) bool {
		wi, wj := candidates[order[i]].Willingness, candidates[order[j]].Willingness
		if wi != wj {
			return wi < wj
		}
		return order[i] < order[j]
	})

	for _, key := range order {
		n := candidates[key]
		if n == nil || n.Willingness == WillAlways {
			continue
		}

		withdrawable := true
		for _, by := range coveredBy {
			if by[key] && len(by) <= mprCoverage {
				withdrawable = false
				break
			}
		}
		if !withdrawable {
			continue
		}

		delete(selected, key)
		for _, by := range coveredBy {
			delete(by, key)
		}
	}
}

// bestCoverageCandidate picks, among unselected candidates, the one
// covering the most uncovered two-hop neighbors; ties go to higher
// willingness, then to the main address whose string form sorts first
// so the result is reproducible.
func bestCoverageCandidate(candidates map[string]*Neighbor, selected map[string]bool, cover map[string]map[string]bool, uncovered map[string]bool) string {
	var best string
	bestCount := -1
	var bestWill Willingness

	for key, n := range candidates {
		if selected[key] {
			continue
		}
		count := 0
		for addr := range cover[key] {
			if uncovered[addr] {
				count++
			}
		}
		if count == 0 {
			continue
		}
		switch {
		case count > bestCount:
			best, bestCount, bestWill = key, count, n.Willingness
		case count == bestCount && n.Willingness > bestWill:
			best, bestWill = key, n.Willingness
		case count == bestCount && n.Willingness == bestWill && key < best:
			best = key
		}
	}
	return best
}
