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

import "testing"

func symNeighbor(mainAddr string, will Willingness) *Neighbor {
	n := newNeighbor(addr(mainAddr))
	n.Willingness = will
	n.links["x"] = &LogicalLink{linkType: LinkSymmetric}
	return n
}

func twoHopVia(twoHopAddr string, via ...string) *TwoHopNeighbor {
	t := newTwoHopNeighbor(addr(twoHopAddr))
	for _, v := range via {
		t.via[v] = &TwoHopLink{Neighbor: addr(v), TwoHop: addr(twoHopAddr), isStrict: true}
	}
	return t
}

func TestMPRCoversEveryStrictTwoHopNeighbor(t *testing.T) {
	n1 := symNeighbor("10.0.0.2", WillDefault)
	n2 := symNeighbor("10.0.0.3", WillDefault)
	neighbors := []*Neighbor{n1, n2}

	// 10.0.0.4 reachable only via n1, 10.0.0.5 reachable only via n2:
	// both must be selected.
	twoHop := []*TwoHopNeighbor{
		twoHopVia("10.0.0.4", "10.0.0.2"),
		twoHopVia("10.0.0.5", "10.0.0.3"),
	}

	selected := computeMPR(neighbors, twoHop, 1)
	if !selected["10.0.0.2"] || !selected["10.0.0.3"] {
		t.Fatalf("selected = %v, want both forced by sole coverage", selected)
	}
}

func TestMPRPicksMinimalCoveringSet(t *testing.T) {
	n1 := symNeighbor("10.0.0.2", WillDefault)
	n2 := symNeighbor("10.0.0.3", WillDefault)
	neighbors := []*Neighbor{n1, n2}

	// Both two-hop neighbors reachable via n1 alone, n2 not needed.
	twoHop := []*TwoHopNeighbor{
		twoHopVia("10.0.0.4", "10.0.0.2"),
		twoHopVia("10.0.0.5", "10.0.0.2"),
	}

	selected := computeMPR(neighbors, twoHop, 1)
	if !selected["10.0.0.2"] {
		t.Fatalf("expected 10.0.0.2 selected, got %v", selected)
	}
	if selected["10.0.0.3"] {
		t.Fatalf("10.0.0.3 unnecessarily selected: %v", selected)
	}
}

func TestMPRAlwaysSelectsWillAlwaysNeighbor(t *testing.T) {
	n1 := symNeighbor("10.0.0.2", WillAlways)
	neighbors := []*Neighbor{n1}

	selected := computeMPR(neighbors, nil, 1)
	if !selected["10.0.0.2"] {
		t.Fatalf("WILL_ALWAYS neighbor not selected: %v", selected)
	}
}

// TestMinimizeMPRSetWithdrawsRedundantCoverage verifies RFC 3626
// §8.3.1 Step 5: of two MPRs covering the exact same two-hop
// neighbor, the lower-willingness one is withdrawn once coverage
// without it still meets MPR_COVERAGE, and the remaining one stays to
// preserve that coverage.
func TestMinimizeMPRSetWithdrawsRedundantCoverage(t *testing.T) {
	n1 := symNeighbor("10.0.0.2", WillDefault)
	n2 := symNeighbor("10.0.0.3", WillHigh)
	candidates := map[string]*Neighbor{"10.0.0.2": n1, "10.0.0.3": n2}
	selected := map[string]bool{"10.0.0.2": true, "10.0.0.3": true}
	twoHop := []*TwoHopNeighbor{twoHopVia("10.0.0.9", "10.0.0.2", "10.0.0.3")}

	minimizeMPRSet(selected, candidates, twoHop, 1)

	if selected["10.0.0.2"] {
		t.Fatalf("lower-willingness redundant MPR should have been withdrawn: %v", selected)
	}
	if !selected["10.0.0.3"] {
		t.Fatalf("remaining MPR should stay selected to preserve coverage: %v", selected)
	}
}

func TestMPRIgnoresNonStrictTwoHopNeighbors(t *testing.T) {
	n1 := symNeighbor("10.0.0.2", WillDefault)
	neighbors := []*Neighbor{n1}

	t2 := newTwoHopNeighbor(addr("10.0.0.9"))
	t2.via["10.0.0.2"] = &TwoHopLink{Neighbor: addr("10.0.0.2"), TwoHop: addr("10.0.0.9"), isStrict: false}

	selected := computeMPR(neighbors, []*TwoHopNeighbor{t2}, 1)
	if len(selected) != 0 {
		t.Fatalf("non-strict two-hop neighbor should not force any MPR selection, got %v", selected)
	}
}
