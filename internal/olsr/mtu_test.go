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

import (
	"testing"

	"groupmesh.io/internal/netutil"
)

func manyAddrs(n int) []netutil.Address {
	out := make([]netutil.Address, n)
	for i := range out {
		out[i] = addr("10.0.0.1")
	}
	return out
}

func TestChunkTCNeighborsFitsUnderBody(t *testing.T) {
	neighbors := manyAddrs(100)
	chunks := chunkTCNeighbors(neighbors, 64)

	if len(chunks) < 2 {
		t.Fatalf("expected the 100-address list to split, got %d chunk(s)", len(chunks))
	}
	var total int
	for _, c := range chunks {
		if size := 4 + len(c)*4; size > 64 {
			t.Fatalf("chunk encodes to %d bytes, exceeds body budget 64", size)
		}
		total += len(c)
	}
	if total != 100 {
		t.Fatalf("total addresses across chunks = %d, want 100", total)
	}
}

func TestChunkTCNeighborsEmptyYieldsOneChunk(t *testing.T) {
	chunks := chunkTCNeighbors(nil, 64)
	if len(chunks) != 1 || len(chunks[0]) != 0 {
		t.Fatalf("chunks = %v, want a single empty chunk", chunks)
	}
}

func TestChunkHelloGroupsSplitsOversizedGroup(t *testing.T) {
	groups := []HelloLinkGroup{
		{LinkType: LinkSymmetric, NeighborType: NeighborSymmetric, Addresses: manyAddrs(50)},
	}
	chunks := chunkHelloGroups(groups, 64)
	if len(chunks) < 2 {
		t.Fatalf("expected the oversized group to span multiple HELLOs, got %d", len(chunks))
	}

	var total int
	for _, chunk := range chunks {
		for _, g := range chunk {
			total += len(g.Addresses)
		}
	}
	if total != 50 {
		t.Fatalf("total addresses across HELLO chunks = %d, want 50", total)
	}
}

func TestChunkHelloGroupsKeepsSmallGroupsTogether(t *testing.T) {
	groups := []HelloLinkGroup{
		{LinkType: LinkSymmetric, NeighborType: NeighborSymmetric, Addresses: manyAddrs(2)},
		{LinkType: LinkAsymmetric, NeighborType: NeighborNotNeighbor, Addresses: manyAddrs(2)},
	}
	chunks := chunkHelloGroups(groups, 1500)
	if len(chunks) != 1 || len(chunks[0]) != 2 {
		t.Fatalf("small groups should fit in a single HELLO, got %v", chunks)
	}
}
