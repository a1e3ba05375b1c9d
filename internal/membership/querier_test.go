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

package membership

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupmesh.io/internal/collab"
	"groupmesh.io/internal/netutil"
)

func TestQuerierStartsInStartupAndSelfPromotes(t *testing.T) {
	v, _, _ := newTestVif(t, IGMPv2)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.querier.state != StateStartup {
		t.Fatalf("state = %v, want StateStartup", v.querier.state)
	}
	if !v.querier.isQuerier() {
		t.Fatalf("isQuerier() = false during startup, want true")
	}
}

// TestLowerSourceAddressWinsElection verifies spec §4.2's "lowest
// unicast source address wins" rule regardless of current state.
func TestLowerSourceAddressWinsElection(t *testing.T) {
	v, _, _ := newTestVif(t, IGMPv2)

	lower := netutil.NewAddress(net.IPv4(10, 0, 0, 1))
	if !lower.Less(v.primaryAddr) {
		t.Fatalf("test fixture address %s is not lower than vif address %s", lower, v.primaryAddr)
	}

	v.dispatch(collab.PacketMeta{IfName: v.ifName, Src: lower}, &Message{Kind: KindQuery})

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.querier.state != StateNonQuerier {
		t.Fatalf("state = %v, want StateNonQuerier after hearing a lower-address query", v.querier.state)
	}
	if !v.querier.queriersAddr.Equal(lower) {
		t.Fatalf("queriersAddr = %v, want %v", v.querier.queriersAddr, lower)
	}
}

// TestHigherSourceAddressDoesNotDemote verifies the converse: hearing
// a query from a higher unicast address never knocks this vif out of
// Querier state.
func TestHigherSourceAddressDoesNotDemote(t *testing.T) {
	v, _, _ := newTestVif(t, IGMPv2)

	v.mu.Lock()
	v.querier.state = StateQuerier
	v.mu.Unlock()

	higher := netutil.NewAddress(net.IPv4(255, 255, 255, 254))

	v.dispatch(collab.PacketMeta{IfName: v.ifName, Src: higher}, &Message{Kind: KindQuery})

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.querier.state != StateQuerier {
		t.Fatalf("state = %v, want StateQuerier to survive a higher-address query", v.querier.state)
	}
}

// TestNonQuerierAdoptsQRVAndQQIC verifies the Adopt-from-querier rule:
// a non-querier takes on the Robustness Variable and Query Interval
// carried by a received query, falling back to its own configured
// default when the field is the zero sentinel.
func TestNonQuerierAdoptsQRVAndQQIC(t *testing.T) {
	v, _, _ := newTestVif(t, IGMPv3)

	lower := netutil.NewAddress(net.IPv4(10, 0, 0, 1))

	v.dispatch(collab.PacketMeta{IfName: v.ifName, Src: lower}, &Message{Kind: KindQuery, QRV: 6, QQIC: 60})

	v.mu.Lock()
	require.False(t, v.querier.isQuerier(), "fixture should have been demoted to non-querier")
	assert.Equal(t, uint8(6), v.opts.RobustnessVariable.Get())
	assert.Equal(t, 60*time.Second, v.opts.QueryInterval.Get())
	v.mu.Unlock()

	v.dispatch(collab.PacketMeta{IfName: v.ifName, Src: lower}, &Message{Kind: KindQuery, QRV: 0, QQIC: 0})

	v.mu.Lock()
	defer v.mu.Unlock()
	assert.True(t, v.opts.RobustnessVariable.IsDefault(), "QRV=0 should revert to the configured default")
	assert.True(t, v.opts.QueryInterval.IsDefault(), "QQIC=0 should revert to the configured default")
}

// TestQuerierDoesNotAdoptQRVAndQQIC verifies the querier itself never
// adopts these fields from another query (it is the one setting them).
func TestQuerierDoesNotAdoptQRVAndQQIC(t *testing.T) {
	v, _, _ := newTestVif(t, IGMPv2)

	v.mu.Lock()
	v.querier.state = StateQuerier
	v.mu.Unlock()

	higher := netutil.NewAddress(net.IPv4(255, 255, 255, 254))
	v.dispatch(collab.PacketMeta{IfName: v.ifName, Src: higher}, &Message{Kind: KindQuery, QRV: 6, QQIC: 60})

	v.mu.Lock()
	defer v.mu.Unlock()
	assert.True(t, v.opts.RobustnessVariable.IsDefault(), "querier must not adopt QRV from another query")
}

// TestGroupSpecificQueryLowersGroupTimer verifies spec §4.1's
// non-querier group-timer-lowering rule: a Group-Specific Query whose
// Last Member Query Count * Max Resp Time is shorter than the current
// group timer lowers it to that value.
func TestGroupSpecificQueryLowersGroupTimer(t *testing.T) {
	v, _, _ := newTestVif(t, IGMPv3)

	lower := netutil.NewAddress(net.IPv4(10, 0, 0, 1))
	group := netutil.NewAddress(net.IPv4(232, 1, 1, 9))

	v.mu.Lock()
	rec := v.groupOrCreate(group, Exclude)
	rec.restartGroupTimer(1 * time.Hour)
	v.mu.Unlock()

	v.dispatch(collab.PacketMeta{IfName: v.ifName, Src: lower}, &Message{Kind: KindQuery, Group: group, MaxRespTime: 1 * time.Second})

	v.mu.Lock()
	defer v.mu.Unlock()
	require.False(t, v.querier.isQuerier())
	assert.Less(t, rec.groupTimer.Remaining(), 1*time.Hour, "group timer should have been lowered")
}
