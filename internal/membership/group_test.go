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

	"groupmesh.io/internal/netutil"
)

func TestV3ReportModeIsIncludeCreatesGroup(t *testing.T) {
	v, _, members := newTestVif(t, IGMPv3)

	group := netutil.NewAddress(net.IPv4(232, 1, 1, 1))
	source := netutil.NewAddress(net.IPv4(10, 0, 0, 9))

	v.mu.Lock()
	v.onV3Report([]GroupRecordEntry{{Type: ModeIsInclude, Group: group, Sources: []netutil.Address{source}}})
	v.mu.Unlock()

	if len(v.groups) != 1 {
		t.Fatalf("got %d group records, want 1", len(v.groups))
	}
	rec := v.groups[group.String()]
	if rec.mode != Include {
		t.Fatalf("mode = %v, want Include", rec.mode)
	}
	if _, ok := rec.sources[source.String()]; !ok {
		t.Fatalf("source %s not tracked", source)
	}

	evs := members.snapshot()
	if len(evs) != 1 || evs[0].Kind != EventJoin {
		t.Fatalf("events = %+v, want single EventJoin", evs)
	}
}

// TestINCLUDEEmptySetIsPruned verifies invariant (iii): a group that
// reverts to INCLUDE with no sources is forgotten and a PRUNE fires.
func TestINCLUDEEmptySetIsPruned(t *testing.T) {
	v, _, members := newTestVif(t, IGMPv3)

	group := netutil.NewAddress(net.IPv4(232, 1, 1, 2))
	source := netutil.NewAddress(net.IPv4(10, 0, 0, 9))

	v.mu.Lock()
	v.onV3Report([]GroupRecordEntry{{Type: ModeIsInclude, Group: group, Sources: []netutil.Address{source}}})
	v.mu.Unlock()

	// CHANGE_TO_INCLUDE{} lowers the dropped source's timer to Last
	// Member Query Time (2 x 10ms here); the record goes once it expires.
	v.mu.Lock()
	v.opts.LastMemberQueryInt.Set(10 * time.Millisecond)
	v.onV3Report([]GroupRecordEntry{{Type: ChangeToInclude, Group: group, Sources: nil}})
	v.mu.Unlock()

	var stillExists bool
	for deadline := time.Now().Add(2 * time.Second); ; time.Sleep(5 * time.Millisecond) {
		v.mu.Lock()
		_, stillExists = v.groups[group.String()]
		v.mu.Unlock()
		if !stillExists || time.Now().After(deadline) {
			break
		}
	}
	if stillExists {
		t.Fatalf("group record survived an empty-INCLUDE transition")
	}

	evs := members.snapshot()
	if len(evs) < 2 {
		t.Fatalf("events = %+v, want at least a join then a prune", evs)
	}
	last := evs[len(evs)-1]
	if last.Kind != EventPrune {
		t.Fatalf("last event = %+v, want EventPrune", last)
	}
}

func TestModeIsExcludeSetsGroupTimerAndMode(t *testing.T) {
	v, _, _ := newTestVif(t, IGMPv3)

	group := netutil.NewAddress(net.IPv4(232, 1, 1, 3))
	source := netutil.NewAddress(net.IPv4(10, 0, 0, 10))

	v.mu.Lock()
	v.onV3Report([]GroupRecordEntry{{Type: ModeIsExclude, Group: group, Sources: []netutil.Address{source}}})
	v.mu.Unlock()

	v.mu.Lock()
	rec := v.groups[group.String()]
	v.mu.Unlock()

	if rec.mode != Exclude {
		t.Fatalf("mode = %v, want Exclude", rec.mode)
	}
	if rec.groupTimer == nil || !rec.groupTimer.Active() {
		t.Fatalf("group timer not running after MODE_IS_EXCLUDE")
	}
}

func TestLegacyJoinThenLeaveStartsLastMemberQuery(t *testing.T) {
	v, bus, _ := newTestVif(t, IGMPv2)

	// Force this vif to be the querier immediately, rather than waiting
	// out the startup query count, so Leave processing is deterministic.
	v.mu.Lock()
	v.querier.state = StateQuerier
	v.mu.Unlock()

	group := netutil.NewAddress(net.IPv4(232, 1, 1, 4))

	v.mu.Lock()
	v.onLegacyJoin(group)
	v.mu.Unlock()

	before := bus.count()

	v.mu.Lock()
	v.onLegacyLeave(group)
	v.mu.Unlock()

	if bus.count() <= before {
		t.Fatalf("expected a group-specific query to be sent on Leave")
	}

	v.mu.Lock()
	rec, ok := v.groups[group.String()]
	v.mu.Unlock()
	if !ok {
		t.Fatalf("group record was removed immediately instead of entering last-member-query")
	}
	if rec.groupTimer == nil || !rec.groupTimer.Active() {
		t.Fatalf("group timer not lower-bounded by Leave processing")
	}
}

func TestAllowNewSourcesAddsWithoutChangingMode(t *testing.T) {
	v, _, _ := newTestVif(t, IGMPv3)

	group := netutil.NewAddress(net.IPv4(232, 1, 1, 5))
	s1 := netutil.NewAddress(net.IPv4(10, 0, 0, 1))
	s2 := netutil.NewAddress(net.IPv4(10, 0, 0, 2))

	v.mu.Lock()
	v.onV3Report([]GroupRecordEntry{{Type: ModeIsInclude, Group: group, Sources: []netutil.Address{s1}}})
	v.onV3Report([]GroupRecordEntry{{Type: AllowNewSources, Group: group, Sources: []netutil.Address{s2}}})
	v.mu.Unlock()

	v.mu.Lock()
	rec := v.groups[group.String()]
	v.mu.Unlock()

	if rec.mode != Include {
		t.Fatalf("mode = %v, want Include", rec.mode)
	}
	if len(rec.sources) != 2 {
		t.Fatalf("got %d sources, want 2", len(rec.sources))
	}
}

// TestBlockOldSourcesUsesGroupTimerRemaining verifies RFC 3376 Table
// 6.4.1: a BLOCK_OLD_SOURCES record in EXCLUDE mode lower-bounds a
// newly reported A-X-Y source to the Group Timer's own remaining
// value, not Last Member Query Time (which defaults far shorter).
func TestBlockOldSourcesUsesGroupTimerRemaining(t *testing.T) {
	v, _, _ := newTestVif(t, IGMPv3)

	group := netutil.NewAddress(net.IPv4(232, 1, 1, 6))
	existing := netutil.NewAddress(net.IPv4(10, 0, 0, 20))
	blocked := netutil.NewAddress(net.IPv4(10, 0, 0, 21))

	v.mu.Lock()
	v.onV3Report([]GroupRecordEntry{{Type: ModeIsExclude, Group: group, Sources: []netutil.Address{existing}}})
	v.mu.Unlock()

	v.mu.Lock()
	v.onV3Report([]GroupRecordEntry{{Type: BlockOldSources, Group: group, Sources: []netutil.Address{blocked}}})
	rec := v.groups[group.String()]
	newRec, ok := rec.sources[blocked.String()]
	v.mu.Unlock()

	require.True(t, ok, "blocked source not tracked after BLOCK_OLD_SOURCES")

	lmqt := time.Duration(v.opts.LastMemberQueryCnt.Get()) * v.opts.LastMemberQueryInt.Get()
	assert.Greater(t, newRec.timer.Remaining(), lmqt*5, "source timer should track the Group Timer's remaining value, not Last Member Query Time")
}
