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
	"time"

	"groupmesh.io/internal/netutil"
	"groupmesh.io/internal/timerwheel"
)

// SourceRecord is the per-source timer of a GroupRecord, present only
// while the source is still of interest (an INCLUDE source, or an
// EXCLUDE source still within its expiry window per RFC 3376 §6.4).
type SourceRecord struct {
	timer *timerwheel.Timer
}

// GroupRecord is the per-vif, per-multicast-group listener state
// machine, implementing the RFC 3376 §6.4 / RFC 3810 §7.4 report
// processing table. One GroupRecord exists per (vif, group) with at
// least one active listener or running timer.
type GroupRecord struct {
	vif   *MembershipVif
	group netutil.Address

	mode    FilterMode
	sources map[string]*SourceRecord

	// groupTimer drives the overall group existence in v1/v2
	// compatibility mode and, in v3/MLDv2 EXCLUDE mode, the interval
	// after which sources with no running timer are forgotten.
	groupTimer *timerwheel.Timer

	// compatV1, compatV2 record whether an older-version host has been
	// heard recently on this group (RFC 3376 §7.2.1 Present/Compatibility
	// Mode), forcing the vif to speak the older report/query dialect for
	// this group even though it is configured for v3.
	compatV1, compatV2 *timerwheel.Timer
}

func newGroupRecord(vif *MembershipVif, group netutil.Address, mode FilterMode) *GroupRecord {
	return &GroupRecord{
		vif:     vif,
		group:   group,
		mode:    mode,
		sources: map[string]*SourceRecord{},
	}
}

func (g *GroupRecord) isEmpty() bool {
	return g.mode == Include && len(g.sources) == 0
}

// applyV3Report folds one group record from an inbound IGMPv3/MLDv2
// report into this GroupRecord's state, following the state-transition
// table of RFC 3376 §6.4.1 / RFC 3810 §7.4.1 ("Router State" rows).
// groupMembershipInterval and lastMemberQueryTime parameterize the
// source-timer values set for newly-added or to-be-deleted sources;
// robustness and now are not consulted.
func (g *GroupRecord) applyV3Report(entry GroupRecordEntry, robustness uint8, groupMembershipInterval, lastMemberQueryTime time.Duration, now time.Time) {
	reported := addressSet(entry.Sources)

	switch entry.Type {
	case ModeIsInclude, ChangeToInclude:
		g.toInclude(reported, groupMembershipInterval, lastMemberQueryTime, entry.Type == ChangeToInclude)

	case ModeIsExclude, ChangeToExclude:
		g.toExclude(reported, groupMembershipInterval, lastMemberQueryTime, entry.Type == ChangeToExclude)

	case AllowNewSources:
		for key, addr := range reported {
			g.setSourceTimer(key, addr, groupMembershipInterval)
		}

	case BlockOldSources:
		if g.mode == Include {
			// Router state: INCLUDE (A); report BLOCK (B); sources in
			// A*B get a Last Member Query Time lower bound, A-B untouched.
			for key, addr := range reported {
				if rec, ok := g.sources[key]; ok {
					g.lowerSourceTimer(key, rec, lastMemberQueryTime)
					_ = addr
				}
			}
		} else {
			// EXCLUDE (X,Y); report BLOCK (A); Group Timer applies to
			// sources in A-X-Y, which get the Group Timer's own current
			// remaining value (RFC 3376 Table 6.4.1), not Last Member
			// Query Time.
			groupRemaining := lastMemberQueryTime
			if g.groupTimer != nil {
				groupRemaining = g.groupTimer.Remaining()
			}
			for key, addr := range reported {
				if _, inY := g.sources[key]; !inY {
					g.setSourceTimerLowerBound(key, addr, groupRemaining)
				}
			}
		}
	}

	g.pruneIfEmpty()
}

// toInclude implements the Router State transitions when a report
// declares the new listener state to be INCLUDE(reported) (MODE_IS_INCLUDE)
// or moves toward it (CHANGE_TO_INCLUDE, which additionally lower-bounds
// the timers of sources the host is dropping).
func (g *GroupRecord) toInclude(reported map[string]netutil.Address, groupMembershipInterval, lastMemberQueryTime time.Duration, isChange bool) {
	if g.mode == Exclude {
		// EXCLUDE -> INCLUDE only happens via an explicit CHANGE_TO_INCLUDE
		// with the filter-mode switch already reflected by the group
		// timer expiring; a MODE_IS_INCLUDE/CHANGE_TO_INCLUDE record while
		// still in EXCLUDE just seeds/refreshes the forwarded source set,
		// mode flips when the group timer later expires (vif.go's
		// onGroupTimerExpire).
	}

	if isChange {
		for key, rec := range g.sources {
			if _, keep := reported[key]; !keep {
				g.lowerSourceTimer(key, rec, lastMemberQueryTime)
			}
		}
	}

	for key, addr := range reported {
		g.setSourceTimer(key, addr, groupMembershipInterval)
	}

	if g.mode == Include && len(reported) == 0 && !isChange {
		// MODE_IS_INCLUDE with an empty source list and no prior state:
		// nothing to do, pruneIfEmpty will drop the record.
	}
}

// toExclude implements the transitions toward EXCLUDE(reported)
// (MODE_IS_EXCLUDE / CHANGE_TO_EXCLUDE).
func (g *GroupRecord) toExclude(reported map[string]netutil.Address, groupMembershipInterval, lastMemberQueryTime time.Duration, isChange bool) {
	wasInclude := g.mode == Include

	if isChange && wasInclude {
		// INCLUDE (A) -> CHANGE_TO_EXCLUDE (B): Group Timer is set to
		// GMI, sources in A-B deleted, B-A get GMI, A*B timers
		// unchanged.
		for key := range g.sources {
			if _, keep := reported[key]; !keep {
				delete(g.sources, key)
			}
		}
	} else if !wasInclude {
		// EXCLUDE (X,Y) -> CHANGE_TO_EXCLUDE/MODE_IS_EXCLUDE (A): Y-A
		// deleted, A-X-Y get GMI, X&A / Y&A timers unchanged.
		for key, rec := range g.sources {
			if _, keep := reported[key]; !keep {
				g.cancelSource(key, rec)
			}
		}
	}

	for key, addr := range reported {
		if _, exists := g.sources[key]; !exists {
			g.setSourceTimer(key, addr, groupMembershipInterval)
		}
	}

	g.mode = Exclude
	g.restartGroupTimer(groupMembershipInterval)
}

func (g *GroupRecord) setSourceTimer(key string, addr netutil.Address, d time.Duration) {
	if rec, ok := g.sources[key]; ok {
		rec.timer.Reset(d)
		return
	}
	g.sources[key] = &SourceRecord{timer: g.vif.scheduler.AfterFunc(d, func() { g.vif.onSourceExpire(g, key) })}
	_ = addr
}

func (g *GroupRecord) setSourceTimerLowerBound(key string, addr netutil.Address, d time.Duration) {
	g.sources[key] = &SourceRecord{timer: g.vif.scheduler.AfterFunc(d, func() { g.vif.onSourceExpire(g, key) })}
	_ = addr
}

func (g *GroupRecord) lowerSourceTimer(key string, rec *SourceRecord, lastMemberQueryTime time.Duration) {
	rec.timer.Reset(lastMemberQueryTime)
}

func (g *GroupRecord) cancelSource(key string, rec *SourceRecord) {
	rec.timer.Cancel()
	delete(g.sources, key)
}

func (g *GroupRecord) restartGroupTimer(d time.Duration) {
	if g.groupTimer != nil {
		g.groupTimer.Reset(d)
		return
	}
	g.groupTimer = g.vif.scheduler.AfterFunc(d, func() { g.vif.onGroupTimerExpire(g) })
}

// pruneIfEmpty removes the record from its vif when it has reverted to
// INCLUDE with no sources, the terminal "forget this group" state of
// invariant (iii).
func (g *GroupRecord) pruneIfEmpty() {
	if g.isEmpty() {
		g.vif.forgetGroup(g.group)
	}
}

func addressSet(addrs []netutil.Address) map[string]netutil.Address {
	m := make(map[string]netutil.Address, len(addrs))
	for _, a := range addrs {
		m[a.String()] = a
	}
	return m
}
