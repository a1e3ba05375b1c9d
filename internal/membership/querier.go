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
	"groupmesh.io/internal/netutil"
	"groupmesh.io/internal/timerwheel"
)

// querier holds the per-vif querier election state machine (spec
// §4.2, RFC 3376 §8.5 / RFC 3810 §9.5). A vif starts in Startup,
// sending General Queries at 1/4 the normal interval; it falls back to
// NonQuerier whenever it hears a General Query from a lower unicast
// source address, and returns to Querier if the other querier present
// timer expires first.
type querier struct {
	vif   *MembershipVif
	state QuerierState

	// queriersAddr is the address of the currently-deferred-to querier
	// while in NonQuerier state; zero while this vif is itself Querier
	// or Startup.
	queriersAddr netutil.Address

	otherQuerierTimer *timerwheel.Timer
	generalQueryTimer *timerwheel.Timer

	startupQueriesLeft uint8
}

func newQuerier(vif *MembershipVif) *querier {
	return &querier{vif: vif, state: StateStartup, startupQueriesLeft: vif.opts.StartupQueryCnt.Get()}
}

// start begins the Startup-state query cadence (spec §4.2 "On vif
// admin-up").
func (q *querier) start() {
	q.state = StateStartup
	q.sendGeneralQuery()
	q.scheduleNextGeneralQuery()
}

func (q *querier) stop() {
	if q.otherQuerierTimer != nil {
		q.otherQuerierTimer.Cancel()
	}
	if q.generalQueryTimer != nil {
		q.generalQueryTimer.Cancel()
	}
}

// onQueryReceived implements the election rule of spec §4.2: a lower
// unicast source address always wins, regardless of current state.
func (q *querier) onQueryReceived(src netutil.Address) {
	if q.vif.primaryAddr.IsZero() || src.Less(q.vif.primaryAddr) {
		if q.state != StateNonQuerier {
			q.generalQueryTimer.Cancel()
			RecordQuerierTransition(q.vif.ifName)
		}
		q.state = StateNonQuerier
		q.queriersAddr = src
		q.restartOtherQuerierTimer()
		return
	}

	// A higher or equal source address never demotes this vif; if this
	// vif is already NonQuerier under a different (lower) querier, the
	// timer is still refreshed only when src matches that querier.
	if q.state == StateNonQuerier && src.Equal(q.queriersAddr) {
		q.restartOtherQuerierTimer()
	}
}

func (q *querier) restartOtherQuerierTimer() {
	d := q.vif.opts.OtherQuerierPresentInterval.Get()
	if q.otherQuerierTimer != nil {
		q.otherQuerierTimer.Reset(d)
		return
	}
	q.otherQuerierTimer = q.vif.scheduler.AfterFunc(d, func() {
		q.vif.mu.Lock()
		defer q.vif.mu.Unlock()
		q.onOtherQuerierExpire()
	})
}

// onOtherQuerierExpire fires when no General Query has been heard from
// the deferred-to querier within OtherQuerierPresentInterval: this vif
// resumes sending queries (spec §4.2 "Querier timeout"). Called with
// vif.mu held.
func (q *querier) onOtherQuerierExpire() {
	q.state = StateQuerier
	q.queriersAddr = netutil.Zero
	RecordQuerierTransition(q.vif.ifName)
	q.sendGeneralQuery()
	q.scheduleNextGeneralQuery()
}

func (q *querier) scheduleNextGeneralQuery() {
	interval := q.vif.opts.QueryInterval.Get()
	if q.state == StateStartup {
		interval = q.vif.opts.StartupQueryInt.Get()
	}

	if q.generalQueryTimer != nil {
		q.generalQueryTimer.Reset(interval)
		return
	}
	q.generalQueryTimer = q.vif.scheduler.AfterFunc(interval, func() {
		q.vif.mu.Lock()
		defer q.vif.mu.Unlock()
		q.onGeneralQueryTimer()
	})
}

// onGeneralQueryTimer is called with vif.mu held.
func (q *querier) onGeneralQueryTimer() {
	if q.state == StateNonQuerier {
		return
	}

	if q.state == StateStartup {
		if q.startupQueriesLeft > 0 {
			q.startupQueriesLeft--
		}
		if q.startupQueriesLeft == 0 {
			q.state = StateQuerier
			RecordQuerierTransition(q.vif.ifName)
		}
	}

	q.sendGeneralQuery()
	q.scheduleNextGeneralQuery()
}

func (q *querier) sendGeneralQuery() {
	q.vif.sendGeneralQuery()
}

func (q *querier) isQuerier() bool {
	return q.state == StateQuerier || q.state == StateStartup
}
