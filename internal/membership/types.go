// Copyright 2017 Google Inc.
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

// Package membership implements the IGMPv1/v2/v3 (IPv4) and MLDv1/v2
// (IPv6) group-membership protocol engine of spec §3.2/§4.1-4.2: the
// per-vif state machine, querier election, the v3/MLDv2 source-filter
// semantics, and the JOIN/PRUNE notification contract toward upstream
// multicast routing.
package membership

import "groupmesh.io/internal/netutil"

// Version is the configured or negotiated protocol version of a vif or
// a group record.
type Version int

const (
	IGMPv1 Version = iota
	IGMPv2
	IGMPv3
	MLDv1
	MLDv2
)

func (v Version) String() string {
	switch v {
	case IGMPv1:
		return "IGMPv1"
	case IGMPv2:
		return "IGMPv2"
	case IGMPv3:
		return "IGMPv3"
	case MLDv1:
		return "MLDv1"
	case MLDv2:
		return "MLDv2"
	default:
		return "unknown"
	}
}

// Family reports the address family a version operates over.
func (v Version) Family() netutil.Family {
	if v == MLDv1 || v == MLDv2 {
		return netutil.IPv6
	}
	return netutil.IPv4
}

// older reports whether v predates other within the same family.
// dispatch does not call it: inbound messages are not checked against
// the vif's configured version, and no version-mismatch warning is
// logged.
func (v Version) older(other Version) bool {
	return int(v) < int(other) && v.Family() == other.Family()
}

// FilterMode is the source-filter mode of a GroupRecord (spec §3.2).
type FilterMode int

const (
	Include FilterMode = iota
	Exclude
)

func (m FilterMode) String() string {
	if m == Exclude {
		return "EXCLUDE"
	}
	return "INCLUDE"
}

// RecordType is the per-group-record type carried in an IGMPv3 or
// MLDv2 report (spec §4.1 "Report handling").
type RecordType int

const (
	ModeIsInclude RecordType = iota + 1
	ModeIsExclude
	ChangeToInclude
	ChangeToExclude
	AllowNewSources
	BlockOldSources
)

func (t RecordType) String() string {
	switch t {
	case ModeIsInclude:
		return "MODE_IS_INCLUDE"
	case ModeIsExclude:
		return "MODE_IS_EXCLUDE"
	case ChangeToInclude:
		return "CHANGE_TO_INCLUDE"
	case ChangeToExclude:
		return "CHANGE_TO_EXCLUDE"
	case AllowNewSources:
		return "ALLOW_NEW_SOURCES"
	case BlockOldSources:
		return "BLOCK_OLD_SOURCES"
	default:
		return "unknown"
	}
}

// VifRunState is the lifecycle state of a MembershipVif (spec §3.4).
type VifRunState int

const (
	Down VifRunState = iota
	PendingUp
	Up
	PendingDown
)

func (s VifRunState) String() string {
	switch s {
	case Down:
		return "down"
	case PendingUp:
		return "pending-up"
	case Up:
		return "up"
	case PendingDown:
		return "pending-down"
	default:
		return "unknown"
	}
}

// QuerierState is the per-vif querier election state (spec §4.2).
type QuerierState int

const (
	StateNonQuerier QuerierState = iota
	StateQuerier
	StateStartup
)

func (s QuerierState) String() string {
	switch s {
	case StateNonQuerier:
		return "non-querier"
	case StateQuerier:
		return "querier"
	case StateStartup:
		return "startup"
	default:
		return "unknown"
	}
}

// EventKind distinguishes a JOIN from a PRUNE notification (spec §4.1
// "Notification contract").
type EventKind int

const (
	EventJoin EventKind = iota
	EventPrune
)

func (k EventKind) String() string {
	if k == EventPrune {
		return "prune"
	}
	return "join"
}

// Event is delivered to every MembershipObserverRegistry subscriber
// when (source, group) forwarding state on a vif must change.
type Event struct {
	Kind   EventKind
	VifIdx int
	Source netutil.Address
	Group  netutil.Address
}
