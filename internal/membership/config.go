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

import "time"

// Tunable holds a value that is either still at its RFC default or has
// been administratively overridden (spec §6.3 "get/set/reset").
// isDefault lets Reset restore the original value without the caller
// having to remember it separately.
type Tunable[T any] struct {
	value     T
	isDefault T
	set       bool
}

func newTunable[T any](def T) Tunable[T] {
	return Tunable[T]{value: def, isDefault: def}
}

// Get returns the current value.
func (t *Tunable[T]) Get() T { return t.value }

// Set overrides the value.
func (t *Tunable[T]) Set(v T) { t.value = v; t.set = true }

// Reset restores the RFC default.
func (t *Tunable[T]) Reset() { t.value = t.isDefault; t.set = false }

// IsDefault reports whether the value has never been overridden.
func (t *Tunable[T]) IsDefault() bool { return !t.set }

// Options holds the per-vif tunables of spec §6.3, each defaulted per
// RFC 3376 §8 / RFC 3810 §9.
type Options struct {
	RobustnessVariable Tunable[uint8]
	QueryInterval      Tunable[time.Duration]
	QueryResponseInt   Tunable[time.Duration]
	LastMemberQueryInt Tunable[time.Duration]
	LastMemberQueryCnt Tunable[uint8]
	StartupQueryInt    Tunable[time.Duration]
	StartupQueryCnt    Tunable[uint8]
	OtherQuerierPresentInterval Tunable[time.Duration]

	// RouterAlertCheck, when set, requires the IP Router Alert option on
	// inbound listener (MLD) messages, rejecting any that lack it (spec
	// §6.3 "router-alert-check", §4.1 step 4). Disabled by default,
	// matching the original's ip_router_alert_option_check(false).
	RouterAlertCheck Tunable[bool]
}

// DefaultOptions returns the RFC-default tunables. OtherQuerierPresentInterval
// is derived from the defaults of RobustnessVariable/QueryInterval/
// QueryResponseInt per RFC 3376 §8.5, once, here; it is not recomputed
// when those three later change (adopted QRV/QQIC included).
func DefaultOptions() Options {
	o := Options{
		RobustnessVariable: newTunable[uint8](2),
		QueryInterval:      newTunable(125 * time.Second),
		QueryResponseInt:   newTunable(10 * time.Second),
		LastMemberQueryInt: newTunable(1 * time.Second),
		LastMemberQueryCnt: newTunable[uint8](2),
		StartupQueryInt:    newTunable(125 * time.Second / 4),
		StartupQueryCnt:    newTunable[uint8](2),
		RouterAlertCheck:   newTunable(false),
	}
	o.OtherQuerierPresentInterval = newTunable(o.otherQuerierPresentDefault())
	return o
}

func (o *Options) otherQuerierPresentDefault() time.Duration {
	return time.Duration(o.RobustnessVariable.Get())*o.QueryInterval.Get() + o.QueryResponseInt.Get()/2
}

// Reset restores every tunable to its RFC default, including the
// adopted robustness/QQIC values a non-querier may have picked up from
// the current querier (spec §13 "config reset clears adopted QRV/QQIC";
// adoption itself happens in MembershipVif.dispatch's KindQuery path).
func (o *Options) Reset() {
	o.RobustnessVariable.Reset()
	o.QueryInterval.Reset()
	o.QueryResponseInt.Reset()
	o.LastMemberQueryInt.Reset()
	o.LastMemberQueryCnt.Reset()
	o.StartupQueryInt.Reset()
	o.StartupQueryCnt.Reset()
	o.OtherQuerierPresentInterval.Reset()
	o.RouterAlertCheck.Reset()
}
