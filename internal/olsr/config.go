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

import "time"

// Tunable holds a value that is either still at its RFC default or has
// been administratively overridden, mirroring the membership engine's
// get/set/reset tunable contract.
type Tunable[T any] struct {
	value     T
	isDefault T
	set       bool
}

func newTunable[T any](def T) Tunable[T] {
	return Tunable[T]{value: def, isDefault: def}
}

func (t *Tunable[T]) Get() T         { return t.value }
func (t *Tunable[T]) Set(v T)        { t.value = v; t.set = true }
func (t *Tunable[T]) Reset()         { t.value = t.isDefault; t.set = false }
func (t *Tunable[T]) IsDefault() bool { return !t.set }

// Options holds the per-node tunables of RFC 3626 §18, each defaulted
// per the RFC's recommended values.
type Options struct {
	HelloInterval  Tunable[time.Duration]
	TCInterval     Tunable[time.Duration]
	MIDInterval    Tunable[time.Duration]
	NeighbHoldTime Tunable[time.Duration]
	TopHoldTime    Tunable[time.Duration]
	MIDHoldTime    Tunable[time.Duration]
	DupHoldTime    Tunable[time.Duration]
	Willingness    Tunable[Willingness]

	// MPRCoverage is RFC 3626 §18.7's MPR_COVERAGE: the minimum number
	// of MPRs through which each strict two-hop neighbor must remain
	// reachable, enforced by computeMPR's selection steps and its
	// minimize pass (mpr.go).
	MPRCoverage Tunable[uint8]
	// TCRedundancy selects which neighbors this node's TC messages
	// advertise (RFC 3626 §18.6, tc.go's advertisedNeighbors).
	TCRedundancy Tunable[TCRedundancy]
}

// DefaultOptions returns the RFC 3626 §18 recommended tunables.
func DefaultOptions() Options {
	return Options{
		HelloInterval:  newTunable(2 * time.Second),
		TCInterval:     newTunable(5 * time.Second),
		MIDInterval:    newTunable(5 * time.Second),
		NeighbHoldTime: newTunable(6 * time.Second),
		TopHoldTime:    newTunable(15 * time.Second),
		MIDHoldTime:    newTunable(15 * time.Second),
		DupHoldTime:    newTunable(30 * time.Second),
		Willingness:    newTunable(WillDefault),
		MPRCoverage:    newTunable[uint8](1),
		TCRedundancy:   newTunable(TCRedundancyMPRSIn),
	}
}

// Reset restores every tunable to its RFC default.
func (o *Options) Reset() {
	o.HelloInterval.Reset()
	o.TCInterval.Reset()
	o.MIDInterval.Reset()
	o.NeighbHoldTime.Reset()
	o.TopHoldTime.Reset()
	o.MIDHoldTime.Reset()
	o.DupHoldTime.Reset()
	o.Willingness.Reset()
	o.MPRCoverage.Reset()
	o.TCRedundancy.Reset()
}
