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

import "sync"

// Observer receives JOIN/PRUNE notifications from the membership
// engine (spec §4.1 "Notification contract"). Implementations must
// not block; the engine's event loop is single-threaded and a blocked
// observer stalls every vif.
type Observer interface {
	OnMembershipEvent(Event)
}

// ObserverRegistry fans an Event out to every subscribed Observer. It
// is the seam between the per-vif/per-group state machines and
// upstream multicast routing (PIM, a static mroute table, or a test
// harness asserting on delivered events).
type ObserverRegistry struct {
	mu   sync.Mutex
	subs map[Observer]struct{}
}

// NewObserverRegistry returns an empty registry.
func NewObserverRegistry() *ObserverRegistry {
	return &ObserverRegistry{subs: map[Observer]struct{}{}}
}

// Subscribe registers o to receive future events.
func (r *ObserverRegistry) Subscribe(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[o] = struct{}{}
}

// Unsubscribe removes o.
func (r *ObserverRegistry) Unsubscribe(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, o)
}

// Notify delivers ev to every current subscriber.
func (r *ObserverRegistry) Notify(ev Event) {
	r.mu.Lock()
	subs := make([]Observer, 0, len(r.subs))
	for o := range r.subs {
		subs = append(subs, o)
	}
	r.mu.Unlock()

	for _, o := range subs {
		o.OnMembershipEvent(ev)
	}
}
