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

package logging

import (
	"sync"
	"time"
)

// RateLimiter drops repeated log keys that fire more often than once
// per window. Packet handlers see a flood of identical malformed-packet
// or version-mismatch warnings from a single misbehaving host; §4.1 and
// §7 of the spec require these to be logged but rate-limited.
type RateLimiter struct {
	window time.Duration

	mu   sync.Mutex
	next map[string]time.Time
}

// NewRateLimiter returns a limiter that allows one log line per key
// every window.
func NewRateLimiter(window time.Duration) *RateLimiter {
	return &RateLimiter{window: window, next: map[string]time.Time{}}
}

// Allow reports whether a log line for key may be emitted now, and
// records that it was.
func (r *RateLimiter) Allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.next[key]; ok && now.Before(t) {
		return false
	}
	r.next[key] = now.Add(r.window)
	return true
}
