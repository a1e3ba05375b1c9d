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

package collab

import (
	"context"
	"time"
)

// RetryBackoff is the fixed backoff used to retry transient collaborator
// errors (spec §6.2 "Adapters retry transient errors with a fixed
// 1-second delay", §7 "Transient I/O ... Retried with 1 s backoff").
const RetryBackoff = 1 * time.Second

// Transient classifies a collaborator error as transient (worth
// retrying) versus a protocol reject (fatal, spec §7).
type Transient interface {
	Transient() bool
}

// WithRetry calls op until it succeeds, ctx is canceled, or op returns
// a non-transient error. Non-transient errors (protocol rejects) are
// returned immediately without retrying, per the propagation policy in
// spec §7.
func WithRetry(ctx context.Context, op func(context.Context) error) error {
	for {
		err := op(ctx)
		if err == nil {
			return nil
		}

		t, ok := err.(Transient)
		if !ok || !t.Transient() {
			return err
		}

		select {
		case <-time.After(RetryBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
