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

import "fmt"

// ProtoError reports a malformed inbound OLSR packet or message. Like
// the membership engine's PacketError, these are logged and counted,
// never fatal: one bad datagram from a neighbor must not bring the
// face down.
type ProtoError struct {
	Msg string
}

func (e *ProtoError) Error() string { return e.Msg }

func newProtoError(format string, args ...interface{}) *ProtoError {
	return &ProtoError{Msg: fmt.Sprintf(format, args...)}
}

// ConfigError describes an invalid tunable value. Tunable.Set performs
// no validation, and nothing in this package returns one.
type ConfigError struct {
	Key string
	Msg string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Msg)
}
