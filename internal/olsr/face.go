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

import (
	"context"
	"net"
	"sync"

	gokitlog "github.com/go-kit/kit/log"

	"groupmesh.io/internal/collab"
	"groupmesh.io/internal/netutil"
)

// Face is one admin-up interface the OLSR engine floods and listens
// on (spec §3.1 "Face"). mySeqNum is the per-face counter behind
// nextSeqNum: it is incremented for every message sequence number and
// every packet sequence number drawn from this face.
type Face struct {
	Name        string
	Index       int
	LocalAddr   netutil.Address
	Subnet      *net.IPNet
	MTU         int
	Willingness Willingness

	mu       sync.Mutex
	mySeqNum uint16
}

func (f *Face) nextSeqNum() uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mySeqNum++
	return f.mySeqNum
}

// FaceManager owns the set of admin-up faces this node floods OLSR
// traffic on, and the low-level send/flood primitives shared by the
// HELLO and TC emitters (spec §3.1/§4.7).
type FaceManager struct {
	logger gokitlog.Logger
	bus    collab.PacketBus

	mu    sync.Mutex
	faces map[int]*Face
}

// NewFaceManager constructs an empty FaceManager.
func NewFaceManager(logger gokitlog.Logger, bus collab.PacketBus) *FaceManager {
	return &FaceManager{logger: logger, bus: bus, faces: map[int]*Face{}}
}

// AddFace registers a face; a second call for the same index is a
// no-op, matching the membership engine's AddVif idempotency.
func (m *FaceManager) AddFace(info collab.InterfaceInfo) *Face {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.faces[info.Index]; ok {
		return f
	}
	mtu := info.MTU
	if mtu <= 0 {
		mtu = 1500
	}
	f := &Face{Name: info.Name, Index: info.Index, LocalAddr: info.PrimaryAddr, Subnet: info.Subnet, MTU: mtu, Willingness: WillDefault}
	m.faces[info.Index] = f
	return f
}

// RemoveFace discards the face for ifIndex.
func (m *FaceManager) RemoveFace(ifIndex int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.faces, ifIndex)
}

// Face returns the face for ifIndex, or nil.
func (m *FaceManager) Face(ifIndex int) *Face {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.faces[ifIndex]
}

// Faces returns a snapshot of every registered face.
func (m *FaceManager) Faces() []*Face {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Face, 0, len(m.faces))
	for _, f := range m.faces {
		out = append(out, f)
	}
	return out
}

// Send transmits payload out a single face to dst (used by HELLO,
// which is only ever sent link-local, one face at a time).
func (m *FaceManager) Send(ctx context.Context, f *Face, dst netutil.Address, payload []byte) error {
	return collab.WithRetry(ctx, func(ctx context.Context) error {
		return m.bus.SendProtocolMessage(ctx, f.Name, f.LocalAddr, dst, 1, -1, false, payload)
	})
}

// Flood transmits payload out every registered face except skip
// (RFC 3626 §3.4.1 "Default Forwarding Algorithm" step applies this to
// every interface but the one the message arrived on need not be
// excluded for origination, only for reforwarding via forward.go).
func (m *FaceManager) Flood(ctx context.Context, dst netutil.Address, payload []byte, skip *Face) {
	for _, f := range m.Faces() {
		if f == skip {
			continue
		}
		if err := m.Send(ctx, f, dst, payload); err != nil {
			m.logger.Log("op", "Flood", "face", f.Name, "error", err)
		}
	}
}
