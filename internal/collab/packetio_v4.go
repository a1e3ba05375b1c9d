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
	"fmt"
	"net"

	gokitlog "github.com/go-kit/kit/log"
	"golang.org/x/net/ipv4"

	"groupmesh.io/internal/netutil"
)

// igmpProtocolNumber is IPPROTO_IGMP.
const igmpProtocolNumber = 2

// routerAlertOption is the IPv4 Router Alert option (RFC 2113): type
// 0x94, length 4, value 0.
var routerAlertOption = [4]byte{0x94, 0x04, 0x00, 0x00}

// IPv4PacketIO is the PacketBus/MulticastGroupMembership adapter for
// IGMP. It opens a raw IPPROTO_IGMP socket with the header included so
// it can set (on send) and inspect (on receive) the Router Alert IP
// option required by spec §4.1 step 4, the same low-level approach
// golang.org/x/net-based multicast tools use for protocols that need
// header-level control beyond what a non-header-included socket
// exposes.
type IPv4PacketIO struct {
	logger gokitlog.Logger
	conn   *ipv4.RawConn
}

// NewIPv4PacketIO opens the raw IGMP socket.
func NewIPv4PacketIO(l gokitlog.Logger) (*IPv4PacketIO, error) {
	pc, err := net.ListenPacket("ip4:igmp", "0.0.0.0")
	if err != nil {
		return nil, fmt.Errorf("opening raw IGMP socket: %w", err)
	}

	raw, err := ipv4.NewRawConn(pc)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("wrapping IGMP socket: %w", err)
	}

	return &IPv4PacketIO{logger: l, conn: raw}, nil
}

// Close releases the underlying socket.
func (p *IPv4PacketIO) Close() error { return p.conn.Close() }

// SendProtocolMessage implements PacketBus.
func (p *IPv4PacketIO) SendProtocolMessage(ctx context.Context, ifName string, src, dst netutil.Address, ttl, tos int, routerAlert bool, payload []byte) error {
	iface, err := net.InterfaceByName(ifName)
	if err != nil {
		return &transientError{fmt.Errorf("resolving interface %s: %w", ifName, err)}
	}

	var opts []byte
	if routerAlert {
		opts = routerAlertOption[:]
	}

	header := &ipv4.Header{
		Version:  ipv4.Version,
		Len:      ipv4.HeaderLen + len(opts),
		TotalLen: ipv4.HeaderLen + len(opts) + len(payload),
		TTL:      ttl,
		Protocol: igmpProtocolNumber,
		Dst:      dst.IP(),
		Src:      src.IP(),
		Options:  opts,
	}
	if ttl <= 0 {
		header.TTL = 1
	}
	if tos >= 0 {
		header.TOS = tos
	}

	cm := &ipv4.ControlMessage{IfIndex: iface.Index}

	if err := p.conn.WriteTo(header, payload, cm); err != nil {
		return &transientError{fmt.Errorf("writing IGMP packet on %s: %w", ifName, err)}
	}
	return nil
}

// JoinMulticastGroup implements MulticastGroupMembership.
func (p *IPv4PacketIO) JoinMulticastGroup(ctx context.Context, ifName string, group netutil.Address) error {
	iface, err := net.InterfaceByName(ifName)
	if err != nil {
		return err
	}
	return p.conn.JoinGroup(iface, &net.IPAddr{IP: group.IP()})
}

// LeaveMulticastGroup implements MulticastGroupMembership.
func (p *IPv4PacketIO) LeaveMulticastGroup(ctx context.Context, ifName string, group netutil.Address) error {
	iface, err := net.InterfaceByName(ifName)
	if err != nil {
		return err
	}
	return p.conn.LeaveGroup(iface, &net.IPAddr{IP: group.IP()})
}

// Serve reads inbound IGMP packets until ctx is canceled, invoking
// handler with the decoded metadata and payload for each one. This is
// the engine side of recv_protocol_message (spec §6.2).
func (p *IPv4PacketIO) Serve(ctx context.Context, ifIndexToName map[int]string, handler func(PacketMeta, []byte)) error {
	buf := make([]byte, 65535)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		header, payload, cm, err := p.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Log("op", "Serve", "error", err, "msg", "failed to read IGMP packet")
			continue
		}

		ifName := ""
		if cm != nil {
			ifName = ifIndexToName[cm.IfIndex]
		}

		handler(PacketMeta{
			IfName:      ifName,
			Src:         netutil.NewAddress(header.Src),
			Dst:         netutil.NewAddress(header.Dst),
			TTL:         header.TTL,
			TOS:         header.TOS,
			RouterAlert: hasRouterAlert(header.Options),
			IPControl:   true,
		}, payload)
	}
}

func hasRouterAlert(options []byte) bool {
	for len(options) >= 4 {
		if options[0] == routerAlertOption[0] && options[1] == routerAlertOption[1] {
			return true
		}
		if options[1] == 0 {
			break
		}
		options = options[options[1]:]
	}
	return false
}

// transientError marks an error as retryable per spec §7 "Transient
// I/O".
type transientError struct{ err error }

func (e *transientError) Error() string  { return e.err.Error() }
func (e *transientError) Unwrap() error  { return e.err }
func (e *transientError) Transient() bool { return true }
