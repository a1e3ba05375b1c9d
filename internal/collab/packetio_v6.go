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
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv6"

	"groupmesh.io/internal/netutil"
)

// mldICMPv6ProtocolNumber is the ICMPv6 protocol number carrying MLD
// messages.
const mldICMPv6ProtocolNumber = 58

// IPv6PacketIO is the PacketBus/MulticastGroupMembership adapter for
// MLD. Unlike IPv4, Linux does not support header-included raw IPv6
// sockets, so this adapter has no access to the Hop-by-Hop header: the
// routerAlert argument of SendProtocolMessage is not applied, and
// Serve does not read the Router Alert option of received packets
// (see Serve). The checksum is computed by the engine over the IPv6
// pseudo-header (spec §6.1).
type IPv6PacketIO struct {
	logger gokitlog.Logger
	conn   *ipv6.PacketConn
}

// NewIPv6PacketIO opens the ICMPv6 socket used for MLD.
func NewIPv6PacketIO(l gokitlog.Logger) (*IPv6PacketIO, error) {
	pc, err := icmp.ListenPacket("ip6:ipv6-icmp", "::")
	if err != nil {
		return nil, fmt.Errorf("opening ICMPv6 socket: %w", err)
	}

	p := pc.IPv6PacketConn()
	if err := p.SetControlMessage(ipv6.FlagSrc|ipv6.FlagDst|ipv6.FlagInterface|ipv6.FlagHopLimit, true); err != nil {
		pc.Close()
		return nil, fmt.Errorf("enabling MLD control messages: %w", err)
	}

	return &IPv6PacketIO{logger: l, conn: p}, nil
}

// Close releases the underlying socket.
func (p *IPv6PacketIO) Close() error { return p.conn.Close() }

// SendProtocolMessage implements PacketBus.
func (p *IPv6PacketIO) SendProtocolMessage(ctx context.Context, ifName string, src, dst netutil.Address, ttl, tos int, routerAlert bool, payload []byte) error {
	iface, err := net.InterfaceByName(ifName)
	if err != nil {
		return &transientError{fmt.Errorf("resolving interface %s: %w", ifName, err)}
	}

	hopLimit := ttl
	if hopLimit <= 0 {
		hopLimit = 1
	}
	if err := p.conn.SetHopLimit(hopLimit); err != nil {
		return &transientError{fmt.Errorf("setting hop limit: %w", err)}
	}
	if err := p.conn.SetMulticastInterface(iface); err != nil {
		return &transientError{fmt.Errorf("setting multicast interface: %w", err)}
	}

	cm := &ipv6.ControlMessage{IfIndex: iface.Index, HopLimit: hopLimit}
	if _, err := p.conn.WriteTo(payload, cm, &net.UDPAddr{IP: dst.IP()}); err != nil {
		return &transientError{fmt.Errorf("writing MLD packet on %s: %w", ifName, err)}
	}
	return nil
}

// JoinMulticastGroup implements MulticastGroupMembership.
func (p *IPv6PacketIO) JoinMulticastGroup(ctx context.Context, ifName string, group netutil.Address) error {
	iface, err := net.InterfaceByName(ifName)
	if err != nil {
		return err
	}
	return p.conn.JoinGroup(iface, &net.IPAddr{IP: group.IP()})
}

// LeaveMulticastGroup implements MulticastGroupMembership.
func (p *IPv6PacketIO) LeaveMulticastGroup(ctx context.Context, ifName string, group netutil.Address) error {
	iface, err := net.InterfaceByName(ifName)
	if err != nil {
		return err
	}
	return p.conn.LeaveGroup(iface, &net.IPAddr{IP: group.IP()})
}

// Serve reads inbound MLD packets until ctx is canceled. RouterAlert is
// reported true for every datagram: the socket is opened without
// Hop-by-Hop option reporting, so the option's actual presence is not
// checked.
func (p *IPv6PacketIO) Serve(ctx context.Context, ifIndexToName map[int]string, handler func(PacketMeta, []byte)) error {
	buf := make([]byte, 65535)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, cm, src, err := p.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Log("op", "Serve", "error", err, "msg", "failed to read MLD packet")
			continue
		}

		ifName := ""
		hopLimit := -1
		var dst net.IP
		if cm != nil {
			ifName = ifIndexToName[cm.IfIndex]
			hopLimit = cm.HopLimit
			dst = cm.Dst
		}

		srcIP := src.(*net.IPAddr).IP

		handler(PacketMeta{
			IfName:      ifName,
			Src:         netutil.NewAddress(srcIP),
			Dst:         netutil.NewAddress(dst),
			TTL:         hopLimit,
			TOS:         -1,
			RouterAlert: true,
			IPControl:   true,
		}, buf[:n])
	}
}
