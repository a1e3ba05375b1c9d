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

// Package netutil holds address/time primitives shared by the
// group-membership and OLSR engines: the Address family wrapper, the
// microsecond-resolution Duration, the exp/mant timer codec, and the
// Internet checksum (including the MLD pseudo-header).
package netutil

import (
	"bytes"
	"net"
)

// Family identifies which protocol family an Address or engine
// instance is parameterized over.
type Family int

const (
	IPv4 Family = iota
	IPv6
)

func (f Family) String() string {
	if f == IPv6 {
		return "IPv6"
	}
	return "IPv4"
}

// Address wraps a net.IP, normalized to either a 4-byte or 16-byte
// representation so family-sensitive comparisons behave consistently
// regardless of how the value was parsed.
type Address struct {
	ip net.IP
}

// Zero is the distinguished "no source" address used for any-source
// (*,G) forwarding state in INCLUDE-with-no-sources and EXCLUDE{}
// semantics (spec §4.1 "Notification contract").
var Zero = Address{}

// NewAddress wraps ip, normalizing it to the shortest form matching
// its family.
func NewAddress(ip net.IP) Address {
	if ip == nil {
		return Address{}
	}
	if v4 := ip.To4(); v4 != nil {
		return Address{ip: v4}
	}
	return Address{ip: ip.To16()}
}

// IP returns the underlying net.IP.
func (a Address) IP() net.IP { return a.ip }

// IsZero reports whether this is the Zero/any-source sentinel.
func (a Address) IsZero() bool { return len(a.ip) == 0 }

// Family reports which address family a belongs to.
func (a Address) Family() Family {
	if len(a.ip) == net.IPv6len && a.ip.To4() == nil {
		return IPv6
	}
	return IPv4
}

// String implements fmt.Stringer.
func (a Address) String() string {
	if a.IsZero() {
		return "0.0.0.0"
	}
	return a.ip.String()
}

// Equal reports whether a and b hold the same address.
func (a Address) Equal(b Address) bool {
	return a.ip.Equal(b.ip)
}

// Less implements the "lowest unicast source address wins" ordering
// used by IGMP/MLD querier election (spec §4.1 "Querier election").
func (a Address) Less(b Address) bool {
	return bytes.Compare(a.ip, b.ip) < 0
}

// IsMulticast reports whether a is a multicast address, used by the
// destination sanity check in §4.1 step 4.
func (a Address) IsMulticast() bool {
	return a.ip.IsMulticast()
}

// IsUnicast reports whether a is usable as a packet source: globally
// or link-local unicast, never multicast or unspecified. IGMP/MLD
// packets with a non-unicast source fail the sanity check in §4.1.
func (a Address) IsUnicast() bool {
	if a.IsZero() || a.ip.IsMulticast() || a.ip.IsUnspecified() {
		return false
	}
	return true
}

// IsLinkLocalUnicast reports whether a is an IPv6 link-local unicast
// address, required of MLD packet sources (§4.1 step 4).
func (a Address) IsLinkLocalUnicast() bool {
	return a.ip.IsLinkLocalUnicast()
}

// InSubnet reports whether a falls within the subnet described by
// network (an address/prefix pair), used by the "source must be
// directly connected" sanity check (§4.1 step 4) and by OLSR's
// interface-address bookkeeping.
func InSubnet(a Address, network *net.IPNet) bool {
	if network == nil {
		return false
	}
	return network.Contains(a.ip)
}
