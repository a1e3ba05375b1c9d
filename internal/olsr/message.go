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
	"encoding/binary"
	"net"
	"time"

	"groupmesh.io/internal/netutil"
)

// OLSR message types (RFC 3626 §3.3).
const (
	msgTypeHello = 1
	msgTypeTC    = 2
	msgTypeMID   = 3
)

// Link Code neighbor-type bits (RFC 3626 §6.1.1, low 2 bits) and
// link-type bits (high 2 bits of the low nibble).
const (
	neighUnspec = 0
	neighSym    = 1
	neighMPR    = 2
	neighNot    = 3

	linkUnspecCode = 0
	linkAsymCode   = 1
	linkSymCode    = 2
	linkLostCode   = 3
)

func linkCode(lt int, nt int) uint8 { return uint8(nt) | uint8(lt)<<2 }
func splitLinkCode(code uint8) (linkType, neighborType int) {
	return int(code>>2) & 0x3, int(code) & 0x3
}

// linkTypeFromWire/linkTypeToWire and neighborTypeFromWire/
// neighborTypeToWire translate between the 2-bit wire codes above and
// this package's exported LinkType/NeighborType, so the rest of the
// engine never deals in raw Link Code bits.
func linkTypeFromWire(code int) LinkType {
	switch code {
	case linkAsymCode:
		return LinkAsymmetric
	case linkSymCode:
		return LinkSymmetric
	case linkLostCode:
		return LinkLost
	default:
		return LinkUnspecified
	}
}

func linkTypeToWire(lt LinkType) int {
	switch lt {
	case LinkSymmetric, LinkMPR:
		return linkSymCode
	case LinkAsymmetric:
		return linkAsymCode
	case LinkLost:
		return linkLostCode
	default:
		return linkUnspecCode
	}
}

func neighborTypeFromWire(code int) NeighborType {
	switch code {
	case neighSym:
		return NeighborSymmetric
	case neighMPR:
		return NeighborMPR
	default:
		return NeighborNotNeighbor
	}
}

func neighborTypeToWire(nt NeighborType) int {
	switch nt {
	case NeighborSymmetric:
		return neighSym
	case NeighborMPR:
		return neighMPR
	default:
		return neighNot
	}
}

// Message is the decoded form of one OLSR message (HELLO, TC, or MID).
type Message struct {
	Type       int
	Originator netutil.Address
	TTL        uint8
	HopCount   uint8
	SeqNum     uint16
	VTime      time.Duration

	Hello *HelloBody
	TC    *TCBody
	MID   *MIDBody

	// Raw is the message header plus body exactly as received, for the
	// default forwarding rule to relay without re-encoding.
	Raw []byte
}

// HelloLinkGroup is one Link Code group of a HELLO message: every
// address in Addresses shares the same (LinkType, NeighborType) pair
// (RFC 3626 §6.1).
type HelloLinkGroup struct {
	LinkType     LinkType
	NeighborType NeighborType
	Addresses    []netutil.Address
}

// HelloBody is the parsed payload of a HELLO message (RFC 3626 §6.1).
type HelloBody struct {
	HTime       time.Duration
	Willingness Willingness
	Groups      []HelloLinkGroup
}

// TCBody is the parsed payload of a Topology Control message (RFC 3626
// §9.1): the originator's full set of MPR selectors as of ANSN.
type TCBody struct {
	ANSN      uint16
	Neighbors []netutil.Address
}

// MIDBody is the parsed payload of a Multiple Interface Declaration
// message (RFC 3626 §5.1): the originator's other interface addresses.
type MIDBody struct {
	Addresses []netutil.Address
}

// decodeMessage parses one OLSR message starting at its message
// header.
func decodeMessage(buf []byte) (*Message, int, error) {
	if len(buf) < 12 {
		return nil, 0, newProtoError("message header %d bytes, want >= 12", len(buf))
	}

	msgType := int(buf[0])
	vtime := decodeVTime(buf[1])
	msgSize := int(binary.BigEndian.Uint16(buf[2:4]))
	if msgSize > len(buf) || msgSize < 12 {
		return nil, 0, newProtoError("message size %d invalid (have %d)", msgSize, len(buf))
	}
	originator := netutil.NewAddress(net.IP(buf[4:8]))
	ttl := buf[8]
	hopCount := buf[9]
	seqNum := binary.BigEndian.Uint16(buf[10:12])

	body := buf[12:msgSize]

	m := &Message{
		Type:       msgType,
		Originator: originator,
		TTL:        ttl,
		HopCount:   hopCount,
		SeqNum:     seqNum,
		VTime:      vtime,
	}

	var err error
	switch msgType {
	case msgTypeHello:
		m.Hello, err = decodeHelloBody(body)
	case msgTypeTC:
		m.TC, err = decodeTCBody(body)
	case msgTypeMID:
		m.MID = decodeMIDBody(body)
	default:
		// Unknown message type: still a valid message for forwarding
		// purposes, just nothing this node acts on directly.
	}
	if err != nil {
		return nil, 0, err
	}
	m.Raw = buf[:msgSize]

	return m, msgSize, nil
}

func decodeHelloBody(body []byte) (*HelloBody, error) {
	if len(body) < 4 {
		return nil, newProtoError("hello body %d bytes, want >= 4", len(body))
	}
	htime := decodeVTime(body[2])
	willingness := Willingness(body[3])

	var groups []HelloLinkGroup
	off := 4
	for off < len(body) {
		if len(body)-off < 4 {
			return nil, newProtoError("hello link group truncated")
		}
		code := body[off]
		size := int(binary.BigEndian.Uint16(body[off+2 : off+4]))
		if size < 4 || off+size > len(body) {
			return nil, newProtoError("hello link group size %d invalid", size)
		}
		lt, nt := splitLinkCode(code)

		var addrs []netutil.Address
		for a := off + 4; a+4 <= off+size; a += 4 {
			addrs = append(addrs, netutil.NewAddress(net.IP(body[a:a+4])))
		}
		groups = append(groups, HelloLinkGroup{LinkType: linkTypeFromWire(lt), NeighborType: neighborTypeFromWire(nt), Addresses: addrs})
		off += size
	}

	return &HelloBody{HTime: htime, Willingness: willingness, Groups: groups}, nil
}

func decodeTCBody(body []byte) (*TCBody, error) {
	if len(body) < 4 {
		return nil, newProtoError("tc body %d bytes, want >= 4", len(body))
	}
	ansn := binary.BigEndian.Uint16(body[0:2])

	var neighbors []netutil.Address
	for off := 4; off+4 <= len(body); off += 4 {
		neighbors = append(neighbors, netutil.NewAddress(net.IP(body[off:off+4])))
	}
	return &TCBody{ANSN: ansn, Neighbors: neighbors}, nil
}

func decodeMIDBody(body []byte) *MIDBody {
	var addrs []netutil.Address
	for off := 0; off+4 <= len(body); off += 4 {
		addrs = append(addrs, netutil.NewAddress(net.IP(body[off:off+4])))
	}
	return &MIDBody{Addresses: addrs}
}

// encodeHello serializes a HELLO message.
func encodeHello(originator netutil.Address, seqNum uint16, vtime, htime time.Duration, willingness Willingness, groups []HelloLinkGroup) []byte {
	bodySize := 4
	for _, g := range groups {
		bodySize += 4 + len(g.Addresses)*4
	}

	buf := make([]byte, 12+bodySize)
	encodeMessageHeader(buf, msgTypeHello, originator, 1, 0, seqNum, vtime, 12+bodySize)

	body := buf[12:]
	body[2] = encodeVTime(htime)
	body[3] = byte(willingness)

	off := 4
	for _, g := range groups {
		size := 4 + len(g.Addresses)*4
		body[off] = linkCode(linkTypeToWire(g.LinkType), neighborTypeToWire(g.NeighborType))
		binary.BigEndian.PutUint16(body[off+2:off+4], uint16(size))
		a := off + 4
		for _, addr := range g.Addresses {
			copy(body[a:a+4], addr.IP().To4())
			a += 4
		}
		off += size
	}

	return buf
}

// encodeTC serializes a Topology Control message.
func encodeTC(originator netutil.Address, seqNum uint16, vtime time.Duration, ttl uint8, ansn uint16, neighbors []netutil.Address) []byte {
	bodySize := 4 + len(neighbors)*4
	buf := make([]byte, 12+bodySize)
	encodeMessageHeader(buf, msgTypeTC, originator, ttl, 0, seqNum, vtime, 12+bodySize)

	body := buf[12:]
	binary.BigEndian.PutUint16(body[0:2], ansn)
	off := 4
	for _, n := range neighbors {
		copy(body[off:off+4], n.IP().To4())
		off += 4
	}
	return buf
}

// encodeMID serializes a Multiple Interface Declaration message.
func encodeMID(originator netutil.Address, seqNum uint16, vtime time.Duration, addrs []netutil.Address) []byte {
	bodySize := len(addrs) * 4
	buf := make([]byte, 12+bodySize)
	encodeMessageHeader(buf, msgTypeMID, originator, 255, 0, seqNum, vtime, 12+bodySize)

	body := buf[12:]
	off := 0
	for _, a := range addrs {
		copy(body[off:off+4], a.IP().To4())
		off += 4
	}
	return buf
}

func encodeMessageHeader(buf []byte, msgType int, originator netutil.Address, ttl, hopCount uint8, seqNum uint16, vtime time.Duration, msgSize int) {
	buf[0] = byte(msgType)
	buf[1] = encodeVTime(vtime)
	binary.BigEndian.PutUint16(buf[2:4], uint16(msgSize))
	copy(buf[4:8], originator.IP().To4())
	buf[8] = ttl
	buf[9] = hopCount
	binary.BigEndian.PutUint16(buf[10:12], seqNum)
}

// encodePacket wraps one or more already-encoded messages in the
// 4-octet OLSR packet header (RFC 3626 §3.3).
func encodePacket(seqNum uint16, messages ...[]byte) []byte {
	size := 4
	for _, m := range messages {
		size += len(m)
	}
	buf := make([]byte, 4, size)
	binary.BigEndian.PutUint16(buf[0:2], uint16(size))
	binary.BigEndian.PutUint16(buf[2:4], seqNum)
	for _, m := range messages {
		buf = append(buf, m...)
	}
	return buf
}

// decodePacket splits an inbound OLSR packet into its constituent
// messages.
func decodePacket(buf []byte) ([]*Message, error) {
	if len(buf) < 4 {
		return nil, newProtoError("packet %d bytes, want >= 4", len(buf))
	}
	packetLen := int(binary.BigEndian.Uint16(buf[0:2]))
	if packetLen > len(buf) {
		return nil, newProtoError("packet length %d exceeds datagram (%d)", packetLen, len(buf))
	}

	var msgs []*Message
	off := 4
	for off < packetLen {
		m, size, err := decodeMessage(buf[off:packetLen])
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
		off += size
	}
	return msgs, nil
}

// decodeVTime/encodeVTime implement the 8-bit Validity Time and Htime
// format: the high nibble is a mantissa a and the low nibble an
// exponent b, and a code decodes to (16+a) * 2^b / 16 seconds. This
// layout differs from the IGMPv3/MLDv2 exp/mant codes in netutil and
// shares no code with them.
func decodeVTime(code byte) time.Duration {
	mant := uint32(code>>4) & 0xf
	exp := uint32(code) & 0xf
	seconds := float64(16+mant) * pow2(float64(exp)) / 16.0
	return time.Duration(seconds * float64(time.Second))
}

func encodeVTime(d time.Duration) byte {
	seconds := d.Seconds()
	for exp := 0; exp < 16; exp++ {
		scale := pow2(float64(exp))
		for mant := 0; mant < 16; mant++ {
			v := float64(16+mant) * scale / 16.0
			if v >= seconds {
				return byte(mant<<4) | byte(exp)
			}
		}
	}
	return 0xff
}

func pow2(exp float64) float64 {
	v := 1.0
	for i := 0; i < int(exp); i++ {
		v *= 2
	}
	return v
}
