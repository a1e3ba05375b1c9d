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

import (
	"encoding/binary"
	"net"

	"groupmesh.io/internal/netutil"
)

// igmp type octet values (RFC 3376 §3, plus the DVMRP/mtrace values a
// router must still recognize and ignore per RFC 3376 §5 / the
// original ask-neighbors handling).
const (
	igmpTypeQuery      = 0x11
	igmpTypeV1Report   = 0x12
	igmpTypeDVMRP      = 0x13
	igmpTypePIMv1      = 0x14
	igmpTypeV2Report   = 0x16
	igmpTypeLeave      = 0x17
	igmpTypeMTraceResp = 0x1e
	igmpTypeMTraceReq  = 0x1f
	igmpTypeV3Report   = 0x22
)

// mld ICMPv6 type octet values (RFC 2710 §3, RFC 3810 §5).
const (
	mldTypeQuery    = 130
	mldTypeV1Report = 131
	mldTypeV1Done   = 132
	mldTypeV2Report = 143
)

// MessageKind is the decoded sum-type discriminant for an IGMP or MLD
// message (spec §4.1 "Message types").
type MessageKind int

const (
	KindQuery MessageKind = iota
	KindV1Report
	KindV2Report
	KindV3Report
	KindLeave
	KindMLDQuery
	KindMLDV1Report
	KindMLDDone
	KindMLDV2Report
	// KindOtherRouting recognizes DVMRP/PIMv1/mtrace packets arriving on
	// the IGMP protocol number so they can be logged and discarded
	// instead of raising an UnsupportedMessageType reject (spec §13).
	KindOtherRouting
)

// GroupRecordEntry is one group record of an IGMPv3/MLDv2 report.
type GroupRecordEntry struct {
	Type    RecordType
	Group   netutil.Address
	Sources []netutil.Address
	AuxData []byte
}

// Message is the decoded form of any IGMP or MLD packet this engine
// handles (spec §4.1).
type Message struct {
	Kind MessageKind

	// Query / v1/v2 report / leave.
	Group       netutil.Address
	MaxRespTime netutil.Duration
	SFlag       bool
	QRV         uint8
	QQIC        uint8
	Sources     []netutil.Address

	// v3 / MLDv2 report.
	Records []GroupRecordEntry
}

// DecodeIGMP parses an IGMP payload (the bytes following the IPv4
// header, i.e. starting at the IGMP type octet). checksum verification
// is the caller's responsibility via netutil.VerifyChecksum, since the
// vif layer needs to log the failure with context before discarding.
func DecodeIGMP(payload []byte) (*Message, error) {
	if len(payload) < 8 {
		return nil, newPacketError(LengthTooShort, "igmp payload %d bytes, want >= 8", len(payload))
	}

	typ := payload[0]
	switch typ {
	case igmpTypeQuery:
		return decodeIGMPQuery(payload)
	case igmpTypeV1Report:
		return &Message{Kind: KindV1Report, Group: netutil.NewAddress(net.IP(payload[4:8]))}, nil
	case igmpTypeV2Report:
		return &Message{Kind: KindV2Report, Group: netutil.NewAddress(net.IP(payload[4:8]))}, nil
	case igmpTypeLeave:
		return &Message{Kind: KindLeave, Group: netutil.NewAddress(net.IP(payload[4:8]))}, nil
	case igmpTypeV3Report:
		return decodeIGMPv3Report(payload)
	case igmpTypeDVMRP, igmpTypePIMv1, igmpTypeMTraceResp, igmpTypeMTraceReq:
		return &Message{Kind: KindOtherRouting}, nil
	default:
		return nil, newPacketError(UnsupportedMessageType, "igmp type 0x%02x", typ)
	}
}

func decodeIGMPQuery(payload []byte) (*Message, error) {
	group := netutil.NewAddress(net.IP(payload[4:8]))

	if len(payload) == 8 {
		// IGMPv1/v2 query: Max Resp Code is a linear tenths-of-second count.
		return &Message{
			Kind:        KindQuery,
			Group:       group,
			MaxRespTime: durationFromTenths(uint32(payload[1])),
		}, nil
	}

	if len(payload) < 12 {
		return nil, newPacketError(LengthTooShort, "igmpv3 query %d bytes, want >= 12", len(payload))
	}

	maxResp := netutil.DecodeMaxRespCode8(payload[1])
	sFlag := payload[8]&0x08 != 0
	qrv := payload[8] & 0x07
	qqic := payload[9]
	numSrc := int(binary.BigEndian.Uint16(payload[10:12]))

	want := 12 + numSrc*4
	if len(payload) < want {
		return nil, newPacketError(LengthTooShort, "igmpv3 query declares %d sources, have %d bytes", numSrc, len(payload))
	}

	srcs := make([]netutil.Address, numSrc)
	for i := 0; i < numSrc; i++ {
		off := 12 + i*4
		srcs[i] = netutil.NewAddress(net.IP(payload[off : off+4]))
	}

	return &Message{
		Kind:        KindQuery,
		Group:       group,
		MaxRespTime: durationFromTenths(maxResp),
		SFlag:       sFlag,
		QRV:         qrv,
		QQIC:        qqic,
		Sources:     srcs,
	}, nil
}

func decodeIGMPv3Report(payload []byte) (*Message, error) {
	if len(payload) < 8 {
		return nil, newPacketError(LengthTooShort, "igmpv3 report %d bytes, want >= 8", len(payload))
	}
	numRecords := int(binary.BigEndian.Uint16(payload[6:8]))

	records := make([]GroupRecordEntry, 0, numRecords)
	off := 8
	for i := 0; i < numRecords; i++ {
		if len(payload) < off+8 {
			return nil, newPacketError(LengthTooShort, "igmpv3 report record %d truncated", i)
		}
		recType := RecordType(payload[off])
		auxLen := int(payload[off+1])
		numSrc := int(binary.BigEndian.Uint16(payload[off+2 : off+4]))
		group := netutil.NewAddress(net.IP(payload[off+4 : off+8]))

		srcOff := off + 8
		want := srcOff + numSrc*4 + auxLen*4
		if len(payload) < want {
			return nil, newPacketError(LengthTooShort, "igmpv3 report record %d: declared %d sources/%d aux, have %d bytes", i, numSrc, auxLen, len(payload)-srcOff)
		}

		srcs := make([]netutil.Address, numSrc)
		for s := 0; s < numSrc; s++ {
			o := srcOff + s*4
			srcs[s] = netutil.NewAddress(net.IP(payload[o : o+4]))
		}
		aux := append([]byte(nil), payload[srcOff+numSrc*4:want]...)

		records = append(records, GroupRecordEntry{Type: recType, Group: group, Sources: srcs, AuxData: aux})
		off = want
	}

	return &Message{Kind: KindV3Report, Records: records}, nil
}

// DecodeMLD parses an ICMPv6 payload carrying an MLD message (starting
// at the ICMPv6 type octet).
func DecodeMLD(payload []byte) (*Message, error) {
	if len(payload) < 4 {
		return nil, newPacketError(LengthTooShort, "mld payload %d bytes, want >= 4", len(payload))
	}

	typ := payload[0]
	switch typ {
	case mldTypeQuery:
		return decodeMLDQuery(payload)
	case mldTypeV1Report:
		return decodeMLDv1(payload, KindMLDV1Report)
	case mldTypeV1Done:
		return decodeMLDv1(payload, KindMLDDone)
	case mldTypeV2Report:
		return decodeMLDv2Report(payload)
	default:
		return nil, newPacketError(UnsupportedMessageType, "mld type %d", typ)
	}
}

func decodeMLDv1(payload []byte, kind MessageKind) (*Message, error) {
	if len(payload) < 24 {
		return nil, newPacketError(LengthTooShort, "mldv1 message %d bytes, want >= 24", len(payload))
	}
	return &Message{
		Kind:  kind,
		Group: netutil.NewAddress(net.IP(payload[8:24])),
	}, nil
}

func decodeMLDQuery(payload []byte) (*Message, error) {
	if len(payload) < 24 {
		return nil, newPacketError(LengthTooShort, "mld query %d bytes, want >= 24", len(payload))
	}
	group := netutil.NewAddress(net.IP(payload[8:24]))

	if len(payload) == 24 {
		maxResp := uint32(binary.BigEndian.Uint16(payload[4:6]))
		return &Message{Kind: KindMLDQuery, Group: group, MaxRespTime: durationFromMillis(maxResp)}, nil
	}

	if len(payload) < 28 {
		return nil, newPacketError(LengthTooShort, "mldv2 query %d bytes, want >= 28", len(payload))
	}

	maxResp := netutil.DecodeMaxRespCode16(binary.BigEndian.Uint16(payload[4:6]))
	sFlag := payload[24]&0x08 != 0
	qrv := payload[24] & 0x07
	qqic := payload[25]
	numSrc := int(binary.BigEndian.Uint16(payload[26:28]))

	want := 28 + numSrc*16
	if len(payload) < want {
		return nil, newPacketError(LengthTooShort, "mldv2 query declares %d sources, have %d bytes", numSrc, len(payload))
	}

	srcs := make([]netutil.Address, numSrc)
	for i := 0; i < numSrc; i++ {
		off := 28 + i*16
		srcs[i] = netutil.NewAddress(net.IP(payload[off : off+16]))
	}

	return &Message{
		Kind:        KindMLDQuery,
		Group:       group,
		MaxRespTime: durationFromMillis(maxResp),
		SFlag:       sFlag,
		QRV:         qrv,
		QQIC:        qqic,
		Sources:     srcs,
	}, nil
}

func decodeMLDv2Report(payload []byte) (*Message, error) {
	if len(payload) < 8 {
		return nil, newPacketError(LengthTooShort, "mldv2 report %d bytes, want >= 8", len(payload))
	}
	numRecords := int(binary.BigEndian.Uint16(payload[6:8]))

	records := make([]GroupRecordEntry, 0, numRecords)
	off := 8
	for i := 0; i < numRecords; i++ {
		if len(payload) < off+20 {
			return nil, newPacketError(LengthTooShort, "mldv2 report record %d truncated", i)
		}
		recType := RecordType(payload[off])
		auxLen := int(payload[off+1])
		numSrc := int(binary.BigEndian.Uint16(payload[off+2 : off+4]))
		group := netutil.NewAddress(net.IP(payload[off+4 : off+20]))

		srcOff := off + 20
		want := srcOff + numSrc*16 + auxLen*4
		if len(payload) < want {
			return nil, newPacketError(LengthTooShort, "mldv2 report record %d: declared %d sources/%d aux, have %d bytes", i, numSrc, auxLen, len(payload)-srcOff)
		}

		srcs := make([]netutil.Address, numSrc)
		for s := 0; s < numSrc; s++ {
			o := srcOff + s*16
			srcs[s] = netutil.NewAddress(net.IP(payload[o : o+16]))
		}
		aux := append([]byte(nil), payload[srcOff+numSrc*16:want]...)

		records = append(records, GroupRecordEntry{Type: recType, Group: group, Sources: srcs, AuxData: aux})
		off = want
	}

	return &Message{Kind: KindMLDV2Report, Records: records}, nil
}

func durationFromTenths(tenths uint32) netutil.Duration {
	return netutil.Duration(tenths) * 100 * 1e6 // 100ms per tenth, in ns
}

func durationFromMillis(ms uint32) netutil.Duration {
	return netutil.Duration(ms) * 1e6
}

// EncodeIGMPQuery serializes a (possibly v3) Membership Query. v3Mode
// selects the 12+ byte wire format; when false the legacy 8-byte
// v1/v2 form is emitted (sources, SFlag, QRV and QQIC are ignored).
func EncodeIGMPQuery(group netutil.Address, maxResp netutil.Duration, v3Mode bool, sFlag bool, qrv, qqic uint8, sources []netutil.Address) []byte {
	if !v3Mode {
		buf := make([]byte, 8)
		buf[0] = igmpTypeQuery
		buf[1] = byte(tenthsFromDuration(maxResp))
		copy(buf[4:8], group.IP().To4())
		binary.BigEndian.PutUint16(buf[2:4], netutil.Checksum(buf))
		return buf
	}

	buf := make([]byte, 12+len(sources)*4)
	buf[0] = igmpTypeQuery
	buf[1] = netutil.EncodeMaxRespCode8(tenthsFromDuration(maxResp))
	copy(buf[4:8], group.IP().To4())
	flags := qrv & 0x07
	if sFlag {
		flags |= 0x08
	}
	buf[8] = flags
	buf[9] = qqic
	binary.BigEndian.PutUint16(buf[10:12], uint16(len(sources)))
	for i, s := range sources {
		copy(buf[12+i*4:16+i*4], s.IP().To4())
	}
	binary.BigEndian.PutUint16(buf[2:4], netutil.Checksum(buf))
	return buf
}

// EncodeIGMPSimple serializes a v1/v2-style report or leave (type is
// igmpTypeV1Report, igmpTypeV2Report, or igmpTypeLeave).
func EncodeIGMPSimple(msgType byte, group netutil.Address) []byte {
	buf := make([]byte, 8)
	buf[0] = msgType
	copy(buf[4:8], group.IP().To4())
	binary.BigEndian.PutUint16(buf[2:4], netutil.Checksum(buf))
	return buf
}

// EncodeIGMPv3Report serializes an IGMPv3 Membership Report.
func EncodeIGMPv3Report(records []GroupRecordEntry) []byte {
	size := 8
	for _, r := range records {
		size += 8 + len(r.Sources)*4 + len(r.AuxData)
	}

	buf := make([]byte, size)
	buf[0] = igmpTypeV3Report
	binary.BigEndian.PutUint16(buf[6:8], uint16(len(records)))

	off := 8
	for _, r := range records {
		buf[off] = byte(r.Type)
		buf[off+1] = byte(len(r.AuxData) / 4)
		binary.BigEndian.PutUint16(buf[off+2:off+4], uint16(len(r.Sources)))
		copy(buf[off+4:off+8], r.Group.IP().To4())
		off += 8
		for _, s := range r.Sources {
			copy(buf[off:off+4], s.IP().To4())
			off += 4
		}
		off += copy(buf[off:], r.AuxData)
	}

	binary.BigEndian.PutUint16(buf[2:4], netutil.Checksum(buf))
	return buf
}

// EncodeMLDv1 serializes a v1-style Listener Report or Done message.
func EncodeMLDv1(msgType byte, group netutil.Address, src, dst net.IP) []byte {
	buf := make([]byte, 24)
	buf[0] = msgType
	copy(buf[8:24], group.IP().To16())
	binary.BigEndian.PutUint16(buf[2:4], netutil.ChecksumWithIPv6PseudoHeader(src, dst, mldICMPv6NextHeader, buf))
	return buf
}

// EncodeMLDQuery serializes a (possibly v2) Multicast Listener Query.
func EncodeMLDQuery(group netutil.Address, maxResp netutil.Duration, v2Mode bool, sFlag bool, qrv, qqic uint8, sources []netutil.Address, src, dst net.IP) []byte {
	if !v2Mode {
		buf := make([]byte, 24)
		buf[0] = mldTypeQuery
		binary.BigEndian.PutUint16(buf[4:6], uint16(maxResp/1e6))
		copy(buf[8:24], group.IP().To16())
		binary.BigEndian.PutUint16(buf[2:4], netutil.ChecksumWithIPv6PseudoHeader(src, dst, mldICMPv6NextHeader, buf))
		return buf
	}

	buf := make([]byte, 28+len(sources)*16)
	buf[0] = mldTypeQuery
	binary.BigEndian.PutUint16(buf[4:6], netutil.EncodeMaxRespCode16(uint32(maxResp/1e6)))
	copy(buf[8:24], group.IP().To16())
	flags := qrv & 0x07
	if sFlag {
		flags |= 0x08
	}
	buf[24] = flags
	buf[25] = qqic
	binary.BigEndian.PutUint16(buf[26:28], uint16(len(sources)))
	for i, s := range sources {
		copy(buf[28+i*16:44+i*16], s.IP().To16())
	}
	binary.BigEndian.PutUint16(buf[2:4], netutil.ChecksumWithIPv6PseudoHeader(src, dst, mldICMPv6NextHeader, buf))
	return buf
}

// EncodeMLDv2Report serializes an MLDv2 Multicast Listener Report.
func EncodeMLDv2Report(records []GroupRecordEntry, src, dst net.IP) []byte {
	size := 8
	for _, r := range records {
		size += 20 + len(r.Sources)*16 + len(r.AuxData)
	}

	buf := make([]byte, size)
	buf[0] = mldTypeV2Report
	binary.BigEndian.PutUint16(buf[6:8], uint16(len(records)))

	off := 8
	for _, r := range records {
		buf[off] = byte(r.Type)
		buf[off+1] = byte(len(r.AuxData) / 4)
		binary.BigEndian.PutUint16(buf[off+2:off+4], uint16(len(r.Sources)))
		copy(buf[off+4:off+20], r.Group.IP().To16())
		off += 20
		for _, s := range r.Sources {
			copy(buf[off:off+16], s.IP().To16())
			off += 16
		}
		off += copy(buf[off:], r.AuxData)
	}

	binary.BigEndian.PutUint16(buf[2:4], netutil.ChecksumWithIPv6PseudoHeader(src, dst, mldICMPv6NextHeader, buf))
	return buf
}

// mldICMPv6NextHeader is the Next Header value used in the MLD
// pseudo-header checksum: ICMPv6.
const mldICMPv6NextHeader = 58

func tenthsFromDuration(d netutil.Duration) uint32 {
	return uint32(d / (100 * 1e6))
}
