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

package netutil

import "time"

// Duration is a µs-resolution interval. time.Duration's native
// resolution is nanoseconds, so it satisfies spec §3.1 directly; the
// type alias exists so call sites read as protocol time, not wall time.
type Duration = time.Duration

// TimeVal is a signed microsecond timestamp. Negative values are used
// as "ignore this field" sentinels on received-packet metadata (spec
// §3.1), which time.Duration's signedness supports natively.
type TimeVal int64

// Ignore is the sentinel TimeVal meaning "no reception timestamp was
// supplied".
const Ignore TimeVal = -1

// expMant encodes/decodes the RFC 3376 §4.1.1 / RFC 3810 §5.1.3
// "exp/mant" floating point scheme used for Max Resp Code and QQIC
// fields. totalBits is the width of the on-wire code: 8 for IGMP, 16
// for MLD. Both formats reserve the top bit as a direct/floating
// selector and the next 3 bits as the exponent.
type expMant struct {
	totalBits uint
}

var (
	// igmpCode is the 8-bit Max-Resp-Code / QQIC format used by IGMPv3.
	igmpCode = expMant{totalBits: 8}
	// mldCode is the 16-bit Max-Resp-Code / QQIC format used by MLDv2.
	mldCode = expMant{totalBits: 16}
)

const expBits = 3

func (e expMant) mantBits() uint   { return e.totalBits - 1 - expBits }
func (e expMant) flagValue() uint32 { return uint32(1) << (e.totalBits - 1) }
func (e expMant) maxMant() uint32   { return uint32(1)<<e.mantBits() - 1 }
func (e expMant) highBit() uint32   { return uint32(1) << e.mantBits() }

// encode returns the smallest code whose decoded value is >= v,
// satisfying property P2 (spec §8.1).
func (e expMant) encode(v uint32) uint16 {
	if v < e.flagValue() {
		return uint16(v)
	}

	maxMant := e.maxMant()
	highBit := e.highBit()
	for exp := uint32(0); exp < 8; exp++ {
		shift := exp + 3
		for mant := uint32(0); mant <= maxMant; mant++ {
			decoded := (mant | highBit) << shift
			if decoded >= v {
				return uint16(e.flagValue()) | uint16(exp<<e.mantBits()) | uint16(mant)
			}
		}
	}
	// v exceeds the largest representable value: saturate.
	return uint16(e.flagValue()) | uint16(uint32(7)<<e.mantBits()) | uint16(maxMant)
}

// decode returns the value represented by code. decode(encode(v)) <= v
// always holds (P2).
func (e expMant) decode(code uint16) uint32 {
	v := uint32(code)
	if v < e.flagValue() {
		return v
	}
	mantBits := e.mantBits()
	mant := v & e.maxMant()
	exp := (v >> mantBits) & 0x7
	return (mant | e.highBit()) << (exp + 3)
}

// EncodeMaxRespCode8 encodes an IGMPv3 Max Resp Code / QQIC (8 bits)
// from a duration expressed in tenths of a second (the codec's
// on-wire unit per RFC 3376).
func EncodeMaxRespCode8(tenthsOfSecond uint32) uint8 {
	return uint8(igmpCode.encode(tenthsOfSecond))
}

// DecodeMaxRespCode8 is the inverse of EncodeMaxRespCode8.
func DecodeMaxRespCode8(code uint8) uint32 {
	return igmpCode.decode(uint16(code))
}

// EncodeMaxRespCode16 encodes an MLDv2 Max Resp Code / QQIC (16 bits)
// from a duration expressed in milliseconds.
func EncodeMaxRespCode16(milliseconds uint32) uint16 {
	return mldCode.encode(milliseconds)
}

// DecodeMaxRespCode16 is the inverse of EncodeMaxRespCode16.
func DecodeMaxRespCode16(code uint16) uint32 {
	return mldCode.decode(code)
}

// EncodeQQIC encodes a Querier's Query Interval Code (8 bits, shared by
// IGMPv3 and MLDv2) from a duration expressed in whole seconds.
func EncodeQQIC(seconds uint32) uint8 {
	return uint8(igmpCode.encode(seconds))
}

// DecodeQQIC is the inverse of EncodeQQIC.
func DecodeQQIC(code uint8) uint32 {
	return igmpCode.decode(uint16(code))
}

