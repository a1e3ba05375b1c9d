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

import "testing"

func TestMaxRespCode8RoundTrip(t *testing.T) {
	cases := []uint32{0, 1, 10, 127, 128, 129, 200, 1000, 10000, 31700, 31744, 5000000}

	for _, v := range cases {
		code := EncodeMaxRespCode8(v)
		decoded := DecodeMaxRespCode8(code)

		if decoded > v && v <= 31744 {
			t.Errorf("decode(encode(%d)) = %d, want <= %d", v, decoded, v)
		}
		reencoded := EncodeMaxRespCode8(decoded)
		if reencoded != code {
			t.Errorf("encode(decode(encode(%d))) = %#x, want %#x (smallest code)", v, reencoded, code)
		}
	}
}

func TestMaxRespCode16RoundTrip(t *testing.T) {
	cases := []uint32{0, 100, 32767, 32768, 40000, 1 << 20}

	for _, v := range cases {
		code := EncodeMaxRespCode16(v)
		decoded := DecodeMaxRespCode16(code)
		if decoded > v {
			t.Errorf("decode(encode(%d)) = %d, want <= %d", v, decoded, v)
		}
	}
}

func TestQQICRoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 125, 127, 128, 255, 1000} {
		code := EncodeQQIC(v)
		decoded := DecodeQQIC(code)
		if decoded > v {
			t.Errorf("decode(encode(%d)) = %d, want <= %d", v, decoded, v)
		}
	}
}
