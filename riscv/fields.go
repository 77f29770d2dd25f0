// Copyright 2023 Stealth Rocket, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package riscv

// uf extracts an unsigned bitfield of length l starting at bit s.
func uf(v uint32, s, l uint) int64 {
	return int64((v >> s) & ((1 << l) - 1))
}

// sf extracts a signed bitfield of length l starting at bit s, sign
// extended from its topmost bit.
func sf(v uint32, s, l uint) int64 {
	return int64(v) << (64 - s - l) >> (64 - l)
}

// fieldFunc decodes one named operand out of a raw instruction word.
type fieldFunc func(insn uint32) int64

var fields = map[string]fieldFunc{
	"rd":  func(v uint32) int64 { return uf(v, 7, 5) },
	"rs1": func(v uint32) int64 { return uf(v, 15, 5) },
	"rs2": func(v uint32) int64 { return uf(v, 20, 5) },

	"imm20":      func(v uint32) int64 { return sf(v, 12, 20) << 12 },
	"jimm20":     func(v uint32) int64 { return (uf(v, 21, 10) << 1) | (uf(v, 20, 1) << 11) | (uf(v, 12, 8) << 12) | (sf(v, 31, 1) << 20) },
	"imm12":      func(v uint32) int64 { return sf(v, 20, 12) },
	"imm12hilo":  func(v uint32) int64 { return uf(v, 7, 5) | (sf(v, 25, 7) << 5) },
	"bimm12hilo": func(v uint32) int64 { return (uf(v, 8, 4) << 1) | (uf(v, 25, 6) << 5) | (uf(v, 7, 1) << 11) | (sf(v, 31, 1) << 12) },
	"shamtd":     func(v uint32) int64 { return uf(v, 20, 6) },
	"shamtw":     func(v uint32) int64 { return uf(v, 20, 5) },

	"csr":  func(v uint32) int64 { return uf(v, 20, 12) },
	"zimm": func(v uint32) int64 { return uf(v, 15, 5) },

	"rd_n0":      func(v uint32) int64 { return uf(v, 7, 5) },
	"rd_n2":      func(v uint32) int64 { return uf(v, 7, 5) },
	"rd_rs1":     func(v uint32) int64 { return uf(v, 7, 5) },
	"rd_rs1_n0":  func(v uint32) int64 { return uf(v, 7, 5) },
	"rd_p":       func(v uint32) int64 { return 8 + uf(v, 2, 3) },
	"rd_rs1_p":   func(v uint32) int64 { return 8 + uf(v, 7, 3) },

	"rs1_n0":   func(v uint32) int64 { return uf(v, 7, 5) },
	"rs1_p":    func(v uint32) int64 { return 8 + uf(v, 7, 3) },
	"c_rs1_n0": func(v uint32) int64 { return uf(v, 7, 5) },

	"rs2_p":     func(v uint32) int64 { return 8 + uf(v, 2, 3) },
	"c_rs2":     func(v uint32) int64 { return uf(v, 2, 5) },
	"c_rs2_n0":  func(v uint32) int64 { return uf(v, 2, 5) },

	"c_bimm9hilo":   func(v uint32) int64 { return (uf(v, 3, 2) << 1) + (uf(v, 10, 2) << 3) + (uf(v, 2, 1) << 5) + (uf(v, 5, 2) << 6) + (sf(v, 12, 1) << 8) },
	"c_imm12":       func(v uint32) int64 { return (uf(v, 3, 3) << 1) + (uf(v, 11, 1) << 4) + (uf(v, 2, 1) << 5) + (uf(v, 7, 1) << 6) + (uf(v, 6, 1) << 7) + (uf(v, 9, 2) << 8) + (uf(v, 8, 1) << 10) + (sf(v, 12, 1) << 11) },
	"c_imm6hilo":    func(v uint32) int64 { return uf(v, 2, 5) + (sf(v, 12, 1) << 5) },
	"c_nzimm10hilo": func(v uint32) int64 { return (uf(v, 6, 1) << 4) + (uf(v, 2, 1) << 5) + (uf(v, 5, 1) << 6) + (uf(v, 3, 2) << 7) + (sf(v, 12, 1) << 9) },
	"c_nzimm18hilo": func(v uint32) int64 { return (uf(v, 2, 5) + (sf(v, 12, 1) << 5)) << 12 },
	"c_nzimm6hilo":  func(v uint32) int64 { return uf(v, 2, 5) + (sf(v, 12, 1) << 5) },
	"c_nzuimm6hilo": func(v uint32) int64 { return uf(v, 2, 5) + (uf(v, 12, 1) << 5) },
	"c_nzuimm10":    func(v uint32) int64 { return (uf(v, 6, 1) << 2) + (uf(v, 5, 1) << 3) + (uf(v, 11, 2) << 4) + (uf(v, 7, 4) << 6) },
	"c_uimm7hilo":   func(v uint32) int64 { return (uf(v, 6, 1) << 2) + (uf(v, 10, 3) << 3) + (uf(v, 5, 1) << 6) },
	"c_uimm8hilo":   func(v uint32) int64 { return (uf(v, 10, 3) << 3) + (uf(v, 5, 2) << 6) },
	"c_uimm8sp_s":   func(v uint32) int64 { return (uf(v, 9, 4) << 2) + (uf(v, 7, 2) << 6) },
	"c_uimm9sp_s":   func(v uint32) int64 { return (uf(v, 10, 3) << 3) + (uf(v, 7, 3) << 6) },
	"c_uimm8sphilo": func(v uint32) int64 { return (uf(v, 4, 3) << 2) + (uf(v, 12, 1) << 5) + (uf(v, 2, 2) << 6) },
	"c_uimm9sphilo": func(v uint32) int64 { return (uf(v, 5, 2) << 3) + (uf(v, 12, 1) << 5) + (uf(v, 2, 3) << 6) },
}

// decodeFields evaluates every field named by enc against insn, returning
// a name-to-value map for the lifter to consume.
func decodeFields(enc Encoding, insn uint32) map[string]int64 {
	out := make(map[string]int64, len(enc.Fields))
	for _, name := range enc.Fields {
		fn, ok := fields[name]
		if !ok {
			panic("riscv: unknown field " + name)
		}
		out[name] = fn(insn)
	}
	return out
}
