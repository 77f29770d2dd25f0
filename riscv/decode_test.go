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

import "testing"

func TestDecodeCompressed(t *testing.T) {
	// c.jr ra, the canonical leaf-function return sequence.
	insn := uint32(0x8082)

	if got := Length(insn); got != 2 {
		t.Fatalf("Length(0x8082) = %d, want 2", got)
	}

	enc, ok := Decode(insn)
	if !ok {
		t.Fatalf("Decode(0x8082) failed")
	}
	if enc.Name != "c.jr" {
		t.Fatalf("Decode(0x8082).Name = %q, want c.jr", enc.Name)
	}

	f := decodeFields(enc, insn)
	rs1, ok := FromField(f["rs1_n0"])
	if !ok || rs1 != RA {
		t.Fatalf("c.jr rs1 = %v, ok=%v, want ra", rs1, ok)
	}
}

func TestDecode32Bit(t *testing.T) {
	// addi sp, sp, -16
	var insn uint32 = 0xff010113

	if got := Length(insn); got != 4 {
		t.Fatalf("Length(addi) = %d, want 4", got)
	}

	enc, ok := Decode(insn)
	if !ok {
		t.Fatalf("Decode(addi sp, sp, -16) failed")
	}
	if enc.Name != "addi" {
		t.Fatalf("Decode(...).Name = %q, want addi", enc.Name)
	}

	f := decodeFields(enc, insn)
	rd, _ := FromField(f["rd"])
	rs1, _ := FromField(f["rs1"])
	if rd != SP || rs1 != SP {
		t.Fatalf("addi rd=%v rs1=%v, want sp, sp", rd, rs1)
	}
	if f["imm12"] != -16 {
		t.Fatalf("addi imm12 = %d, want -16", f["imm12"])
	}
}

func TestDecodeUnknown(t *testing.T) {
	// 0xffffffff carries opcode 0x7f, which no known 32-bit encoding uses.
	// (0 is not unknown: it is c.unimp.)
	if _, ok := Decode(0xffffffff); ok {
		t.Fatalf("Decode(0xffffffff) unexpectedly succeeded")
	}
}

func TestRegisterString(t *testing.T) {
	if RA.String() != "ra" || SP.String() != "sp" || FP.String() != "s0" {
		t.Fatalf("register names: ra=%q sp=%q fp=%q", RA.String(), SP.String(), FP.String())
	}
	if _, ok := FromField(32); ok {
		t.Fatalf("FromField(32) unexpectedly succeeded")
	}
	if _, ok := FromField(0); ok {
		t.Fatalf("FromField(0) (x0/zero) unexpectedly succeeded")
	}
}
