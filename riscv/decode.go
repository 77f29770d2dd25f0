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

// Encoding describes one matched instruction form: its mnemonic, the
// mask/value pair that identified it, and the ordered field names a
// caller should decode to get its operands.
type Encoding struct {
	Name   string
	Mask   uint32
	Value  uint32
	Fields []string
}

var encodings32 = []Encoding{
	// rv_i
	{"lui", 0x0000007f, 0x00000037, []string{"rd", "imm20"}},
	{"auipc", 0x0000007f, 0x00000017, []string{"rd", "imm20"}},
	{"jal", 0x0000007f, 0x0000006f, []string{"rd", "jimm20"}},
	{"jalr", 0x0000707f, 0x00000067, []string{"rd", "rs1", "imm12"}},
	{"beq", 0x0000707f, 0x00000063, []string{"rs1", "rs2", "bimm12hilo"}},
	{"bne", 0x0000707f, 0x00001063, []string{"rs1", "rs2", "bimm12hilo"}},
	{"blt", 0x0000707f, 0x00004063, []string{"rs1", "rs2", "bimm12hilo"}},
	{"bge", 0x0000707f, 0x00005063, []string{"rs1", "rs2", "bimm12hilo"}},
	{"bltu", 0x0000707f, 0x00006063, []string{"rs1", "rs2", "bimm12hilo"}},
	{"bgeu", 0x0000707f, 0x00007063, []string{"rs1", "rs2", "bimm12hilo"}},
	{"lb", 0x0000707f, 0x00000003, []string{"rd", "rs1", "imm12"}},
	{"lh", 0x0000707f, 0x00001003, []string{"rd", "rs1", "imm12"}},
	{"lw", 0x0000707f, 0x00002003, []string{"rd", "rs1", "imm12"}},
	{"lbu", 0x0000707f, 0x00004003, []string{"rd", "rs1", "imm12"}},
	{"lhu", 0x0000707f, 0x00005003, []string{"rd", "rs1", "imm12"}},
	{"sb", 0x0000707f, 0x00000023, []string{"rs1", "rs2", "imm12hilo"}},
	{"sh", 0x0000707f, 0x00001023, []string{"rs1", "rs2", "imm12hilo"}},
	{"sw", 0x0000707f, 0x00002023, []string{"rs1", "rs2", "imm12hilo"}},
	{"addi", 0x0000707f, 0x00000013, []string{"rd", "rs1", "imm12"}},
	{"slti", 0x0000707f, 0x00002013, []string{"rd", "rs1", "imm12"}},
	{"sltiu", 0x0000707f, 0x00003013, []string{"rd", "rs1", "imm12"}},
	{"xori", 0x0000707f, 0x00004013, []string{"rd", "rs1", "imm12"}},
	{"ori", 0x0000707f, 0x00006013, []string{"rd", "rs1", "imm12"}},
	{"andi", 0x0000707f, 0x00007013, []string{"rd", "rs1", "imm12"}},
	{"add", 0xfe00707f, 0x00000033, []string{"rd", "rs1", "rs2"}},
	{"sub", 0xfe00707f, 0x40000033, []string{"rd", "rs1", "rs2"}},
	{"sll", 0xfe00707f, 0x00001033, []string{"rd", "rs1", "rs2"}},
	{"slt", 0xfe00707f, 0x00002033, []string{"rd", "rs1", "rs2"}},
	{"sltu", 0xfe00707f, 0x00003033, []string{"rd", "rs1", "rs2"}},
	{"xor", 0xfe00707f, 0x00004033, []string{"rd", "rs1", "rs2"}},
	{"srl", 0xfe00707f, 0x00005033, []string{"rd", "rs1", "rs2"}},
	{"sra", 0xfe00707f, 0x40005033, []string{"rd", "rs1", "rs2"}},
	{"or", 0xfe00707f, 0x00006033, []string{"rd", "rs1", "rs2"}},
	{"and", 0xfe00707f, 0x00007033, []string{"rd", "rs1", "rs2"}},
	{"fence", 0x0000707f, 0x0000000f, nil},
	{"ecall", 0xffffffff, 0x00000073, nil},
	{"ebreak", 0xffffffff, 0x00100073, nil},

	// rv64_i
	{"lwu", 0x0000707f, 0x00006003, []string{"rd", "rs1", "imm12"}},
	{"ld", 0x0000707f, 0x00003003, []string{"rd", "rs1", "imm12"}},
	{"sd", 0x0000707f, 0x00003023, []string{"rs1", "rs2", "imm12hilo"}},
	{"slli", 0xfc00707f, 0x00001013, []string{"rd", "rs1", "shamtd"}},
	{"srli", 0xfc00707f, 0x00005013, []string{"rd", "rs1", "shamtd"}},
	{"srai", 0xfc00707f, 0x40005013, []string{"rd", "rs1", "shamtd"}},
	{"addiw", 0x0000707f, 0x0000001b, []string{"rd", "rs1", "imm12"}},
	{"slliw", 0xfe00707f, 0x0000101b, []string{"rd", "rs1", "shamtw"}},
	{"srliw", 0xfe00707f, 0x0000501b, []string{"rd", "rs1", "shamtw"}},
	{"sraiw", 0xfe00707f, 0x4000501b, []string{"rd", "rs1", "shamtw"}},
	{"addw", 0xfe00707f, 0x0000003b, []string{"rd", "rs1", "rs2"}},
	{"subw", 0xfe00707f, 0x4000003b, []string{"rd", "rs1", "rs2"}},
	{"sllw", 0xfe00707f, 0x0000103b, []string{"rd", "rs1", "rs2"}},
	{"srlw", 0xfe00707f, 0x0000503b, []string{"rd", "rs1", "rs2"}},
	{"sraw", 0xfe00707f, 0x4000503b, []string{"rd", "rs1", "rs2"}},

	// rv_m
	{"mul", 0xfe00707f, 0x02000033, []string{"rd", "rs1", "rs2"}},
	{"mulh", 0xfe00707f, 0x02001033, []string{"rd", "rs1", "rs2"}},
	{"mulhsu", 0xfe00707f, 0x02002033, []string{"rd", "rs1", "rs2"}},
	{"mulhu", 0xfe00707f, 0x02003033, []string{"rd", "rs1", "rs2"}},
	{"div", 0xfe00707f, 0x02004033, []string{"rd", "rs1", "rs2"}},
	{"divu", 0xfe00707f, 0x02005033, []string{"rd", "rs1", "rs2"}},
	{"rem", 0xfe00707f, 0x02006033, []string{"rd", "rs1", "rs2"}},
	{"remu", 0xfe00707f, 0x02007033, []string{"rd", "rs1", "rs2"}},

	// rv64_m
	{"mulw", 0xfe00707f, 0x0200003b, []string{"rd", "rs1", "rs2"}},
	{"divw", 0xfe00707f, 0x0200403b, []string{"rd", "rs1", "rs2"}},
	{"divuw", 0xfe00707f, 0x0200503b, []string{"rd", "rs1", "rs2"}},
	{"remw", 0xfe00707f, 0x0200603b, []string{"rd", "rs1", "rs2"}},
	{"remuw", 0xfe00707f, 0x0200703b, []string{"rd", "rs1", "rs2"}},

	// rv_a
	{"lr.w", 0xf9f0707f, 0x1000202f, []string{"rd", "rs1"}},
	{"sc.w", 0xf800707f, 0x1800202f, []string{"rd", "rs1", "rs2"}},
	{"amoswap.w", 0xf800707f, 0x0800202f, []string{"rd", "rs1", "rs2"}},
	{"amoadd.w", 0xf800707f, 0x0000202f, []string{"rd", "rs1", "rs2"}},
	{"amoxor.w", 0xf800707f, 0x2000202f, []string{"rd", "rs1", "rs2"}},
	{"amoand.w", 0xf800707f, 0x6000202f, []string{"rd", "rs1", "rs2"}},
	{"amoor.w", 0xf800707f, 0x4000202f, []string{"rd", "rs1", "rs2"}},
	{"amomin.w", 0xf800707f, 0x8000202f, []string{"rd", "rs1", "rs2"}},
	{"amomax.w", 0xf800707f, 0xa000202f, []string{"rd", "rs1", "rs2"}},
	{"amominu.w", 0xf800707f, 0xc000202f, []string{"rd", "rs1", "rs2"}},
	{"amomaxu.w", 0xf800707f, 0xe000202f, []string{"rd", "rs1", "rs2"}},

	// rv64_a
	{"lr.d", 0xf9f0707f, 0x1000302f, []string{"rd", "rs1"}},
	{"sc.d", 0xf800707f, 0x1800302f, []string{"rd", "rs1", "rs2"}},
	{"amoswap.d", 0xf800707f, 0x0800302f, []string{"rd", "rs1", "rs2"}},
	{"amoadd.d", 0xf800707f, 0x0000302f, []string{"rd", "rs1", "rs2"}},
	{"amoxor.d", 0xf800707f, 0x2000302f, []string{"rd", "rs1", "rs2"}},
	{"amoand.d", 0xf800707f, 0x6000302f, []string{"rd", "rs1", "rs2"}},
	{"amoor.d", 0xf800707f, 0x4000302f, []string{"rd", "rs1", "rs2"}},
	{"amomin.d", 0xf800707f, 0x8000302f, []string{"rd", "rs1", "rs2"}},
	{"amomax.d", 0xf800707f, 0xa000302f, []string{"rd", "rs1", "rs2"}},
	{"amominu.d", 0xf800707f, 0xc000302f, []string{"rd", "rs1", "rs2"}},
	{"amomaxu.d", 0xf800707f, 0xe000302f, []string{"rd", "rs1", "rs2"}},

	// rv_zifencei
	{"fence.i", 0x0000707f, 0x0000100f, []string{"rd", "rs1", "imm12"}},

	// rv_zicsr
	{"csrrw", 0x0000707f, 0x00001073, []string{"rd", "rs1", "csr"}},
	{"csrrs", 0x0000707f, 0x00002073, []string{"rd", "rs1", "csr"}},
	{"csrrc", 0x0000707f, 0x00003073, []string{"rd", "rs1", "csr"}},
	{"csrrwi", 0x0000707f, 0x00005073, []string{"rd", "csr", "zimm"}},
	{"csrrsi", 0x0000707f, 0x00006073, []string{"rd", "csr", "zimm"}},
	{"csrrci", 0x0000707f, 0x00007073, []string{"rd", "csr", "zimm"}},

	// rv_system
	{"mret", 0xffffffff, 0x30200073, nil},
	{"wfi", 0xffffffff, 0x10500073, nil},

	// rv_s
	{"sfence.vma", 0xfe007fff, 0x12000073, []string{"rs1", "rs2"}},
	{"sret", 0xffffffff, 0x10200073, nil},
}

var encodings16 = []Encoding{
	{"c.unimp", 0xffff, 0x0000, nil},

	// rv_c
	{"c.addi4spn", 0xe003, 0x0000, []string{"rd_p", "c_nzuimm10"}},
	{"c.lw", 0xe003, 0x4000, []string{"rd_p", "rs1_p", "c_uimm7hilo"}},
	{"c.sw", 0xe003, 0xc000, []string{"rs1_p", "rs2_p", "c_uimm7hilo"}},
	{"c.nop", 0xef83, 0x0001, []string{"c_nzimm6hilo"}},
	{"c.addi", 0xe003, 0x0001, []string{"rd_rs1_n0", "c_nzimm6hilo"}},
	{"c.li", 0xe003, 0x4001, []string{"rd", "c_imm6hilo"}},
	{"c.addi16sp", 0xef83, 0x6101, []string{"c_nzimm10hilo"}},
	{"c.lui", 0xe003, 0x6001, []string{"rd_n2", "c_nzimm18hilo"}},
	{"c.andi", 0xec03, 0x8801, []string{"rd_rs1_p", "c_imm6hilo"}},
	{"c.sub", 0xfc63, 0x8c01, []string{"rd_rs1_p", "rs2_p"}},
	{"c.xor", 0xfc63, 0x8c21, []string{"rd_rs1_p", "rs2_p"}},
	{"c.or", 0xfc63, 0x8c41, []string{"rd_rs1_p", "rs2_p"}},
	{"c.and", 0xfc63, 0x8c61, []string{"rd_rs1_p", "rs2_p"}},
	{"c.j", 0xe003, 0xa001, []string{"c_imm12"}},
	{"c.beqz", 0xe003, 0xc001, []string{"rs1_p", "c_bimm9hilo"}},
	{"c.bnez", 0xe003, 0xe001, []string{"rs1_p", "c_bimm9hilo"}},
	{"c.lwsp", 0xe003, 0x4002, []string{"rd_n0", "c_uimm8sphilo"}},
	{"c.jr", 0xf07f, 0x8002, []string{"rs1_n0"}},
	{"c.mv", 0xf003, 0x8002, []string{"rd", "c_rs2_n0"}},
	{"c.ebreak", 0xffff, 0x9002, nil},
	{"c.jalr", 0xf07f, 0x9002, []string{"c_rs1_n0"}},
	{"c.add", 0xf003, 0x9002, []string{"rd_rs1", "c_rs2_n0"}},
	{"c.swsp", 0xe003, 0xc002, []string{"c_rs2", "c_uimm8sp_s"}},

	// rv64_c
	{"c.ld", 0xe003, 0x6000, []string{"rd_p", "rs1_p", "c_uimm8hilo"}},
	{"c.sd", 0xe003, 0xe000, []string{"rs1_p", "rs2_p", "c_uimm8hilo"}},
	{"c.addiw", 0xe003, 0x2001, []string{"rd_rs1", "c_imm6hilo"}},
	{"c.srli", 0xec03, 0x8001, []string{"rd_rs1_p", "c_nzuimm6hilo"}},
	{"c.srai", 0xec03, 0x8401, []string{"rd_rs1_p", "c_nzuimm6hilo"}},
	{"c.subw", 0xfc63, 0x9c01, []string{"rd_rs1_p", "rs2_p"}},
	{"c.addw", 0xfc63, 0x9c21, []string{"rd_rs1_p", "rs2_p"}},
	{"c.slli", 0xe003, 0x0002, []string{"rd_rs1_n0", "c_nzuimm6hilo"}},
	{"c.ldsp", 0xe003, 0x6002, []string{"rd_n0", "c_uimm9sphilo"}},
	{"c.sdsp", 0xe003, 0xe002, []string{"c_rs2", "c_uimm9sp_s"}},
}

// encodings32ByOpcode and encodings16ByBucket bucket the tables above by
// their dispatch key so Decode does a single map lookup plus a short
// linear scan instead of a scan over every known encoding. Built once at
// package initialization, mirroring the decoder/field tables being
// conceptually read-only constants.
var (
	encodings32ByOpcode map[uint32][]Encoding
	encodings16ByBucket map[uint32][]Encoding
)

func init() {
	encodings32ByOpcode = make(map[uint32][]Encoding, len(encodings32))
	for _, enc := range encodings32 {
		if enc.Mask&0x7f != 0x7f {
			panic("riscv: 32-bit encoding " + enc.Name + " does not fix the opcode bits")
		}
		key := enc.Value & 0x7f
		encodings32ByOpcode[key] = append(encodings32ByOpcode[key], enc)
	}

	encodings16ByBucket = make(map[uint32][]Encoding, len(encodings16))
	for _, enc := range encodings16 {
		key := (enc.Value >> 13 << 2) | (enc.Value & 0x3)
		encodings16ByBucket[key] = append(encodings16ByBucket[key], enc)
	}
}

// Decode identifies the encoding matching insn. If the low two bits of
// insn are 0b11 it is treated as a 32-bit instruction; otherwise only its
// low 16 bits are significant. Decode never panics on an unrecognized
// bit pattern; it reports ok=false instead.
func Decode(insn uint32) (enc Encoding, ok bool) {
	if insn&0b11 == 0b11 {
		for _, e := range encodings32ByOpcode[insn&0x7f] {
			if insn&e.Mask == e.Value {
				return e, true
			}
		}
		return Encoding{}, false
	}

	key := (insn >> 13 << 2) | (insn & 0x3)
	for _, e := range encodings16ByBucket[key] {
		if insn&e.Mask == e.Value {
			return e, true
		}
	}
	return Encoding{}, false
}

// Length returns the instruction length in bytes implied by its low bits:
// 4 for a 32-bit instruction, 2 for a compressed one.
func Length(insn uint32) int64 {
	if insn&0b11 == 0b11 {
		return 4
	}
	return 2
}
