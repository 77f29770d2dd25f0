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

// Op names the abstract effect an instruction has on the analyzer's
// tracked state. It is a closed set, represented as a tagged struct
// rather than an interface: the fields that matter vary by Kind, the
// others are left zero.
type Op int

const (
	OpNop Op = iota
	OpUnreachable
	OpTail
	OpConst
	OpAddi
	OpAddiw
	OpAdd
	OpSub
	OpLoad
	OpStore
)

// Operation is the lifter's output vocabulary.
type Operation struct {
	Kind   Op
	Dest   Register // Const, Addi, Addiw, Add, Sub, Load
	Base   Register // Addi, Addiw, Load, Store
	Lhs    Register // Add, Sub
	Rhs    Register // Add, Sub
	Val    Register // Store
	Offset int64    // Addi, Addiw, Load, Store
	Value  int64    // Const
}

// InsnEffect is the full result of lifting one instruction: its abstract
// Operation, the registers it clobbers (removed from tracked state before
// Operation is applied), and the PC deltas of its successors.
type InsnEffect struct {
	Operation  Operation
	Clobbers   []Register
	Successors []int64
}

var unimp = InsnEffect{Operation: Operation{Kind: OpUnreachable}}

func clobberOf(v int64) []Register {
	if r, ok := FromField(v); ok {
		return []Register{r}
	}
	return nil
}

// Lift decodes and lifts the instruction at pc (absolute address, used
// only to resolve branch targets against fnRange) given the word insn.
// fnRange is the half-open [start, end) byte range of the enclosing
// function; branches and jumps landing outside it are modeled as Tail.
func Lift(pc int64, fnRange [2]int64, insn uint32) InsnEffect {
	enc, ok := Decode(insn)
	if !ok {
		return unimp
	}
	f := decodeFields(enc, insn)
	next := Length(insn)

	inRange := func(target int64) bool {
		return target >= fnRange[0] && target < fnRange[1]
	}

	switch enc.Name {
	case "addi":
		rd, hasRd := FromField(f["rd"])
		if !hasRd {
			return InsnEffect{Operation: Operation{Kind: OpNop}, Successors: []int64{next}}
		}
		if rs1, hasRs1 := FromField(f["rs1"]); hasRs1 {
			return InsnEffect{
				Operation:  Operation{Kind: OpAddi, Dest: rd, Base: rs1, Offset: f["imm12"]},
				Successors: []int64{next},
			}
		}
		return InsnEffect{
			Operation:  Operation{Kind: OpConst, Dest: rd, Value: f["imm12"]},
			Successors: []int64{next},
		}

	case "lui":
		if rd, ok := FromField(f["rd"]); ok {
			return InsnEffect{
				Operation:  Operation{Kind: OpConst, Dest: rd, Value: f["imm20"]},
				Successors: []int64{next},
			}
		}
		return InsnEffect{Operation: Operation{Kind: OpNop}, Successors: []int64{next}}

	case "ld":
		rd, hasRd := FromField(f["rd"])
		rs1, hasRs1 := FromField(f["rs1"])
		if hasRd && hasRs1 {
			return InsnEffect{
				Operation:  Operation{Kind: OpLoad, Dest: rd, Base: rs1, Offset: f["imm12"]},
				Successors: []int64{next},
			}
		}
		return InsnEffect{Operation: Operation{Kind: OpNop}, Clobbers: clobberOf(f["rd"]), Successors: []int64{next}}

	case "sd":
		rs1, hasRs1 := FromField(f["rs1"])
		rs2, hasRs2 := FromField(f["rs2"])
		if hasRs1 && hasRs2 {
			return InsnEffect{
				Operation:  Operation{Kind: OpStore, Val: rs2, Base: rs1, Offset: f["imm12hilo"]},
				Successors: []int64{next},
			}
		}
		return InsnEffect{Operation: Operation{Kind: OpNop}, Successors: []int64{next}}

	case "jal":
		if rd, ok := FromField(f["rd"]); ok {
			// A direct call. Only the link register is recorded as
			// clobbered; see the call-clobber design note.
			return InsnEffect{Operation: Operation{Kind: OpNop}, Clobbers: []Register{rd}, Successors: []int64{next}}
		}
		off := f["jimm20"]
		if inRange(pc + off) {
			return InsnEffect{Operation: Operation{Kind: OpNop}, Successors: []int64{off}}
		}
		return InsnEffect{Operation: Operation{Kind: OpTail}}

	case "jalr":
		if rd, ok := FromField(f["rd"]); ok {
			return InsnEffect{Operation: Operation{Kind: OpNop}, Clobbers: []Register{rd}, Successors: []int64{next}}
		}
		return InsnEffect{Operation: Operation{Kind: OpTail}}

	case "beq", "bne", "blt", "bge", "bltu", "bgeu":
		off := f["bimm12hilo"]
		if inRange(pc + off) {
			return InsnEffect{Operation: Operation{Kind: OpNop}, Successors: []int64{next, off}}
		}
		return InsnEffect{Operation: Operation{Kind: OpTail}, Successors: []int64{next}}

	case "addiw":
		rd, hasRd := FromField(f["rd"])
		if !hasRd {
			return InsnEffect{Operation: Operation{Kind: OpNop}, Successors: []int64{next}}
		}
		if rs1, hasRs1 := FromField(f["rs1"]); hasRs1 {
			return InsnEffect{
				Operation:  Operation{Kind: OpAddiw, Dest: rd, Base: rs1, Offset: f["imm12"]},
				Successors: []int64{next},
			}
		}
		return InsnEffect{
			Operation:  Operation{Kind: OpConst, Dest: rd, Value: f["imm12"]},
			Successors: []int64{next},
		}

	case "add", "sub":
		rd, hasRd := FromField(f["rd"])
		rs1, hasRs1 := FromField(f["rs1"])
		rs2, hasRs2 := FromField(f["rs2"])
		if hasRd && hasRs1 && hasRs2 {
			kind := OpAdd
			if enc.Name == "sub" {
				kind = OpSub
			}
			return InsnEffect{
				Operation:  Operation{Kind: kind, Dest: rd, Lhs: rs1, Rhs: rs2},
				Successors: []int64{next},
			}
		}
		return InsnEffect{Operation: Operation{Kind: OpNop}, Clobbers: clobberOf(f["rd"]), Successors: []int64{next}}

	case "auipc", "lb", "lh", "lw", "lbu", "lhu", "lwu", "slti", "sltiu", "xori", "ori", "andi",
		"sll", "slt", "sltu", "xor", "srl", "sra", "or", "and", "slli", "srli", "srai",
		"slliw", "srliw", "sraiw", "addw", "subw", "sllw", "srlw", "sraw",
		"mul", "mulh", "mulhsu", "mulhu", "div", "divu", "rem", "remu",
		"mulw", "divw", "divuw", "remw", "remuw",
		"amoswap.w", "amoadd.w", "amoxor.w", "amoand.w", "amoor.w", "amomin.w", "amomax.w", "amominu.w", "amomaxu.w",
		"amoswap.d", "amoadd.d", "amoxor.d", "amoand.d", "amoor.d", "amomin.d", "amomax.d", "amominu.d", "amomaxu.d",
		"lr.w", "sc.w", "lr.d", "sc.d",
		"csrrw", "csrrs", "csrrc", "csrrwi", "csrrsi", "csrrci":
		return InsnEffect{Operation: Operation{Kind: OpNop}, Clobbers: clobberOf(f["rd"]), Successors: []int64{next}}

	case "sb", "sh", "sw", "fence":
		return InsnEffect{Operation: Operation{Kind: OpNop}, Successors: []int64{next}}

	case "sret", "mret":
		return InsnEffect{Operation: Operation{Kind: OpNop}}

	case "ecall", "fence.i", "wfi", "sfence.vma":
		// See the ecall design note: modeled as a plain Nop with
		// fallthrough rather than a caller-saved-register clobber.
		return InsnEffect{Operation: Operation{Kind: OpNop}, Successors: []int64{next}}

	case "c.addi":
		r, _ := FromField(f["rd_rs1_n0"])
		return InsnEffect{
			Operation:  Operation{Kind: OpAddi, Dest: r, Base: r, Offset: f["c_nzimm6hilo"]},
			Successors: []int64{next},
		}

	case "c.mv":
		if rd, ok := FromField(f["rd"]); ok {
			rs2, _ := FromField(f["c_rs2_n0"])
			return InsnEffect{
				Operation:  Operation{Kind: OpAddi, Dest: rd, Base: rs2, Offset: 0},
				Successors: []int64{next},
			}
		}
		return InsnEffect{Operation: Operation{Kind: OpNop}, Successors: []int64{next}}

	case "c.nop":
		return InsnEffect{Operation: Operation{Kind: OpNop}, Successors: []int64{next}}

	case "c.addi4spn":
		rd, _ := FromField(f["rd_p"])
		return InsnEffect{
			Operation:  Operation{Kind: OpAddi, Dest: rd, Base: SP, Offset: f["c_nzuimm10"]},
			Successors: []int64{next},
		}

	case "c.addi16sp":
		return InsnEffect{
			Operation:  Operation{Kind: OpAddi, Dest: SP, Base: SP, Offset: f["c_nzimm10hilo"]},
			Successors: []int64{next},
		}

	case "c.li":
		if rd, ok := FromField(f["rd"]); ok {
			return InsnEffect{
				Operation:  Operation{Kind: OpConst, Dest: rd, Value: f["c_imm6hilo"]},
				Successors: []int64{next},
			}
		}
		return InsnEffect{Operation: Operation{Kind: OpNop}, Successors: []int64{next}}

	case "c.lui":
		if rd, ok := FromField(f["rd_n2"]); ok {
			return InsnEffect{
				Operation:  Operation{Kind: OpConst, Dest: rd, Value: f["c_nzimm18hilo"]},
				Successors: []int64{next},
			}
		}
		return InsnEffect{Operation: Operation{Kind: OpNop}, Successors: []int64{next}}

	case "c.beqz", "c.bnez":
		off := f["c_bimm9hilo"]
		if inRange(pc + off) {
			return InsnEffect{Operation: Operation{Kind: OpNop}, Successors: []int64{next, off}}
		}
		return InsnEffect{Operation: Operation{Kind: OpTail}, Successors: []int64{next}}

	case "c.j":
		off := f["c_imm12"]
		if inRange(pc + off) {
			return InsnEffect{Operation: Operation{Kind: OpNop}, Successors: []int64{off}}
		}
		return InsnEffect{Operation: Operation{Kind: OpTail}}

	case "c.jr":
		return InsnEffect{Operation: Operation{Kind: OpTail}}

	case "c.jalr":
		return InsnEffect{Operation: Operation{Kind: OpNop}, Clobbers: []Register{RA}, Successors: []int64{next}}

	case "c.ld":
		rd, _ := FromField(f["rd_p"])
		rs1, _ := FromField(f["rs1_p"])
		return InsnEffect{
			Operation:  Operation{Kind: OpLoad, Dest: rd, Base: rs1, Offset: f["c_uimm8hilo"]},
			Successors: []int64{next},
		}

	case "c.sd":
		rs2, _ := FromField(f["rs2_p"])
		rs1, _ := FromField(f["rs1_p"])
		return InsnEffect{
			Operation:  Operation{Kind: OpStore, Val: rs2, Base: rs1, Offset: f["c_uimm8hilo"]},
			Successors: []int64{next},
		}

	case "c.ldsp":
		if rd, ok := FromField(f["rd_n0"]); ok {
			return InsnEffect{
				Operation:  Operation{Kind: OpLoad, Dest: rd, Base: SP, Offset: f["c_uimm9sphilo"]},
				Successors: []int64{next},
			}
		}
		return InsnEffect{Operation: Operation{Kind: OpNop}, Successors: []int64{next}}

	case "c.sdsp":
		if rs2, ok := FromField(f["c_rs2"]); ok {
			return InsnEffect{
				Operation:  Operation{Kind: OpStore, Val: rs2, Base: SP, Offset: f["c_uimm9sp_s"]},
				Successors: []int64{next},
			}
		}
		return InsnEffect{Operation: Operation{Kind: OpNop}, Successors: []int64{next}}

	case "c.andi", "c.xor", "c.or", "c.and", "c.srli", "c.srai", "c.subw", "c.addw":
		return InsnEffect{Operation: Operation{Kind: OpNop}, Clobbers: clobberOf(f["rd_rs1_p"]), Successors: []int64{next}}

	case "c.addiw":
		if rd, ok := FromField(f["rd_rs1"]); ok {
			return InsnEffect{
				Operation:  Operation{Kind: OpAddiw, Dest: rd, Base: rd, Offset: f["c_imm6hilo"]},
				Successors: []int64{next},
			}
		}
		return InsnEffect{Operation: Operation{Kind: OpNop}, Successors: []int64{next}}

	case "c.add":
		rd, hasRd := FromField(f["rd_rs1"])
		rs2, hasRs2 := FromField(f["c_rs2_n0"])
		if hasRd && hasRs2 {
			return InsnEffect{
				Operation:  Operation{Kind: OpAdd, Dest: rd, Lhs: rd, Rhs: rs2},
				Successors: []int64{next},
			}
		}
		return InsnEffect{Operation: Operation{Kind: OpNop}, Clobbers: clobberOf(f["rd_rs1"]), Successors: []int64{next}}

	case "c.sub":
		r, _ := FromField(f["rd_rs1_p"])
		rs2, _ := FromField(f["rs2_p"])
		return InsnEffect{
			Operation:  Operation{Kind: OpSub, Dest: r, Lhs: r, Rhs: rs2},
			Successors: []int64{next},
		}

	case "c.slli":
		return InsnEffect{Operation: Operation{Kind: OpNop}, Clobbers: clobberOf(f["rd_rs1_n0"]), Successors: []int64{next}}

	case "c.lw":
		return InsnEffect{Operation: Operation{Kind: OpNop}, Clobbers: clobberOf(f["rd_p"]), Successors: []int64{next}}

	case "c.lwsp":
		return InsnEffect{Operation: Operation{Kind: OpNop}, Clobbers: clobberOf(f["rd_n0"]), Successors: []int64{next}}

	case "c.sw", "c.swsp":
		return InsnEffect{Operation: Operation{Kind: OpNop}, Successors: []int64{next}}

	case "c.unimp", "c.ebreak":
		return unimp

	default:
		return unimp
	}
}
