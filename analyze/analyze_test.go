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

package analyze

import (
	"testing"

	"github.com/stealthrocket/rvunwind/riscv"
)

// A standard RV64 prologue/epilogue:
//
//	addi sp, sp, -16
//	sd   ra, 8(sp)
//	sd   s0, 0(sp)
//	addi s0, sp, 16
//	ld   ra, 8(sp)
//	ld   s0, 0(sp)
//	addi sp, sp, 16
//	c.jr ra
var standardFrame = []byte{
	0x13, 0x01, 0x01, 0xff, // addi sp, sp, -16
	0x23, 0x34, 0x11, 0x00, // sd ra, 8(sp)
	0x23, 0x30, 0x81, 0x00, // sd s0, 0(sp)
	0x13, 0x04, 0x01, 0x01, // addi s0, sp, 16
	0x83, 0x30, 0x81, 0x00, // ld ra, 8(sp)
	0x03, 0x34, 0x01, 0x00, // ld s0, 0(sp)
	0x13, 0x01, 0x01, 0x01, // addi sp, sp, 16
	0x82, 0x80, // c.jr ra
}

func TestAnalyzeStandardFrame(t *testing.T) {
	const addr = 0x1000
	fn := Function{Addr: addr, Bytes: standardFrame}
	states := Analyze(fn)

	entry, ok := states[addr].UnwindStep()
	if !ok {
		t.Fatalf("entry: UnwindStep failed")
	}
	if entry.SpReg != OrigSpFromSp || entry.SpOffset != 0 || entry.FpOffset != nil || entry.RaOffset != nil {
		t.Fatalf("entry step = %+v, want trivial sp-relative recipe", entry)
	}

	mid, ok := states[addr+16].UnwindStep()
	if !ok {
		t.Fatalf("post-prologue: UnwindStep failed")
	}
	if mid.SpReg != OrigSpFromSp || mid.SpOffset != 16 {
		t.Fatalf("post-prologue sp recipe = %+v, want offset 16 from sp", mid)
	}
	if mid.FpOffset == nil || *mid.FpOffset != -16 {
		t.Fatalf("post-prologue fp recipe = %v, want saved at -16", mid.FpOffset)
	}
	if mid.RaOffset != nil {
		t.Fatalf("post-prologue ra recipe = %v, want live (nil)", mid.RaOffset)
	}

	tail, ok := states[addr+28].UnwindStep()
	if !ok {
		t.Fatalf("epilogue: UnwindStep failed")
	}
	if tail.SpOffset != 0 || tail.FpOffset != nil || tail.RaOffset != nil {
		t.Fatalf("epilogue step = %+v, want trivial recipe restored", tail)
	}
}

func TestAnalyzeUnreachableBytesSkipped(t *testing.T) {
	fn := Function{Addr: 0, Bytes: []byte{0x82, 0x80}} // c.jr ra, no successors
	states := Analyze(fn)
	if len(states) != 1 {
		t.Fatalf("states = %d entries, want 1 (entry only, no fallthrough)", len(states))
	}
}

func TestKnownValueArithmetic(t *testing.T) {
	v, ok := MakeAbs(10).addi(5)
	if !ok || v != MakeAbs(15) {
		t.Fatalf("10.addi(5) = %+v, ok=%v, want Abs(15)", v, ok)
	}

	if _, ok := valueOrigFp.addi(4); ok {
		t.Fatalf("OrigFp.addi(4) unexpectedly succeeded")
	}

	sum, ok := addValues(MakeAbs(3), MakeOrigSp(7))
	if !ok || sum != MakeOrigSp(10) {
		t.Fatalf("3 + OrigSp(7) = %+v, ok=%v, want OrigSp(10)", sum, ok)
	}

	diff, ok := subValues(MakeOrigSp(10), MakeAbs(3))
	if !ok || diff != MakeOrigSp(7) {
		t.Fatalf("OrigSp(10) - 3 = %+v, ok=%v, want OrigSp(7)", diff, ok)
	}

	if _, ok := subValues(MakeAbs(3), MakeOrigSp(7)); ok {
		t.Fatalf("3 - OrigSp(7) unexpectedly succeeded")
	}
}

func TestMergeRetainsOnlyEqualKeys(t *testing.T) {
	a0 := riscv.Register(10)

	s := entryState()
	s.Regs[a0] = MakeAbs(1)
	s.Stack[-8] = valueOrigRa

	other := entryState()
	other.Regs[a0] = MakeAbs(2) // disagrees: a0 should be dropped
	other.Stack[-8] = valueOrigRa // agrees: kept

	changed := s.merge(other)
	if !changed {
		t.Fatalf("merge reported no change, want a dropped register")
	}
	if _, ok := s.Regs[a0]; ok {
		t.Fatalf("a0 survived merge of disagreeing values")
	}
	if v, ok := s.Stack[-8]; !ok || v != valueOrigRa {
		t.Fatalf("stack[-8] = %+v, ok=%v, want valueOrigRa to survive agreeing merge", v, ok)
	}
	if _, ok := s.Regs[riscv.RA]; !ok {
		t.Fatalf("ra dropped from merge despite both sides carrying entryState")
	}
}
