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
	"log"

	"github.com/stealthrocket/rvunwind/riscv"
)

// OrigSpReg names which live register an UnwindStep recovers the
// caller's sp from.
type OrigSpReg int

const (
	OrigSpFromSp OrigSpReg = iota
	OrigSpFromFp
)

// UnwindStep is the per-instruction recipe to recover the caller's
// sp/fp/ra. A nil *int64 offset means the register is still live and
// needs no reload.
type UnwindStep struct {
	SpReg    OrigSpReg
	SpOffset int64
	FpOffset *int64
	RaOffset *int64
}

func ptr(v int64) *int64 { return &v }

// UnwindStep derives the unwind recipe for s, or reports ok=false if the
// state does not carry enough information to recover the caller's
// frame.
func (s AbstractState) UnwindStep() (UnwindStep, bool) {
	var spReg OrigSpReg
	var spOffset int64

	if v, ok := s.Regs[riscv.SP]; ok && v.Kind == OrigSp {
		spReg, spOffset = OrigSpFromSp, -v.Offset
	} else if v, ok := s.Regs[riscv.FP]; ok && v.Kind == OrigSp {
		spReg, spOffset = OrigSpFromFp, -v.Offset
	} else {
		return UnwindStep{}, false
	}

	var fpOffset *int64
	if v, ok := s.Regs[riscv.FP]; ok && v.Kind == OrigFp {
		fpOffset = nil
	} else if k, ok := findStackValue(s.Stack, OrigFp); ok {
		fpOffset = ptr(k)
	} else {
		return UnwindStep{}, false
	}

	var raOffset *int64
	if v, ok := s.Regs[riscv.RA]; ok && v.Kind == OrigRa {
		raOffset = nil
	} else if k, ok := findStackValue(s.Stack, OrigRa); ok {
		raOffset = ptr(k)
	} else {
		return UnwindStep{}, false
	}

	return UnwindStep{SpReg: spReg, SpOffset: spOffset, FpOffset: fpOffset, RaOffset: raOffset}, true
}

func findStackValue(stack map[int64]KnownValue, kind ValueKind) (int64, bool) {
	for k, v := range stack {
		if v.Kind == kind {
			return k, true
		}
	}
	return 0, false
}

// CheckTail logs a diagnostic, never an error, if, at a Tail operation,
// the live registers do not match the callee-saved state a
// correctly-formed function restores before returning.
func CheckTail(pc int64, s AbstractState) {
	ra, raOK := s.Regs[riscv.RA]
	fp, fpOK := s.Regs[riscv.FP]
	sp, spOK := s.Regs[riscv.SP]

	if !raOK || ra != valueOrigRa {
		log.Printf("rvunwind: analyze: pc=%#x: ra != entry ra at tail", pc)
	}
	if !fpOK || fp != valueOrigFp {
		log.Printf("rvunwind: analyze: pc=%#x: fp != entry fp at tail", pc)
	}
	if !spOK || sp != MakeOrigSp(0) {
		log.Printf("rvunwind: analyze: pc=%#x: sp != entry sp at tail", pc)
	}
}
