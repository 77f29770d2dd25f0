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

// Package analyze implements the per-function abstract interpreter: a
// fixed-point worklist computation over the RISC-V control-flow graph
// that tracks how to recover the caller's sp, fp, and ra at every
// reachable instruction, and the extractor that turns that state into an
// UnwindStep.
package analyze

import "github.com/stealthrocket/rvunwind/riscv"

// ValueKind discriminates KnownValue's four variants. Like riscv.Op, this
// is a closed sum type kept as a tagged struct rather than an interface.
type ValueKind int

const (
	Abs ValueKind = iota
	OrigSp
	OrigFp
	OrigRa
)

// KnownValue is the analyzer's flat abstract domain. Offset is
// meaningful only for Abs (the concrete integer) and OrigSp (the
// function-entry sp plus this offset); any join of two unequal values is
// the absent key, so the lattice has height 1 per tracked key.
type KnownValue struct {
	Kind   ValueKind
	Offset int64
}

func MakeAbs(v int64) KnownValue    { return KnownValue{Kind: Abs, Offset: v} }
func MakeOrigSp(v int64) KnownValue { return KnownValue{Kind: OrigSp, Offset: v} }

var (
	valueOrigFp = KnownValue{Kind: OrigFp}
	valueOrigRa = KnownValue{Kind: OrigRa}
)

// addi returns the value obtained by adding offset to v, or false if v's
// identity (OrigFp, OrigRa) cannot survive arithmetic.
func (v KnownValue) addi(offset int64) (KnownValue, bool) {
	switch v.Kind {
	case Abs:
		return MakeAbs(v.Offset + offset), true
	case OrigSp:
		return MakeOrigSp(v.Offset + offset), true
	default:
		return KnownValue{}, false
	}
}

// addiw mirrors addi but is only defined for Abs, and sign-extends the
// result from its low 32 bits.
func (v KnownValue) addiw(offset int64) (KnownValue, bool) {
	if v.Kind != Abs {
		return KnownValue{}, false
	}
	return MakeAbs(int64(int32(v.Offset + offset))), true
}

func addValues(lhs, rhs KnownValue) (KnownValue, bool) {
	switch {
	case lhs.Kind == Abs:
		return rhs.addi(lhs.Offset)
	case rhs.Kind == Abs:
		return lhs.addi(rhs.Offset)
	default:
		return KnownValue{}, false
	}
}

func subValues(lhs, rhs KnownValue) (KnownValue, bool) {
	if rhs.Kind != Abs {
		return KnownValue{}, false
	}
	return lhs.addi(-rhs.Offset)
}

// AbstractState is the per-PC register/stack map. Stack keys are offsets
// relative to the function-entry sp. Absence of a key means the value is
// unknown (top of the lattice).
type AbstractState struct {
	Regs  map[riscv.Register]KnownValue
	Stack map[int64]KnownValue
}

// entryState is the state installed at a function's first instruction:
// ra, sp, and fp all still carry their caller-supplied identity.
func entryState() AbstractState {
	return AbstractState{
		Regs: map[riscv.Register]KnownValue{
			riscv.RA: valueOrigRa,
			riscv.SP: MakeOrigSp(0),
			riscv.FP: valueOrigFp,
		},
		Stack: map[int64]KnownValue{},
	}
}

func (s AbstractState) clone() AbstractState {
	regs := make(map[riscv.Register]KnownValue, len(s.Regs))
	for k, v := range s.Regs {
		regs[k] = v
	}
	stack := make(map[int64]KnownValue, len(s.Stack))
	for k, v := range s.Stack {
		stack[k] = v
	}
	return AbstractState{Regs: regs, Stack: stack}
}

// execute mutates s according to one instruction's effect: clobbers are
// removed first, then the abstract Operation is applied.
func (s AbstractState) execute(eff riscv.InsnEffect) {
	for _, c := range eff.Clobbers {
		delete(s.Regs, c)
	}

	op := eff.Operation
	switch op.Kind {
	case riscv.OpNop, riscv.OpUnreachable, riscv.OpTail:
		// no state change

	case riscv.OpConst:
		s.Regs[op.Dest] = MakeAbs(op.Value)

	case riscv.OpAddi:
		if v, ok := s.Regs[op.Base]; ok {
			if nv, ok := v.addi(op.Offset); ok {
				s.Regs[op.Dest] = nv
				break
			}
		}
		delete(s.Regs, op.Dest)

	case riscv.OpAddiw:
		if v, ok := s.Regs[op.Base]; ok {
			if nv, ok := v.addiw(op.Offset); ok {
				s.Regs[op.Dest] = nv
				break
			}
		}
		delete(s.Regs, op.Dest)

	case riscv.OpAdd:
		lv, lok := s.Regs[op.Lhs]
		rv, rok := s.Regs[op.Rhs]
		if lok && rok {
			if nv, ok := addValues(lv, rv); ok {
				s.Regs[op.Dest] = nv
				break
			}
		}
		delete(s.Regs, op.Dest)

	case riscv.OpSub:
		lv, lok := s.Regs[op.Lhs]
		rv, rok := s.Regs[op.Rhs]
		if lok && rok {
			if nv, ok := subValues(lv, rv); ok {
				s.Regs[op.Dest] = nv
				break
			}
		}
		delete(s.Regs, op.Dest)

	case riscv.OpLoad:
		if addr, ok := resolveStackAddr(s, op.Base, op.Offset); ok {
			if v, ok := s.Stack[addr]; ok {
				s.Regs[op.Dest] = v
				break
			}
		}
		delete(s.Regs, op.Dest)

	case riscv.OpStore:
		if addr, ok := resolveStackAddr(s, op.Base, op.Offset); ok {
			if v, ok := s.Regs[op.Val]; ok {
				s.Stack[addr] = v
			} else {
				delete(s.Stack, addr)
			}
		}
		// A store whose base does not resolve to the current frame
		// leaves Stack untouched: see the memory-model design note.
	}
}

// resolveStackAddr returns the OrigSp-relative offset a memory access
// through base+offset targets, if it can be determined.
func resolveStackAddr(s AbstractState, base riscv.Register, offset int64) (int64, bool) {
	v, ok := s.Regs[base]
	if !ok {
		return 0, false
	}
	nv, ok := v.addi(offset)
	if !ok || nv.Kind != OrigSp {
		return 0, false
	}
	return nv.Offset, true
}

// mergeMap retains only keys present with equal values in both maps,
// reporting whether anything was removed.
func mergeMap[K comparable, V comparable](current map[K]V, other map[K]V) bool {
	changed := false
	for k, v := range current {
		ov, ok := other[k]
		if !ok || ov != v {
			delete(current, k)
			changed = true
		}
	}
	return changed
}

// merge intersects s with other in place, returning whether s changed.
// Both maps are always merged, rather than short-circuiting as soon as
// the register merge alone reports a change: short-circuiting would
// silently under-merge some fixed-point iterations (see the
// corresponding Open Question decision in DESIGN.md).
func (s AbstractState) merge(other AbstractState) bool {
	regsChanged := mergeMap(s.Regs, other.Regs)
	stackChanged := mergeMap(s.Stack, other.Stack)
	return regsChanged || stackChanged
}
