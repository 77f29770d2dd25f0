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
	"encoding/binary"

	"github.com/stealthrocket/rvunwind/riscv"
)

// Function is the analyzer's input: a function's start address and its
// raw instruction bytes.
type Function struct {
	Addr  int64
	Bytes []byte
}

// Analyze runs the fixed-point worklist computation over fn and returns
// the AbstractState reachable at every decoded instruction boundary,
// keyed by absolute address. Out-of-range successors (computed from
// malformed or out-of-bounds branches) are silently ignored rather than
// causing a fault.
func Analyze(fn Function) map[int64]AbstractState {
	rng := [2]int64{fn.Addr, fn.Addr + int64(len(fn.Bytes))}

	states := map[int64]AbstractState{fn.Addr: entryState()}
	queue := []int64{fn.Addr}

	for len(queue) > 0 {
		pc := queue[0]
		queue = queue[1:]

		state := states[pc].clone()

		off := pc - fn.Addr
		if off < 0 || off >= int64(len(fn.Bytes)) {
			continue
		}

		insn, ok := readInsn(fn.Bytes[off:])
		if !ok {
			continue
		}

		eff := riscv.Lift(pc, rng, insn)
		state.execute(eff)

		if eff.Operation.Kind == riscv.OpTail {
			CheckTail(pc, state)
		}

		for _, delta := range eff.Successors {
			target := pc + delta
			if existing, ok := states[target]; ok {
				if existing.merge(state) {
					states[target] = existing
					queue = append(queue, target)
				}
			} else {
				states[target] = state.clone()
				queue = append(queue, target)
			}
		}
	}

	return states
}

// readInsn reads one instruction word from the front of b: 4 bytes if
// its first halfword is a 32-bit encoding, else 2 bytes. Reports ok=false
// if b does not hold enough bytes for the word it claims to be.
func readInsn(b []byte) (uint32, bool) {
	if len(b) == 0 {
		return 0, false
	}
	if b[0]&0b11 == 0b11 {
		if len(b) < 4 {
			return 0, false
		}
		return binary.LittleEndian.Uint32(b[:4]), true
	}
	if len(b) < 2 {
		return 0, false
	}
	return uint32(binary.LittleEndian.Uint16(b[:2])), true
}
