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

// Package unwind walks a native RV64GC call stack frame by frame using a
// precomputed Table. Walk performs no heap allocation and never panics
// on malformed input: it is meant to run from a signal handler, where
// both are unacceptable.
package unwind

import (
	"encoding/binary"
	"errors"
	"unsafe"
)

// entrySize is the wire size of one unwind table entry; it must match
// unwindtab.EntrySize.
const entrySize = 12

// sentinel marks a saved-register offset as "still live", matching
// unwindtab.Sentinel.
const sentinel = 0xff

// ErrMisalignedTable is returned by NewTable when data is not a whole
// number of entries.
var ErrMisalignedTable = errors.New("unwind: table length is not a multiple of the entry size")

// Table is a borrowed view over a binary unwind table plus the load
// address its code offsets are relative to. The backing array is never
// copied or mutated.
type Table struct {
	data      []byte
	textStart uintptr
}

// NewTable wraps data, the raw concatenated Entry records produced by
// unwindtab.Encode, as a Table usable by Walk. textStart is the runtime
// load address of the analyzed image's .text section.
func NewTable(data []byte, textStart uintptr) (Table, error) {
	if len(data)%entrySize != 0 {
		return Table{}, ErrMisalignedTable
	}
	return Table{data: data, textStart: textStart}, nil
}

func (t Table) len() int { return len(t.data) / entrySize }

func (t Table) codeOffsetAt(i int) uint32 {
	return binary.LittleEndian.Uint32(t.data[i*entrySize:])
}

func (t Table) entryAt(i int) (spOffset uint32, spReg, fpOffset, raOffset, flag uint8) {
	e := t.data[i*entrySize:]
	spOffset = binary.LittleEndian.Uint32(e[4:8])
	spReg = e[8]
	fpOffset = e[9]
	raOffset = e[10]
	flag = e[11]
	return
}

// search returns the index of the last entry whose CodeOffset is <= offset,
// or -1 if none is. Entries are assumed sorted by CodeOffset, as produced
// by unwindtab.Merge.
func (t Table) search(offset uint32) int {
	lo, hi := 0, t.len()
	for lo < hi {
		mid := (lo + hi) / 2
		if t.codeOffsetAt(mid) <= offset {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo - 1
}

// CallFrame is one activation record: the instruction about to execute
// and the two registers needed to recover the caller's frame.
type CallFrame struct {
	PC uintptr
	SP uintptr
	FP uintptr
}

// FirstFrame seeds Walk. RA is the return address for the innermost
// frame, supplied by the caller (typically read out of the ra register
// at a signal/trap boundary) because the table alone cannot recover it
// for the very first frame unwound.
type FirstFrame struct {
	RA    uintptr
	Frame CallFrame
}

func load(addr uintptr) uintptr {
	return *(*uintptr)(unsafe.Pointer(addr)) //nolint:govet
}

// Walk calls visit once per frame, starting at first.Frame, and
// continues to the caller's frame, the caller's caller, and so on until
// the table reports the frame has no unwind info, an entry requests an
// unsupported sp_reg, or the outermost frame is reached (ra_offset live
// past the first frame signals there is no caller left to unwind into).
//
// Walk never allocates and never dereferences a pointer whose validity
// it has not derived directly from the table and the frame being
// unwound; it is safe to call from a signal handler, provided visit is.
func Walk(table Table, first FirstFrame, visit func(CallFrame)) {
	frame := first.Frame
	isTop := true
	n := table.len()
	if n == 0 {
		visit(frame)
		return
	}

	for {
		visit(frame)

		if frame.PC < table.textStart {
			return
		}
		diff := uint64(frame.PC - table.textStart)
		if diff > 0xffffffff {
			return
		}
		offset := uint32(diff)

		idx := table.search(offset)
		if idx < 0 {
			return
		}

		spOffset, spReg, fpOffset, raOffset, flag := table.entryAt(idx)
		if flag&1 == 0 {
			return
		}

		var spBase uintptr
		switch spReg {
		case 2:
			spBase = frame.SP
		case 8:
			spBase = frame.FP
		default:
			return
		}
		frame.SP = spBase + uintptr(spOffset)

		if fpOffset != sentinel {
			frame.FP = load(frame.SP - uintptr(fpOffset))
		}

		if raOffset == sentinel {
			if !isTop {
				return
			}
			frame.PC = first.RA
		} else {
			frame.PC = load(frame.SP - uintptr(raOffset))
		}

		isTop = false
	}
}
