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

// Package unwindtab merges per-instruction unwind facts produced by the
// analyze package into a sorted, gap-annotated, fixed-size binary table,
// and decodes that table back for inspection.
package unwindtab

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/stealthrocket/rvunwind/analyze"
)

// EntrySize is the fixed wire size of one Entry, in bytes.
const EntrySize = 12

// Sentinel marks a saved-register offset as "still live in a register,
// no reload needed".
const Sentinel = 0xFF

// Entry is the wire record for one code range. Offsets are relative to
// the start of .text.
type Entry struct {
	CodeOffset uint32
	SpOffset   uint32
	SpReg      uint8 // 2 = sp, 8 = fp, 0 = no unwind info
	FpOffset   uint8 // Sentinel means fp is live
	RaOffset   uint8 // Sentinel means ra is live
	Flag       uint8 // bit 0 set iff this entry carries valid unwind info
}

// Valid reports whether this entry carries unwind info (flag bit 0).
func (e Entry) Valid() bool { return e.Flag&1 != 0 }

// AppendBinary appends e's little-endian wire encoding to buf.
func (e Entry) AppendBinary(buf []byte) []byte {
	var b [EntrySize]byte
	binary.LittleEndian.PutUint32(b[0:4], e.CodeOffset)
	binary.LittleEndian.PutUint32(b[4:8], e.SpOffset)
	b[8] = e.SpReg
	b[9] = e.FpOffset
	b[10] = e.RaOffset
	b[11] = e.Flag
	return append(buf, b[:]...)
}

// DecodeEntry reads one Entry from the front of b.
func DecodeEntry(b []byte) Entry {
	_ = b[11] // bounds check hint
	return Entry{
		CodeOffset: binary.LittleEndian.Uint32(b[0:4]),
		SpOffset:   binary.LittleEndian.Uint32(b[4:8]),
		SpReg:      b[8],
		FpOffset:   b[9],
		RaOffset:   b[10],
		Flag:       b[11],
	}
}

// DecodeTable splits a concatenated table into its Entry records. len(b)
// must be a multiple of EntrySize.
func DecodeTable(b []byte) []Entry {
	n := len(b) / EntrySize
	out := make([]Entry, n)
	for i := 0; i < n; i++ {
		out[i] = DecodeEntry(b[i*EntrySize:])
	}
	return out
}

// ErrOverlappingRange is returned by Merge when two input ranges overlap,
// which indicates corrupt input or an analyzer bug.
var ErrOverlappingRange = errors.New("unwindtab: overlapping unwind ranges")

// gapWarnThreshold is the gap width, in bytes, beyond which Merge logs a
// diagnostic about a suspiciously large unanalyzable region.
const gapWarnThreshold = 6

// Range is one half-open code-offset range produced by extracting an
// UnwindStep at every reachable instruction of a function. Step is nil
// where no recipe could be derived at that instruction.
type Range struct {
	Start int64
	End   int64
	Step  *analyze.UnwindStep
}

// FunctionRanges walks every reachable instruction of fn (as analyzed by
// analyze.Analyze) and returns one Range per instruction, with code
// offsets relative to textBase. The tail integrity check is not run here;
// analyze.Analyze runs it while computing states.
func FunctionRanges(fn analyze.Function, states map[int64]analyze.AbstractState, textBase int64) []Range {
	pcs := make([]int64, 0, len(states))
	for pc := range states {
		pcs = append(pcs, pc)
	}
	sort.Slice(pcs, func(i, j int) bool { return pcs[i] < pcs[j] })

	ranges := make([]Range, 0, len(pcs))
	for _, pc := range pcs {
		off := pc - fn.Addr
		if off < 0 || off >= int64(len(fn.Bytes)) {
			continue
		}
		length := int64(2)
		if fn.Bytes[off]&0b11 == 0b11 {
			length = 4
		}

		state := states[pc]
		var stepPtr *analyze.UnwindStep
		if step, ok := state.UnwindStep(); ok {
			stepPtr = &step
		}

		ranges = append(ranges, Range{
			Start: pc - textBase,
			End:   pc - textBase + length,
			Step:  stepPtr,
		})
	}
	return ranges
}

// Merge sorts ranges by Start, coalesces runs with an identical
// UnwindStep, inserts explicit "unknown" gap entries over uncovered code,
// and terminates the table with a flag=0 entry at the end of the last
// range, which also covers any code past it. textLen is not consulted.
// It returns ErrOverlappingRange if two ranges overlap.
func Merge(ranges []Range, textLen int64) ([]Entry, error) {
	sorted := make([]Range, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	var entries []Entry
	var last *analyze.UnwindStep
	cursor := int64(0)

	for _, r := range sorted {
		if r.Start < cursor {
			return nil, fmt.Errorf("%w: range [%d,%d) starts before cursor %d", ErrOverlappingRange, r.Start, r.End, cursor)
		}
		if r.Start > cursor {
			if gap := r.Start - cursor; gap > gapWarnThreshold {
				log.Printf("rvunwind: unwindtab: gap of %d bytes at offset %d", gap, cursor)
			}
			entries = append(entries, gapEntry(cursor))
			last = nil
			cursor = r.Start
		}

		if !stepsEqual(last, r.Step) {
			if e, ok := encodeStep(r.Start, r.Step); ok {
				entries = append(entries, e)
				last = r.Step
			} else {
				entries = append(entries, gapEntry(r.Start))
				last = nil
			}
		}
		cursor = r.End
	}

	entries = append(entries, gapEntry(cursor))
	return entries, nil
}

// Encode concatenates entries into their binary wire form.
func Encode(entries []Entry) []byte {
	buf := make([]byte, 0, len(entries)*EntrySize)
	for _, e := range entries {
		buf = e.AppendBinary(buf)
	}
	return buf
}

func gapEntry(offset int64) Entry {
	off, _ := toU32(offset)
	return Entry{CodeOffset: off}
}

func encodeStep(offset int64, step *analyze.UnwindStep) (Entry, bool) {
	if step == nil {
		return Entry{}, false
	}
	off, ok := toU32(offset)
	if !ok {
		return Entry{}, false
	}
	spOff, ok := toU32(step.SpOffset)
	if !ok {
		return Entry{}, false
	}
	fpOff, ok := convertSavedOffset(step.FpOffset)
	if !ok {
		return Entry{}, false
	}
	raOff, ok := convertSavedOffset(step.RaOffset)
	if !ok {
		return Entry{}, false
	}
	spReg := uint8(2)
	if step.SpReg == analyze.OrigSpFromFp {
		spReg = 8
	}
	return Entry{
		CodeOffset: off,
		SpOffset:   spOff,
		SpReg:      spReg,
		FpOffset:   fpOff,
		RaOffset:   raOff,
		Flag:       1,
	}, true
}

// convertSavedOffset turns a saved-register stack offset into its wire
// form: nil means the register is live (Sentinel); otherwise the offset
// must negate into 1..254.
func convertSavedOffset(off *int64) (uint8, bool) {
	if off == nil {
		return Sentinel, true
	}
	v := -*off
	if v <= 0 || v >= Sentinel {
		return 0, false
	}
	return uint8(v), true
}

func toU32(v int64) (uint32, bool) {
	if v < 0 || v > 0xffffffff {
		return 0, false
	}
	return uint32(v), true
}

func stepsEqual(a, b *analyze.UnwindStep) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.SpReg != b.SpReg || a.SpOffset != b.SpOffset {
		return false
	}
	if !offsetsEqual(a.FpOffset, b.FpOffset) {
		return false
	}
	return offsetsEqual(a.RaOffset, b.RaOffset)
}

func offsetsEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
