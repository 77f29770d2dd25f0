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

package unwindtab

import (
	"errors"
	"testing"

	"github.com/stealthrocket/rvunwind/analyze"
)

func offset(v int64) *int64 { return &v }

func TestEntryBinaryRoundTrip(t *testing.T) {
	e := Entry{CodeOffset: 0x1234, SpOffset: 16, SpReg: 2, FpOffset: Sentinel, RaOffset: 8, Flag: 1}
	buf := e.AppendBinary(nil)
	if len(buf) != EntrySize {
		t.Fatalf("AppendBinary produced %d bytes, want %d", len(buf), EntrySize)
	}
	got := DecodeEntry(buf)
	if got != e {
		t.Fatalf("DecodeEntry(AppendBinary(e)) = %+v, want %+v", got, e)
	}
	if !got.Valid() {
		t.Fatalf("Valid() = false for flag=1 entry")
	}
}

func TestDecodeTableLength(t *testing.T) {
	entries := []Entry{
		{CodeOffset: 0, Flag: 0},
		{CodeOffset: 4, SpOffset: 16, SpReg: 2, FpOffset: Sentinel, RaOffset: Sentinel, Flag: 1},
	}
	buf := Encode(entries)
	if len(buf) != len(entries)*EntrySize {
		t.Fatalf("Encode produced %d bytes, want %d", len(buf), len(entries)*EntrySize)
	}
	decoded := DecodeTable(buf)
	if len(decoded) != len(entries) {
		t.Fatalf("DecodeTable returned %d entries, want %d", len(decoded), len(entries))
	}
	for i, e := range entries {
		if decoded[i] != e {
			t.Fatalf("entry %d = %+v, want %+v", i, decoded[i], e)
		}
	}
}

func TestMergeCoalescesEqualSteps(t *testing.T) {
	step := &analyze.UnwindStep{SpReg: analyze.OrigSpFromSp, SpOffset: 16, FpOffset: offset(-16)}
	ranges := []Range{
		{Start: 0, End: 4, Step: step},
		{Start: 4, End: 8, Step: &analyze.UnwindStep{SpReg: analyze.OrigSpFromSp, SpOffset: 16, FpOffset: offset(-16)}},
	}

	entries, err := Merge(ranges, 8)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	// One entry for the coalesced run starting at offset 0, plus the
	// flag=0 terminator at the end of the last range.
	if len(entries) != 2 {
		t.Fatalf("Merge produced %d entries, want 2 (coalesced + terminator)", len(entries))
	}
	if entries[0].CodeOffset != 0 || !entries[0].Valid() {
		t.Fatalf("first entry = %+v, want valid entry at offset 0", entries[0])
	}
	if entries[1].CodeOffset != 8 || entries[1].Valid() {
		t.Fatalf("terminator = %+v, want flag=0 entry at offset 8", entries[1])
	}
}

func TestMergeInsertsGapForUncoveredRange(t *testing.T) {
	step := &analyze.UnwindStep{SpReg: analyze.OrigSpFromSp, SpOffset: 0}
	ranges := []Range{
		{Start: 10, End: 14, Step: step},
	}

	entries, err := Merge(ranges, 14)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Merge produced %d entries, want 3 (gap, entry, terminator)", len(entries))
	}
	if entries[0].CodeOffset != 0 || entries[0].Valid() {
		t.Fatalf("gap entry = %+v, want flag=0 entry at offset 0", entries[0])
	}
	if entries[1].CodeOffset != 10 || !entries[1].Valid() {
		t.Fatalf("covered entry = %+v, want valid entry at offset 10", entries[1])
	}
}

func TestMergeDetectsOverlap(t *testing.T) {
	ranges := []Range{
		{Start: 0, End: 8, Step: &analyze.UnwindStep{SpReg: analyze.OrigSpFromSp}},
		{Start: 4, End: 12, Step: &analyze.UnwindStep{SpReg: analyze.OrigSpFromSp}},
	}
	_, err := Merge(ranges, 12)
	if !errors.Is(err, ErrOverlappingRange) {
		t.Fatalf("Merge err = %v, want ErrOverlappingRange", err)
	}
}

func TestMergeNilStepNeedsNoEntry(t *testing.T) {
	// A nil Step at the very start of the table needs no explicit
	// gap entry: the absence of any entry covering [0, cursor) already
	// means "no unwind info" to a binary search over the table.
	ranges := []Range{
		{Start: 0, End: 4, Step: nil},
	}
	entries, err := Merge(ranges, 4)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(entries) != 1 || entries[0].Valid() || entries[0].CodeOffset != 4 {
		t.Fatalf("entries = %+v, want a single flag=0 terminator at offset 4", entries)
	}
}

func TestConvertSavedOffsetLiveVsSaved(t *testing.T) {
	if v, ok := convertSavedOffset(nil); !ok || v != Sentinel {
		t.Fatalf("convertSavedOffset(nil) = %d, %v, want Sentinel, true", v, ok)
	}
	if v, ok := convertSavedOffset(offset(-8)); !ok || v != 8 {
		t.Fatalf("convertSavedOffset(-8) = %d, %v, want 8, true", v, ok)
	}
	if _, ok := convertSavedOffset(offset(8)); ok {
		t.Fatalf("convertSavedOffset(8) unexpectedly succeeded (positive saved offset is invalid)")
	}
	if _, ok := convertSavedOffset(offset(-300)); ok {
		t.Fatalf("convertSavedOffset(-300) unexpectedly succeeded (out of byte range)")
	}
}
