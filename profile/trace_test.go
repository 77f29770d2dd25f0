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

package profile

import (
	"testing"

	ppprof "github.com/google/pprof/profile"

	"github.com/stealthrocket/rvunwind/elf"
	"github.com/stealthrocket/rvunwind/symbol"
)

func TestMakeStackReusesBackingArray(t *testing.T) {
	var s Stack
	s = MakeStack(s, []uint64{1, 2, 3})
	if s.len() != 3 {
		t.Fatalf("len = %d, want 3", s.len())
	}

	reused := MakeStack(s, []uint64{4, 5})
	if reused.len() != 2 {
		t.Fatalf("len = %d, want 2", reused.len())
	}
	if reused.pcs[0] != 4 || reused.pcs[1] != 5 {
		t.Fatalf("pcs = %v, want [4 5]", reused.pcs)
	}
	if &reused.pcs[0] != &s.pcs[0] {
		t.Fatalf("MakeStack allocated a new backing array despite sufficient capacity")
	}
}

func TestMakeStackHashIsStableAndDiscriminates(t *testing.T) {
	a := MakeStack(Stack{}, []uint64{1, 2, 3})
	b := MakeStack(Stack{}, []uint64{1, 2, 3})
	c := MakeStack(Stack{}, []uint64{1, 2, 4})

	if a.key != b.key {
		t.Fatalf("identical stacks hashed differently: %d != %d", a.key, b.key)
	}
	if a.key == c.key {
		t.Fatalf("distinct stacks hashed to the same key")
	}
}

func TestStackCloneIsIndependent(t *testing.T) {
	orig := MakeStack(Stack{}, []uint64{1, 2, 3})
	clone := orig.clone()
	clone.pcs[0] = 99
	if orig.pcs[0] == 99 {
		t.Fatalf("mutating the clone mutated the original")
	}
}

func TestStackString(t *testing.T) {
	s := MakeStack(Stack{}, []uint64{0x10, 0x20})
	want := "@0000000000000010\n@0000000000000020\n"
	if got := s.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestStackCounterMapAccumulates(t *testing.T) {
	scm := make(stackCounterMap)
	st := MakeStack(Stack{}, []uint64{1, 2})

	scm.observe(st, 10)
	scm.observe(st, 5)

	sc := scm[st.key]
	if sc.value[0] != 2 || sc.value[1] != 15 {
		t.Fatalf("counter = %+v, want count=2 total=15", sc.value)
	}
}

func TestUint64sAsBytesIsLittleEndian(t *testing.T) {
	b := uint64sAsBytes([]uint64{0x0102030405060708})
	want := []byte{0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01}
	if len(b) != len(want) {
		t.Fatalf("len(b) = %d, want %d", len(b), len(want))
	}
	for i := range want {
		if b[i] != want[i] {
			t.Fatalf("b[%d] = %#x, want %#x", i, b[i], want[i])
		}
	}
}

func TestBuildProfileResolvesSymbolsAndDedupesLocations(t *testing.T) {
	img := &elf.Image{Funcs: []elf.Func{{Name: "main", Addr: 0x1000, Size: 0x100}}}
	symbols := symbol.NewTable(img)

	samples := make(map[uint64]*stackCounter)
	st := MakeStack(Stack{}, []uint64{0x1010, 0x1010, 0x5000})
	samples[st.key] = &stackCounter{stack: st, value: [2]int64{3, 30}}

	prof := buildProfile[*stackCounter](1.0, symbols, samples, 0, 0, []*ppprof.ValueType{
		{Type: "sample", Unit: "count"},
		{Type: "cpu", Unit: "nanosecond"},
	})

	if len(prof.Sample) != 1 {
		t.Fatalf("len(Sample) = %d, want 1", len(prof.Sample))
	}
	if len(prof.Sample[0].Location) != 3 {
		t.Fatalf("len(Location) = %d, want 3 (one per pc, including the repeat)", len(prof.Sample[0].Location))
	}
	// The repeated pc (0x1010) must dedupe to the same *profile.Location.
	if prof.Sample[0].Location[0] != prof.Sample[0].Location[1] {
		t.Fatalf("repeated pc produced distinct Location objects")
	}
	if len(prof.Location) != 2 {
		t.Fatalf("len(prof.Location) = %d, want 2 distinct locations", len(prof.Location))
	}

	resolved := prof.Sample[0].Location[0].Line[0].Function
	if resolved.Name != "main" {
		t.Fatalf("resolved function = %q, want main", resolved.Name)
	}
	unresolved := prof.Sample[0].Location[2].Line[0].Function
	if unresolved.Name != "0x5000" {
		t.Fatalf("unresolved function = %q, want the raw pc", unresolved.Name)
	}
}

func TestBuildProfileScalesByInverseSampleRate(t *testing.T) {
	samples := make(map[uint64]*stackCounter)
	st := MakeStack(Stack{}, []uint64{0x1000})
	samples[st.key] = &stackCounter{stack: st, value: [2]int64{1, 1}}

	prof := buildProfile[*stackCounter](0.5, nil, samples, 0, 0, []*ppprof.ValueType{
		{Type: "sample", Unit: "count"},
		{Type: "cpu", Unit: "nanosecond"},
	})
	if prof.Sample[0].Value[0] != 2 {
		t.Fatalf("Value[0] = %d, want 2 (scaled by 1/0.5)", prof.Sample[0].Value[0])
	}
}
