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

// Package profile assembles pprof-compatible CPU profiles from call
// stacks produced by the unwind package: a Sampler periodically captures
// a stack, and accumulated samples are rendered into a *profile.Profile
// on demand, either directly or over HTTP.
package profile

import (
	"fmt"
	"hash/maphash"
	"strings"

	"github.com/google/pprof/profile"
	"golang.org/x/exp/slices"

	"github.com/stealthrocket/rvunwind/symbol"
)

// Stack is one captured call stack, innermost frame first.
type Stack struct {
	pcs []uint64
	key uint64
}

// MakeStack builds a Stack from pcs, reusing reuse's backing array when
// it has enough capacity, the way the sampler's hot path avoids
// allocating for every tick.
func MakeStack(reuse Stack, pcs []uint64) Stack {
	reuse.pcs = append(reuse.pcs[:0], pcs...)
	reuse.key = maphash.Bytes(stackHashSeed, uint64sAsBytes(reuse.pcs))
	return reuse
}

func (s Stack) clone() Stack {
	return Stack{pcs: slices.Clone(s.pcs), key: s.key}
}

func (s Stack) len() int { return len(s.pcs) }

func (s Stack) String() string {
	sb := new(strings.Builder)
	for _, pc := range s.pcs {
		fmt.Fprintf(sb, "@%016x\n", pc)
	}
	return sb.String()
}

var stackHashSeed = maphash.MakeSeed()

type stackCounterMap map[uint64]*stackCounter

func (scm stackCounterMap) lookup(st Stack) *stackCounter {
	sc := scm[st.key]
	if sc == nil {
		sc = &stackCounter{stack: st.clone()}
		scm[st.key] = sc
	}
	return sc
}

func (scm stackCounterMap) observe(st Stack, value int64) {
	scm.lookup(st).observe(value)
}

type stackCounter struct {
	stack Stack
	value [2]int64 // count, total
}

func (sc *stackCounter) observe(value int64) {
	sc.value[0]++
	sc.value[1] += value
}

func (sc *stackCounter) sampleLocation() Stack { return sc.stack }
func (sc *stackCounter) sampleValue() []int64  { return sc.value[:] }

type sampleType interface {
	sampleLocation() Stack
	sampleValue() []int64
}

func buildProfile[T sampleType](sampleRate float64, symbols *symbol.Table, samples map[uint64]T, timeNanos, durationNanos int64, valueTypes []*profile.ValueType) *profile.Profile {
	prof := &profile.Profile{
		SampleType:    valueTypes,
		Sample:        make([]*profile.Sample, 0, len(samples)),
		TimeNanos:     timeNanos,
		DurationNanos: durationNanos,
	}

	locationID := uint64(1)
	locationCache := make(map[uint64]*profile.Location)
	functionCache := make(map[uint64]*profile.Function)

	for _, sample := range samples {
		stack := sample.sampleLocation()
		locations := make([]*profile.Location, stack.len())

		for i, pc := range stack.pcs {
			loc := locationCache[pc]
			if loc == nil {
				loc = &profile.Location{
					ID:      locationID,
					Address: pc,
					Line:    []profile.Line{{Function: functionFor(symbols, functionCache, pc)}},
				}
				locationID++
				locationCache[pc] = loc
			}
			locations[i] = loc
		}

		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: locations,
			Value:    sample.sampleValue(),
		})
	}

	prof.Location = make([]*profile.Location, len(locationCache))
	for _, loc := range locationCache {
		prof.Location[loc.ID-1] = loc
	}

	prof.Function = make([]*profile.Function, 0, len(functionCache))
	for _, fn := range functionCache {
		prof.Function = append(prof.Function, fn)
	}
	slices.SortFunc(prof.Function, func(a, b *profile.Function) bool { return a.ID < b.ID })

	if sampleRate > 0 && sampleRate < 1 {
		prof.Scale(1 / sampleRate)
	}
	return prof
}

func functionFor(symbols *symbol.Table, cache map[uint64]*profile.Function, pc uint64) *profile.Function {
	var name string
	var addr uint64
	if symbols != nil {
		if loc, ok := symbols.Lookup(pc); ok {
			name, addr = loc.Name, loc.Addr
		}
	}
	if name == "" {
		name = fmt.Sprintf("%#x", pc)
		addr = pc
	}

	fn := cache[addr]
	if fn == nil {
		fn = &profile.Function{
			ID:         uint64(len(cache)) + 1,
			Name:       name,
			SystemName: name,
		}
		cache[addr] = fn
	}
	return fn
}

func uint64sAsBytes(pcs []uint64) []byte {
	b := make([]byte, 8*len(pcs))
	for i, pc := range pcs {
		for j := 0; j < 8; j++ {
			b[8*i+j] = byte(pc >> (8 * j))
		}
	}
	return b
}
