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
	"math"
	"sync"
	"time"

	"github.com/google/pprof/profile"

	"github.com/stealthrocket/rvunwind/symbol"
	"github.com/stealthrocket/rvunwind/unwind"
)

// TickSampler decides, once per timer tick, whether that tick should
// actually capture a stack. A sample rate of 1 captures every tick; a
// rate below 1 captures every ceil(1/rate)'th tick. Callers driving their
// own ticker loop (for example a self-profiling CLI) use this to decide
// when to call Sampler.Record.
type TickSampler struct {
	count uint64
	cycle uint64
}

// NewTickSampler builds a TickSampler for the given sample rate.
func NewTickSampler(sampleRate float64) TickSampler {
	if sampleRate <= 0 || sampleRate >= 1 {
		return TickSampler{count: 1, cycle: 1}
	}
	cycle := uint64(math.Ceil(1 / sampleRate))
	return TickSampler{count: cycle, cycle: cycle}
}

// Due reports whether the current tick is due for capture.
func (s *TickSampler) Due() bool {
	if s.count--; s.count == 0 {
		s.count = s.cycle
		return true
	}
	return false
}

// Sampler records CPU profile samples by periodically capturing a
// target thread's stack. It produces two sample types: "sample", the raw
// capture count, and "cpu", the wall-clock time charged to each captured
// stack.
//
// Sampler is agnostic to how a stack was captured: Sample unwinds a
// foreign RV64 thread through an unwind.Table, while Record accepts any
// already-captured program counters (for example, the host process's own
// stack, for self-profiling when no foreign target is attached).
type Sampler struct {
	mutex   sync.Mutex
	counts  stackCounterMap
	symbols *symbol.Table
	now     func() time.Time
	epoch   time.Time
	pcs     []uint64
	stack   Stack
}

// NewSampler constructs a Sampler that resolves frames through symbols,
// which may be nil to report raw addresses only. now is expected to
// return values carrying a monotonic clock reading; time.Now is a valid
// choice.
func NewSampler(symbols *symbol.Table, now func() time.Time) *Sampler {
	return &Sampler{symbols: symbols, now: now}
}

// Start begins recording. It reports false if recording was already in
// progress.
func (s *Sampler) Start() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.counts != nil {
		return false
	}
	s.counts = make(stackCounterMap)
	s.epoch = s.now()
	return true
}

// Stop ends recording and renders the accumulated samples into a
// profile. It returns nil if recording was not in progress.
func (s *Sampler) Stop(sampleRate float64) *profile.Profile {
	s.mutex.Lock()
	samples, epoch := s.counts, s.epoch
	s.counts = nil
	s.mutex.Unlock()

	if samples == nil {
		return nil
	}
	return buildProfile(sampleRate, s.symbols, samples, epoch.UnixNano(), int64(s.now().Sub(epoch)),
		[]*profile.ValueType{
			{Type: "sample", Unit: "count"},
			{Type: "cpu", Unit: "nanosecond"},
		},
	)
}

// Sample unwinds table starting from first and charges the time spent
// unwinding against the resulting stack. It is a no-op if recording is
// not in progress. Its pc and stack buffers are reused between calls;
// the first sample of each distinct stack allocates a counter for it.
func (s *Sampler) Sample(table unwind.Table, first unwind.FirstFrame) {
	start := s.now()
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.counts == nil {
		return
	}

	s.pcs = s.pcs[:0]
	unwind.Walk(table, first, func(frame unwind.CallFrame) {
		s.pcs = append(s.pcs, uint64(frame.PC))
	})
	s.record(s.pcs, s.now().Sub(start))
}

// Record charges elapsed wall-clock time against a stack already
// captured by the caller (for example via runtime.Callers), without
// going through the unwind package. It is a no-op if recording is not in
// progress.
func (s *Sampler) Record(pcs []uint64, elapsed time.Duration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.counts == nil {
		return
	}
	s.record(pcs, elapsed)
}

func (s *Sampler) record(pcs []uint64, elapsed time.Duration) {
	s.stack = MakeStack(s.stack, pcs)
	s.counts.observe(s.stack, int64(elapsed))
}
