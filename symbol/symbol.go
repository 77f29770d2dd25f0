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

// Package symbol resolves runtime program counters back to function
// names, for turning unwound call stacks into human-readable or
// pprof-ready frames.
package symbol

import (
	"fmt"
	"sort"

	"github.com/stealthrocket/rvunwind/elf"
)

// Location is the result of resolving a PC: the enclosing function's
// name and its address range.
type Location struct {
	Name  string
	Addr  uint64
	Size  uint64
}

// Table resolves addresses within a single loaded image. Funcs are kept
// sorted by Addr so Lookup can binary search.
type Table struct {
	funcs []elf.Func
}

// NewTable builds a Table from every function symbol in img.
func NewTable(img *elf.Image) *Table {
	funcs := make([]elf.Func, len(img.Funcs))
	copy(funcs, img.Funcs)
	sort.Slice(funcs, func(i, j int) bool { return funcs[i].Addr < funcs[j].Addr })
	return &Table{funcs: funcs}
}

// Lookup returns the function symbol containing pc, if any.
func (t *Table) Lookup(pc uint64) (Location, bool) {
	i := sort.Search(len(t.funcs), func(i int) bool { return t.funcs[i].Addr > pc })
	if i == 0 {
		return Location{}, false
	}
	f := t.funcs[i-1]
	if pc >= f.Addr+f.Size {
		return Location{}, false
	}
	return Location{Name: f.Name, Addr: f.Addr, Size: f.Size}, true
}

// String renders a Location as name@addr.
func (l Location) String() string {
	return fmt.Sprintf("%s@%#x", l.Name, l.Addr)
}
