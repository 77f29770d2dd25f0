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

// Package elf is the container front end: it opens an RV64GC ELF binary,
// validates its machine/class, and exposes the .text section bytes and
// STT_FUNC symbol table the rest of the pipeline needs.
package elf

import (
	"debug/elf"
	"errors"
	"fmt"
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

// ErrUnsupportedArch is returned by Open when the input is not a 64-bit
// RISC-V ELF. The byte order is not checked.
var ErrUnsupportedArch = errors.New("elf: not a 64-bit RISC-V (EM_RISCV/ELFCLASS64) image")

// Func is one analyzable function symbol: a non-zero-sized STT_FUNC entry
// defined in a real section.
type Func struct {
	Name string
	Addr uint64
	Size uint64
}

// Image is a memory-mapped ELF file kept open for the lifetime of an
// analysis or unwind run. The mapping is read-only; TextBytes is a copy
// of the .text section read out of it.
type Image struct {
	f    *os.File
	data mmap.MMap
	elf  *elf.File

	TextAddr  uint64
	TextBytes []byte
	Funcs     []Func
}

// Open memory-maps path and validates it as a 64-bit RISC-V ELF.
func Open(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("elf: mmap %s: %w", path, err)
	}

	ef, err := elf.NewFile(bytesReaderAt(data))
	if err != nil {
		data.Unmap()
		f.Close()
		return nil, fmt.Errorf("elf: parse %s: %w", path, err)
	}

	if ef.Class != elf.ELFCLASS64 || ef.Machine != elf.EM_RISCV {
		ef.Close()
		data.Unmap()
		f.Close()
		return nil, ErrUnsupportedArch
	}

	text := ef.Section(".text")
	if text == nil {
		ef.Close()
		data.Unmap()
		f.Close()
		return nil, fmt.Errorf("elf: %s: no .text section", path)
	}
	textBytes, err := text.Data()
	if err != nil {
		ef.Close()
		data.Unmap()
		f.Close()
		return nil, fmt.Errorf("elf: %s: read .text: %w", path, err)
	}

	syms, err := ef.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		ef.Close()
		data.Unmap()
		f.Close()
		return nil, fmt.Errorf("elf: %s: read symbols: %w", path, err)
	}

	return &Image{
		f:         f,
		data:      data,
		elf:       ef,
		TextAddr:  text.Addr,
		TextBytes: textBytes,
		Funcs:     filterFuncs(syms),
	}, nil
}

// filterFuncs keeps the STT_FUNC symbols that carry a real body: defined
// in an actual section and non-zero sized.
func filterFuncs(syms []elf.Symbol) []Func {
	funcs := make([]Func, 0, len(syms))
	for _, sym := range syms {
		if elf.ST_TYPE(sym.Info) != elf.STT_FUNC {
			continue
		}
		if sym.Section == elf.SHN_UNDEF || sym.Size == 0 {
			continue
		}
		funcs = append(funcs, Func{Name: sym.Name, Addr: sym.Value, Size: sym.Size})
	}
	return funcs
}

// Close unmaps and closes the underlying file.
func (img *Image) Close() error {
	img.elf.Close()
	if err := img.data.Unmap(); err != nil {
		img.f.Close()
		return err
	}
	return img.f.Close()
}

// bytesReaderAt adapts a byte slice to io.ReaderAt without copying it.
type bytesReaderAt []byte

func (b bytesReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(b)) {
		return 0, fmt.Errorf("elf: read at %d out of range", off)
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, fmt.Errorf("elf: short read at %d", off)
	}
	return n, nil
}
