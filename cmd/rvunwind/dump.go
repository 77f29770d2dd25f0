//  Copyright 2023 Stealth Rocket, Inc.
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

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stealthrocket/rvunwind/unwindtab"
)

func newDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <table>",
		Short: "Print the unwind recipe carried by each entry of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(args[0])
		},
	}
}

func runDump(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("dump: %w", err)
	}
	if len(data)%unwindtab.EntrySize != 0 {
		return fmt.Errorf("dump: %s: length %d is not a multiple of the entry size %d", path, len(data), unwindtab.EntrySize)
	}

	for _, e := range unwindtab.DecodeTable(data) {
		fmt.Println(formatEntry(e))
	}
	return nil
}

// formatEntry renders one table entry as a human-readable unwind recipe.
func formatEntry(e unwindtab.Entry) string {
	if !e.Valid() {
		return fmt.Sprintf("%#08x: no unwind info", e.CodeOffset)
	}

	spReg := "sp"
	if e.SpReg == 8 {
		spReg = "fp"
	}

	fp := "live"
	if e.FpOffset != unwindtab.Sentinel {
		fp = fmt.Sprintf("-%d(sp')", e.FpOffset)
	}

	ra := "live"
	if e.RaOffset != unwindtab.Sentinel {
		ra = fmt.Sprintf("-%d(sp')", e.RaOffset)
	}

	return fmt.Sprintf("%#08x: sp' = %s+%d, fp = %s, ra = %s", e.CodeOffset, spReg, e.SpOffset, fp, ra)
}
