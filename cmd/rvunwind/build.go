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
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/stealthrocket/rvunwind/analyze"
	"github.com/stealthrocket/rvunwind/elf"
	"github.com/stealthrocket/rvunwind/unwindtab"
)

func newBuildCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "build <executable>",
		Short: "Analyze a RISC-V ELF binary and emit its unwind table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				return fmt.Errorf("build: -o is required")
			}
			return runBuild(args[0], output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "path to write the binary unwind table to")
	return cmd
}

func runBuild(path, output string) error {
	img, err := elf.Open(path)
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}
	defer img.Close()

	var ranges []unwindtab.Range
	for _, fn := range img.Funcs {
		off := fn.Addr - img.TextAddr
		if off > uint64(len(img.TextBytes)) || fn.Size > uint64(len(img.TextBytes))-off {
			log.Printf("rvunwind: build: %s: function %q out of .text bounds, skipping", path, fn.Name)
			continue
		}

		body := analyze.Function{
			Addr:  int64(fn.Addr),
			Bytes: img.TextBytes[off : off+fn.Size],
		}
		states := analyze.Analyze(body)
		ranges = append(ranges, unwindtab.FunctionRanges(body, states, int64(img.TextAddr))...)
	}

	entries, err := unwindtab.Merge(ranges, int64(len(img.TextBytes)))
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}

	log.Printf("rvunwind: build: %s: %d functions, %d table entries", path, len(img.Funcs), len(entries))

	return os.WriteFile(output, unwindtab.Encode(entries), 0o644)
}
