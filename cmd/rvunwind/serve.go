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
	"context"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/stealthrocket/rvunwind/profile"
)

// defaultSampleRate throttles per-tick capture to one in nineteen ticks.
const defaultSampleRate = 1.0 / 19

func newServeCmd() *cobra.Command {
	var addr string
	var sampleRate float64
	var tick time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a pprof-compatible CPU profile of this rvunwind process",
		Long: "serve demonstrates the profile package end to end by self-profiling " +
			"the rvunwind process itself: there is no RV64 unwind target attached, " +
			"so stacks are captured with runtime.Callers instead of unwind.Walk.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), addr, sampleRate, tick)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":6060", "address to serve /debug/pprof on")
	cmd.Flags().Float64Var(&sampleRate, "rate", defaultSampleRate, "fraction of ticks that capture a stack")
	cmd.Flags().DurationVar(&tick, "interval", 10*time.Millisecond, "capture ticker interval")
	return cmd
}

func runServe(ctx context.Context, addr string, sampleRate float64, tick time.Duration) error {
	sampler := profile.NewSampler(nil, time.Now)

	mux := http.NewServeMux()
	mux.Handle("/debug/pprof/", profile.Index(sampler, sampleRate))

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	go selfSample(ctx, sampler, sampleRate, tick)

	log.Printf("rvunwind: serve: listening on %s", addr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func selfSample(ctx context.Context, sampler *profile.Sampler, sampleRate float64, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	throttle := profile.NewTickSampler(sampleRate)
	pcs := make([]uintptr, 64)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !throttle.Due() {
				continue
			}
			start := time.Now()
			n := runtime.Callers(2, pcs)
			frames := make([]uint64, n)
			for i, pc := range pcs[:n] {
				frames[i] = uint64(pc)
			}
			sampler.Record(frames, time.Since(start))
		}
	}
}
