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
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCutPrefix(t *testing.T) {
	if got, ok := cutPrefix("/debug/pprof/profile", "/debug/pprof/"); !ok || got != "profile" {
		t.Fatalf("cutPrefix = %q, %v, want profile, true", got, ok)
	}
	if _, ok := cutPrefix("/other", "/debug/pprof/"); ok {
		t.Fatalf("cutPrefix matched an unrelated path")
	}
	if _, ok := cutPrefix("/deb", "/debug/pprof/"); ok {
		t.Fatalf("cutPrefix matched a too-short path")
	}
}

func TestIndexServesHTMLAtRoot(t *testing.T) {
	sampler := NewSampler(nil, time.Now)
	handler := Index(sampler, 1.0)

	req := httptest.NewRequest("GET", "/debug/pprof/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("Content-Type = %q, want text/html", ct)
	}
	if !strings.Contains(rec.Body.String(), "profile") {
		t.Fatalf("index page missing the profile entry: %s", rec.Body.String())
	}
}

func TestIndexServesProfileOnCancelledContext(t *testing.T) {
	sampler := NewSampler(nil, time.Now)
	handler := Index(sampler, 1.0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already done: the handler's internal select must pick this branch, not the 30s timer

	req := httptest.NewRequest("GET", "/debug/pprof/profile", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Fatalf("Content-Type = %q, want application/octet-stream", ct)
	}
	if rec.Body.Len() == 0 {
		t.Fatalf("profile body is empty")
	}
}

func TestIndexRejectsDurationPastDeadline(t *testing.T) {
	sampler := NewSampler(nil, time.Now)
	handler := Index(sampler, 1.0)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	req := httptest.NewRequest("GET", "/debug/pprof/profile?seconds=100", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400 (duration exceeds deadline)", rec.Code)
	}
}

func TestIndexRejectsDoubleStart(t *testing.T) {
	sampler := NewSampler(nil, time.Now)
	sampler.Start() // already recording

	handler := Index(sampler, 1.0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest("GET", "/debug/pprof/profile", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != 500 {
		t.Fatalf("status = %d, want 500 (sampler already running)", rec.Code)
	}
}
