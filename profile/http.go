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
//
// NewHandler and serveProfile/serveError below are adapted from
// net/http/pprof.
//
// Copyright (c) 2009 The Go Authors. All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are
// met:
//
//    * Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//    * Redistributions in binary form must reproduce the above
// copyright notice, this list of conditions and the following disclaimer
// in the documentation and/or other materials provided with the
// distribution.
//    * Neither the name of Google Inc. nor the names of its
// contributors may be used to endorse or promote products derived from
// this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS
// "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT
// LIMITED TO, THE IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR
// A PARTICULAR PURPOSE ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT
// OWNER OR CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT
// LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR SERVICES; LOSS OF USE,
// DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER CAUSED AND ON ANY
// THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT
// (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

package profile

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/google/pprof/profile"
)

func serveProfile(w http.ResponseWriter, prof *profile.Profile) {
	h := w.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Disposition", `attachment; filename="profile"`)
	if err := prof.Write(w); err != nil {
		serveError(w, http.StatusInternalServerError, err.Error())
	}
}

func serveError(w http.ResponseWriter, status int, txt string) {
	h := w.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Del("Content-Disposition")
	w.WriteHeader(status)
	fmt.Fprintln(w, txt)
}

// NewHandler returns an http.Handler serving pprof-compatible CPU
// profiles captured by s. The "seconds" query parameter controls the
// capture duration (default 30s); sampleRate scales sample counts back
// up to account for the Sampler's capture throttling.
func (s *Sampler) NewHandler(sampleRate float64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		duration := 30 * time.Second
		if seconds := r.FormValue("seconds"); seconds != "" {
			n, err := strconv.ParseInt(seconds, 10, 64)
			if err == nil && n > 0 {
				duration = time.Duration(n) * time.Second
			}
		}

		ctx := r.Context()
		if deadline, ok := ctx.Deadline(); ok {
			if timeout := time.Until(deadline); duration > timeout {
				serveError(w, http.StatusBadRequest, "profile duration exceeds server's WriteTimeout")
				return
			}
		}

		if !s.Start() {
			serveError(w, http.StatusInternalServerError, "could not start CPU profiling: sampler already running")
			return
		}

		timer := time.NewTimer(duration)
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
		timer.Stop()
		serveProfile(w, s.Stop(sampleRate))
	})
}

type profileEntry struct {
	Name    string
	Href    string
	Desc    string
	Handler http.Handler
}

// Index serves a single "profile" endpoint alongside an HTML index page,
// mirroring net/http/pprof's index without the guest/host split that
// only made sense for a WebAssembly embedding.
func Index(s *Sampler, sampleRate float64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entries := []profileEntry{
			{
				Name:    "profile",
				Href:    "profile",
				Desc:    "CPU profile. Specify the capture duration in the seconds GET parameter.",
				Handler: s.NewHandler(sampleRate),
			},
		}

		if href, ok := cutPrefix(r.URL.Path, "/debug/pprof/"); ok {
			for _, entry := range entries {
				if entry.Href == href {
					entry.Handler.ServeHTTP(w, r)
					return
				}
			}
		}

		sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Content-Type", "text/html; charset=utf-8")
		if err := indexTmplExecute(w, entries); err != nil {
			serveError(w, http.StatusInternalServerError, err.Error())
		}
	})
}

func cutPrefix(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || s[:len(prefix)] != prefix {
		return s, false
	}
	return s[len(prefix):], true
}

func indexTmplExecute(w io.Writer, entries []profileEntry) error {
	var b bytes.Buffer
	b.WriteString(`<html>
<head>
<title>/debug/pprof</title>
</head>
<body>
/debug/pprof
<br>
Types of profiles available:
<table>
<thead><td>Profile</td><td>Description</td></thead>
`)

	for _, e := range entries {
		link := &url.URL{Path: e.Href}
		fmt.Fprintf(&b, "<tr><td><a href='%s'>%s</a></td><td>%s</td></tr>\n", link, html.EscapeString(e.Name), html.EscapeString(e.Desc))
	}

	b.WriteString(`</table>
</body>
</html>`)

	_, err := w.Write(b.Bytes())
	return err
}
