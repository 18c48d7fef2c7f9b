// Copyright 2026 The nvkm Authors.
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

package log

import (
	"bytes"
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestWriterFormat(t *testing.T) {
	var buf bytes.Buffer
	w := &Writer{Next: &buf}
	ts := time.Date(2026, time.March, 7, 12, 34, 56, 789000, time.UTC)
	w.Emit(Warning, ts, "channel %d stalled", 42)

	want := "W0307 12:34:56.000789] channel 42 stalled\n"
	if got := buf.String(); got != want {
		t.Errorf("Emit = %q, want %q", got, want)
	}
}

func TestLevelGating(t *testing.T) {
	var buf bytes.Buffer
	l := &BasicLogger{Level: Info, Emitter: &Writer{Next: &buf}}

	l.Debugf("dropped")
	l.Infof("kept info")
	l.Warningf("kept warning")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("debug line emitted at info level: %q", out)
	}
	if !strings.Contains(out, "kept info") || !strings.Contains(out, "kept warning") {
		t.Errorf("expected lines missing: %q", out)
	}

	l.SetLevel(Debug)
	if !l.IsLogging(Debug) {
		t.Error("IsLogging(Debug) false after SetLevel(Debug)")
	}
	l.Debugf("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Error("debug line missing after raising the level")
	}
}

func TestRateLimitedLogger(t *testing.T) {
	var buf bytes.Buffer
	inner := &BasicLogger{Level: Warning, Emitter: &Writer{Next: &buf}}
	l := RateLimitedLogger(inner, time.Hour)

	for i := 0; i < 10; i++ {
		l.Warningf("spam %d", i)
	}

	re := regexp.MustCompile(`spam`)
	if got := len(re.FindAllString(buf.String(), -1)); got != 1 {
		t.Errorf("%d lines passed the limiter, want 1", got)
	}
	if !l.IsLogging(Warning) {
		t.Error("IsLogging must not be rate limited")
	}
}
