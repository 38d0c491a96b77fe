// Copyright 2018 The gVisor Authors.
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
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type testWriter struct {
	lines []string
	fail  bool
}

func (w *testWriter) Write(bytes []byte) (int, error) {
	if w.fail {
		return 0, fmt.Errorf("simulated failure")
	}
	w.lines = append(w.lines, string(bytes))
	return len(bytes), nil
}

func TestDropMessages(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("line 1\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	tw.fail = true
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}

	tw.fail = false
	if _, err := w.Write([]byte("line 2\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	want := []string{
		"line 1\n",
		"\n*** Dropped 2 log messages ***\n",
		"line 2\n",
	}
	if diff := cmp.Diff(want, tw.lines); diff != "" {
		t.Errorf("written lines mismatch (-want +got):\n%s", diff)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := &BasicLogger{Level: Info, Emitter: &Writer{Next: &buf}}
	l.Debugf("hidden %d\n", 1)
	l.Infof("shown %d\n", 2)
	l.Warningf("shown %d\n", 3)
	if got, want := buf.String(), "shown 2\nshown 3\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}

	l.SetLevel(Debug)
	if !l.IsLogging(Debug) {
		t.Errorf("IsLogging(Debug) = false after SetLevel(Debug)")
	}
}

func TestGoogleEmitterFormat(t *testing.T) {
	var buf bytes.Buffer
	l := &BasicLogger{Level: Debug, Emitter: GoogleEmitter{&Writer{Next: &buf}}}
	ts := time.Date(2026, time.March, 4, 5, 6, 7, 8000, time.UTC)
	l.Emit(1, Warning, ts, "frame %s exhausted", "0x1000")

	re := regexp.MustCompile(`^W0304 05:06:07\.000008 +\d+ \S+:\d+\] frame 0x1000 exhausted\n$`)
	if !re.MatchString(buf.String()) {
		t.Errorf("output %q does not match %v", buf.String(), re)
	}
}

func TestJSONEmitters(t *testing.T) {
	for name, build := range map[string]func(*Writer) Emitter{
		"json":     func(w *Writer) Emitter { return JSONEmitter{w} },
		"json-k8s": func(w *Writer) Emitter { return K8sJSONEmitter{w} },
	} {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			l := &BasicLogger{Level: Info, Emitter: build(&Writer{Next: &buf})}
			l.Infof("allocated %d frames", 3)
			out := buf.String()
			if !strings.Contains(out, `"level":"info"`) || !strings.Contains(out, "allocated 3 frames") {
				t.Errorf("unexpected output %q", out)
			}
			if !strings.HasSuffix(out, "\n") {
				t.Errorf("output %q is not newline terminated", out)
			}
		})
	}
}

func TestRateLimitedLogger(t *testing.T) {
	var buf bytes.Buffer
	base := &BasicLogger{Level: Info, Emitter: &Writer{Next: &buf}}
	rl := RateLimitedLogger(base, time.Hour)
	for i := 0; i < 5; i++ {
		rl.Warningf("out of memory")
	}
	if got, want := buf.String(), "out of memory"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestFilePattern(t *testing.T) {
	ts := time.Date(2026, time.January, 2, 3, 4, 5, 0, time.UTC)
	opts := FilePattern{Command: "stress", Timestamp: ts}
	for _, tc := range []struct {
		pattern string
		want    string
	}{
		{pattern: "/tmp/x.log", want: "/tmp/x.log"},
		{pattern: "/tmp/%COMMAND%.log", want: "/tmp/stress.log"},
		{pattern: "/tmp/logs/", want: "/tmp/logs/memsim.log.20260102-030405.000000.stress"},
	} {
		if got := opts.Build(tc.pattern); got != tc.want {
			t.Errorf("Build(%q) = %q, want %q", tc.pattern, got, tc.want)
		}
	}
}

func TestOpenFile(t *testing.T) {
	dir := t.TempDir()
	f, err := OpenFile(filepath.Join(dir, "sub", "%COMMAND%.log"), os.O_CREATE|os.O_WRONLY, FilePattern{Command: "map"})
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	defer f.Close()
	if got, want := f.Name(), filepath.Join(dir, "sub", "map.log"); got != want {
		t.Errorf("OpenFile created %q, want %q", got, want)
	}

	if f, err := OpenFile("", os.O_RDONLY, FilePattern{}); f != nil || err != nil {
		t.Errorf("OpenFile(\"\") = (%v, %v), want (nil, nil)", f, err)
	}
}
