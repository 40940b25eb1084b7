// Copyright 2016 Qubit Digital Ltd.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package assembler

import (
	"reflect"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/QubitProducts/logwatch/message"
)

func TestDefault_IsBoundary(t *testing.T) {
	a := Default()
	tests := []struct {
		line   string
		expect bool
	}{
		{"2016-01-02 10:00:00 INFO started", true},
		{"plain text", true},
		{"", false},
		{"  indented", false},
		{"\tat com.example.Foo.bar(Foo.java:10)", false},
		{"at com.example.Foo.bar(Foo.java:10)", false},
		{"Caused by: java.io.IOException: nope", false},
		{"... 12 more", false},
		{"java.lang.IllegalStateException: bad state", false},
		{"java.lang.OutOfMemoryError", false},
	}
	for i, st := range tests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			if got := a.IsBoundary(st.line); got != st.expect {
				t.Fatalf("expected = %v, got = %v", st.expect, got)
			}
		})
	}
}

func TestDefault_WithBoundary(t *testing.T) {
	a := Default(WithBoundary(regexp.MustCompile(`^>`)))
	if a.IsBoundary("plain") {
		t.Fatalf("custom boundary should only accept lines starting with >")
	}
	if !a.IsBoundary("> start") {
		t.Fatalf("custom boundary should accept > start")
	}
}

func TestDefault_Assemble(t *testing.T) {
	arrived := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		lines []string
		time  time.Time
		sev   message.Severity
	}{
		{
			[]string{"2016-01-02T10:00:00Z WARN disk low"},
			time.Date(2016, 1, 2, 10, 0, 0, 0, time.UTC),
			message.Warning,
		},
		{
			[]string{"2016-01-02 10:00:00.250 ERROR failed"},
			time.Date(2016, 1, 2, 10, 0, 0, 250000000, time.UTC),
			message.Error,
		},
		{
			[]string{"[2016-01-02 10:00:00] DEBUG x"},
			time.Date(2016, 1, 2, 10, 0, 0, 0, time.UTC),
			message.Debug,
		},
		{
			[]string{"no timestamp, and an error in prose"},
			arrived,
			message.Unknown,
		},
	}
	a := Default()
	for i, st := range tests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			p := a.Assemble(st.lines, arrived)
			if !p.Time.Equal(st.time) {
				t.Fatalf("expected time = %v, got = %v", st.time, p.Time)
			}
			if p.Severity != st.sev {
				t.Fatalf("expected severity = %v, got = %v", st.sev, p.Severity)
			}
			if p.Type != message.Log {
				t.Fatalf("expected type = %v, got = %v", message.Log, p.Type)
			}
		})
	}
}

func TestDefault_Exception(t *testing.T) {
	lines := []string{
		"2016-01-02 10:00:00 ERROR request failed",
		"java.lang.IllegalStateException: bad state",
		"\tat com.example.Foo.bar(Foo.java:10)",
		"\tat com.example.Main.main(Main.java:3)",
	}
	p := Default(WithType(message.Stderr)).Assemble(lines, time.Now())

	expect := &message.Exception{
		Class: "java.lang.IllegalStateException",
		Text:  "bad state",
		Frames: []string{
			"com.example.Foo.bar(Foo.java:10)",
			"com.example.Main.main(Main.java:3)",
		},
	}
	if !reflect.DeepEqual(p.Exception, expect) {
		t.Fatalf("expected = %+v, got = %+v", expect, p.Exception)
	}
	if p.Type != message.Stderr {
		t.Fatalf("expected type = %v, got = %v", message.Stderr, p.Type)
	}

	for _, l := range lines[1:] {
		if Default().IsBoundary(l) {
			t.Fatalf("line %q should continue the message", l)
		}
	}
}

func TestDefault_NoFramesNoException(t *testing.T) {
	p := Default().Assemble([]string{"INFO saw java.lang.IllegalStateException: once"}, time.Now())
	if p.Exception != nil {
		t.Fatalf("expected no exception without frames, got = %+v", p.Exception)
	}
	if p.Severity != message.Info {
		t.Fatalf("expected = %v, got = %v", message.Info, p.Severity)
	}
}
