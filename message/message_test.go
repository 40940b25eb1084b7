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

package message

import (
	"reflect"
	"regexp"
	"strconv"
	"testing"
	"time"
)

func TestNextID_Increases(t *testing.T) {
	prev := NextID()
	for i := 0; i < 100; i++ {
		id := NextID()
		if id <= prev {
			t.Fatalf("NextID %d: got %d, want > %d", i, id, prev)
		}
		prev = id
	}
}

func TestMessage_Equal(t *testing.T) {
	now := time.Now()
	a := New(42, Log, Info, now, []string{"one"})
	b := New(42, Log, Error, now.Add(time.Hour), []string{"two"})
	c := New(43, Log, Info, now, []string{"one"})

	if !a.Equal(b) {
		t.Fatalf("messages with the same ID should be equal")
	}
	if a.Equal(c) {
		t.Fatalf("messages with different IDs should not be equal")
	}
	var n *Message
	if a.Equal(n) {
		t.Fatalf("message should not equal nil")
	}
}

func TestMessage_Immutable(t *testing.T) {
	lines := []string{"a", "b"}
	m := New(NextID(), Log, Info, time.Now(), lines)
	lines[0] = "changed"
	got := m.Lines()
	got[1] = "changed"

	if !reflect.DeepEqual(m.Lines(), []string{"a", "b"}) {
		t.Fatalf("message lines changed, got = %v", m.Lines())
	}
	if m.Text() != "a\nb" {
		t.Fatalf("expected text = %q, got = %q", "a\nb", m.Text())
	}
}

func TestMessage_Labels(t *testing.T) {
	m := New(7, Stderr, Warning, time.Now(), []string{"x"},
		WithLabels(map[string]string{"filename": "/var/log/app.log"}))

	expect := map[string]string{
		"filename": "/var/log/app.log",
		"severity": "WARNING",
		"type":     "STDERR",
		"id":       "7",
	}
	if got := m.Labels(); !reflect.DeepEqual(got, expect) {
		t.Fatalf("expected labels = %v, got = %v", expect, got)
	}
	if v, ok := m.Label("filename"); !ok || v != "/var/log/app.log" {
		t.Fatalf("expected filename label, got = %q, %v", v, ok)
	}
	if _, ok := m.Label("nosuch"); ok {
		t.Fatalf("unexpected label nosuch")
	}
}

func TestMessage_Previous(t *testing.T) {
	first := New(1, Log, Info, time.Now(), []string{"first"})
	available := true
	second := New(2, Log, Info, time.Now(), []string{"second"},
		WithPrevious(func() (*Message, bool) {
			if !available {
				return nil, false
			}
			return first, true
		}))

	if p, ok := second.Previous(); !ok || !p.Equal(first) {
		t.Fatalf("expected previous = %v, got = %v", first, p)
	}
	available = false
	if _, ok := second.Previous(); ok {
		t.Fatalf("previous should be unavailable once gone")
	}
	if _, ok := first.Previous(); ok {
		t.Fatalf("first message has no previous")
	}
	if _, ok := NewTag("t").Previous(); ok {
		t.Fatalf("tags have no previous")
	}
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in  string
		sev Severity
		ok  bool
	}{
		{"info", Info, true},
		{"WARN", Warning, true},
		{" Warning ", Warning, true},
		{"SEVERE", Error, true},
		{"critical", Fatal, true},
		{"fine", Debug, true},
		{"chatty", Unknown, false},
	}
	for i, st := range tests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			sev, ok := ParseSeverity(st.in)
			if sev != st.sev || ok != st.ok {
				t.Fatalf("expected = %v/%v, got = %v/%v", st.sev, st.ok, sev, ok)
			}
		})
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	terminal := map[Status]bool{
		Incoming:    false,
		Undecided:   false,
		Accepted:    true,
		Rejected:    true,
		Undelivered: true,
	}
	for s, exp := range terminal {
		if s.IsTerminal() != exp {
			t.Fatalf("%v: expected terminal = %v", s, exp)
		}
	}
}

func TestConditions(t *testing.T) {
	now := time.Now()
	m := New(1, Log, Error, now, []string{"connection refused", "\tat Foo.bar"})

	tests := []struct {
		c   Condition
		res bool
	}{
		{All, true},
		{None, false},
		{AtLeast(Warning), true},
		{AtLeast(Fatal), false},
		{OfType(Stdout, Log), true},
		{OfType(Tag), false},
		{Contains("Foo.bar"), true},
		{Contains("nope"), false},
		{Matches(regexp.MustCompile(`refused\n\tat`)), true},
		{And(AtLeast(Error), Contains("refused")), true},
		{And(AtLeast(Error), Contains("nope")), false},
		{Or(None, Contains("refused")), true},
		{Not(All), false},
		{And(), true},
		{Or(), false},
	}
	for i, st := range tests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			if got := st.c(m); got != st.res {
				t.Fatalf("expected = %v, got = %v", st.res, got)
			}
		})
	}
}

func TestSelect(t *testing.T) {
	now := time.Now()
	a := New(1, Log, Info, now.Add(2*time.Second), []string{"a"})
	b := New(2, Log, Error, now, []string{"b"})
	c := New(3, Log, Info, now.Add(time.Second), []string{"c"})
	in := []*Message{c, a, b}

	ids := func(ms []*Message) []ID {
		res := []ID{}
		for _, m := range ms {
			res = append(res, m.ID())
		}
		return res
	}

	tests := []struct {
		c      Condition
		cmp    Comparator
		expect []ID
	}{
		{nil, nil, []ID{1, 2, 3}},
		{nil, ByTime, []ID{2, 3, 1}},
		{nil, Reverse(ByID), []ID{3, 2, 1}},
		{AtLeast(Error), nil, []ID{2}},
		{None, nil, []ID{}},
	}
	for i, st := range tests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			got := ids(Select(in, st.c, st.cmp))
			if !reflect.DeepEqual(got, st.expect) {
				t.Fatalf("expected = %v, got = %v", st.expect, got)
			}
		})
	}

	if in[0] != c {
		t.Fatalf("Select must not reorder its input")
	}
}
