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

package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/QubitProducts/logwatch/message"
	"github.com/QubitProducts/logwatch/sources"
	"github.com/QubitProducts/logwatch/watch"
)

const full = `
files: [/var/log/app.log]
dir: /var/log/app
name_regexp: '\.log$'
recursive: true
poll: false
from_start: true
capacity: 10000
sweep_interval: 30s
flush_interval: 250ms
gate: 'severity!=DEBUG'
storage: ''
storage_awk: '$1 != "noise"'
storage_rules:
  - action: drop
    source_labels: [severity]
    regex: TRACE
hand_down:
  - {id: errors, measure: count, query: 'severity=ERROR'}
  - {id: levels, measure: severity}
format: '{{.Time}} {{.Severity}} {{.Text}}'
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(full))
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual([]string{"/var/log/app.log"}, c.Files) {
		t.Fatalf("expected = %v, got = %v", []string{"/var/log/app.log"}, c.Files)
	}
	if c.Capacity != 10000 || c.SweepInterval != 30*time.Second || c.FlushInterval != 250*time.Millisecond {
		t.Fatalf("unexpected sizes %v %v %v", c.Capacity, c.SweepInterval, c.FlushInterval)
	}
	if !c.Recursive || !c.FromStart || c.Poll {
		t.Fatalf("unexpected flags %+v", c)
	}
	if len(c.StorageRules) != 1 || len(c.HandDown) != 2 {
		t.Fatalf("unexpected rules %v, hand downs %v", c.StorageRules, c.HandDown)
	}
}

func TestParse_Defaults(t *testing.T) {
	c, err := Parse([]byte(""))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(Default(), c) {
		t.Fatalf("expected = %+v, got = %+v", Default(), c)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		conf   string
		expect string
	}{
		{"capacity: -1", "capacity must not be negative"},
		{"sweep_interval: 0s", "sweep_interval must be positive"},
		{"flush_interval: -1s", "flush_interval must not be negative"},
		{"name_regexp: '('", "bad name_regexp"},
		{"gate: 'severity=='", "bad gate query"},
		{"storage: 'x'", "bad storage query"},
		{"storage_awk: '$1 =='", "bad storage_awk"},
		{"hand_down: [{measure: count}]", "need an id"},
		{"hand_down: [{id: a, measure: count}, {id: a, measure: last}]", "duplicate hand_down id"},
		{"hand_down: [{id: a, measure: median}]", "unknown measure"},
		{"unknown: true", "not found"},
	}

	for i, tt := range tests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			_, err := Parse([]byte(tt.conf))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.expect)
			}
			if !strings.Contains(err.Error(), tt.expect) {
				t.Fatalf("expected = %q, got = %v", tt.expect, err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir, err := ioutil.TempDir("", "config")
	if err != nil {
		t.Skip(err)
	}
	defer os.RemoveAll(dir)

	fn := filepath.Join(dir, "logwatch.yaml")
	if err := ioutil.WriteFile(fn, []byte(full), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(fn); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}

func TestConfig_WatchOpts(t *testing.T) {
	c, err := Parse([]byte(full))
	if err != nil {
		t.Fatal(err)
	}
	opts, err := c.WatchOpts()
	if err != nil {
		t.Fatal(err)
	}

	w, err := watch.New(sources.NewMemory(0), opts...)
	if err != nil {
		t.Fatal(err)
	}
	f, err := w.Follow()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := f.Metric("errors"); !ok {
		t.Fatalf("expected handed down metric errors")
	}
	if _, ok := f.Metric("levels"); !ok {
		t.Fatalf("expected handed down metric levels")
	}

	storage, err := c.StorageCondition()
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		sev    message.Severity
		text   string
		expect bool
	}{
		{message.Info, "fine", true},
		{message.Trace, "dropped by rules", false},
		{message.Info, "noise from awk", false},
	}
	for i, tt := range tests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			m := message.New(message.NextID(), message.Log, tt.sev, time.Now(), []string{tt.text})
			if got := storage(m); got != tt.expect {
				t.Fatalf("expected = %v, got = %v", tt.expect, got)
			}
		})
	}

	gate, err := c.GateCondition()
	if err != nil {
		t.Fatal(err)
	}
	debug := message.New(message.NextID(), message.Log, message.Debug, time.Now(), []string{"x"})
	if gate(debug) {
		t.Fatalf("gate should swallow debug messages")
	}
}
