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

// Package message holds the immutable log message handed out by a watch,
// along with the conditions and orderings used to select them.
package message

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// ID uniquely identifies a message within the process. IDs are issued in
// strictly increasing order, so ordering by ID is ordering by arrival.
type ID uint64

var lastID uint64

// NextID issues a fresh message ID.
func NextID() ID {
	return ID(atomic.AddUint64(&lastID, 1))
}

// Exception describes a parsed exception found in a message.
type Exception struct {
	Class  string
	Text   string
	Frames []string
}

// Lookup resolves a message that may no longer be available.
type Lookup func() (*Message, bool)

// Message is a single logical log message. Messages are never modified
// once created; two messages are equal when their IDs are.
type Message struct {
	id        ID
	lines     []string
	time      time.Time
	severity  Severity
	typ       Type
	exception *Exception
	labels    map[string]string
	previous  Lookup
}

// Opt sets optional fields of a message at construction time.
type Opt func(m *Message)

// WithException attaches a parsed exception.
func WithException(e *Exception) Opt {
	return func(m *Message) {
		m.exception = e
	}
}

// WithLabels attaches source labels, such as the filename.
func WithLabels(ls map[string]string) Opt {
	return func(m *Message) {
		if len(ls) == 0 {
			return
		}
		m.labels = make(map[string]string, len(ls))
		for k, v := range ls {
			m.labels[k] = v
		}
	}
}

// WithPrevious sets the lookup used to find the message that preceded
// this one in the same stream.
func WithPrevious(l Lookup) Opt {
	return func(m *Message) {
		m.previous = l
	}
}

// New creates a message. The lines are copied.
func New(id ID, typ Type, sev Severity, t time.Time, lines []string, opts ...Opt) *Message {
	m := &Message{
		id:       id,
		lines:    append([]string(nil), lines...),
		time:     t,
		severity: sev,
		typ:      typ,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// NewTag creates a tag message carrying text, with a freshly issued ID.
func NewTag(text string) *Message {
	return New(NextID(), Tag, Info, time.Now(), []string{text})
}

// ID returns the message identifier.
func (m *Message) ID() ID { return m.id }

// Lines returns a copy of the raw lines making up the message.
func (m *Message) Lines() []string {
	return append([]string(nil), m.lines...)
}

// Text returns the lines joined by newlines.
func (m *Message) Text() string { return strings.Join(m.lines, "\n") }

// FirstLine returns the first line of the message, or "".
func (m *Message) FirstLine() string {
	if len(m.lines) == 0 {
		return ""
	}
	return m.lines[0]
}

// Time returns the message timestamp.
func (m *Message) Time() time.Time { return m.time }

// Severity returns the message severity.
func (m *Message) Severity() Severity { return m.severity }

// Type returns the message type.
func (m *Message) Type() Type { return m.typ }

// Exception returns the parsed exception, if any.
func (m *Message) Exception() (*Exception, bool) {
	return m.exception, m.exception != nil
}

// Previous looks up the message that chronologically preceded this one.
// It returns false for tags, for the first message of a stream, and once
// the previous message has been discarded.
func (m *Message) Previous() (*Message, bool) {
	if m.previous == nil {
		return nil, false
	}
	return m.previous()
}

// Label returns the value of a single label.
func (m *Message) Label(name string) (string, bool) {
	switch name {
	case "severity":
		return m.severity.String(), true
	case "type":
		return m.typ.String(), true
	case "id":
		return strconv.FormatUint(uint64(m.id), 10), true
	}
	v, ok := m.labels[name]
	return v, ok
}

// Labels returns a fresh label set describing the message. Source labels
// are included along with severity, type and id.
func (m *Message) Labels() map[string]string {
	ls := make(map[string]string, len(m.labels)+3)
	for k, v := range m.labels {
		ls[k] = v
	}
	ls["severity"] = m.severity.String()
	ls["type"] = m.typ.String()
	ls["id"] = strconv.FormatUint(uint64(m.id), 10)
	return ls
}

// Equal reports whether both messages carry the same ID.
func (m *Message) Equal(o *Message) bool {
	if m == nil || o == nil {
		return m == o
	}
	return m.id == o.id
}

func (m *Message) String() string {
	return fmt.Sprintf("#%d %s %s %q", m.id, m.typ, m.severity, m.FirstLine())
}
