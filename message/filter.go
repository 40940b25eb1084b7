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
	"regexp"
	"sort"
	"strings"
)

// Condition describes a function that can be used to
// accept/reject messages.
type Condition func(m *Message) bool

// All accepts every message.
func All(*Message) bool { return true }

// None rejects every message.
func None(*Message) bool { return false }

// And accepts a message when every condition does.
func And(cs ...Condition) Condition {
	return func(m *Message) bool {
		for i := range cs {
			if !cs[i](m) {
				return false
			}
		}
		return true
	}
}

// Or accepts a message when any condition does.
func Or(cs ...Condition) Condition {
	return func(m *Message) bool {
		for i := range cs {
			if cs[i](m) {
				return true
			}
		}
		return false
	}
}

// Not negates c.
func Not(c Condition) Condition {
	return func(m *Message) bool {
		return !c(m)
	}
}

// OfType accepts messages of any of the given types.
func OfType(ts ...Type) Condition {
	return func(m *Message) bool {
		for _, t := range ts {
			if m.typ == t {
				return true
			}
		}
		return false
	}
}

// AtLeast accepts messages at least as severe as s.
func AtLeast(s Severity) Condition {
	return func(m *Message) bool {
		return m.severity >= s
	}
}

// Contains accepts messages whose text contains s.
func Contains(s string) Condition {
	return func(m *Message) bool {
		for _, l := range m.lines {
			if strings.Contains(l, s) {
				return true
			}
		}
		return false
	}
}

// Matches accepts messages whose text matches re.
func Matches(re *regexp.Regexp) Condition {
	return func(m *Message) bool {
		return re.MatchString(m.Text())
	}
}

// Comparator reports whether a sorts before b.
type Comparator func(a, b *Message) bool

// ByID orders messages by arrival.
func ByID(a, b *Message) bool { return a.id < b.id }

// ByTime orders messages by timestamp, falling back to arrival order.
func ByTime(a, b *Message) bool {
	if a.time.Equal(b.time) {
		return a.id < b.id
	}
	return a.time.Before(b.time)
}

// Reverse inverts c.
func Reverse(c Comparator) Comparator {
	return func(a, b *Message) bool {
		return c(b, a)
	}
}

// Select filters ms by c and sorts the result with cmp. A nil c accepts
// everything and a nil cmp sorts by ID. ms itself is not modified.
func Select(ms []*Message, c Condition, cmp Comparator) []*Message {
	if c == nil {
		c = All
	}
	if cmp == nil {
		cmp = ByID
	}
	res := make([]*Message, 0, len(ms))
	for _, m := range ms {
		if c(m) {
			res = append(res, m)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		return cmp(res[i], res[j])
	})
	return res
}
