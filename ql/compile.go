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

package ql

import (
	"regexp"
	"sort"

	"github.com/QubitProducts/logwatch/message"
	"github.com/pkg/errors"
)

// TextLabel is the pseudo label matched against the message text.
const TextLabel = "__text__"

// valueMatch tests a single label value. present is false when the label
// is not set on the message.
type valueMatch func(v string, present bool) bool

type opBuilder func(value string, text bool) (valueMatch, error)

var operators = map[string]opBuilder{
	"=": func(value string, text bool) (valueMatch, error) {
		if value == "*" {
			return func(v string, present bool) bool { return present }, nil
		}
		return func(v string, present bool) bool { return v == value }, nil
	},
	"!=": func(value string, text bool) (valueMatch, error) {
		return func(v string, present bool) bool { return v != value }, nil
	},
	"~": func(value string, text bool) (valueMatch, error) {
		re, err := compileRegexp(value, text)
		if err != nil {
			return nil, err
		}
		return func(v string, present bool) bool { return re.MatchString(v) }, nil
	},
	"!~": func(value string, text bool) (valueMatch, error) {
		re, err := compileRegexp(value, text)
		if err != nil {
			return nil, err
		}
		return func(v string, present bool) bool { return !re.MatchString(v) }, nil
	},
}

// Label regexps are anchored, text regexps search.
func compileRegexp(value string, text bool) (*regexp.Regexp, error) {
	if !text {
		value = "^(?:" + value + ")$"
	}
	re, err := regexp.Compile(value)
	if err != nil {
		return nil, errors.Wrapf(err, "bad regexp %q", value)
	}
	return re, nil
}

func makeLabelMatch(qt queryTerm) (message.Condition, error) {
	text := qt.label == TextLabel
	vm, err := operators[qt.operator](qt.value, text)
	if err != nil {
		return nil, err
	}

	if text {
		return func(m *message.Message) bool {
			return vm(m.Text(), true)
		}, nil
	}

	label := qt.label
	return func(m *message.Message) bool {
		v, ok := m.Label(label)
		return vm(v, ok)
	}, nil
}

// Compile parses a query and returns a condition accepting the messages
// that match it. The empty query accepts everything.
func Compile(qstr string) (message.Condition, error) {
	p := newParser(newScanner(qstr))

	qts, err := p.readQueryTerms()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read query")
	}
	if len(qts) == 0 {
		return message.All, nil
	}

	labelMatches := map[string][]message.Condition{}
	var labels []string
	for _, qt := range qts {
		mf, err := makeLabelMatch(qt)
		if err != nil {
			return nil, err
		}
		if _, ok := labelMatches[qt.label]; !ok {
			labels = append(labels, qt.label)
		}
		labelMatches[qt.label] = append(labelMatches[qt.label], mf)
	}

	// Cheap label terms are checked before the message text.
	sort.SliceStable(labels, func(i, j int) bool {
		return labels[i] != TextLabel && labels[j] == TextLabel
	})

	terms := make([]message.Condition, 0, len(labels))
	for _, l := range labels {
		terms = append(terms, message.Or(labelMatches[l]...))
	}

	return message.And(terms...), nil
}

// MustCompile is like Compile but panics if the query is invalid.
func MustCompile(qstr string) message.Condition {
	c, err := Compile(qstr)
	if err != nil {
		panic(err)
	}
	return c
}
