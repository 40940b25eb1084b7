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
	"reflect"
	"strconv"
	"testing"
)

func TestScanner(t *testing.T) {
	var tests = []struct {
		src string
		exp []Token
	}{
		{`severity=ERROR`,
			[]Token{
				{Type: Atom, Pos: 0, Text: "severity"},
				{Type: Operator, Pos: 8, Text: "="},
				{Type: Atom, Pos: 9, Text: "ERROR"}}},
		{`job!=test`,
			[]Token{
				{Type: Atom, Pos: 0, Text: "job"},
				{Type: Operator, Pos: 3, Text: "!="},
				{Type: Atom, Pos: 5, Text: "test"}}},
		{`job =~ test`,
			[]Token{
				{Type: Atom, Pos: 0, Text: "job"},
				{Type: Operator, Pos: 4, Text: "=~"},
				{Type: Atom, Pos: 7, Text: "test"}}},
		{`__text__="a \"b\""`,
			[]Token{
				{Type: Atom, Pos: 0, Text: "__text__"},
				{Type: Operator, Pos: 8, Text: "="},
				{Type: String, Pos: 9, Text: `"a \"b\""`}}},
		{`filename~/var/log/.*\.log`,
			[]Token{
				{Type: Atom, Pos: 0, Text: "filename"},
				{Type: Operator, Pos: 8, Text: "~"},
				{Type: Atom, Pos: 9, Text: `/var/log/.*\.log`}}},
		{`job="test`,
			[]Token{
				{Type: Atom, Pos: 0, Text: "job"},
				{Type: Operator, Pos: 3, Text: "="},
				{Type: TokError, Pos: 4, Text: "unterminated quoted string"}}},
		{`job#`,
			[]Token{
				{Type: Atom, Pos: 0, Text: "job"},
				{Type: TokError, Pos: 3, Text: "unrecognized character: U+0023 '#'"}}},
	}

	for i, st := range tests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			s := newScanner(st.src)

			ts := []Token{}
			for {
				l := s.Next()
				if l.Type == EOF {
					break
				}
				ts = append(ts, l)
			}
			if !reflect.DeepEqual(st.exp, ts) {
				t.Fatalf("\nexpected: %#v\ngot: %#v", st.exp, ts)
			}
		})
	}
}
