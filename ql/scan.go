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
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Token represents a token or text string returned from the scanner.
type Token struct {
	Type Type   // The type of this item.
	Pos  int    // The byte offset at which this token starts.
	Text string // The text of this item.
}

// Type identifies the type of lex items.
type Type int

const (
	EOF      Type = iota // zero value so an empty token is EOF
	TokError             // error occurred; value is text of error
	String               // A quoted string
	Atom                 // a bare word
	Operator             // Symbol made up of special chars
)

func (t Type) String() string {
	switch t {
	case EOF:
		return "EOF"
	case TokError:
		return "Error"
	case String:
		return "String"
	case Atom:
		return "Atom"
	case Operator:
		return "Operator"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

const special = "!=~"
const punctuation = "-_.*:/[]()^$+?|\\{},@"

func (i Token) String() string {
	switch {
	case i.Type == EOF:
		return "EOF"
	case i.Type == TokError:
		return "error: " + i.Text
	case len(i.Text) > 20:
		return fmt.Sprintf("%s: %.20q...", i.Type, i.Text)
	}
	return fmt.Sprintf("%s: %q", i.Type, i.Text)
}

const eof = -1

// stateFn represents the state of the scanner as a function that returns
// the next state and, possibly, a token.
type stateFn func(*Scanner) (stateFn, *Token)

// Scanner splits a query string into tokens.
type Scanner struct {
	input string
	state stateFn
	pos   int // current position in the input
	start int // start position of this item
	width int // width of last rune read from input
}

func newScanner(input string) *Scanner {
	return &Scanner{
		input: input,
		state: lexAny,
	}
}

// Next returns the next token, EOF once the input is exhausted.
func (l *Scanner) Next() Token {
	for l.state != nil {
		var tok *Token
		l.state, tok = l.state(l)
		if tok != nil {
			return *tok
		}
	}
	return Token{Type: EOF, Pos: l.pos, Text: "EOF"}
}

func (l *Scanner) next() rune {
	if l.pos >= len(l.input) {
		l.width = 0
		return eof
	}
	r, w := utf8.DecodeRuneInString(l.input[l.pos:])
	l.width = w
	l.pos += w
	return r
}

func (l *Scanner) peek() rune {
	r := l.next()
	l.backup()
	return r
}

// backup steps back one rune. Can only be called once per call of next.
func (l *Scanner) backup() {
	l.pos -= l.width
}

func (l *Scanner) emit(t Type) *Token {
	tok := &Token{Type: t, Pos: l.start, Text: l.input[l.start:l.pos]}
	l.start = l.pos
	return tok
}

func (l *Scanner) ignore() {
	l.start = l.pos
}

// errorf emits an error token and stops scanning.
func (l *Scanner) errorf(format string, args ...interface{}) (stateFn, *Token) {
	return nil, &Token{Type: TokError, Pos: l.start, Text: fmt.Sprintf(format, args...)}
}

func lexAny(l *Scanner) (stateFn, *Token) {
	switch r := l.next(); {
	case r == eof:
		return nil, nil
	case unicode.IsSpace(r):
		for unicode.IsSpace(l.peek()) {
			l.next()
		}
		l.ignore()
		return lexAny, nil
	case r == '"', r == '\'', r == '`':
		return lexQuote(l, r)
	case strings.ContainsRune(special, r):
		for strings.ContainsRune(special, l.peek()) {
			l.next()
		}
		return lexAny, l.emit(Operator)
	case isAlphaNumeric(r):
		for isAlphaNumeric(l.peek()) {
			l.next()
		}
		return lexAny, l.emit(Atom)
	default:
		return l.errorf("unrecognized character: %#U", r)
	}
}

// lexQuote scans a quoted string, the opening quote c has been read.
func lexQuote(l *Scanner, c rune) (stateFn, *Token) {
	for {
		switch l.next() {
		case '\\':
			if r := l.next(); r != eof {
				continue
			}
			return l.errorf("unterminated quoted string")
		case eof:
			return l.errorf("unterminated quoted string")
		case c:
			return lexAny, l.emit(String)
		}
	}
}

// isAlphaNumeric reports whether r is an alphabetic, digit, or punctuation.
func isAlphaNumeric(r rune) bool {
	return strings.ContainsRune(punctuation, r) ||
		unicode.IsLetter(r) ||
		unicode.IsDigit(r)
}
