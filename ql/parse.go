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
	"io"
	"strconv"
	"strings"
)

type queryTerm struct {
	label    string
	operator string
	value    string
}

func (qt queryTerm) String() string {
	return fmt.Sprintf("{%s %s %s}", qt.label, qt.operator, qt.value)
}

type query []queryTerm

// Parser reads query terms from a scanner.
type Parser struct {
	scanner *Scanner
	peekTok *Token
}

// Error provides details of a syntax error
type Error struct {
	err error
	tok Token
}

func (err Error) Error() string {
	return fmt.Sprintf("offset %d, %v", err.tok.Pos, err.err)
}

func newParser(scanner *Scanner) *Parser {
	return &Parser{scanner: scanner}
}

func (p *Parser) next() Token {
	if p.peekTok != nil {
		tok := *p.peekTok
		p.peekTok = nil
		return tok
	}
	return p.scanner.Next()
}

func (p *Parser) peek() Token {
	if p.peekTok == nil {
		tok := p.scanner.Next()
		p.peekTok = &tok
	}
	return *p.peekTok
}

// readQueryTerms reads every term in the input
//
// QTS:  QTS | QT
func (p *Parser) readQueryTerms() (query, error) {
	var qts []queryTerm
	for {
		qt, err := p.readQueryTerm()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		qts = append(qts, qt)
	}

	return query(qts), nil
}

// QT: LABEL OP STR
func (p *Parser) readQueryTerm() (queryTerm, error) {
	if p.peek().Type == EOF {
		return queryTerm{}, io.EOF
	}

	lval, err := p.str("label name")
	if err != nil {
		return queryTerm{}, err
	}

	op, err := p.operator()
	if err != nil {
		return queryTerm{}, err
	}

	rval, err := p.str("label value")
	if err != nil {
		return queryTerm{}, err
	}

	return queryTerm{
		label:    lval,
		operator: op,
		value:    rval,
	}, nil
}

// OP: "=" | "!=" | "~" | "!~"
func (p *Parser) operator() (string, error) {
	tok := p.next()
	switch tok.Type {
	case Operator:
	case TokError:
		return "", Error{fmt.Errorf("%s", tok.Text), tok}
	case EOF:
		return "", fmt.Errorf("expected operator, got EOF")
	default:
		return "", fmt.Errorf("expected operator, got %q", tok.Text)
	}

	if _, ok := operators[tok.Text]; !ok {
		return "", fmt.Errorf("unknown operator, got %q", tok.Text)
	}

	return tok.Text, nil
}

// STR: QA | A
func (p *Parser) str(what string) (string, error) {
	tok := p.next()
	switch tok.Type {
	case EOF:
		return "", fmt.Errorf("expected %s, got EOF", what)
	case TokError:
		return "", Error{fmt.Errorf("%s", tok.Text), tok}
	case String:
		return unquote(tok.Text)
	case Atom:
		return tok.Text, nil
	default:
		return "", fmt.Errorf("expected %s, got %q", what, tok.Text)
	}
}

func unquote(s string) (string, error) {
	if strings.HasPrefix(s, "'") {
		return strings.Replace(s[1:len(s)-1], `\'`, `'`, -1), nil
	}
	return strconv.Unquote(s)
}
