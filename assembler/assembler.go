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

// Package assembler groups raw log lines into logical messages.
package assembler

import (
	"regexp"
	"strings"
	"time"

	"github.com/QubitProducts/logwatch/message"
)

// Provisional is the parsed form of a group of lines.
type Provisional struct {
	Time      time.Time
	Severity  message.Severity
	Type      message.Type
	Exception *message.Exception
	Lines     []string
}

// Assembler decides where messages start and parses the lines of one
// message. Implementations must be safe to call from one goroutine at a
// time.
type Assembler interface {
	// IsBoundary reports whether line starts a new message.
	IsBoundary(line string) bool
	// Assemble parses the lines of one message. arrived is the time the
	// first line was read and is used when no timestamp can be parsed.
	Assemble(lines []string, arrived time.Time) Provisional
}

// Opt configures the default assembler.
type Opt func(*lineAssembler)

// WithType sets the message type of assembled messages.
func WithType(typ message.Type) Opt {
	return func(la *lineAssembler) {
		la.typ = typ
	}
}

// WithBoundary replaces the default boundary detection with re; a line
// matching re starts a new message.
func WithBoundary(re *regexp.Regexp) Opt {
	return func(la *lineAssembler) {
		la.boundary = re
	}
}

// WithTimeLayouts replaces the timestamp layouts tried against the start
// of the first line.
func WithTimeLayouts(layouts ...string) Opt {
	return func(la *lineAssembler) {
		la.layouts = layouts
	}
}

var defaultLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05,000",
	"2006-01-02 15:04:05",
}

type lineAssembler struct {
	typ      message.Type
	boundary *regexp.Regexp
	layouts  []string
}

// Default returns an assembler for common application logs. A line that
// starts with non-whitespace and is not part of a stack trace starts a new
// message; an exception header such as "java.io.IOException: x" continues
// the message before it.
func Default(opts ...Opt) Assembler {
	la := &lineAssembler{
		typ:     message.Log,
		layouts: defaultLayouts,
	}
	for _, o := range opts {
		o(la)
	}
	return la
}

var (
	continuationRE = regexp.MustCompile(`^(\s|at\s|Caused by:|\.\.\. \d+ more|Suppressed:)`)
	exceptionRE    = regexp.MustCompile(`(?:^|\s)((?:[a-zA-Z_$][\w$]*\.)+[A-Z][\w$]*(?:Exception|Error|Throwable))(?::\s?(.*))?$`)
	headerRE       = regexp.MustCompile(`^(?:[a-zA-Z_$][\w$]*\.)+[A-Z][\w$]*(?:Exception|Error|Throwable)(?::|$)`)
	frameRE        = regexp.MustCompile(`^\s*at\s+(.+)$`)
	severityRE     = regexp.MustCompile(`\b([A-Za-z]+)\b`)
)

func (la *lineAssembler) IsBoundary(line string) bool {
	if la.boundary != nil {
		return la.boundary.MatchString(line)
	}
	if line == "" {
		return false
	}
	return !continuationRE.MatchString(line) && !headerRE.MatchString(line)
}

func (la *lineAssembler) Assemble(lines []string, arrived time.Time) Provisional {
	p := Provisional{
		Time:     arrived,
		Severity: message.Unknown,
		Type:     la.typ,
		Lines:    lines,
	}
	if len(lines) == 0 {
		return p
	}

	first := lines[0]
	if t, ok := la.parseTime(first); ok {
		p.Time = t
	}
	p.Severity = parseSeverity(first)
	p.Exception = parseException(lines)

	return p
}

func (la *lineAssembler) parseTime(line string) (time.Time, bool) {
	line = strings.TrimLeft(line, "[")
	for _, l := range la.layouts {
		if len(line) < len(l) && l != time.RFC3339Nano {
			continue
		}
		cand := line
		if l == time.RFC3339Nano {
			if i := strings.IndexAny(line, " ]"); i > 0 {
				cand = line[:i]
			}
		} else {
			cand = line[:len(l)]
		}
		if t, err := time.Parse(l, cand); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseSeverity returns the first word of line that names a level. Only
// upper case words are considered to avoid matching prose.
func parseSeverity(line string) message.Severity {
	for _, w := range severityRE.FindAllString(line, 16) {
		if w != strings.ToUpper(w) {
			continue
		}
		if s, ok := message.ParseSeverity(w); ok {
			return s
		}
	}
	return message.Unknown
}

func parseException(lines []string) *message.Exception {
	for i, l := range lines {
		sm := exceptionRE.FindStringSubmatch(strings.TrimSpace(l))
		if sm == nil {
			continue
		}
		var frames []string
		for _, f := range lines[i+1:] {
			fm := frameRE.FindStringSubmatch(f)
			if fm == nil {
				if len(frames) > 0 {
					break
				}
				continue
			}
			frames = append(frames, fm[1])
		}
		if len(frames) == 0 {
			continue
		}
		return &message.Exception{
			Class:  sm[1],
			Text:   sm[2],
			Frames: frames,
		}
	}
	return nil
}
