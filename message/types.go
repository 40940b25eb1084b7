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

import "strings"

// Type says where a message came from.
type Type int

const (
	Log Type = iota
	Stdout
	Stderr
	Tag
)

func (t Type) String() string {
	switch t {
	case Log:
		return "LOG"
	case Stdout:
		return "STDOUT"
	case Stderr:
		return "STDERR"
	case Tag:
		return "TAG"
	}
	return "UNKNOWN"
}

// Severity of a message, ordered from least to most severe.
type Severity int

const (
	Unknown Severity = iota
	Trace
	Debug
	Info
	Warning
	Error
	Fatal
)

var severityNames = []string{"UNKNOWN", "TRACE", "DEBUG", "INFO", "WARNING", "ERROR", "FATAL"}

func (s Severity) String() string {
	if s < Unknown || int(s) >= len(severityNames) {
		return "UNKNOWN"
	}
	return severityNames[s]
}

var severityAliases = map[string]Severity{
	"TRACE":    Trace,
	"FINEST":   Trace,
	"FINER":    Trace,
	"DEBUG":    Debug,
	"FINE":     Debug,
	"CONFIG":   Debug,
	"INFO":     Info,
	"NOTICE":   Info,
	"WARN":     Warning,
	"WARNING":  Warning,
	"ERROR":    Error,
	"ERR":      Error,
	"SEVERE":   Error,
	"FATAL":    Fatal,
	"CRITICAL": Fatal,
	"CRIT":     Fatal,
	"PANIC":    Fatal,
}

// ParseSeverity maps a level word onto a Severity. Unrecognised words
// return Unknown and false.
func ParseSeverity(s string) (Severity, bool) {
	sev, ok := severityAliases[strings.ToUpper(strings.TrimSpace(s))]
	return sev, ok
}

// Status is the delivery status a message is announced with.
//
// A message is first announced Incoming, while its boundary is still
// open, and later with one terminal status. Undecided is used for messages
// whose boundary is closed but that have not been filtered yet.
type Status int

const (
	Incoming Status = iota
	Undecided
	Accepted
	Rejected
	Undelivered
)

// IsTerminal reports whether no further status follows s.
func (s Status) IsTerminal() bool {
	return s == Accepted || s == Rejected || s == Undelivered
}

func (s Status) String() string {
	switch s {
	case Incoming:
		return "INCOMING"
	case Undecided:
		return "UNDECIDED"
	case Accepted:
		return "ACCEPTED"
	case Rejected:
		return "REJECTED"
	case Undelivered:
		return "UNDELIVERED"
	}
	return "INVALID"
}
