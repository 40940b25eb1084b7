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

// Package sources describes where raw log lines come from, and how sets
// of log files are discovered.
package sources

import (
	"context"
	"time"
)

// Line is one raw line read from a source.
type Line struct {
	Text string
	Time time.Time
	// Rotated is set on the first line read after the underlying file was
	// rotated or truncated.
	Rotated bool
}

// LineSource is used to read lines from a single growing stream. ReadLine
// blocks until a line is available, the context is done, or the source is
// closed, in which case io.EOF is returned.
type LineSource interface {
	ReadLine(ctx context.Context) (Line, error)
	Close() error
}

// Action describes a change to a set of targets.
type Action int

const (
	// Add indicates a new target was found.
	Add Action = iota
	// Remove indicates a target has gone away.
	Remove
)

func (a Action) String() string {
	switch a {
	case Add:
		return "add"
	case Remove:
		return "remove"
	default:
		return "unknown"
	}
}

// Update is a single change to the set of targets.
type Update struct {
	Action Action
	Target string
	Labels map[string]string
}

// Updater is used to watch for changes to a set of potential log sources.
// The first call to Next should return any pre-existing targets.
// Subsequent calls should describe changes to that set.
type Updater interface {
	Next(context.Context) ([]*Update, error)
}

// TargetHandler is told about targets as they come and go. AddTarget should
// not block for the lifetime of the target; ctx is cancelled when the
// target is removed.
type TargetHandler interface {
	AddTarget(ctx context.Context, u *Update, fromStart bool) error
	RemoveTarget(target string)
}
