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

package filesystem

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/QubitProducts/logwatch/sources"
	"github.com/golang/glog"
	"github.com/hpcloud/tail"
	"github.com/pkg/errors"
	"github.com/rjeczalik/notify"
)

// LineSourceOpt configures a file line source.
type LineSourceOpt func(*LineSource)

// WithPoll makes the tailer poll for changes instead of using inotify.
func WithPoll(poll bool) LineSourceOpt {
	return func(ls *LineSource) {
		ls.poll = poll
	}
}

// WithFromStart reads the file from the beginning rather than from its
// current end.
func WithFromStart(fromStart bool) LineSourceOpt {
	return func(ls *LineSource) {
		ls.fromStart = fromStart
	}
}

// LineSource tails a file path, following it across rotations.
type LineSource struct {
	path      string
	poll      bool
	fromStart bool

	t      *tail.Tail
	events chan notify.EventInfo
	done   chan struct{}

	sync.Mutex
	rotated  bool
	lastSize int64
	closed   bool
}

// NewLineSource starts tailing path. The file need not exist yet.
func NewLineSource(path string, opts ...LineSourceOpt) (*LineSource, error) {
	afn, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving %s", path)
	}

	ls := &LineSource{
		path:   afn,
		events: make(chan notify.EventInfo, 100),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(ls)
	}

	whence := io.SeekEnd
	if ls.fromStart {
		whence = io.SeekStart
	}
	if fi, err := os.Stat(afn); err == nil {
		ls.lastSize = fi.Size()
	}

	// The directory is watched so that the file can be missing, renamed
	// away and recreated.
	if err := notify.Watch(filepath.Dir(afn), ls.events, notify.Create|notify.Remove|notify.Rename|notify.Write); err != nil {
		return nil, errors.Wrapf(err, "watching %s", filepath.Dir(afn))
	}

	ls.t, err = tail.TailFile(afn, tail.Config{
		Location:  &tail.SeekInfo{Whence: whence, Offset: 0},
		MustExist: false,
		Follow:    true,
		ReOpen:    true,
		Poll:      ls.poll,
	})
	if err != nil {
		notify.Stop(ls.events)
		return nil, errors.Wrapf(err, "tailing %s", afn)
	}

	go ls.watchRotation()

	return ls, nil
}

func (ls *LineSource) watchRotation() {
	defer notify.Stop(ls.events)

	for {
		select {
		case <-ls.done:
			return
		case e := <-ls.events:
			if e.Path() != ls.path {
				continue
			}
			switch e.Event() {
			case notify.Remove, notify.Rename, notify.Create:
				if glog.V(2) {
					glog.Infof("%s: %v, marking rotation", ls.path, e.Event())
				}
				ls.markRotated(0)
			case notify.Write:
				fi, err := os.Stat(ls.path)
				if err != nil {
					continue
				}
				ls.Lock()
				truncated := fi.Size() < ls.lastSize
				ls.lastSize = fi.Size()
				if truncated {
					ls.rotated = true
				}
				ls.Unlock()
				if truncated && bool(glog.V(2)) {
					glog.Infof("%s: truncated, marking rotation", ls.path)
				}
			}
		}
	}
}

func (ls *LineSource) markRotated(size int64) {
	ls.Lock()
	defer ls.Unlock()
	ls.rotated = true
	ls.lastSize = size
}

// ReadLine implements sources.LineSource.
func (ls *LineSource) ReadLine(ctx context.Context) (sources.Line, error) {
	select {
	case l, ok := <-ls.t.Lines:
		if !ok {
			return sources.Line{}, io.EOF
		}
		if l.Err != nil {
			return sources.Line{}, l.Err
		}
		ls.Lock()
		rotated := ls.rotated
		ls.rotated = false
		ls.Unlock()
		return sources.Line{Text: l.Text, Time: lineTime(l.Time), Rotated: rotated}, nil
	case <-ls.done:
		return sources.Line{}, io.EOF
	case <-ctx.Done():
		return sources.Line{}, ctx.Err()
	}
}

// Close stops tailing the file.
func (ls *LineSource) Close() error {
	ls.Lock()
	if ls.closed {
		ls.Unlock()
		return nil
	}
	ls.closed = true
	close(ls.done)
	ls.Unlock()

	err := ls.t.Stop()
	ls.t.Cleanup()
	return err
}

func (ls *LineSource) String() string {
	return ls.path
}

// Opener returns a function opening line sources with the given options,
// for use with watch groups.
func Opener(opts ...LineSourceOpt) func(path string, fromStart bool) (sources.LineSource, error) {
	return func(path string, fromStart bool) (sources.LineSource, error) {
		all := append(append([]LineSourceOpt{}, opts...), WithFromStart(fromStart))
		return NewLineSource(path, all...)
	}
}

var _ sources.LineSource = (*LineSource)(nil)

// lineTime is used when the tailer does not stamp lines.
func lineTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
