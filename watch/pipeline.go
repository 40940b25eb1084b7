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

package watch

import (
	"context"
	"io"
	"time"

	"github.com/QubitProducts/logwatch/message"
	"github.com/QubitProducts/logwatch/sources"
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// partial is the message under construction. It has its ID from the
// moment its first line arrives.
type partial struct {
	id      message.ID
	arrived time.Time
	lines   []string
	passed  bool // passed the gate
}

func (w *LogWatch) tail(ctx context.Context) error {
	for {
		rctx, cancel := ctx, context.CancelFunc(func() {})
		if w.flushInterval > 0 && w.hasPartial() {
			rctx, cancel = context.WithTimeout(ctx, w.flushInterval)
		}
		l, err := w.src.ReadLine(rctx)
		cancel()

		switch {
		case err == nil:
			w.feed(l)
		case ctx.Err() != nil:
			return nil
		case errors.Cause(err) == context.DeadlineExceeded:
			w.Flush()
		case errors.Cause(err) == io.EOF:
			w.Flush()
			if glog.V(1) {
				glog.Infof("%v reached the end of its source", w)
			}
			return nil
		default:
			w.Flush()
			return errors.Wrapf(err, "%v failed reading", w)
		}
	}
}

func (w *LogWatch) hasPartial() bool {
	w.feedMu.Lock()
	defer w.feedMu.Unlock()
	return w.partial != nil
}

// Flush completes the in-flight message, if there is one.
func (w *LogWatch) Flush() {
	w.feedMu.Lock()
	defer w.feedMu.Unlock()

	if w.partial == nil || w.IsStopped() {
		return
	}
	w.complete(w.partial)
}

// feed runs one line through the pipeline. A boundary or a rotation
// completes the in-flight message before the line starts a new one.
func (w *LogWatch) feed(l sources.Line) {
	w.feedMu.Lock()
	defer w.feedMu.Unlock()

	if w.IsStopped() {
		return
	}
	lineCount.Inc()

	p := w.partial
	if p != nil && (l.Rotated || w.isBoundary(l.Text)) {
		w.complete(p)
		p = nil
	}
	if p == nil {
		w.begin(l)
		return
	}
	p.lines = append(p.lines, l.Text)
}

func (w *LogWatch) begin(l sources.Line) {
	arrived := l.Time
	if arrived.IsZero() {
		arrived = time.Now()
	}
	p := &partial{
		id:      message.NextID(),
		arrived: arrived,
		lines:   []string{l.Text},
	}
	w.partial = p

	m, ok := w.build(p)
	if !ok || !w.check("gate", w.gate, m) {
		gatedCount.Inc()
		return
	}
	p.passed = true

	for _, f := range w.Followers() {
		f.deliver(m, message.Incoming)
	}
}

func (w *LogWatch) complete(p *partial) {
	w.partial = nil
	if !p.passed {
		return
	}

	var opts []message.Opt
	if prev := w.lastPos; prev >= 0 {
		st := w.store
		opts = append(opts, message.WithPrevious(func() (*message.Message, bool) {
			return st.Get(prev)
		}))
	}
	m, ok := w.build(p, opts...)
	if !ok {
		opts = append(opts, message.WithLabels(w.labels))
		m = message.New(p.id, message.Log, message.Unknown, p.arrived, p.lines, opts...)
	}

	status := message.Rejected
	if w.check("storage", w.storage, m) {
		status = message.Accepted
	}

	w.mu.Lock()
	if status == message.Accepted {
		w.lastPos = w.store.Append(m)
		w.lastID = m.ID()
	}
	fs := append([]*LogFollower(nil), w.followers...)
	w.mu.Unlock()

	messageCount.WithLabelValues(status.String()).Inc()
	for _, f := range fs {
		f.deliver(m, status)
	}
}

func (w *LogWatch) build(p *partial, opts ...message.Opt) (m *message.Message, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			filterPanics.WithLabelValues("assembler").Inc()
			glog.Errorf("%v assembler panicked on message %d: %v", w, p.id, r)
			m, ok = nil, false
		}
	}()

	pr := w.asm.Assemble(p.lines, p.arrived)
	opts = append(opts, message.WithLabels(w.labels))
	if pr.Exception != nil {
		opts = append(opts, message.WithException(pr.Exception))
	}
	return message.New(p.id, pr.Type, pr.Severity, pr.Time, pr.Lines, opts...), true
}

func (w *LogWatch) isBoundary(line string) (b bool) {
	defer func() {
		if r := recover(); r != nil {
			filterPanics.WithLabelValues("assembler").Inc()
			glog.Errorf("%v assembler panicked on line %q: %v", w, line, r)
			b = true
		}
	}()
	return w.asm.IsBoundary(line)
}

// check evaluates a filter; a panicking filter fails the message.
func (w *LogWatch) check(stage string, c message.Condition, m *message.Message) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			filterPanics.WithLabelValues(stage).Inc()
			glog.Errorf("%v %s condition panicked on %v: %v", w, stage, m, r)
			ok = false
		}
	}()
	return c(m)
}
