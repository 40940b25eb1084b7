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
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/QubitProducts/logwatch/consumer"
	"github.com/QubitProducts/logwatch/expect"
	"github.com/QubitProducts/logwatch/message"
	"github.com/oklog/ulid"
	"github.com/pkg/errors"
)

// Follower is a view onto the messages of one or more watches.
type Follower interface {
	consumer.Source

	// Messages returns the visible messages satisfying c, ordered by cmp.
	// A nil c accepts everything, a nil cmp orders by ID.
	Messages(c message.Condition, cmp message.Comparator) []*message.Message
	Tag(text string) (*message.Message, error)

	Expect(c message.Condition, action expect.Action) (*expect.Expectation, error)
	WaitFor(ctx context.Context, c message.Condition) (*message.Message, error)
	WaitForTimeout(c message.Condition, d time.Duration) (*message.Message, error)

	Measure(id string, seed interface{}, fn consumer.UpdateFunc) (*consumer.Metric, error)
	Metric(id string) (*consumer.Metric, bool)
	MetricID(mt *consumer.Metric) (string, bool)
	StopMeasuring(id string) bool

	Register(l consumer.Listener) error
	Unregister(l consumer.Listener) bool

	MergeWith(other Follower) *MergingFollower
	IsStopped() bool

	logFollowers() []*LogFollower
}

// LogFollower follows a single watch. It sees the messages accepted
// between its Follow and Unfollow, plus its own tags.
type LogFollower struct {
	id        ulid.ULID
	watch     *LogWatch
	consumers *consumer.Manager
	expects   *expect.Engine

	// dispatchMu orders the deliveries of one follower, so the final
	// Undelivered always comes after every delivery already under way.
	// Listeners must not unfollow their own follower synchronously.
	dispatchMu sync.Mutex

	sync.Mutex
	start   int64
	end     int64
	stopped bool
	tags    []*message.Message
	pending *message.Message // announced Incoming, not yet terminal
}

func newFollower(w *LogWatch, start int64) *LogFollower {
	return &LogFollower{
		id:        newID(),
		watch:     w,
		consumers: consumer.NewManager(),
		expects:   expect.NewEngine(),
		start:     start,
		end:       math.MaxInt64,
	}
}

// ID returns the unique id of the follower.
func (f *LogFollower) ID() string {
	return f.id.String()
}

func (f *LogFollower) String() string {
	return fmt.Sprintf("follower(%v)", f.id)
}

// Watch returns the watch being followed.
func (f *LogFollower) Watch() *LogWatch {
	return f.watch
}

// StartPosition is the first store position visible to the follower.
func (f *LogFollower) StartPosition() int64 {
	f.Lock()
	defer f.Unlock()
	return f.start
}

// EndPosition is the last store position visible to the follower, and
// math.MaxInt64 while it is attached.
func (f *LogFollower) EndPosition() int64 {
	f.Lock()
	defer f.Unlock()
	return f.end
}

// IsStopped reports whether the follower was unfollowed.
func (f *LogFollower) IsStopped() bool {
	f.Lock()
	defer f.Unlock()
	return f.stopped
}

// Messages implements Follower. Messages discarded from the store are no
// longer visible; tags always are.
func (f *LogFollower) Messages(c message.Condition, cmp message.Comparator) []*message.Message {
	f.Lock()
	start, end := f.start, f.end
	tags := append([]*message.Message(nil), f.tags...)
	f.Unlock()

	ms := f.watch.store.Clip(start, end)
	return message.Select(append(ms, tags...), c, cmp)
}

// Tag creates a tag message visible to this follower only. Its ID orders
// it after every message delivered so far.
func (f *LogFollower) Tag(text string) (*message.Message, error) {
	f.Lock()
	defer f.Unlock()

	if f.stopped {
		return nil, ErrStopped
	}
	m := message.NewTag(text)
	f.tags = append(f.tags, m)
	return m, nil
}

// Expect implements Follower. Only messages that are accepted or rejected
// after the call can match.
func (f *LogFollower) Expect(c message.Condition, action expect.Action) (*expect.Expectation, error) {
	if f.IsStopped() {
		return nil, ErrStopped
	}
	x, err := f.expects.Expect(c, action)
	if errors.Cause(err) == expect.ErrStopped {
		return nil, ErrStopped
	}
	return x, err
}

// WaitFor blocks until a message satisfying c is delivered, returning nil
// if ctx is done first.
func (f *LogFollower) WaitFor(ctx context.Context, c message.Condition) (*message.Message, error) {
	return waitFor(ctx, f, c)
}

// WaitForTimeout is WaitFor with a timeout; d <= 0 waits indefinitely.
func (f *LogFollower) WaitForTimeout(c message.Condition, d time.Duration) (*message.Message, error) {
	return waitForTimeout(f, c, d)
}

func waitFor(ctx context.Context, f Follower, c message.Condition) (*message.Message, error) {
	x, err := f.Expect(c, nil)
	if err != nil {
		return nil, err
	}
	return x.Wait(ctx), nil
}

func waitForTimeout(f Follower, c message.Condition, d time.Duration) (*message.Message, error) {
	x, err := f.Expect(c, nil)
	if err != nil {
		return nil, err
	}
	return x.WaitTimeout(d), nil
}

// Measure starts a metric folding the deliveries to this follower.
func (f *LogFollower) Measure(id string, seed interface{}, fn consumer.UpdateFunc) (*consumer.Metric, error) {
	if f.IsStopped() {
		return nil, ErrStopped
	}
	mt, err := f.consumers.StartMeasuring(id, seed, fn)
	if errors.Cause(err) == consumer.ErrStopped {
		return nil, ErrStopped
	}
	return mt, err
}

// Metric returns the running metric with the given id.
func (f *LogFollower) Metric(id string) (*consumer.Metric, bool) {
	return f.consumers.Metric(id)
}

// MetricID returns the id mt was started with.
func (f *LogFollower) MetricID(mt *consumer.Metric) (string, bool) {
	return f.consumers.MetricID(mt)
}

// StopMeasuring stops the metric with the given id.
func (f *LogFollower) StopMeasuring(id string) bool {
	return f.consumers.StopMeasuring(id)
}

// Register adds a listener told about every delivery to this follower,
// including Incoming and Undelivered ones.
func (f *LogFollower) Register(l consumer.Listener) error {
	if f.IsStopped() {
		return ErrStopped
	}
	if err := f.consumers.Register(l); err != nil {
		if errors.Cause(err) == consumer.ErrStopped {
			return ErrStopped
		}
		return err
	}
	return nil
}

// Unregister removes a listener added with Register.
func (f *LogFollower) Unregister(l consumer.Listener) bool {
	return f.consumers.Unregister(l)
}

// MergeWith merges f with other. If other is a merge, f joins it;
// otherwise a new merge of both is returned.
func (f *LogFollower) MergeWith(other Follower) *MergingFollower {
	if mf, ok := other.(*MergingFollower); ok {
		mf.Add(f)
		return mf
	}
	return NewMerging(f, other)
}

func (f *LogFollower) logFollowers() []*LogFollower {
	return []*LogFollower{f}
}

func (f *LogFollower) deliver(m *message.Message, status message.Status) {
	f.dispatchMu.Lock()
	defer f.dispatchMu.Unlock()

	f.Lock()
	if f.stopped {
		f.Unlock()
		return
	}
	switch {
	case status == message.Incoming:
		f.pending = m
	case status.IsTerminal() && f.pending != nil && f.pending.ID() == m.ID():
		f.pending = nil
	}
	f.Unlock()

	f.consumers.Dispatch(m, status, f)
	if status == message.Accepted || status == message.Rejected {
		f.expects.Notify(m)
	}
}

// detach marks the follower stopped and freezes its window. endFor picks
// the end position given the message still in flight for the follower.
// It is called with the watch locked.
func (f *LogFollower) detach(endFor func(pending *message.Message) int64) *message.Message {
	f.Lock()
	defer f.Unlock()

	f.stopped = true
	pending := f.pending
	f.pending = nil
	f.end = endFor(pending)
	return pending
}

// finish tells the listeners about an undelivered message, then stops
// every listener, metric and expectation.
func (f *LogFollower) finish(pending *message.Message) {
	f.dispatchMu.Lock()
	if pending != nil {
		messageCount.WithLabelValues(message.Undelivered.String()).Inc()
		f.consumers.Dispatch(pending, message.Undelivered, f)
	}
	f.dispatchMu.Unlock()

	f.consumers.Stop()
	f.expects.Stop()
}
