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

// Package watch tails a single line source, groups its lines into
// messages and fans them out to any number of followers. Each follower
// sees the part of the stream that arrived while it was attached.
package watch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/QubitProducts/logwatch/assembler"
	"github.com/QubitProducts/logwatch/consumer"
	"github.com/QubitProducts/logwatch/message"
	"github.com/QubitProducts/logwatch/sources"
	"github.com/QubitProducts/logwatch/store"
	"github.com/golang/glog"
	"github.com/oklog/ulid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

type state int

const (
	created state = iota
	started
	stopped
)

type handDown struct {
	id   string
	seed interface{}
	fn   consumer.UpdateFunc
}

// LogWatch owns the message stream of one line source.
type LogWatch struct {
	id            ulid.ULID
	src           sources.LineSource
	asm           assembler.Assembler
	gate          message.Condition
	storage       message.Condition
	sweepInterval time.Duration
	flushInterval time.Duration
	labels        map[string]string
	storeOpts     []store.Opt
	store         *store.Store

	// mu guards everything below, and is held while appending to the
	// store and sweeping it.
	mu        sync.Mutex
	state     state
	followers []*LogFollower
	handDowns []handDown
	lastPos   int64
	lastID    message.ID
	cancel    context.CancelFunc
	group     *errgroup.Group

	// feedMu serialises the pipeline.
	feedMu  sync.Mutex
	partial *partial
}

// New creates a watch reading from src. The watch does not read anything
// until it is started.
func New(src sources.LineSource, opts ...Opt) (*LogWatch, error) {
	if src == nil {
		return nil, errors.New("line source must not be nil")
	}

	w := &LogWatch{
		id:            newID(),
		src:           src,
		asm:           assembler.Default(),
		gate:          message.All,
		storage:       message.All,
		sweepInterval: 60 * time.Second,
		labels:        map[string]string{},
		lastPos:       -1,
	}
	for _, o := range opts {
		if err := o(w); err != nil {
			return nil, err
		}
	}

	st, err := store.New(w.storeOpts...)
	if err != nil {
		return nil, err
	}
	w.store = st

	if glog.V(1) {
		glog.Infof("created watch %v on %v", w.id, src)
	}
	return w, nil
}

func (w *LogWatch) String() string {
	return fmt.Sprintf("watch(%v)", w.id)
}

// Store returns the store of accepted messages.
func (w *LogWatch) Store() *store.Store {
	return w.store
}

// Start begins tailing and sweeping. It returns false if the watch was
// already started or stopped. Cancelling ctx halts tailing, but the watch
// must still be stopped to release its followers.
func (w *LogWatch) Start(ctx context.Context) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != created {
		return false
	}
	w.state = started

	ctx, w.cancel = context.WithCancel(ctx)
	w.group = &errgroup.Group{}
	w.group.Go(func() error {
		return w.tail(ctx)
	})
	w.group.Go(func() error {
		return w.sweepEvery(ctx)
	})
	return true
}

// Stop detaches every follower and halts tailing and sweeping. Stopping a
// watch that was never started is an error; stopping twice returns false.
func (w *LogWatch) Stop() (bool, error) {
	w.mu.Lock()
	switch w.state {
	case created:
		w.mu.Unlock()
		return false, ErrNotStarted
	case stopped:
		w.mu.Unlock()
		return false, nil
	}
	w.state = stopped
	w.cancel()
	g := w.group
	w.handDowns = nil
	w.mu.Unlock()

	if err := g.Wait(); err != nil && errors.Cause(err) != context.Canceled {
		glog.Errorf("%v stopped with error: %v", w, err)
	}
	if err := w.src.Close(); err != nil {
		glog.Errorf("%v failed closing line source: %v", w, err)
	}

	for _, f := range w.Followers() {
		w.Unfollow(f)
	}

	if glog.V(1) {
		glog.Infof("stopped %v", w)
	}
	return true, nil
}

// IsStarted reports whether the watch was started, even if it has been
// stopped since.
func (w *LogWatch) IsStarted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state != created
}

// IsStopped reports whether the watch was stopped.
func (w *LogWatch) IsStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state == stopped
}

// Follow attaches a new follower. It sees the messages accepted from now
// on until it is unfollowed. Following is allowed before Start.
func (w *LogWatch) Follow() (*LogFollower, error) {
	w.mu.Lock()
	if w.state == stopped {
		w.mu.Unlock()
		return nil, ErrStopped
	}

	f := newFollower(w, w.store.NextPosition())
	w.followers = append(w.followers, f)
	hds := append([]handDown(nil), w.handDowns...)
	followersGauge.Inc()
	w.mu.Unlock()

	for _, hd := range hds {
		if _, err := f.Measure(hd.id, hd.seed, hd.fn); err != nil {
			glog.Errorf("handing down %q to %v failed: %v", hd.id, f, err)
		}
	}

	if glog.V(2) {
		glog.Infof("%v followed from position %d", f, f.StartPosition())
	}
	return f, nil
}

// Unfollow detaches f. If f saw the in-flight message announced but not
// completed, it alone is told the message is undelivered. It returns false
// if f was not following this watch.
func (w *LogWatch) Unfollow(f *LogFollower) bool {
	w.mu.Lock()
	idx := -1
	for i := range w.followers {
		if w.followers[i] == f {
			idx = i
			break
		}
	}
	if idx == -1 {
		w.mu.Unlock()
		return false
	}
	w.followers = append(w.followers[:idx:idx], w.followers[idx+1:]...)

	end := w.store.LatestPosition()
	lastID := w.lastID
	pending := f.detach(func(pending *message.Message) int64 {
		// The in-flight message may have been stored without f hearing
		// about it yet; it is undelivered to f, so keep it out of view.
		if pending != nil && pending.ID() == lastID {
			return end - 1
		}
		return end
	})
	followersGauge.Dec()
	w.mu.Unlock()

	f.finish(pending)

	if glog.V(2) {
		glog.Infof("%v unfollowed at position %d", f, f.EndPosition())
	}
	return true
}

// IsFollowedBy reports whether f is attached to the watch.
func (w *LogWatch) IsFollowedBy(f Follower) bool {
	lf, ok := f.(*LogFollower)
	if !ok {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.followers {
		if w.followers[i] == lf {
			return true
		}
	}
	return false
}

// Followers returns the attached followers, in attach order.
func (w *LogWatch) Followers() []*LogFollower {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*LogFollower(nil), w.followers...)
}

// HandDown has every follower attached from now on measure fn under id,
// starting from seed. Followers already attached are not affected.
func (w *LogWatch) HandDown(id string, seed interface{}, fn consumer.UpdateFunc) error {
	if id == "" {
		return errors.New("hand down id must not be empty")
	}
	if fn == nil {
		return errors.New("hand down update function must not be nil")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == stopped {
		return ErrStopped
	}
	for _, hd := range w.handDowns {
		if hd.id == id {
			return errors.Errorf("already handing down %q", id)
		}
	}
	w.handDowns = append(w.handDowns, handDown{id: id, seed: seed, fn: fn})
	return nil
}

// StopHandingDown forgets the hand down registered under id. Metrics
// already started on followers keep running.
func (w *LogWatch) StopHandingDown(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := range w.handDowns {
		if w.handDowns[i].id == id {
			w.handDowns = append(w.handDowns[:i:i], w.handDowns[i+1:]...)
			return true
		}
	}
	return false
}

// Sweep discards the stored messages no attached follower can reach, and
// returns how many were dropped.
func (w *LogWatch) Sweep() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	sweepCount.Inc()
	if len(w.followers) == 0 {
		return w.store.DiscardBefore(w.store.NextPosition())
	}

	min := w.followers[0].StartPosition()
	for _, f := range w.followers[1:] {
		if s := f.StartPosition(); s < min {
			min = s
		}
	}
	return w.store.DiscardBefore(min)
}

func (w *LogWatch) sweepEvery(ctx context.Context) error {
	t := time.NewTicker(w.sweepInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			if n := w.Sweep(); n > 0 && glog.V(2) {
				glog.Infof("%v swept %d messages", w, n)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
