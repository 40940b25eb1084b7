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
	"sync"
	"time"

	"github.com/QubitProducts/logwatch/consumer"
	"github.com/QubitProducts/logwatch/expect"
	"github.com/QubitProducts/logwatch/message"
	"github.com/golang/glog"
	"github.com/oklog/ulid"
	"github.com/pkg/errors"
)

const forwardedMemory = 1024

type delivery struct {
	id     message.ID
	status message.Status
}

// forwarder relays the deliveries of one member to its merge.
type forwarder struct {
	merge  *MergingFollower
	member *LogFollower
}

func (fw *forwarder) OnMessage(m *message.Message, status message.Status, src consumer.Source) {
	fw.merge.forward(m, status)
}

// Stop is called when the member is unfollowed.
func (fw *forwarder) Stop() {
	fw.merge.memberStopped(fw.member)
}

// MergingFollower combines several followers into one view. Members may
// come from different watches.
type MergingFollower struct {
	id        ulid.ULID
	consumers *consumer.Manager
	expects   *expect.Engine

	sync.Mutex
	stopped    bool
	members    []*LogFollower
	forwarders map[*LogFollower]*forwarder
	seen       map[delivery]struct{}
	seenOrder  []delivery
}

// NewMerging merges the given followers. Merges among them are flattened
// into their members.
func NewMerging(fs ...Follower) *MergingFollower {
	mf := &MergingFollower{
		id:         newID(),
		consumers:  consumer.NewManager(),
		expects:    expect.NewEngine(),
		forwarders: map[*LogFollower]*forwarder{},
		seen:       map[delivery]struct{}{},
	}
	for _, f := range fs {
		mf.Add(f)
	}
	return mf
}

// ID returns the unique id of the merge.
func (mf *MergingFollower) ID() string {
	return mf.id.String()
}

func (mf *MergingFollower) String() string {
	return fmt.Sprintf("merge(%v)", mf.id)
}

// Add makes the members of f members of the merge. It returns false if
// nothing was added.
func (mf *MergingFollower) Add(f Follower) bool {
	if f == nil || Follower(mf) == f {
		return false
	}

	added := false
	for _, lf := range f.logFollowers() {
		mf.Lock()
		if _, ok := mf.forwarders[lf]; ok {
			mf.Unlock()
			continue
		}
		fw := &forwarder{merge: mf, member: lf}
		mf.forwarders[lf] = fw
		mf.members = append(mf.members, lf)
		mf.Unlock()

		// A stopped member stays visible but forwards nothing.
		if err := lf.Register(fw); err != nil && glog.V(2) {
			glog.Infof("%v joined %v without forwarding: %v", lf, mf, err)
		}
		added = true
	}
	return added
}

// Separate removes f from the merge, reporting whether it was a member.
func (mf *MergingFollower) Separate(f Follower) bool {
	lf, ok := f.(*LogFollower)
	if !ok {
		return false
	}

	mf.Lock()
	fw, ok := mf.forwarders[lf]
	if !ok {
		mf.Unlock()
		return false
	}
	delete(mf.forwarders, lf)
	for i := range mf.members {
		if mf.members[i] == lf {
			mf.members = append(mf.members[:i:i], mf.members[i+1:]...)
			break
		}
	}
	if len(mf.members) > 0 && mf.stoppedLocked() {
		mf.cancelLocked("lost its last attached member")
	}
	mf.Unlock()

	lf.Unregister(fw)
	return true
}

// Members returns the current members, in the order they joined.
func (mf *MergingFollower) Members() []*LogFollower {
	mf.Lock()
	defer mf.Unlock()
	return append([]*LogFollower(nil), mf.members...)
}

func (mf *MergingFollower) logFollowers() []*LogFollower {
	return mf.Members()
}

// IsFollowing reports whether any member is still attached.
func (mf *MergingFollower) IsFollowing() bool {
	for _, lf := range mf.Members() {
		if !lf.IsStopped() {
			return true
		}
	}
	return false
}

// IsStopped reports whether the merge was stopped, or has members and
// none of them is attached any more. An empty merge is not stopped.
func (mf *MergingFollower) IsStopped() bool {
	mf.Lock()
	defer mf.Unlock()
	return mf.stoppedLocked()
}

func (mf *MergingFollower) stoppedLocked() bool {
	if mf.stopped {
		return true
	}
	if len(mf.members) == 0 {
		return false
	}
	for _, lf := range mf.members {
		if !lf.IsStopped() {
			return false
		}
	}
	return true
}

func (mf *MergingFollower) cancelLocked(why string) {
	if n := mf.expects.CancelAll(); n > 0 && glog.V(2) {
		glog.Infof("%v %s, cancelled %d expectations", mf, why, n)
	}
}

// Messages implements Follower. Each message appears once even when more
// than one member can see it.
func (mf *MergingFollower) Messages(c message.Condition, cmp message.Comparator) []*message.Message {
	var all []*message.Message
	seen := map[message.ID]struct{}{}
	for _, lf := range mf.Members() {
		for _, m := range lf.Messages(c, nil) {
			if _, ok := seen[m.ID()]; ok {
				continue
			}
			seen[m.ID()] = struct{}{}
			all = append(all, m)
		}
	}
	return message.Select(all, nil, cmp)
}

// Tag always fails; tags belong to a single follower.
func (mf *MergingFollower) Tag(text string) (*message.Message, error) {
	return nil, errors.New("cannot tag a merging follower, tag one of its members")
}

// Expect implements Follower.
func (mf *MergingFollower) Expect(c message.Condition, action expect.Action) (*expect.Expectation, error) {
	mf.Lock()
	defer mf.Unlock()

	if mf.stoppedLocked() {
		return nil, ErrStopped
	}
	return mf.expects.Expect(c, action)
}

// WaitFor blocks until a member delivers a message satisfying c.
func (mf *MergingFollower) WaitFor(ctx context.Context, c message.Condition) (*message.Message, error) {
	return waitFor(ctx, mf, c)
}

// WaitForTimeout is WaitFor with a timeout.
func (mf *MergingFollower) WaitForTimeout(c message.Condition, d time.Duration) (*message.Message, error) {
	return waitForTimeout(mf, c, d)
}

// Measure starts a metric folding the deliveries of every member.
func (mf *MergingFollower) Measure(id string, seed interface{}, fn consumer.UpdateFunc) (*consumer.Metric, error) {
	return mf.consumers.StartMeasuring(id, seed, fn)
}

// Metric returns the running metric with the given id.
func (mf *MergingFollower) Metric(id string) (*consumer.Metric, bool) {
	return mf.consumers.Metric(id)
}

// MetricID returns the id mt was started with.
func (mf *MergingFollower) MetricID(mt *consumer.Metric) (string, bool) {
	return mf.consumers.MetricID(mt)
}

// StopMeasuring stops the metric with the given id.
func (mf *MergingFollower) StopMeasuring(id string) bool {
	return mf.consumers.StopMeasuring(id)
}

// Register adds a listener told about the deliveries of every member.
func (mf *MergingFollower) Register(l consumer.Listener) error {
	return mf.consumers.Register(l)
}

// Unregister removes a listener added with Register.
func (mf *MergingFollower) Unregister(l consumer.Listener) bool {
	return mf.consumers.Unregister(l)
}

// MergeWith adds the members of other to this merge and returns it.
func (mf *MergingFollower) MergeWith(other Follower) *MergingFollower {
	mf.Add(other)
	return mf
}

// Stop separates every member and cancels the outstanding expectations.
// Later expectations fail with ErrStopped.
func (mf *MergingFollower) Stop() {
	mf.Lock()
	mf.stopped = true
	mf.Unlock()

	for _, lf := range mf.Members() {
		mf.Separate(lf)
	}

	mf.Lock()
	mf.cancelLocked("was stopped")
	mf.Unlock()
}

func (mf *MergingFollower) forward(m *message.Message, status message.Status) {
	d := delivery{id: m.ID(), status: status}

	mf.Lock()
	if _, ok := mf.seen[d]; ok {
		mf.Unlock()
		return
	}
	mf.seen[d] = struct{}{}
	mf.seenOrder = append(mf.seenOrder, d)
	if len(mf.seenOrder) > forwardedMemory {
		delete(mf.seen, mf.seenOrder[0])
		mf.seenOrder = mf.seenOrder[1:]
	}
	mf.Unlock()

	mf.consumers.Dispatch(m, status, mf)
	if status == message.Accepted || status == message.Rejected {
		mf.expects.Notify(m)
	}
}

// memberStopped runs when a member is unfollowed. Expect registers under
// the same lock, so no expectation outlives the last attached member.
func (mf *MergingFollower) memberStopped(lf *LogFollower) {
	mf.Lock()
	defer mf.Unlock()

	if !mf.stoppedLocked() {
		return
	}
	mf.cancelLocked("lost its last attached member")
}
