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
	"sync"

	"github.com/QubitProducts/logwatch/sources"
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// OpenFunc opens the line source for a target.
type OpenFunc func(target string, fromStart bool) (sources.LineSource, error)

type groupMember struct {
	watch    *LogWatch
	follower *LogFollower
}

// Group keeps one watch per target and merges a follower of each into a
// single view. It is a sources.TargetHandler, so it can be driven by
// sources.FollowAllTargets.
type Group struct {
	open  OpenFunc
	opts  []Opt
	merge *MergingFollower

	sync.Mutex
	stopped bool
	members map[string]groupMember
}

// NewGroup creates an empty group. Every watch is created with opts.
func NewGroup(open OpenFunc, opts ...Opt) *Group {
	return &Group{
		open:    open,
		opts:    opts,
		merge:   NewMerging(),
		members: map[string]groupMember{},
	}
}

// Follower returns the merged view of every target.
func (g *Group) Follower() *MergingFollower {
	return g.merge
}

// Watch returns the watch of a target.
func (g *Group) Watch(target string) (*LogWatch, bool) {
	g.Lock()
	defer g.Unlock()
	gm, ok := g.members[target]
	return gm.watch, ok
}

// Targets returns the number of targets being watched.
func (g *Group) Targets() int {
	g.Lock()
	defer g.Unlock()
	return len(g.members)
}

// AddTarget implements sources.TargetHandler.
func (g *Group) AddTarget(ctx context.Context, u *sources.Update, fromStart bool) error {
	g.Lock()
	if g.stopped {
		g.Unlock()
		return ErrStopped
	}
	if _, ok := g.members[u.Target]; ok {
		g.Unlock()
		return nil
	}
	g.Unlock()

	src, err := g.open(u.Target, fromStart)
	if err != nil {
		return errors.Wrapf(err, "opening %s", u.Target)
	}

	opts := append(append([]Opt(nil), g.opts...), WithLabels(u.Labels))
	w, err := New(src, opts...)
	if err != nil {
		src.Close()
		return errors.Wrapf(err, "creating watch for %s", u.Target)
	}
	f, err := w.Follow()
	if err != nil {
		src.Close()
		return err
	}

	g.Lock()
	if _, ok := g.members[u.Target]; ok || g.stopped {
		g.Unlock()
		src.Close()
		return nil
	}
	g.members[u.Target] = groupMember{watch: w, follower: f}
	g.Unlock()

	g.merge.Add(f)
	w.Start(ctx)

	if glog.V(1) {
		glog.Infof("watching %s with %v", u.Target, w)
	}
	return nil
}

// RemoveTarget implements sources.TargetHandler. The target's watch is
// stopped and its follower leaves the merge.
func (g *Group) RemoveTarget(target string) {
	g.Lock()
	gm, ok := g.members[target]
	delete(g.members, target)
	g.Unlock()

	if !ok {
		return
	}
	g.remove(target, gm)
}

// remove separates the follower before stopping the watch, so a target
// leaving and coming back (a rotation) keeps the merge's expectations.
func (g *Group) remove(target string, gm groupMember) {
	g.merge.Separate(gm.follower)
	if _, err := gm.watch.Stop(); err != nil {
		glog.Errorf("stopping watch of %s: %v", target, err)
	}
	if glog.V(1) {
		glog.Infof("stopped watching %s", target)
	}
}

// Flush completes the in-flight message of every target.
func (g *Group) Flush() {
	g.Lock()
	ws := make([]*LogWatch, 0, len(g.members))
	for _, gm := range g.members {
		ws = append(ws, gm.watch)
	}
	g.Unlock()

	for _, w := range ws {
		w.Flush()
	}
}

// Stop stops every watch. No targets can be added afterwards.
func (g *Group) Stop() {
	g.Lock()
	g.stopped = true
	ms := g.members
	g.members = map[string]groupMember{}
	g.Unlock()

	for t, gm := range ms {
		g.remove(t, gm)
	}
	g.merge.Stop()
}
