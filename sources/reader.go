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

package sources

import (
	"context"
	"sync"
	"time"

	"github.com/cloudflare/backoff"
	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	targetsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "logwatch_sources_active_targets",
		Help: "Gauge of number of targets being followed.",
	})
	targetsOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logwatch_sources_opened_targets_total",
		Help: "Counter of number of targets followed since process start.",
	})
	targetFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logwatch_sources_target_failures_total",
		Help: "Counter of failed attempts to follow a target.",
	})
)

func init() {
	prometheus.MustRegister(targetsActive)
	prometheus.MustRegister(targetsOpened)
	prometheus.MustRegister(targetFailures)
}

// FollowAllTargets hands every target reported by upd to h until ctx is
// done or upd fails. Pre-existing targets are added with fromStart false,
// targets that appear later with fromStart true.
func FollowAllTargets(ctx context.Context, h TargetHandler, upd Updater) error {
	targets := &targetSet{
		handler: h,
		active:  map[string]context.CancelFunc{},
	}
	defer targets.cancelAll()

	existing, err := upd.Next(ctx)
	if err != nil {
		return err
	}

	for _, u := range existing {
		if glog.V(2) {
			glog.Infof("Found pre-existing target: %#v", *u)
		}
		targets.add(ctx, u, false)
	}

	for {
		us, err := upd.Next(ctx)
		if err != nil {
			return err
		}
		for _, u := range us {
			switch u.Action {
			case Remove:
				if glog.V(2) {
					glog.Infof("Removing target: %#v", *u)
				}
				targets.remove(u.Target)
			case Add:
				if glog.V(2) {
					glog.Infof("Found new target: %#v", *u)
				}
				targets.add(ctx, u, true)
			}
		}
	}
}

type targetSet struct {
	handler TargetHandler
	wg      sync.WaitGroup

	sync.Mutex
	active map[string]context.CancelFunc
}

func (ts *targetSet) add(ctx context.Context, u *Update, fromStart bool) {
	ts.Lock()
	if _, ok := ts.active[u.Target]; ok {
		ts.Unlock()
		return
	}
	tctx, cf := context.WithCancel(ctx)
	ts.active[u.Target] = cf
	ts.Unlock()
	targetsActive.Inc()

	ts.wg.Add(1)
	go func() {
		defer ts.wg.Done()
		ts.open(tctx, u, fromStart)
	}()
}

// open retries h.AddTarget until it succeeds or the target is cancelled.
func (ts *targetSet) open(ctx context.Context, u *Update, fromStart bool) {
	b := backoff.New(10*time.Second, 1*time.Second)
	for {
		err := ts.handler.AddTarget(ctx, u, fromStart)
		if err == nil {
			targetsOpened.Inc()
			if ctx.Err() != nil {
				// removed while we were adding it
				ts.handler.RemoveTarget(u.Target)
			}
			return
		}

		targetFailures.Inc()
		if glog.V(1) {
			glog.Errorf("add target error: %#v , %v", *u, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(b.Duration()):
		}
	}
}

func (ts *targetSet) remove(id string) {
	ts.Lock()
	cf, ok := ts.active[id]
	delete(ts.active, id)
	ts.Unlock()

	if !ok {
		return
	}
	cf()
	ts.handler.RemoveTarget(id)
	targetsActive.Dec()
}

func (ts *targetSet) cancelAll() {
	ts.Lock()
	ids := make([]string, 0, len(ts.active))
	for id := range ts.active {
		ids = append(ids, id)
	}
	ts.Unlock()

	for _, id := range ids {
		ts.remove(id)
	}
	ts.wg.Wait()
}
