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
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	lineCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logwatch_watch_lines_total",
		Help: "Counter of raw lines read by watches since process start.",
	})
	messageCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logwatch_watch_messages_total",
		Help: "Counter of completed messages, by delivery status.",
	}, []string{"status"})
	gatedCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logwatch_watch_gated_messages_total",
		Help: "Counter of messages swallowed by the gate condition.",
	})
	followersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "logwatch_watch_active_followers",
		Help: "Gauge of followers attached to a watch.",
	})
	sweepCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logwatch_watch_sweeps_total",
		Help: "Counter of store sweeps run.",
	})
	filterPanics = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logwatch_watch_filter_panics_total",
		Help: "Counter of gate, storage and assembler calls that panicked.",
	}, []string{"stage"})
)

func init() {
	prometheus.MustRegister(lineCount)
	prometheus.MustRegister(messageCount)
	prometheus.MustRegister(gatedCount)
	prometheus.MustRegister(followersGauge)
	prometheus.MustRegister(sweepCount)
	prometheus.MustRegister(filterPanics)
}

var (
	// ErrStopped is returned when using a stopped watch or follower.
	ErrStopped = errors.New("watch is stopped")
	// ErrNotStarted is returned when stopping a watch that never started.
	ErrNotStarted = errors.New("watch was not started")
)

var (
	entropyMu sync.Mutex
	entropy   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func newID() ulid.ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}
