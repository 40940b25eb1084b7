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

package consumer

import (
	"sync"

	"github.com/QubitProducts/logwatch/message"
)

// UpdateFunc folds one delivery into the current value of a metric and
// returns the new value. It is free to ignore deliveries by returning
// value unchanged. Only terminal deliveries (Accepted, Rejected,
// Undelivered) reach it; Incoming announcements are never folded.
type UpdateFunc func(value interface{}, m *message.Message, status message.Status, src Source) interface{}

// Metric is a running value folded over the terminal deliveries of a
// producer. Each message is announced at most once with a terminal
// status, so each delivered message is folded exactly once.
type Metric struct {
	seed   interface{}
	update UpdateFunc

	sync.Mutex
	value   interface{}
	count   uint64
	stopped bool
}

func newMetric(seed interface{}, fn UpdateFunc) *Metric {
	return &Metric{
		seed:   seed,
		update: fn,
		value:  seed,
	}
}

// OnMessage implements Listener.
func (mt *Metric) OnMessage(m *message.Message, status message.Status, src Source) {
	if !status.IsTerminal() {
		return
	}

	mt.Lock()
	defer mt.Unlock()

	if mt.stopped {
		return
	}
	mt.value = mt.update(mt.value, m, status, src)
	mt.count++
}

// Seed returns the initial value.
func (mt *Metric) Seed() interface{} {
	return mt.seed
}

// Update returns the update function.
func (mt *Metric) Update() UpdateFunc {
	return mt.update
}

// Value returns the current value.
func (mt *Metric) Value() interface{} {
	mt.Lock()
	defer mt.Unlock()
	return mt.value
}

// Count returns the number of deliveries folded so far.
func (mt *Metric) Count() uint64 {
	mt.Lock()
	defer mt.Unlock()
	return mt.count
}

// Stop freezes the metric; its value no longer changes.
func (mt *Metric) Stop() {
	mt.Lock()
	defer mt.Unlock()
	mt.stopped = true
}

// IsStopped reports whether the metric was stopped.
func (mt *Metric) IsStopped() bool {
	mt.Lock()
	defer mt.Unlock()
	return mt.stopped
}
