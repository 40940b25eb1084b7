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

// Package consumer implements the fan-out of messages from a producer to
// its listeners, and the metrics computed over those deliveries.
package consumer

import (
	"fmt"
	"sync"
	"time"

	"github.com/QubitProducts/logwatch/message"
	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

var (
	listenerPanics = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logwatch_consumer_listener_panics_total",
		Help: "Counter of listener callbacks that panicked and were skipped.",
	})
)

func init() {
	prometheus.MustRegister(listenerPanics)
}

// ErrStopped is returned when using a manager that has been stopped.
var ErrStopped = errors.New("consumer manager is stopped")

// Source identifies the producer a message was delivered by.
type Source interface {
	String() string
}

// Listener receives every message dispatched by a producer, along with
// its delivery status. Listeners are called synchronously and in order on
// the delivering goroutine, so they must be quick.
//
// Listeners are compared by identity, so implementations should be
// pointers.
type Listener interface {
	OnMessage(m *message.Message, status message.Status, src Source)
}

// Stopper is implemented by listeners that need to know when the manager
// they are registered with is stopped.
type Stopper interface {
	Stop()
}

type funcListener struct {
	f func(*message.Message, message.Status, Source)
}

func (fl *funcListener) OnMessage(m *message.Message, status message.Status, src Source) {
	fl.f(m, status, src)
}

// NewListener wraps f as a Listener.
func NewListener(f func(m *message.Message, status message.Status, src Source)) Listener {
	return &funcListener{f: f}
}

var panicLimiter = rate.NewLimiter(rate.Every(1*time.Second), 5)

// Manager keeps an ordered set of listeners and the metrics computed for
// one producer.
type Manager struct {
	sync.Mutex
	stopped   bool
	listeners []Listener
	metrics   map[string]*Metric
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		metrics: map[string]*Metric{},
	}
}

// Register appends l to the listeners.
func (cm *Manager) Register(l Listener) error {
	if l == nil {
		return errors.New("listener must not be nil")
	}

	cm.Lock()
	defer cm.Unlock()

	if cm.stopped {
		return ErrStopped
	}
	cm.listeners = append(cm.listeners, l)
	return nil
}

// Unregister removes l, reporting whether it was registered.
func (cm *Manager) Unregister(l Listener) bool {
	cm.Lock()
	defer cm.Unlock()

	return cm.unregisterLocked(l)
}

func (cm *Manager) unregisterLocked(l Listener) bool {
	for i := range cm.listeners {
		if cm.listeners[i] == l {
			cm.listeners = append(cm.listeners[:i:i], cm.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// IsRegistered reports whether l is currently registered.
func (cm *Manager) IsRegistered(l Listener) bool {
	cm.Lock()
	defer cm.Unlock()

	for i := range cm.listeners {
		if cm.listeners[i] == l {
			return true
		}
	}
	return false
}

// Dispatch hands m to every listener in registration order. A listener
// that panics is logged and skipped; the remaining listeners are still
// called.
func (cm *Manager) Dispatch(m *message.Message, status message.Status, src Source) error {
	cm.Lock()
	if cm.stopped {
		cm.Unlock()
		return ErrStopped
	}
	ls := make([]Listener, len(cm.listeners))
	copy(ls, cm.listeners)
	cm.Unlock()

	for _, l := range ls {
		deliver(l, m, status, src)
	}
	return nil
}

func deliver(l Listener, m *message.Message, status message.Status, src Source) {
	defer func() {
		if r := recover(); r != nil {
			listenerPanics.Inc()
			if panicLimiter.Allow() {
				glog.Errorf("listener %v panicked on %v (%v): %v", l, m, status, r)
			}
		}
	}()
	l.OnMessage(m, status, src)
}

// StartMeasuring creates a metric with the given id and registers it as
// a listener. Ids are unique among the running metrics.
func (cm *Manager) StartMeasuring(id string, seed interface{}, fn UpdateFunc) (*Metric, error) {
	if id == "" {
		return nil, errors.New("metric id must not be empty")
	}
	if fn == nil {
		return nil, errors.New("metric update function must not be nil")
	}

	cm.Lock()
	defer cm.Unlock()

	if cm.stopped {
		return nil, ErrStopped
	}
	if _, ok := cm.metrics[id]; ok {
		return nil, errors.Errorf("metric %q already exists", id)
	}

	mt := newMetric(seed, fn)
	cm.metrics[id] = mt
	cm.listeners = append(cm.listeners, mt)

	if glog.V(2) {
		glog.Infof("started measuring %q", id)
	}
	return mt, nil
}

// Metric returns the running metric with the given id.
func (cm *Manager) Metric(id string) (*Metric, bool) {
	cm.Lock()
	defer cm.Unlock()

	mt, ok := cm.metrics[id]
	return mt, ok
}

// MetricID returns the id a running metric was started with.
func (cm *Manager) MetricID(mt *Metric) (string, bool) {
	cm.Lock()
	defer cm.Unlock()

	for id, m := range cm.metrics {
		if m == mt {
			return id, true
		}
	}
	return "", false
}

// MetricIDs lists the ids of the running metrics.
func (cm *Manager) MetricIDs() []string {
	cm.Lock()
	defer cm.Unlock()

	res := make([]string, 0, len(cm.metrics))
	for id := range cm.metrics {
		res = append(res, id)
	}
	return res
}

// StopMeasuring stops and forgets the metric with the given id. The id
// may be reused afterwards.
func (cm *Manager) StopMeasuring(id string) bool {
	cm.Lock()
	mt, ok := cm.metrics[id]
	if ok {
		delete(cm.metrics, id)
		cm.unregisterLocked(mt)
	}
	cm.Unlock()

	if ok {
		mt.Stop()
	}
	return ok
}

// Stop unregisters every listener, stops every metric and every listener
// implementing Stopper. Later dispatches fail with ErrStopped.
func (cm *Manager) Stop() {
	cm.Lock()
	if cm.stopped {
		cm.Unlock()
		return
	}
	cm.stopped = true
	ls := cm.listeners
	cm.listeners = nil
	cm.metrics = map[string]*Metric{}
	cm.Unlock()

	for _, l := range ls {
		if s, ok := l.(Stopper); ok {
			s.Stop()
		}
	}
}

// IsStopped reports whether Stop was called.
func (cm *Manager) IsStopped() bool {
	cm.Lock()
	defer cm.Unlock()
	return cm.stopped
}

func (cm *Manager) String() string {
	cm.Lock()
	defer cm.Unlock()
	return fmt.Sprintf("consumers(%d listeners, %d metrics)", len(cm.listeners), len(cm.metrics))
}
