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

// Package expect lets callers wait for a future message matching a
// condition.
//
// Each expectation gets its own goroutine that parks until the producer
// delivers a matching message, the expectation is cancelled, or the
// engine is stopped. Matching happens synchronously on the delivering
// goroutine, so only messages delivered after Expect returns can match.
package expect

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/QubitProducts/logwatch/message"
	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	pendingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "logwatch_expect_pending_expectations",
		Help: "Gauge of expectations waiting for a message.",
	})
	resolvedCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logwatch_expect_resolved_total",
		Help: "Counter of expectations resolved, by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(pendingGauge)
	prometheus.MustRegister(resolvedCount)
}

// ErrStopped is returned when expecting on a stopped engine.
var ErrStopped = errors.New("expectation engine is stopped")

// Action runs once an expectation has matched, before its result is
// made available.
type Action func(m *message.Message)

// Engine holds the outstanding expectations of one producer.
type Engine struct {
	sync.Mutex
	stopped bool
	next    uint64
	pending map[uint64]*Expectation
}

// NewEngine creates an engine with no expectations.
func NewEngine() *Engine {
	return &Engine{
		pending: map[uint64]*Expectation{},
	}
}

// Expect registers c and returns a handle that resolves with the first
// message delivered afterwards that satisfies c. If action is not nil it
// runs before the handle resolves.
func (e *Engine) Expect(c message.Condition, action Action) (*Expectation, error) {
	if c == nil {
		return nil, errors.New("expectation condition must not be nil")
	}

	x := &Expectation{
		engine:  e,
		cond:    c,
		action:  action,
		matched: make(chan *message.Message, 1),
		cancel:  make(chan struct{}),
		done:    make(chan struct{}),
	}

	e.Lock()
	if e.stopped {
		e.Unlock()
		return nil, ErrStopped
	}
	e.next++
	x.token = e.next
	e.pending[x.token] = x
	e.Unlock()

	pendingGauge.Inc()
	go x.run()

	return x, nil
}

// Notify checks m against every outstanding expectation, in the order
// they were registered. Every expectation that matches is removed and
// woken.
func (e *Engine) Notify(m *message.Message) {
	e.Lock()
	defer e.Unlock()

	if len(e.pending) == 0 {
		return
	}

	tokens := make([]uint64, 0, len(e.pending))
	for t := range e.pending {
		tokens = append(tokens, t)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })

	for _, t := range tokens {
		x := e.pending[t]
		if !x.matches(m) {
			continue
		}
		delete(e.pending, t)
		x.matched <- m
	}
}

// Pending returns the number of outstanding expectations.
func (e *Engine) Pending() int {
	e.Lock()
	defer e.Unlock()
	return len(e.pending)
}

// CancelAll cancels every outstanding expectation. New expectations can
// still be registered.
func (e *Engine) CancelAll() int {
	e.Lock()
	defer e.Unlock()
	return e.cancelAllLocked()
}

func (e *Engine) cancelAllLocked() int {
	n := len(e.pending)
	for t, x := range e.pending {
		delete(e.pending, t)
		close(x.cancel)
	}
	return n
}

// Stop cancels every outstanding expectation and refuses new ones.
func (e *Engine) Stop() {
	e.Lock()
	defer e.Unlock()

	e.stopped = true
	if n := e.cancelAllLocked(); n > 0 && glog.V(2) {
		glog.Infof("cancelled %d expectations on stop", n)
	}
}

// IsStopped reports whether Stop was called.
func (e *Engine) IsStopped() bool {
	e.Lock()
	defer e.Unlock()
	return e.stopped
}

func (e *Engine) remove(x *Expectation) bool {
	e.Lock()
	defer e.Unlock()

	if _, ok := e.pending[x.token]; !ok {
		return false
	}
	delete(e.pending, x.token)
	close(x.cancel)
	return true
}

// Expectation is a pending wait for a message.
type Expectation struct {
	engine *Engine
	token  uint64
	cond   message.Condition
	action Action

	matched chan *message.Message
	cancel  chan struct{}
	done    chan struct{}
	result  *message.Message
}

func (x *Expectation) matches(m *message.Message) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("expectation condition panicked on %v: %v", m, r)
			ok = false
		}
	}()
	return x.cond(m)
}

func (x *Expectation) run() {
	defer pendingGauge.Dec()
	defer close(x.done)

	select {
	case m := <-x.matched:
		if x.action != nil {
			x.runAction(m)
		}
		x.result = m
		resolvedCount.WithLabelValues("matched").Inc()
	case <-x.cancel:
		resolvedCount.WithLabelValues("cancelled").Inc()
	}
}

func (x *Expectation) runAction(m *message.Message) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("expectation action panicked on %v: %v", m, r)
		}
	}()
	x.action(m)
}

// Done is closed once the expectation has resolved, either with a match
// or because it was cancelled.
func (x *Expectation) Done() <-chan struct{} {
	return x.done
}

// Result returns the matched message once the expectation is done. It
// returns false while pending and after cancellation.
func (x *Expectation) Result() (*message.Message, bool) {
	select {
	case <-x.done:
		return x.result, x.result != nil
	default:
		return nil, false
	}
}

// Cancel withdraws the expectation. It returns false if it had already
// matched or been cancelled.
func (x *Expectation) Cancel() bool {
	return x.engine.remove(x)
}

// Wait blocks until the expectation resolves or ctx is done. A nil result
// means nothing matched; the expectation is cancelled in that case.
func (x *Expectation) Wait(ctx context.Context) *message.Message {
	select {
	case <-x.done:
		return x.result
	case <-ctx.Done():
	}

	if x.Cancel() {
		<-x.done
		return nil
	}
	// A match beat the cancellation, wait for the action to finish.
	<-x.done
	return x.result
}

// WaitTimeout is Wait with a timeout; d <= 0 waits indefinitely.
func (x *Expectation) WaitTimeout(d time.Duration) *message.Message {
	if d <= 0 {
		return x.Wait(context.Background())
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return x.Wait(ctx)
}
