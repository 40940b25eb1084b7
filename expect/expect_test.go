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

package expect

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/QubitProducts/logwatch/message"
	"github.com/pkg/errors"
)

func newMsg(text string) *message.Message {
	return message.New(message.NextID(), message.Log, message.Info, time.Now(), []string{text})
}

func TestEngine_MatchesFutureOnly(t *testing.T) {
	e := NewEngine()
	cond := message.Contains("check")

	e.Notify(newMsg("check 1"))

	x, err := e.Expect(cond, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := x.Result(); ok {
		t.Fatalf("message delivered before expect must not match")
	}

	e.Notify(newMsg("other"))
	want := newMsg("check 2")
	e.Notify(want)
	e.Notify(newMsg("check 3"))

	got := x.WaitTimeout(time.Second)
	if !got.Equal(want) {
		t.Fatalf("expected = %v, got = %v", want, got)
	}
	if e.Pending() != 0 {
		t.Fatalf("expected no pending expectations, got = %d", e.Pending())
	}
}

func TestEngine_EveryMatchingExpectationWakes(t *testing.T) {
	e := NewEngine()
	a, _ := e.Expect(message.Contains("x"), nil)
	b, _ := e.Expect(message.Contains("x"), nil)
	c, _ := e.Expect(message.Contains("y"), nil)

	m := newMsg("x")
	e.Notify(m)

	for _, x := range []*Expectation{a, b} {
		if got := x.WaitTimeout(time.Second); !got.Equal(m) {
			t.Fatalf("expected = %v, got = %v", m, got)
		}
	}
	if _, ok := c.Result(); ok {
		t.Fatalf("non matching expectation should still be pending")
	}
	if e.Pending() != 1 {
		t.Fatalf("expected 1 pending, got = %d", e.Pending())
	}
}

func TestEngine_ActionRunsBeforeResolve(t *testing.T) {
	e := NewEngine()

	var mu sync.Mutex
	var seen *message.Message
	x, _ := e.Expect(message.All, func(m *message.Message) {
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		seen = m
		mu.Unlock()
	})

	m := newMsg("hello")
	e.Notify(m)
	got := x.WaitTimeout(time.Second)

	mu.Lock()
	defer mu.Unlock()
	if !seen.Equal(m) || !got.Equal(m) {
		t.Fatalf("expected action to have run with %v before resolving, got = %v", m, seen)
	}
}

func TestEngine_WaitTimeout(t *testing.T) {
	e := NewEngine()
	x, _ := e.Expect(message.None, nil)

	if got := x.WaitTimeout(10 * time.Millisecond); got != nil {
		t.Fatalf("expected nil on timeout, got = %v", got)
	}
	if e.Pending() != 0 {
		t.Fatalf("timed out expectation should be cancelled")
	}
	if x.Cancel() {
		t.Fatalf("cancel after timeout should report false")
	}
}

func TestEngine_WaitContext(t *testing.T) {
	e := NewEngine()
	x, _ := e.Expect(message.None, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := x.Wait(ctx); got != nil {
		t.Fatalf("expected nil, got = %v", got)
	}
	select {
	case <-x.Done():
	default:
		t.Fatalf("expectation should be done after wait returns")
	}
}

func TestEngine_Stop(t *testing.T) {
	e := NewEngine()
	x, _ := e.Expect(message.All, nil)

	res := make(chan *message.Message)
	go func() {
		res <- x.Wait(context.Background())
	}()

	e.Stop()

	select {
	case got := <-res:
		if got != nil {
			t.Fatalf("expected nil, got = %v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("stop should release blocked waiters")
	}

	if _, err := e.Expect(message.All, nil); errors.Cause(err) != ErrStopped {
		t.Fatalf("expected = %v, got = %v", ErrStopped, err)
	}
	if !e.IsStopped() {
		t.Fatalf("engine should report stopped")
	}
}

func TestEngine_CancelAll(t *testing.T) {
	e := NewEngine()
	e.Expect(message.All, nil)
	e.Expect(message.All, nil)

	if n := e.CancelAll(); n != 2 {
		t.Fatalf("expected 2 cancelled, got = %d", n)
	}
	if _, err := e.Expect(message.All, nil); err != nil {
		t.Fatalf("cancel all should not stop the engine, err = %v", err)
	}
}

func TestEngine_PanickingCondition(t *testing.T) {
	e := NewEngine()
	bad, _ := e.Expect(func(*message.Message) bool { panic("boom") }, nil)
	good, _ := e.Expect(message.All, nil)

	m := newMsg("x")
	e.Notify(m)

	if got := good.WaitTimeout(time.Second); !got.Equal(m) {
		t.Fatalf("expected = %v, got = %v", m, got)
	}
	if _, ok := bad.Result(); ok {
		t.Fatalf("panicking condition should not match")
	}
	bad.Cancel()
}

func TestEngine_CancelRacesMatch(t *testing.T) {
	for i := 0; i < 100; i++ {
		e := NewEngine()
		x, _ := e.Expect(message.All, nil)
		m := newMsg("x")

		var cancelled bool
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			e.Notify(m)
		}()
		go func() {
			defer wg.Done()
			cancelled = x.Cancel()
		}()
		wg.Wait()
		<-x.Done()

		_, matched := x.Result()
		if matched == cancelled {
			t.Fatalf("exactly one of match and cancel should win, matched = %v, cancelled = %v", matched, cancelled)
		}
	}
}
