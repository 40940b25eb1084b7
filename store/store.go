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

// Package store keeps accepted messages addressed by their position in
// the stream.
//
// Positions are 0-based, gap free and local to a store; they have nothing
// to do with message IDs. Old entries are discarded either explicitly or
// once the configured capacity is exceeded, and the first surviving
// position only ever moves forward.
package store

import (
	"fmt"
	"sync"

	"github.com/QubitProducts/logwatch/message"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	discardCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logwatch_store_discarded_messages_total",
		Help: "Counter of messages discarded from stores since process start.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(discardCount)
}

// RangeError is returned for reads outside of the readable positions.
type RangeError struct {
	Start, End  int64
	First, Next int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range [%d, %d) outside of readable positions [%d, %d)", e.Start, e.End, e.First, e.Next)
}

// Store is an append-only sequence of messages with bounded capacity.
type Store struct {
	capacity int

	sync.RWMutex
	first int64 // position of msgs[0]
	msgs  []*message.Message
}

// Opt defines a store option function.
type Opt func(s *Store) error

// WithCapacity bounds the number of messages kept.
func WithCapacity(n int) Opt {
	return func(s *Store) error {
		if n <= 0 {
			return errors.Errorf("store capacity must be positive, got %d", n)
		}
		s.capacity = n
		return nil
	}
}

// New creates an empty store. By default the store is unbounded.
func New(opts ...Opt) (*Store, error) {
	s := &Store{}
	for _, o := range opts {
		if err := o(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Capacity returns the configured capacity, 0 meaning unbounded.
func (s *Store) Capacity() int {
	return s.capacity
}

// Append adds m at the next position and returns that position. If the
// store is over capacity afterwards, the oldest message is discarded.
func (s *Store) Append(m *message.Message) int64 {
	s.Lock()
	defer s.Unlock()

	pos := s.first + int64(len(s.msgs))
	s.msgs = append(s.msgs, m)
	if s.capacity > 0 && len(s.msgs) > s.capacity {
		s.discardLocked(1)
		discardCount.WithLabelValues("capacity").Inc()
	}
	return pos
}

// Range returns the messages at positions [start, end).
func (s *Store) Range(start, end int64) ([]*message.Message, error) {
	s.RLock()
	defer s.RUnlock()

	next := s.first + int64(len(s.msgs))
	if start < 0 || end < start || end > next || (start < end && start < s.first) {
		return nil, &RangeError{Start: start, End: end, First: s.first, Next: next}
	}

	res := make([]*message.Message, end-start)
	if start < end {
		copy(res, s.msgs[start-s.first:end-s.first])
	}
	return res, nil
}

// Clip returns the messages at positions [start, end], both inclusive,
// that are still held. Positions already discarded or not yet written are
// silently skipped, so the result may be empty.
func (s *Store) Clip(start, end int64) []*message.Message {
	s.RLock()
	defer s.RUnlock()

	latest := s.first + int64(len(s.msgs)) - 1
	if start < s.first {
		start = s.first
	}
	if end > latest {
		end = latest
	}
	if start > end {
		return nil
	}

	res := make([]*message.Message, end-start+1)
	copy(res, s.msgs[start-s.first:end-s.first+1])
	return res
}

// Get returns the message at pos, if it is still held.
func (s *Store) Get(pos int64) (*message.Message, bool) {
	s.RLock()
	defer s.RUnlock()

	if pos < s.first || pos >= s.first+int64(len(s.msgs)) {
		return nil, false
	}
	return s.msgs[pos-s.first], true
}

// DiscardBefore drops every message positioned before pos. pos is clamped
// to the held range; the number of messages dropped is returned.
func (s *Store) DiscardBefore(pos int64) int {
	s.Lock()
	defer s.Unlock()

	next := s.first + int64(len(s.msgs))
	if pos > next {
		pos = next
	}
	if pos <= s.first {
		return 0
	}
	n := int(pos - s.first)
	s.discardLocked(n)
	discardCount.WithLabelValues("sweep").Add(float64(n))
	return n
}

func (s *Store) discardLocked(n int) {
	for i := 0; i < n; i++ {
		s.msgs[i] = nil
	}
	s.msgs = s.msgs[n:]
	s.first += int64(n)

	// Reclaim the backing array once most of it is dead.
	if cap(s.msgs) > 64 && len(s.msgs) < cap(s.msgs)/4 {
		s.msgs = append(make([]*message.Message, 0, len(s.msgs)*2), s.msgs...)
	}
}

// FirstPosition returns the position of the oldest held message, or the
// next position when the store is empty.
func (s *Store) FirstPosition() int64 {
	s.RLock()
	defer s.RUnlock()
	return s.first
}

// LatestPosition returns the position of the last appended message, -1 if
// nothing was appended yet.
func (s *Store) LatestPosition() int64 {
	return s.NextPosition() - 1
}

// NextPosition returns the position the next Append will use.
func (s *Store) NextPosition() int64 {
	s.RLock()
	defer s.RUnlock()
	return s.first + int64(len(s.msgs))
}

// Len returns the number of held messages.
func (s *Store) Len() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.msgs)
}
