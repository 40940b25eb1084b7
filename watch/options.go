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
	"time"

	"github.com/QubitProducts/logwatch/assembler"
	"github.com/QubitProducts/logwatch/consumer"
	"github.com/QubitProducts/logwatch/message"
	"github.com/QubitProducts/logwatch/store"
	"github.com/pkg/errors"
)

// Opt configures a LogWatch.
type Opt func(w *LogWatch) error

// WithCapacity bounds the number of accepted messages the watch keeps.
func WithCapacity(n int) Opt {
	return func(w *LogWatch) error {
		w.storeOpts = append(w.storeOpts, store.WithCapacity(n))
		return nil
	}
}

// WithSweepInterval sets how often unreachable messages are discarded.
func WithSweepInterval(d time.Duration) Opt {
	return func(w *LogWatch) error {
		if d <= 0 {
			return errors.Errorf("sweep interval must be positive, got %v", d)
		}
		w.sweepInterval = d
		return nil
	}
}

// WithFlushInterval completes a trailing message once no line has arrived
// for d. Zero disables idle flushing.
func WithFlushInterval(d time.Duration) Opt {
	return func(w *LogWatch) error {
		if d < 0 {
			return errors.Errorf("flush interval must not be negative, got %v", d)
		}
		w.flushInterval = d
		return nil
	}
}

// WithGate sets the condition a message must pass to be announced at all.
func WithGate(c message.Condition) Opt {
	return func(w *LogWatch) error {
		if c == nil {
			return errors.New("gate condition must not be nil")
		}
		w.gate = c
		return nil
	}
}

// WithStorage sets the condition a message must pass to be stored.
func WithStorage(c message.Condition) Opt {
	return func(w *LogWatch) error {
		if c == nil {
			return errors.New("storage condition must not be nil")
		}
		w.storage = c
		return nil
	}
}

// WithAssembler replaces the default line assembler.
func WithAssembler(a assembler.Assembler) Opt {
	return func(w *LogWatch) error {
		if a == nil {
			return errors.New("assembler must not be nil")
		}
		w.asm = a
		return nil
	}
}

// WithLabels attaches labels to every message read by the watch.
func WithLabels(ls map[string]string) Opt {
	return func(w *LogWatch) error {
		for k, v := range ls {
			w.labels[k] = v
		}
		return nil
	}
}

// WithHandDown has every follower of the watch measure fn under id.
func WithHandDown(id string, seed interface{}, fn consumer.UpdateFunc) Opt {
	return func(w *LogWatch) error {
		return w.HandDown(id, seed, fn)
	}
}
