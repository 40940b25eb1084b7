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
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrClosed is returned when writing to a closed memory source.
var ErrClosed = errors.New("line source is closed")

// Memory is a LineSource fed by calls to Write.
type Memory struct {
	lines chan Line
	done  chan struct{}

	sync.Mutex
	closed  bool
	rotated bool
}

// NewMemory creates a memory source able to hold buffer unread lines
// before Write blocks.
func NewMemory(buffer int) *Memory {
	if buffer < 0 {
		buffer = 0
	}
	return &Memory{
		lines: make(chan Line, buffer),
		done:  make(chan struct{}),
	}
}

// Write queues lines to be read, in order.
func (ms *Memory) Write(ctx context.Context, texts ...string) error {
	for _, t := range texts {
		ms.Lock()
		if ms.closed {
			ms.Unlock()
			return ErrClosed
		}
		l := Line{Text: t, Time: time.Now(), Rotated: ms.rotated}
		ms.rotated = false
		ms.Unlock()

		select {
		case ms.lines <- l:
		case <-ms.done:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Rotate marks the next written line as the first after a rotation.
func (ms *Memory) Rotate() {
	ms.Lock()
	defer ms.Unlock()
	ms.rotated = true
}

// ReadLine implements LineSource. Lines written before Close are still
// returned; io.EOF follows once they are drained.
func (ms *Memory) ReadLine(ctx context.Context) (Line, error) {
	select {
	case l := <-ms.lines:
		return l, nil
	default:
	}

	select {
	case l := <-ms.lines:
		return l, nil
	case <-ms.done:
		select {
		case l := <-ms.lines:
			return l, nil
		default:
			return Line{}, io.EOF
		}
	case <-ctx.Done():
		return Line{}, ctx.Err()
	}
}

// Close implements LineSource.
func (ms *Memory) Close() error {
	ms.Lock()
	defer ms.Unlock()
	if ms.closed {
		return nil
	}
	ms.closed = true
	close(ms.done)
	return nil
}

func (ms *Memory) String() string {
	return "memory"
}
