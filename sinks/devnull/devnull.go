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

package devnull

import (
	"sync/atomic"

	"github.com/QubitProducts/logwatch/consumer"
	"github.com/QubitProducts/logwatch/message"
)

// DevNull is a sinks.Sink that drops all traffic, counting the messages
// that reached a terminal status.
type DevNull struct {
	count uint64
}

// OnMessage implements consumer.Listener.
func (o *DevNull) OnMessage(m *message.Message, status message.Status, src consumer.Source) {
	if status.IsTerminal() {
		atomic.AddUint64(&o.count, 1)
	}
}

// Count returns the number of messages dropped.
func (o *DevNull) Count() uint64 {
	return atomic.LoadUint64(&o.count)
}

// Close closes the DevNull sink
func (o *DevNull) Close() error {
	return nil
}
