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

// Package sinks holds the destinations messages can be written to. A sink
// is registered as a listener on a follower.
package sinks

import "github.com/QubitProducts/logwatch/consumer"

// A Sink receives the deliveries of a follower and writes them somewhere.
// Close flushes anything buffered; the sink is not used afterwards.
type Sink interface {
	consumer.Listener
	Close() error
}
