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

import "github.com/QubitProducts/logwatch/message"

// CountOf counts accepted messages matching c. Use with an int seed.
func CountOf(c message.Condition) UpdateFunc {
	return func(v interface{}, m *message.Message, status message.Status, src Source) interface{} {
		n, _ := v.(int)
		if status == message.Accepted && c(m) {
			n++
		}
		return n
	}
}

// LastOf keeps the most recent accepted message matching c. Use with a nil
// seed.
func LastOf(c message.Condition) UpdateFunc {
	return func(v interface{}, m *message.Message, status message.Status, src Source) interface{} {
		if status == message.Accepted && c(m) {
			return m
		}
		return v
	}
}

// SeverityHistogram counts accepted messages per severity. The seed is
// ignored; each update returns a fresh map.
func SeverityHistogram() UpdateFunc {
	return func(v interface{}, m *message.Message, status message.Status, src Source) interface{} {
		old, _ := v.(map[message.Severity]int)
		if status != message.Accepted {
			if old == nil {
				return map[message.Severity]int{}
			}
			return old
		}
		res := make(map[message.Severity]int, len(old)+1)
		for k, n := range old {
			res[k] = n
		}
		res[m.Severity()]++
		return res
	}
}
