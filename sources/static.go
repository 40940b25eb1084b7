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
	"path/filepath"
	"sync"
)

// Static is an Updater for a fixed list of targets. The targets are
// reported once; later calls to Next block until the context is done.
type Static struct {
	targets []string

	sync.Mutex
	sent bool
}

// NewStatic creates an updater for the given paths. Each target carries
// its path as the filename label.
func NewStatic(paths ...string) *Static {
	return &Static{targets: paths}
}

// Next implements Updater.
func (s *Static) Next(ctx context.Context) ([]*Update, error) {
	s.Lock()
	sent := s.sent
	s.sent = true
	s.Unlock()

	if sent {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	ups := make([]*Update, 0, len(s.targets))
	for _, t := range s.targets {
		if abs, err := filepath.Abs(t); err == nil {
			t = abs
		}
		ups = append(ups, &Update{
			Action: Add,
			Target: t,
			Labels: map[string]string{"filename": t},
		})
	}
	return ups, nil
}
