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

// Package filesystem reads log lines from files, and finds log files in
// directories.
package filesystem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/QubitProducts/logwatch/sources"
	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/rjeczalik/notify"
)

// New creates a watcher for the files under path.
func New(path string, nameRegexp *regexp.Regexp, recur bool) *Watcher {
	return &Watcher{
		Path:       path,
		Recur:      recur,
		NameRegexp: nameRegexp,
	}
}

// Watcher watches for files being added and removed from a directory. It
// implements sources.Updater.
type Watcher struct {
	Path       string
	NameRegexp *regexp.Regexp
	Recur      bool // recur into directories

	ups chan []*sources.Update
}

func (fs *Watcher) String() string {
	str := fs.Path
	if fs.Recur {
		str += "/..."
	}
	if fs.NameRegexp != nil {
		str += fmt.Sprintf("(%s)", fs.NameRegexp)
	}
	return str
}

func (fs *Watcher) wanted(name string) bool {
	return fs.NameRegexp == nil || fs.NameRegexp.MatchString(name)
}

func fileUpdate(a sources.Action, path string) *sources.Update {
	return &sources.Update{
		Action: a,
		Target: path,
		Labels: map[string]string{"filename": path},
	}
}

// Next should be called each time you wish to watch for an update. The
// first call lists the files already present.
func (fs *Watcher) Next(ctx context.Context) ([]*sources.Update, error) {
	if fs.ups == nil {
		root, err := filepath.Abs(fs.Path)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving %s", fs.Path)
		}
		fs.Path = root

		initFiles := []*sources.Update{}
		filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if info == nil {
				return nil
			}
			if info.IsDir() && root != path && !fs.Recur {
				return filepath.SkipDir
			}
			if info.IsDir() || !fs.wanted(info.Name()) {
				return nil
			}
			initFiles = append(initFiles, fileUpdate(sources.Add, path))
			return nil
		})

		fs.ups = make(chan []*sources.Update, 1)
		if err := fs.watch(ctx); err != nil {
			fs.ups = nil
			return nil, err
		}
		return initFiles, nil
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case up := <-fs.ups:
		return up, nil
	}
}

const fsevs = notify.Create | notify.Remove | notify.Rename

func (fs *Watcher) watch(ctx context.Context) error {
	// notify doesn't block, but also doesn't tell us if we miss events
	ec := make(chan notify.EventInfo, 100)

	path := fs.Path
	if fs.Recur {
		path = filepath.Join(path, "...")
	}

	if err := notify.Watch(path, ec, fsevs); err != nil {
		return errors.Wrapf(err, "watching %s", path)
	}

	go func() {
		defer notify.Stop(ec)

		for {
			select {
			case <-ctx.Done():
				return
			case e := <-ec:
				u := fs.eventUpdate(e)
				if u == nil {
					continue
				}
				select {
				case fs.ups <- []*sources.Update{u}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return nil
}

func (fs *Watcher) eventUpdate(e notify.EventInfo) *sources.Update {
	afn, err := filepath.Abs(e.Path())
	if err != nil {
		glog.Errorf("ignoring event on %s: %v", e.Path(), err)
		return nil
	}
	if !fs.wanted(filepath.Base(afn)) {
		return nil
	}

	switch e.Event() {
	case notify.Create:
		fi, err := os.Stat(afn)
		if err != nil || fi.IsDir() {
			return nil
		}
		return fileUpdate(sources.Add, afn)
	case notify.Remove, notify.Rename:
		// A rename reports both the old and the new name.
		if fi, err := os.Stat(afn); err == nil {
			if fi.IsDir() {
				return nil
			}
			return fileUpdate(sources.Add, afn)
		}
		return fileUpdate(sources.Remove, afn)
	default:
		if glog.V(2) {
			glog.Infof("Ignoring %s event on %s", e.Event(), e.Path())
		}
		return nil
	}
}
