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

// Package stdout writes messages to a terminal.
package stdout

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"text/template"
	"time"

	"github.com/Masterminds/sprig"
	"github.com/QubitProducts/logwatch/consumer"
	"github.com/QubitProducts/logwatch/message"
	"github.com/go-logfmt/logfmt"
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// DefaultFormat is the template used when none is given.
const DefaultFormat = "{{.Text}}"

// Opt configures a Stdout sink.
type Opt func(o *Stdout) error

// WithFormat sets the Go template used for each message. The template is
// given Text, Lines, Time, Severity, Type, ID, Status and Labels, and has
// the sprig functions plus json available.
func WithFormat(format string) Opt {
	return func(o *Stdout) error {
		tmpl, err := template.New("out").Funcs(sprig.TxtFuncMap()).Funcs(formattingFuncMap).Parse(format + "\n")
		if err != nil {
			return errors.Wrap(err, "failed to compile output template")
		}
		o.tmpl = tmpl
		return nil
	}
}

// WithLogfmt writes each message as a logfmt record instead of using a
// template.
func WithLogfmt() Opt {
	return func(o *Stdout) error {
		o.logfmt = true
		return nil
	}
}

// WithStatuses sets which delivery statuses are written; Accepted only by
// default.
func WithStatuses(ss ...message.Status) Opt {
	return func(o *Stdout) error {
		o.statuses = map[message.Status]bool{}
		for _, s := range ss {
			o.statuses[s] = true
		}
		return nil
	}
}

// WithSignificantLabels prints a "--" header line whenever one of the
// named labels changes value between messages.
func WithSignificantLabels(names ...string) Opt {
	return func(o *Stdout) error {
		o.sigLabels = names
		return nil
	}
}

var formattingFuncMap = template.FuncMap{
	"json": formatJSON,
}

func formatJSON(i interface{}) string {
	bs, _ := json.Marshal(i)
	return string(bs)
}

// Stdout is a sinks.Sink that writes messages to an io.Writer, usually
// os.Stdout.
type Stdout struct {
	tmpl      *template.Template
	logfmt    bool
	statuses  map[message.Status]bool
	sigLabels []string

	sync.Mutex
	w       io.Writer
	lastSig map[string]string
	err     error
}

// New creates a sink writing to w.
func New(w io.Writer, opts ...Opt) (*Stdout, error) {
	o := &Stdout{
		w:        w,
		statuses: map[message.Status]bool{message.Accepted: true},
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if o.tmpl == nil && !o.logfmt {
		if err := WithFormat(DefaultFormat)(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// OnMessage implements consumer.Listener.
func (o *Stdout) OnMessage(m *message.Message, status message.Status, src consumer.Source) {
	if !o.statuses[status] {
		return
	}

	o.Lock()
	defer o.Unlock()

	if o.err != nil {
		return
	}
	o.writeHeader(m)

	var err error
	if o.logfmt {
		err = o.writeLogfmt(m, status)
	} else {
		err = o.tmpl.ExecuteTemplate(o.w, "out", templateData(m, status))
	}
	if err != nil {
		o.err = errors.Wrap(err, "writing message")
		glog.Errorf("stdout sink stopped writing: %v", err)
	}
}

func (o *Stdout) writeHeader(m *message.Message) {
	if len(o.sigLabels) == 0 {
		return
	}

	newSig := map[string]string{}
	changed := o.lastSig == nil
	for _, k := range o.sigLabels {
		v, _ := m.Label(k)
		newSig[k] = v
		if o.lastSig[k] != v {
			changed = true
		}
	}
	if !changed {
		return
	}
	o.lastSig = newSig

	fmt.Fprintf(o.w, "--")
	for _, k := range o.sigLabels {
		fmt.Fprintf(o.w, " %s=%s", k, newSig[k])
	}
	fmt.Fprintf(o.w, "\n")
}

func templateData(m *message.Message, status message.Status) map[string]interface{} {
	tm := map[string]interface{}{}
	tm["Text"] = m.Text()
	tm["Lines"] = m.Lines()
	tm["Time"] = m.Time()
	tm["Severity"] = m.Severity().String()
	tm["Type"] = m.Type().String()
	tm["ID"] = uint64(m.ID())
	tm["Status"] = status.String()
	tm["Labels"] = m.Labels()
	return tm
}

func (o *Stdout) writeLogfmt(m *message.Message, status message.Status) error {
	enc := logfmt.NewEncoder(o.w)

	kvs := []interface{}{
		"time", m.Time().Format(time.RFC3339Nano),
		"id", strconv.FormatUint(uint64(m.ID()), 10),
		"severity", m.Severity().String(),
	}
	if status != message.Accepted {
		kvs = append(kvs, "status", status.String())
	}

	ls := m.Labels()
	delete(ls, "id")
	delete(ls, "severity")
	delete(ls, "type")
	keys := make([]string, 0, len(ls))
	for k := range ls {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		kvs = append(kvs, k, ls[k])
	}
	kvs = append(kvs, "msg", m.Text())

	if err := enc.EncodeKeyvals(kvs...); err != nil {
		return err
	}
	return enc.EndRecord()
}

// Close reports the first write error, if any.
func (o *Stdout) Close() error {
	o.Lock()
	defer o.Unlock()
	return o.err
}
