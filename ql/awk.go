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

package ql

import (
	"io/ioutil"
	"strings"

	"github.com/QubitProducts/logwatch/message"
	"github.com/benhoyt/goawk/interp"
	"github.com/benhoyt/goawk/parser"
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// AWKOpt configures an AWK condition.
type AWKOpt func(*awkCondition)

// WithFieldSeparator sets FS, a single space by default.
func WithFieldSeparator(sep string) AWKOpt {
	return func(ac *awkCondition) {
		ac.sep = sep
	}
}

type awkCondition struct {
	src string
	sep string
	prg *parser.Program
}

// funcs builds the native functions visible to the program, bound to the
// labels of one message.
func awkFuncs(labels map[string]string) map[string]interface{} {
	return map[string]interface{}{
		"label": func(name string) string {
			return labels[name]
		},
	}
}

// CompileAWK compiles an AWK pattern into a condition. The pattern is run
// against every line of a message, and the message matches if the pattern
// is true for any of them. The function label(name) returns a label of the
// message being tested.
//
//   CompileAWK(`$3 == "ERROR" && label("filename") ~ /app/`)
func CompileAWK(pattern string, opts ...AWKOpt) (message.Condition, error) {
	ac := &awkCondition{
		src: pattern,
		sep: " ",
	}
	for _, o := range opts {
		o(ac)
	}

	prog := "(" + pattern + ") { found = 1; exit }\nEND { if (found) exit 0; exit 1 }"
	prg, err := parser.ParseProgram([]byte(prog), &parser.ParserConfig{
		Funcs: awkFuncs(nil),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse awk pattern %q", pattern)
	}
	ac.prg = prg

	return ac.match, nil
}

func (ac *awkCondition) match(m *message.Message) bool {
	cfg := &interp.Config{
		Stdin:        strings.NewReader(m.Text() + "\n"),
		Output:       ioutil.Discard,
		Funcs:        awkFuncs(m.Labels()),
		NoExec:       true,
		NoFileWrites: true,
		NoFileReads:  true,
		Vars:         []string{"FS", ac.sep},
	}

	status, err := interp.ExecProgram(ac.prg, cfg)
	if err != nil {
		if glog.V(1) {
			glog.Errorf("awk pattern %q failed on %v: %v", ac.src, m, err)
		}
		return false
	}
	return status == 0
}
