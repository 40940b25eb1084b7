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

// Package relabel implements prometheus style relabelling rules over the
// labels of a message. A rule list can be used both to rewrite labels and
// as a message condition.
package relabel

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"reflect"
	"regexp"
	"runtime"
	"strings"

	"github.com/QubitProducts/logwatch/message"
	"github.com/go-logfmt/logfmt"
	"github.com/pkg/errors"
	"github.com/prometheus/common/model"
	yaml "gopkg.in/yaml.v2"
)

// TextLabel holds the message text while rules are applied.
const TextLabel = "__text__"

// Config is a collection of rules for updating the labels on a message.
type Config []*Rule

// Load reads a rule list from a YAML (or JSON) file.
func Load(fn string) (Config, error) {
	bs, err := ioutil.ReadFile(fn)
	if err != nil {
		return nil, errors.Wrapf(err, "reading relabel rules %s", fn)
	}
	rlc := Config{}
	if err := yaml.UnmarshalStrict(bs, &rlc); err != nil {
		return nil, errors.Wrapf(err, "parsing relabel rules %s", fn)
	}
	return rlc, nil
}

// Relabel transforms the label set ls using the set of relabel rules. It
// returns false as soon as a rule drops the set.
func (rlc Config) Relabel(ls map[string]string) bool {
	for _, r := range rlc {
		if !r.Relabel(ls) {
			return false
		}
	}
	return true
}

// Labels runs the rules over the labels of m, with the message text
// available as __text__. The resulting labels do not include __text__.
func (rlc Config) Labels(m *message.Message) (map[string]string, bool) {
	ls := m.Labels()
	ls[TextLabel] = m.Text()
	ok := rlc.Relabel(ls)
	delete(ls, TextLabel)
	return ls, ok
}

// Condition returns a condition accepting the messages that no rule
// drops.
func (rlc Config) Condition() message.Condition {
	return func(m *message.Message) bool {
		_, ok := rlc.Labels(m)
		return ok
	}
}

type ruleFunc func(*Rule, map[string]string) bool

// XXX catches unknown Rule settings
type XXX map[string]interface{}

// Rule describes configuration for a rule to relabel a message.
type Rule struct {
	Action      ruleFunc    `json:"action" yaml:"action"`
	SrcLabels   []string    `json:"source_labels" yaml:"source_labels"`
	TargetLabel string      `json:"target_label" yaml:"target_label"`
	Regex       *JSONRegexp `json:"regex" yaml:"regex"`
	Replacement string      `json:"replacement" yaml:"replacement"`
	Separator   string      `json:"separator" yaml:"separator"`
	XXX         `json:",omitempty" yaml:",omitempty,inline"`
}

func defaultRule() Rule {
	return Rule{
		Action:      actions["keep"],
		Regex:       &JSONRegexp{regexp.MustCompile("(.+)")},
		Replacement: "$1",
		Separator:   ";",
	}
}

type defdRelabelRule Rule

// UnmarshalYAML unmarshals yaml to a Relabel rule with appropriate defaults
func (r *Rule) UnmarshalYAML(unmarshal func(interface{}) error) error {
	rr := defdRelabelRule(defaultRule())
	if err := unmarshal(&rr); err != nil {
		return err
	}
	if len(rr.XXX) != 0 {
		unknowns := []string{}
		for k := range rr.XXX {
			unknowns = append(unknowns, k)
		}
		return fmt.Errorf("Unknown rule fields: %s", strings.Join(unknowns, ", "))
	}
	*r = Rule(rr)
	return nil
}

// UnmarshalJSON unmarshals json to a Relabel rule with appropriate defaults
func (r *Rule) UnmarshalJSON(bs []byte) error {
	rr := defdRelabelRule(defaultRule())
	if err := json.Unmarshal(bs, &rr); err != nil {
		return err
	}
	*r = Rule(rr)
	return nil
}

func (r *Rule) buildKey(ls map[string]string) string {
	vals := make([]string, 0, len(r.SrcLabels))
	for _, k := range r.SrcLabels {
		if v, ok := ls[k]; ok {
			vals = append(vals, v)
		}
	}
	return strings.Join(vals, r.Separator)
}

// Relabel the provided label set using the described rule.
func (r *Rule) Relabel(ls map[string]string) bool {
	return r.Action(r, ls)
}

var actions map[string]ruleFunc

func init() {
	actions = map[string]ruleFunc{
		"keep":      (*Rule).applyKeep,
		"drop":      (*Rule).applyDrop,
		"labelkeep": (*Rule).applyLabelKeep,
		"labeldrop": (*Rule).applyLabelDrop,
		"replace":   (*Rule).applyReplace,
		"labelmap":  (*Rule).applyLabelMap,
		"logfmt":    (*Rule).applyLogfmt,
	}
}

func (r *Rule) applyDrop(ls map[string]string) bool {
	return !r.Regex.MatchString(r.buildKey(ls))
}

func (r *Rule) applyKeep(ls map[string]string) bool {
	return r.Regex.MatchString(r.buildKey(ls))
}

func (r *Rule) applyLabelDrop(ls map[string]string) bool {
	for k := range ls {
		if k != TextLabel && r.Regex.MatchString(k) {
			delete(ls, k)
		}
	}
	return true
}

func (r *Rule) applyLabelKeep(ls map[string]string) bool {
	for k := range ls {
		if k != TextLabel && !r.Regex.MatchString(k) {
			delete(ls, k)
		}
	}
	return true
}

func (r *Rule) applyReplace(ls map[string]string) bool {
	key := r.buildKey(ls)
	matches := r.Regex.FindStringSubmatchIndex(key)
	if matches == nil {
		return true
	}
	target := model.LabelName(r.Regex.ExpandString([]byte{}, r.TargetLabel, key, matches))
	if !target.IsValid() {
		return true
	}
	ls[string(target)] = string(r.Regex.ExpandString([]byte{}, r.Replacement, key, matches))
	return true
}

func (r *Rule) applyLabelMap(ls map[string]string) bool {
	add := map[string]string{}
	for k, v := range ls {
		if k != TextLabel && r.Regex.MatchString(k) {
			add[r.Regex.ReplaceAllString(k, r.Replacement)] = v
		}
	}
	for k, v := range add {
		ls[k] = v
	}
	return true
}

// applyLogfmt parses the key as logfmt and sets a label for each pair,
// prefixed with the target label. The set is dropped if the key is not
// valid logfmt.
func (r *Rule) applyLogfmt(ls map[string]string) bool {
	key := r.buildKey(ls)
	if !r.Regex.MatchString(key) {
		return true
	}

	add := map[string]string{}
	d := logfmt.NewDecoder(strings.NewReader(key))
	for d.ScanRecord() {
		for d.ScanKeyval() {
			name := model.LabelName(r.TargetLabel + string(d.Key()))
			if !name.IsValid() {
				continue
			}
			add[string(name)] = string(d.Value())
		}
	}
	if d.Err() != nil {
		return false
	}

	for k, v := range add {
		ls[k] = v
	}
	return true
}

func getFuncName(i interface{}) string {
	return runtime.FuncForPC(reflect.ValueOf(i).Pointer()).Name()
}

func (r ruleFunc) MarshalYAML() (interface{}, error) {
	bs, err := r.MarshalJSON()
	return string(bs), err
}

func (r ruleFunc) MarshalJSON() ([]byte, error) {
	for a, f := range actions {
		if getFuncName(f) == getFuncName(r) {
			return json.Marshal(a)
		}
	}

	return nil, errors.Errorf("No name known for relabel function %s", getFuncName(r))
}

func (r *ruleFunc) UnmarshalYAML(unmarshal func(interface{}) error) error {
	str := ""
	if err := unmarshal(&str); err != nil {
		return err
	}

	jstr := fmt.Sprintf("%q", str)
	return r.UnmarshalJSON([]byte(jstr))
}

func (r *ruleFunc) UnmarshalJSON(bs []byte) error {
	rstr := ""
	if err := json.Unmarshal(bs, &rstr); err != nil {
		return err
	}
	rf, ok := actions[rstr]
	if !ok {
		return errors.Errorf("unknown relabel action %q", rstr)
	}
	*r = rf
	return nil
}

// JSONRegexp provides a means of directly unmarshaling a regexp
type JSONRegexp struct {
	*regexp.Regexp
}

// MarshalYAML implements the yaml Marshaler interface for JSON Regex
func (r *JSONRegexp) MarshalYAML() (interface{}, error) {
	bs, err := r.MarshalJSON()
	return string(bs), err
}

// MarshalJSON implements the json Marshaler interface for JSON Regex
func (r *JSONRegexp) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", r.Regexp.String())), nil
}

// UnmarshalYAML implements the yaml Unmarshaler interface for JSON Regex
func (r *JSONRegexp) UnmarshalYAML(unmarshal func(interface{}) error) error {
	str := ""
	if err := unmarshal(&str); err != nil {
		return err
	}
	jstr := fmt.Sprintf("%q", str)
	return r.UnmarshalJSON([]byte(jstr))
}

// UnmarshalJSON implements the json Unmarshaler interface for JSON Regex
func (r *JSONRegexp) UnmarshalJSON(bs []byte) error {
	rstr := ""
	if err := json.Unmarshal(bs, &rstr); err != nil {
		return err
	}
	re, err := regexp.Compile(rstr)
	if err != nil {
		return err
	}
	*r = JSONRegexp{re}
	return nil
}
