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

// Package config loads the YAML configuration of the logwatch command and
// turns it into watch and sink options.
package config

import (
	"io/ioutil"
	"regexp"
	"time"

	"github.com/QubitProducts/logwatch/consumer"
	"github.com/QubitProducts/logwatch/message"
	"github.com/QubitProducts/logwatch/ql"
	"github.com/QubitProducts/logwatch/relabel"
	"github.com/QubitProducts/logwatch/sinks/stdout"
	"github.com/QubitProducts/logwatch/watch"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// HandDown describes a metric every follower measures.
type HandDown struct {
	ID string `yaml:"id"`
	// Measure is one of count, last or severity.
	Measure string `yaml:"measure"`
	// Query selects the messages measured, all of them when empty.
	Query string `yaml:"query"`
}

// Config is the logwatch configuration.
type Config struct {
	Files      []string `yaml:"files"`
	Dir        string   `yaml:"dir"`
	NameRegexp string   `yaml:"name_regexp"`
	Recursive  bool     `yaml:"recursive"`
	Poll       bool     `yaml:"poll"`
	FromStart  bool     `yaml:"from_start"`

	Capacity      int           `yaml:"capacity"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	FlushInterval time.Duration `yaml:"flush_interval"`

	Gate         string         `yaml:"gate"`
	Storage      string         `yaml:"storage"`
	StorageAWK   string         `yaml:"storage_awk"`
	StorageRules relabel.Config `yaml:"storage_rules"`
	HandDown     []HandDown     `yaml:"hand_down"`

	Format            string   `yaml:"format"`
	Logfmt            bool     `yaml:"logfmt"`
	SignificantLabels []string `yaml:"significant_labels"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		NameRegexp:    `\.log$`,
		SweepInterval: 60 * time.Second,
		FlushInterval: 500 * time.Millisecond,
		Format:        stdout.DefaultFormat,
	}
}

// Load reads and validates a configuration file.
func Load(fn string) (*Config, error) {
	bs, err := ioutil.ReadFile(fn)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", fn)
	}
	c, err := Parse(bs)
	if err != nil {
		return nil, errors.Wrapf(err, "in config %s", fn)
	}
	return c, nil
}

// Parse reads a configuration over the defaults and validates it.
func Parse(bs []byte) (*Config, error) {
	c := Default()
	if err := yaml.UnmarshalStrict(bs, c); err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

var measures = map[string]func(c message.Condition) (interface{}, consumer.UpdateFunc){
	"count": func(c message.Condition) (interface{}, consumer.UpdateFunc) {
		return 0, consumer.CountOf(c)
	},
	"last": func(c message.Condition) (interface{}, consumer.UpdateFunc) {
		return nil, consumer.LastOf(c)
	},
	"severity": func(c message.Condition) (interface{}, consumer.UpdateFunc) {
		return nil, consumer.SeverityHistogram()
	},
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Capacity < 0 {
		return errors.Errorf("capacity must not be negative, got %d", c.Capacity)
	}
	if c.SweepInterval <= 0 {
		return errors.Errorf("sweep_interval must be positive, got %v", c.SweepInterval)
	}
	if c.FlushInterval < 0 {
		return errors.Errorf("flush_interval must not be negative, got %v", c.FlushInterval)
	}
	if _, err := regexp.Compile(c.NameRegexp); err != nil {
		return errors.Wrap(err, "bad name_regexp")
	}
	if _, err := c.GateCondition(); err != nil {
		return err
	}
	if _, err := c.StorageCondition(); err != nil {
		return err
	}

	seen := map[string]bool{}
	for _, hd := range c.HandDown {
		if hd.ID == "" {
			return errors.New("hand_down entries need an id")
		}
		if seen[hd.ID] {
			return errors.Errorf("duplicate hand_down id %q", hd.ID)
		}
		seen[hd.ID] = true
		if _, ok := measures[hd.Measure]; !ok {
			return errors.Errorf("unknown measure %q for hand_down %q", hd.Measure, hd.ID)
		}
		if _, err := ql.Compile(hd.Query); err != nil {
			return errors.Wrapf(err, "bad query for hand_down %q", hd.ID)
		}
	}
	return nil
}

// GateCondition compiles the gate query.
func (c *Config) GateCondition() (message.Condition, error) {
	cond, err := ql.Compile(c.Gate)
	if err != nil {
		return nil, errors.Wrap(err, "bad gate query")
	}
	return cond, nil
}

// StorageCondition combines the storage query, AWK pattern and relabel
// rules; a message must pass all of them to be stored.
func (c *Config) StorageCondition() (message.Condition, error) {
	cond, err := ql.Compile(c.Storage)
	if err != nil {
		return nil, errors.Wrap(err, "bad storage query")
	}
	conds := []message.Condition{cond}

	if c.StorageAWK != "" {
		awk, err := ql.CompileAWK(c.StorageAWK)
		if err != nil {
			return nil, errors.Wrap(err, "bad storage_awk")
		}
		conds = append(conds, awk)
	}
	if len(c.StorageRules) > 0 {
		conds = append(conds, c.StorageRules.Condition())
	}
	return message.And(conds...), nil
}

// WatchOpts returns the options every watch is created with.
func (c *Config) WatchOpts() ([]watch.Opt, error) {
	gate, err := c.GateCondition()
	if err != nil {
		return nil, err
	}
	storage, err := c.StorageCondition()
	if err != nil {
		return nil, err
	}

	opts := []watch.Opt{
		watch.WithGate(gate),
		watch.WithStorage(storage),
		watch.WithSweepInterval(c.SweepInterval),
		watch.WithFlushInterval(c.FlushInterval),
	}
	if c.Capacity > 0 {
		opts = append(opts, watch.WithCapacity(c.Capacity))
	}

	for _, hd := range c.HandDown {
		m, ok := measures[hd.Measure]
		if !ok {
			return nil, errors.Errorf("unknown measure %q", hd.Measure)
		}
		cond, err := ql.Compile(hd.Query)
		if err != nil {
			return nil, err
		}
		seed, fn := m(cond)
		opts = append(opts, watch.WithHandDown(hd.ID, seed, fn))
	}
	return opts, nil
}

// SinkOpts returns the options for the stdout sink.
func (c *Config) SinkOpts() []stdout.Opt {
	var opts []stdout.Opt
	if c.Logfmt {
		opts = append(opts, stdout.WithLogfmt())
	} else {
		opts = append(opts, stdout.WithFormat(c.Format))
	}
	if len(c.SignificantLabels) > 0 {
		opts = append(opts, stdout.WithSignificantLabels(c.SignificantLabels...))
	}
	return opts
}
