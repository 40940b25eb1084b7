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

package tail

import (
	"context"
	"os"

	"github.com/QubitProducts/logwatch/cmd/logwatch/root"
	"github.com/QubitProducts/logwatch/sinks"
	"github.com/QubitProducts/logwatch/sinks/devnull"
	"github.com/QubitProducts/logwatch/sinks/stdout"
	"github.com/QubitProducts/logwatch/sources"
	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	statsAddr  string
	todevnull  bool
	format     string
	useLogfmt  bool
	gate       string
	storage    string
	capacity   int
	fromStart  bool
	showLabels []string
)

func init() {
	root.RootCmd.AddCommand(tailCmd)

	tailCmd.Flags().StringVar(&statsAddr, "stats.addr", "", "Address to serve prometheus stats on, disabled when empty")
	tailCmd.Flags().BoolVar(&todevnull, "devnull", false, "Drop all messages, but do the stats")
	tailCmd.Flags().StringVar(&format, "fmt", "{{.Text}}", "Go template to use to format each message")
	tailCmd.Flags().BoolVar(&useLogfmt, "logfmt", false, "Print messages as logfmt records")
	tailCmd.Flags().StringVar(&gate, "gate", "", "Query a message must match to be seen at all")
	tailCmd.Flags().StringVar(&storage, "storage", "", "Query a message must match to be kept")
	tailCmd.Flags().IntVar(&capacity, "capacity", 0, "Maximum number of messages kept per file, 0 for no limit")
	tailCmd.Flags().BoolVar(&fromStart, "from-start", false, "Read files from the start rather than the end")
	tailCmd.Flags().StringSliceVar(&showLabels, "labels", nil, "Print a header when any of these labels changes")
}

var tailCmd = &cobra.Command{
	Use:     "tail [files...]",
	Short:   "tail prints the messages of a set of log files",
	Example: `logwatch tail --gate 'severity!=DEBUG' --labels filename /var/log/app/*.log`,
	RunE:    run,
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := root.Config()
	if err != nil {
		return err
	}

	fs := cmd.Flags()
	if fs.Changed("fmt") {
		cfg.Format = format
	}
	if fs.Changed("logfmt") {
		cfg.Logfmt = useLogfmt
	}
	if fs.Changed("gate") {
		cfg.Gate = gate
	}
	if fs.Changed("storage") {
		cfg.Storage = storage
	}
	if fs.Changed("capacity") {
		cfg.Capacity = capacity
	}
	if fs.Changed("from-start") {
		cfg.FromStart = fromStart
	}
	if fs.Changed("labels") {
		cfg.SignificantLabels = showLabels
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	g, upd, err := root.Group(cfg, args)
	if err != nil {
		return err
	}

	var sink sinks.Sink
	if todevnull {
		sink = &devnull.DevNull{}
	} else {
		sink, err = stdout.New(os.Stdout, cfg.SinkOpts()...)
		if err != nil {
			return err
		}
	}
	if err := g.Follower().Register(sink); err != nil {
		return err
	}

	ctx, cancel := root.SignalContext()
	defer cancel()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return sources.FollowAllTargets(ctx, g, upd)
	})
	if statsAddr != "" {
		eg.Go(func() error {
			return root.ServeStats(ctx, statsAddr)
		})
	}

	err = eg.Wait()
	g.Flush()
	g.Stop()
	if cerr := sink.Close(); cerr != nil {
		glog.Errorf("closing sink: %v", cerr)
	}

	if errors.Cause(err) == context.Canceled {
		return nil
	}
	return err
}
