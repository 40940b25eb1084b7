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

// Package root holds the logwatch root command and the plumbing shared by
// its subcommands.
package root

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/QubitProducts/logwatch/config"
	"github.com/QubitProducts/logwatch/sources"
	"github.com/QubitProducts/logwatch/sources/filesystem"
	"github.com/QubitProducts/logwatch/watch"
	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var configFile string

// RootCmd is the logwatch command.
var RootCmd = &cobra.Command{
	Use:   "logwatch",
	Short: "logwatch follows growing log files",
	Long: `logwatch tails log files, groups their lines into messages and
	lets you print them or wait for a particular one.`,
	SilenceUsage: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		flag.Set("logtostderr", "true")
		flag.CommandLine.Parse(nil)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the logwatch version",
	Run: func(*cobra.Command, []string) {
		fmt.Println(Version)
	},
}

func init() {
	RootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML configuration file")
	RootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	RootCmd.AddCommand(versionCmd)
}

// Execute runs the root command, exiting on error.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Config loads the file given with --config, or the defaults.
func Config() (*config.Config, error) {
	if configFile == "" {
		return config.Default(), nil
	}
	return config.Load(configFile)
}

// Group builds a watch group for cfg and the updater reporting its
// targets. Files given on the command line win over the configuration.
func Group(cfg *config.Config, files []string) (*watch.Group, sources.Updater, error) {
	wopts, err := cfg.WatchOpts()
	if err != nil {
		return nil, nil, err
	}

	var upd sources.Updater
	switch {
	case len(files) > 0:
		upd = sources.NewStatic(files...)
	case cfg.Dir != "":
		re, err := regexp.Compile(cfg.NameRegexp)
		if err != nil {
			return nil, nil, errors.Wrap(err, "bad name regexp")
		}
		upd = filesystem.New(cfg.Dir, re, cfg.Recursive)
	case len(cfg.Files) > 0:
		upd = sources.NewStatic(cfg.Files...)
	default:
		return nil, nil, errors.New("no files to watch, give some files or a dir")
	}

	opener := filesystem.Opener(filesystem.WithPoll(cfg.Poll))
	open := func(path string, fromStart bool) (sources.LineSource, error) {
		return opener(path, fromStart || cfg.FromStart)
	}
	return watch.NewGroup(open, wopts...), upd, nil
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigs)
		select {
		case s := <-sigs:
			glog.Infof("got %v, shutting down", s)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// ServeStats serves prometheus metrics on addr until ctx is done.
func ServeStats(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrapf(err, "serving stats on %s", addr)
	}
	return nil
}
