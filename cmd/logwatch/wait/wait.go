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

package wait

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/QubitProducts/logwatch/cmd/logwatch/root"
	"github.com/QubitProducts/logwatch/message"
	"github.com/QubitProducts/logwatch/ql"
	"github.com/QubitProducts/logwatch/sinks/stdout"
	"github.com/QubitProducts/logwatch/sources"
	"github.com/golang/glog"
	"github.com/spf13/cobra"
)

var (
	query   string
	awk     string
	timeout time.Duration
)

func init() {
	root.RootCmd.AddCommand(waitCmd)

	waitCmd.Flags().StringVar(&query, "query", "", "Query the awaited message must match")
	waitCmd.Flags().StringVar(&awk, "awk", "", "AWK pattern the awaited message must match")
	waitCmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "How long to wait, 0 waits forever")
}

var waitCmd = &cobra.Command{
	Use:   "wait [files...]",
	Short: "wait blocks until a matching message is written",
	Long: `wait exits 0 and prints the message once a message matching the
	query is written to one of the files, or exits 1 on timeout. Only
	messages written after wait starts are considered.`,
	Example: `logwatch wait --query '__text__~"server started"' --timeout 30s app.log`,
	RunE:    run,
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := root.Config()
	if err != nil {
		return err
	}

	conds := []message.Condition{}
	c, err := ql.Compile(query)
	if err != nil {
		return err
	}
	conds = append(conds, c)
	if awk != "" {
		c, err := ql.CompileAWK(awk)
		if err != nil {
			return err
		}
		conds = append(conds, c)
	}

	g, upd, err := root.Group(cfg, args)
	if err != nil {
		return err
	}
	defer g.Stop()

	x, err := g.Follower().Expect(message.And(conds...), nil)
	if err != nil {
		return err
	}

	ctx, cancel := root.SignalContext()
	defer cancel()
	go func() {
		if err := sources.FollowAllTargets(ctx, g, upd); err != nil && ctx.Err() == nil {
			glog.Errorf("following targets failed: %v", err)
			cancel()
		}
	}()

	wctx := ctx
	if timeout > 0 {
		var wcancel context.CancelFunc
		wctx, wcancel = context.WithTimeout(ctx, timeout)
		defer wcancel()
	}

	m := x.Wait(wctx)
	if m == nil {
		fmt.Fprintf(os.Stderr, "no matching message after %v\n", timeout)
		g.Stop()
		os.Exit(1)
	}

	out, err := stdout.New(os.Stdout, cfg.SinkOpts()...)
	if err != nil {
		return err
	}
	out.OnMessage(m, message.Accepted, g.Follower())
	return out.Close()
}
