// Copyright (C) 2019-2025 Algorand, Inc.
// This file is part of go-algorand
//
// go-algorand is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// go-algorand is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with go-algorand.  If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/algorand/go-poet/logging"
	"github.com/algorand/go-poet/util/metrics"
)

const (
	red    = color.FgRed
	green  = color.FgGreen
	yellow = color.FgYellow
)

var (
	runValidators int
	runBlocks     uint64
	runTimeout    time.Duration
	runTargetWait float64
	runTxnRate    time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run PoET validators in process until their chains reach a height",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := localConfig
		if cmd.Flags().Changed("target-wait") {
			cfg.TargetWaitTime = runTargetWait
			cfg.InitialWaitTime = runTargetWait
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		reg := metrics.MakeRegistry()
		net, err := makeNetwork(networkParams{
			Validators: runValidators,
			Config:     cfg,
			DataDir:    dataDir,
			Log:        logging.Base(),
			Metrics:    reg,
		})
		if err != nil {
			return err
		}
		defer net.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if runTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, runTimeout)
			defer cancel()
		}

		start := time.Now()
		runErr := net.run(ctx, runBlocks, runTxnRate)
		printNetworkReport(net, runBlocks, time.Since(start))
		published, _ := reg.CounterValue(metrics.EngineBlocksPublishedTotal)
		failed, _ := reg.CounterValue(metrics.EngineBlocksFailedTotal)
		fmt.Printf("published %.0f blocks, %.0f failed consensus checks\n", published, failed)
		return runErr
	},
}

func init() {
	runCmd.Flags().IntVarP(&runValidators, "validators", "n", 3, "Number of validators")
	runCmd.Flags().Uint64VarP(&runBlocks, "blocks", "b", 10, "Chain height every validator must reach")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 5*time.Minute, "Give up after this long; 0 runs until interrupted")
	runCmd.Flags().Float64Var(&runTargetWait, "target-wait", 1, "Target and initial wait time in seconds, overriding the config")
	runCmd.Flags().DurationVar(&runTxnRate, "txn-interval", 100*time.Millisecond, "Interval between submitted transactions")
}

func printNetworkReport(net *network, height uint64, elapsed time.Duration) {
	reports := net.report()
	fmt.Printf("%-14s %8s %10s %8s %7s %8s\n", "validator", "height", "head", "claimed", "failed", "ignored")
	for _, r := range reports {
		fmt.Printf("%-14s %8d %10s %8d %7d %8d\n",
			r.Name, r.Head.BlockNum, r.Head.ID().Short(), r.Claimed, r.Failed, r.Ignored)
	}

	agreed := true
	first, ok := net.blockAt(reports[0].Head, height)
	for _, r := range reports[1:] {
		b, found := net.blockAt(r.Head, height)
		if !ok || !found || b.ID() != first.ID() {
			agreed = false
		}
	}
	switch {
	case !ok:
		fmt.Println(color.New(red).Sprintf("height %d not reached after %v", height, elapsed))
	case agreed:
		fmt.Println(color.New(green).Sprintf("all validators agree on block %s at height %d after %v",
			first.ID().Short(), height, elapsed.Round(time.Millisecond)))
	default:
		fmt.Println(color.New(yellow).Sprintf("validators disagree at height %d after %v",
			height, elapsed.Round(time.Millisecond)))
	}
}
