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
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/algorand/go-poet/data/transactions"
	"github.com/algorand/go-poet/logging"
	"github.com/algorand/go-poet/util/metrics"
)

var (
	scheduleBatches   int
	scheduleBatchSize int
	scheduleKeys      int
	scheduleInvalid   float64
	scheduleSeed      int64
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run one workload through the serial and parallel schedulers and compare state roots",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		batches := makeWorkload(workloadParams{
			Batches:      scheduleBatches,
			BatchSize:    scheduleBatchSize,
			Keys:         scheduleKeys,
			InvalidRatio: scheduleInvalid,
			Seed:         scheduleSeed,
		})
		results, err := compareSchedulers(cmd.Context(), batches, localConfig.StoreImpl, localConfig.ExecutionParallelism)
		if err != nil {
			return err
		}
		same := true
		for _, r := range results {
			fmt.Printf("%-9s %5d valid %5d invalid  root %s (%v)\n", r.Kind, r.Valid, r.Invalid, r.Root, r.elapsed.Round(time.Microsecond))
			same = same && r.Root == results[0].Root
		}
		if !same {
			fmt.Println(color.New(red).Sprint("state roots differ"))
			return fmt.Errorf("schedulers disagree on the state root")
		}
		fmt.Println(color.New(green).Sprint("state roots match"))
		return nil
	},
}

func init() {
	scheduleCmd.Flags().IntVar(&scheduleBatches, "batches", 100, "Number of batches")
	scheduleCmd.Flags().IntVar(&scheduleBatchSize, "batch-size", 4, "Transactions per batch")
	scheduleCmd.Flags().IntVar(&scheduleKeys, "keys", 20, "Number of distinct counters; fewer keys means more conflicts")
	scheduleCmd.Flags().Float64Var(&scheduleInvalid, "invalid", 0.05, "Fraction of transactions that fail")
	scheduleCmd.Flags().Int64Var(&scheduleSeed, "seed", 1, "Workload seed")
}

type timedResult struct {
	workloadResult
	elapsed time.Duration
}

var schedulerKinds = []string{"serial", "parallel"}

// compareSchedulers runs batches through every scheduler kind at once.
func compareSchedulers(ctx context.Context, batches []transactions.Batch, storeImpl string, parallelism int) ([]timedResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	results := make([]timedResult, len(schedulerKinds))
	eg, ctx := errgroup.WithContext(ctx)
	for i, kind := range schedulerKinds {
		i, kind := i, kind
		eg.Go(func() error {
			start := time.Now()
			r, err := runWorkload(ctx, kind, batches, storeImpl, parallelism,
				logging.Base().With("scheduler", kind), metrics.MakeRegistry())
			results[i] = timedResult{workloadResult: r, elapsed: time.Since(start)}
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
