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

package execution

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/algorand/go-poet/crypto"
	"github.com/algorand/go-poet/data/transactions"
	"github.com/algorand/go-poet/test/partitiontest"
	"github.com/algorand/go-poet/util/metrics"
)

var schedulerKinds = []string{"serial", "parallel"}

func TestSchedulerEndToEnd(t *testing.T) {
	partitiontest.PartitionTest(t)

	for _, kind := range schedulerKinds {
		kind := kind
		t.Run(kind, func(t *testing.T) {
			env := makeTestEnv(t)
			s := env.scheduler(t, kind, false)
			batches := []transactions.Batch{
				namedBatch("a", "b"),
				namedBatch("invalid", "c"),
				namedBatch("d", "e"),
			}
			for _, b := range batches {
				require.NoError(t, s.AddBatch(b, nil, false))
			}
			s.Finalize()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			require.NoError(t, env.executor(t).Execute(ctx, s))

			done, err := s.Complete(true)
			require.NoError(t, err)
			require.True(t, done)

			r1, err := s.GetBatchExecutionResult(batches[0].ID)
			require.NoError(t, err)
			require.True(t, r1.IsValid)
			require.Nil(t, r1.StateHash)

			r2, err := s.GetBatchExecutionResult(batches[1].ID)
			require.NoError(t, err)
			require.False(t, r2.IsValid)
			require.Nil(t, r2.StateHash)

			r3, err := s.GetBatchExecutionResult(batches[2].ID)
			require.NoError(t, err)
			require.True(t, r3.IsValid)
			require.NotNil(t, r3.StateHash)
			require.Equal(t, env.expectedRoot(t, "a", "b", "d", "e"), *r3.StateHash)

			results := s.GetTransactionExecutionResults(batches[1].ID)
			require.Len(t, results, 2)
			require.False(t, results[0].IsValid)
			require.Equal(t, "invalid by name", results[0].ErrorMessage)

			valid, err := env.metrics.CounterValue(metrics.SchedulerTransactionResultsTotal, kind, "true")
			require.NoError(t, err)
			require.GreaterOrEqual(t, valid, float64(4))
		})
	}
}

func TestSchedulerDeterminism(t *testing.T) {
	partitiontest.PartitionTest(t)

	var batches []transactions.Batch
	for i := 0; i < 8; i++ {
		txns := []transactions.Transaction{
			namedTxn(uuid.NewString()),
			namedTxn(uuid.NewString()),
			namedTxn(uuid.NewString()),
		}
		if i%3 == 1 {
			// unknown dependencies are ignored; this one only makes the id unique
			txns[1] = namedTxn("invalid", fmt.Sprintf("nonce-%d", i))
		}
		batches = append(batches, transactions.MakeBatch(txns...))
	}

	type outcome struct {
		valid []bool
		root  crypto.Digest
	}
	outcomes := make(map[string]outcome)
	outs := make([]outcome, len(schedulerKinds))

	var eg errgroup.Group
	for i, kind := range schedulerKinds {
		i, kind := i, kind
		env := makeTestEnv(t)
		ex := env.executor(t)
		s := env.scheduler(t, kind, true)
		eg.Go(func() error {
			for _, b := range batches {
				if err := s.AddBatch(b, nil, false); err != nil {
					return err
				}
			}
			s.Finalize()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := ex.Execute(ctx, s); err != nil {
				return err
			}
			var o outcome
			for _, b := range batches {
				r, err := s.GetBatchExecutionResult(b.ID)
				if err != nil {
					return err
				}
				if r == nil {
					return fmt.Errorf("%s: batch %s has no result", kind, b.ID)
				}
				o.valid = append(o.valid, r.IsValid)
				if r.StateHash != nil {
					o.root = *r.StateHash
				}
			}
			outs[i] = o
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	for i, kind := range schedulerKinds {
		outcomes[kind] = outs[i]
	}

	require.Equal(t, outcomes["serial"].valid, outcomes["parallel"].valid)
	require.False(t, outcomes["serial"].root.IsZero())
	require.Equal(t, outcomes["serial"].root, outcomes["parallel"].root)
}

func TestParallelSameAddressWritersAreOrdered(t *testing.T) {
	partitiontest.PartitionTest(t)

	env := makeTestEnv(t)
	s := env.scheduler(t, "parallel", false)

	first := namedTxn("shared")
	second := namedTxn("shared")
	second.Payload = []byte("shared-again")
	second.ID = second.ComputeID()
	batch := transactions.MakeBatch(first, second)
	require.NoError(t, s.AddBatch(batch, nil, false))

	info, err := s.NextTransaction()
	require.NoError(t, err)
	require.NotNil(t, info)
	require.Equal(t, first.ID, info.Txn.ID)
	require.Empty(t, info.BaseContextIDs)

	// the second writer is never ready while the first is outstanding
	next, err := s.NextTransaction()
	require.NoError(t, err)
	require.Nil(t, next)

	ctxID, err := env.cm.CreateContext(info.StateHash, info.BaseContextIDs, first.Inputs, first.Outputs)
	require.NoError(t, err)
	require.NoError(t, s.SetTransactionExecutionResult(first.ID, true, ctxID))

	next, err = s.NextTransaction()
	require.NoError(t, err)
	require.NotNil(t, next)
	require.Equal(t, second.ID, next.Txn.ID)
	require.Equal(t, []string{ctxID}, next.BaseContextIDs)
}

func TestSchedulerMisuse(t *testing.T) {
	partitiontest.PartitionTest(t)

	for _, kind := range schedulerKinds {
		env := makeTestEnv(t)
		s := env.scheduler(t, kind, false)
		batch := namedBatch("x", "z")
		require.NoError(t, s.AddBatch(batch, nil, false))

		var schedErr *SchedulerError
		err := s.SetTransactionExecutionResult("never-scheduled", true, "ctx")
		require.ErrorAs(t, err, &schedErr, kind)

		// in a batch but never handed out
		info, err := s.NextTransaction()
		require.NoError(t, err)
		require.Equal(t, batch.Transactions[0].ID, info.Txn.ID, kind)
		err = s.SetTransactionExecutionResult(batch.Transactions[1].ID, true, "ctx")
		require.ErrorAs(t, err, &schedErr, kind)
		require.Equal(t, "set result", schedErr.Op)

		s.Finalize()
		err = s.AddBatch(namedBatch("y"), nil, false)
		require.ErrorAs(t, err, &schedErr, kind)
		require.Equal(t, "add batch", schedErr.Op)
	}
}

func TestSchedulerExplicitDependencyFailure(t *testing.T) {
	partitiontest.PartitionTest(t)

	for _, kind := range schedulerKinds {
		env := makeTestEnv(t)
		s := env.scheduler(t, kind, false)

		failing := namedBatch("invalid")
		dependent := transactions.MakeBatch(namedTxn("after", failing.Transactions[0].ID))
		require.NoError(t, s.AddBatch(failing, nil, false))
		require.NoError(t, s.AddBatch(dependent, nil, false))
		s.Finalize()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		require.NoError(t, env.executor(t).Execute(ctx, s), kind)
		cancel()

		r, err := s.GetBatchExecutionResult(dependent.ID)
		require.NoError(t, err)
		require.NotNil(t, r, kind)
		require.False(t, r.IsValid, kind)
	}
}

func TestSchedulerUnscheduleIncompleteBatches(t *testing.T) {
	partitiontest.PartitionTest(t)

	for _, kind := range schedulerKinds {
		env := makeTestEnv(t)
		s := env.scheduler(t, kind, false)

		kept := namedBatch("kept")
		dropped := namedBatch("dropped")
		required := namedBatch("required")
		require.NoError(t, s.AddBatch(kept, nil, false))
		require.NoError(t, s.AddBatch(dropped, nil, false))
		require.NoError(t, s.AddBatch(required, nil, true))

		s.UnscheduleIncompleteBatches()
		require.True(t, s.IsTransactionInSchedule(kept.Transactions[0].ID), kind)
		require.False(t, s.IsTransactionInSchedule(dropped.Transactions[0].ID), kind)
		require.True(t, s.IsTransactionInSchedule(required.Transactions[0].ID), kind)

		s.Finalize()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		require.NoError(t, env.executor(t).Execute(ctx, s), kind)
		cancel()

		done, err := s.Complete(false)
		require.NoError(t, err)
		require.True(t, done, kind)
		r, err := s.GetBatchExecutionResult(dropped.ID)
		require.NoError(t, err)
		require.Nil(t, r, kind)
	}
}

func TestSerialInvalidBatchRestoresContext(t *testing.T) {
	partitiontest.PartitionTest(t)

	env := makeTestEnv(t)
	s := env.scheduler(t, "serial", false)
	good := namedBatch("good")
	bad := namedBatch("invalid", "skipped")
	last := namedBatch("last")
	for _, b := range []transactions.Batch{good, bad, last} {
		require.NoError(t, s.AddBatch(b, nil, false))
	}

	info, err := s.NextTransaction()
	require.NoError(t, err)
	goodCtx, err := env.cm.CreateContext(info.StateHash, info.BaseContextIDs, info.Txn.Inputs, info.Txn.Outputs)
	require.NoError(t, err)
	require.NoError(t, s.SetTransactionExecutionResult(info.Txn.ID, true, goodCtx))

	info, err = s.NextTransaction()
	require.NoError(t, err)
	require.Equal(t, []string{goodCtx}, info.BaseContextIDs)
	require.NoError(t, s.SetTransactionExecutionResult(info.Txn.ID, false, ""))

	// "skipped" fails fast; "last" builds on the last valid batch
	info, err = s.NextTransaction()
	require.NoError(t, err)
	require.Equal(t, last.Transactions[0].ID, info.Txn.ID)
	require.Equal(t, []string{goodCtx}, info.BaseContextIDs)

	r, err := s.GetBatchExecutionResult(bad.ID)
	require.NoError(t, err)
	require.False(t, r.IsValid)
}

func TestSchedulerCancelStopsIterator(t *testing.T) {
	partitiontest.PartitionTest(t)

	for _, kind := range schedulerKinds {
		env := makeTestEnv(t)
		s := env.scheduler(t, kind, false)
		require.NoError(t, s.AddBatch(namedBatch("one"), nil, false))

		it := s.Iterator()
		_, err := it.Next(context.Background())
		require.NoError(t, err)

		errCh := make(chan error, 1)
		go func() {
			_, err := it.Next(context.Background())
			errCh <- err
		}()
		s.Cancel()
		s.Cancel()
		require.True(t, s.IsCancelled())

		select {
		case err := <-errCh:
			require.ErrorIs(t, err, ErrScheduleDone)
		case <-time.After(5 * time.Second):
			t.Fatalf("%s iterator did not stop after cancel", kind)
		}
	}
}

func TestIteratorHonorsContext(t *testing.T) {
	partitiontest.PartitionTest(t)

	env := makeTestEnv(t)
	s := env.scheduler(t, "parallel", false)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := s.Iterator().Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSchedulerExplicitStateHash(t *testing.T) {
	partitiontest.PartitionTest(t)

	for _, kind := range schedulerKinds {
		env := makeTestEnv(t)
		s := env.scheduler(t, kind, false)
		expected := env.expectedRoot(t, "p", "q")
		batch := namedBatch("p", "q")
		require.NoError(t, s.AddBatch(batch, &expected, false))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		s.Finalize()
		require.NoError(t, env.executor(t).Execute(ctx, s))
		cancel()

		r, err := s.GetBatchExecutionResult(batch.ID)
		require.NoError(t, err)
		require.NotNil(t, r.StateHash, kind)
		require.Equal(t, expected, *r.StateHash, kind)
		// a matching root is persisted
		require.True(t, env.db.Contains(expected), kind)
	}
}
