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

// Package execution schedules the transactions of a block for execution,
// tracks their isolated state contexts, and merges valid results into new
// state roots.
package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/algorand/go-poet/crypto"
	"github.com/algorand/go-poet/data/transactions"
	"github.com/algorand/go-poet/util/condvar"
)

// SchedulerError reports misuse of a scheduler, such as adding a batch after
// Finalize or reporting a result for a transaction that was never scheduled.
type SchedulerError struct {
	Op  string
	Msg string
}

func (e *SchedulerError) Error() string {
	return fmt.Sprintf("scheduler %s: %s", e.Op, e.Msg)
}

// ErrScheduleDone is returned by an Iterator once the schedule is complete
// and every scheduled transaction has been handed out, or the schedule was
// cancelled.
var ErrScheduleDone = errors.New("schedule done")

// errUnscheduledTransaction marks a batch result request touching a
// transaction without a result.
var errUnscheduledTransaction = errors.New("transaction has no result")

// iteratorWakeInterval bounds how long an iterator sleeps before looking at
// its context again.
const iteratorWakeInterval = 50 * time.Millisecond

// SquashFunc merges the state changes reachable from contextIDs on top of
// stateRoot. persist writes the new trie nodes; cleanUp discards the merged
// contexts afterwards.
type SquashFunc func(stateRoot crypto.Digest, contextIDs []string, persist bool, cleanUp bool) (crypto.Digest, error)

// BatchExecutionResult is the outcome of running all transactions of a batch.
// StateHash is only set on the batch that produces the schedule's state root.
type BatchExecutionResult struct {
	IsValid   bool
	StateHash *crypto.Digest
}

// StateChange is a single address update observed in a context.
type StateChange struct {
	Address string
	Value   []byte
	Delete  bool
}

// Event is an application event emitted during execution.
type Event struct {
	EventType  string
	Attributes map[string]string
	Data       []byte
}

// TxnExecutionResult records the outcome of executing one transaction.
type TxnExecutionResult struct {
	TxnID        string
	IsValid      bool
	ContextID    string
	StateHash    crypto.Digest
	StateChanges []StateChange
	Events       []Event
	Data         [][]byte
	ErrorMessage string
	ErrorData    []byte
}

// ResultOption attaches execution details to a transaction result.
type ResultOption func(*TxnExecutionResult)

// WithStateChanges records the state changes produced by the transaction.
func WithStateChanges(changes []StateChange) ResultOption {
	return func(r *TxnExecutionResult) { r.StateChanges = changes }
}

// WithEvents records the events emitted by the transaction.
func WithEvents(events []Event) ResultOption {
	return func(r *TxnExecutionResult) { r.Events = events }
}

// WithData records opaque data returned by the transaction.
func WithData(data [][]byte) ResultOption {
	return func(r *TxnExecutionResult) { r.Data = data }
}

// WithError records why the transaction was rejected.
func WithError(message string, data []byte) ResultOption {
	return func(r *TxnExecutionResult) {
		r.ErrorMessage = message
		r.ErrorData = data
	}
}

func makeTxnResult(txnID string, valid bool, contextID string, stateHash crypto.Digest, opts ...ResultOption) TxnExecutionResult {
	r := TxnExecutionResult{TxnID: txnID, IsValid: valid}
	if valid {
		r.ContextID = contextID
		r.StateHash = stateHash
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// TxnInformation is handed to an executor for each transaction that is
// ready to run.
type TxnInformation struct {
	Txn            transactions.Transaction
	StateHash      crypto.Digest
	BaseContextIDs []string
}

// Scheduler decides the order in which the transactions of added batches may
// execute. Implementations are safe for concurrent use.
type Scheduler interface {
	// AddBatch queues batch. stateHash, when non-nil, is the state root the
	// batch is expected to produce. Required batches survive
	// UnscheduleIncompleteBatches.
	AddBatch(batch transactions.Batch, stateHash *crypto.Digest, required bool) error

	// GetBatchExecutionResult returns nil until every transaction of the
	// batch has a result.
	GetBatchExecutionResult(batchID string) (*BatchExecutionResult, error)

	GetTransactionExecutionResults(batchID string) []TxnExecutionResult

	SetTransactionExecutionResult(txnID string, valid bool, contextID string, opts ...ResultOption) error

	// NextTransaction returns a transaction whose predecessors all have
	// results, or nil if none is ready right now.
	NextTransaction() (*TxnInformation, error)

	UnscheduleIncompleteBatches()
	IsTransactionInSchedule(txnID string) bool
	Finalize()

	// Complete reports whether the schedule is finalized and every
	// transaction has a result, waiting for that when block is true.
	Complete(block bool) (bool, error)

	Cancel()
	IsCancelled() bool

	// Count is the number of transactions handed out so far.
	Count() int
	Get(index int) TxnInformation

	Iterator() *Iterator
}

// iterable is the lock-held view a scheduler exposes to its iterators.
type iterable interface {
	cond() *sync.Cond
	countLocked() int
	getLocked(index int) TxnInformation
	completeLocked() (bool, error)
	nextLocked() (*TxnInformation, error)
	cancelledLocked() bool
}

// Iterator hands out scheduled transactions in schedule order. Each
// iterator starts from the first scheduled transaction.
type Iterator struct {
	s    iterable
	next int
}

// Next returns the next transaction, waiting until one is ready. It returns
// ErrScheduleDone when the schedule is exhausted or cancelled, and ctx.Err()
// when ctx ends first.
func (it *Iterator) Next(ctx context.Context) (TxnInformation, error) {
	c := it.s.cond()
	c.L.Lock()
	defer c.L.Unlock()

	// catch up on transactions handed to other iterators
	if it.next < it.s.countLocked() {
		info := it.s.getLocked(it.next)
		it.next++
		return info, nil
	}

	for {
		if it.s.cancelledLocked() {
			return TxnInformation{}, ErrScheduleDone
		}
		complete, err := it.s.completeLocked()
		if err != nil {
			return TxnInformation{}, err
		}
		// replays shrink the schedule, so the iterator may be ahead of Count
		if complete && it.next >= it.s.countLocked() {
			return TxnInformation{}, ErrScheduleDone
		}

		info, err := it.s.nextLocked()
		if err != nil {
			return TxnInformation{}, err
		}
		if info != nil {
			it.next++
			return *info, nil
		}
		if it.next < it.s.countLocked() {
			info := it.s.getLocked(it.next)
			it.next++
			return info, nil
		}

		if err := ctx.Err(); err != nil {
			return TxnInformation{}, err
		}
		condvar.TimedWait(c, iteratorWakeInterval)
	}
}

// annotatedBatch tracks whether a batch may be dropped by
// UnscheduleIncompleteBatches.
type annotatedBatch struct {
	batch    transactions.Batch
	required bool
	preserve bool
}

// preserveNext reports whether a non-required batch added now must be kept:
// the first non-required batch is never unscheduled so a schedule is never
// emptied.
func preserveNext(batches map[string]*annotatedBatch, required bool) bool {
	if required {
		return true
	}
	for _, ab := range batches {
		if !ab.required {
			return false
		}
	}
	return true
}

// MakeScheduler builds a scheduler of the given type ("serial" or "parallel").
func MakeScheduler(schedulerType string, params SchedulerParams) (Scheduler, error) {
	switch schedulerType {
	case "serial":
		return MakeSerialScheduler(params), nil
	case "parallel", "":
		return MakeParallelScheduler(params), nil
	default:
		return nil, fmt.Errorf("unknown scheduler type %q", schedulerType)
	}
}
