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
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/algorand/go-poet/data/transactions"
	"github.com/algorand/go-poet/logging"
	"github.com/algorand/go-poet/util/execpool"
	"github.com/algorand/go-poet/util/metrics"
)

// InvalidTransactionError is returned by a TransactionHandler to reject a
// transaction. The transaction's batch becomes invalid.
type InvalidTransactionError struct {
	Message      string
	ExtendedData []byte
}

func (e *InvalidTransactionError) Error() string {
	return "invalid transaction: " + e.Message
}

// TransactionHandler applies the transactions of one family.
type TransactionHandler interface {
	FamilyName() string
	Apply(txn transactions.Transaction, st *TransactionState) error
}

// TransactionState is the view of state handed to a TransactionHandler.
type TransactionState struct {
	cm        *ContextManager
	contextID string
}

// ContextID returns the id of the execution context behind the view.
func (ts *TransactionState) ContextID() string { return ts.contextID }

// Get returns the values of the given addresses. Addresses without a value
// are omitted.
func (ts *TransactionState) Get(addresses ...string) (map[string][]byte, error) {
	values, err := ts.cm.Get(ts.contextID, addresses)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(values))
	for _, av := range values {
		if av.Value != nil {
			out[av.Address] = av.Value
		}
	}
	return out, nil
}

// Set writes values.
func (ts *TransactionState) Set(values map[string][]byte) error {
	return ts.cm.Set(ts.contextID, values)
}

// Delete removes addresses.
func (ts *TransactionState) Delete(addresses ...string) error {
	return ts.cm.Delete(ts.contextID, addresses)
}

// AddEvent records an event.
func (ts *TransactionState) AddEvent(event Event) error {
	return ts.cm.AddExecutionEvent(ts.contextID, event)
}

// AddData records opaque receipt data.
func (ts *TransactionState) AddData(data []byte) error {
	return ts.cm.AddExecutionData(ts.contextID, data)
}

// ExecutorParams configures an Executor.
type ExecutorParams struct {
	ContextManager *ContextManager
	Handlers       []TransactionHandler
	// Parallelism is the number of worker goroutines; 0 means one per CPU.
	Parallelism int
	// BacklogSize bounds queued transactions; 0 means Parallelism.
	BacklogSize int
	Log         logging.Logger
	Metrics     *metrics.Registry
}

// Executor pulls ready transactions from a scheduler, runs them through
// their family's handler on a worker pool and reports the results back.
type Executor struct {
	cm       *ContextManager
	handlers map[string]TransactionHandler
	backlog  execpool.BacklogPool
	log      logging.Logger
	pending  prometheus.Gauge
}

// MakeExecutor starts the executor's worker pool.
func MakeExecutor(params ExecutorParams) *Executor {
	log := params.Log
	if log == nil {
		log = logging.Base()
	}
	reg := params.Metrics
	if reg == nil {
		reg = metrics.DefaultRegistry()
	}
	e := &Executor{
		cm:       params.ContextManager,
		handlers: make(map[string]TransactionHandler, len(params.Handlers)),
		log:      log,
		pending:  reg.Gauge(metrics.ExecutorPendingTransactions),
	}
	for _, h := range params.Handlers {
		e.handlers[h.FamilyName()] = h
	}
	e.backlog = execpool.MakeBacklog(nil, params.BacklogSize, execpool.LowPriority, e, params.Parallelism)
	return e
}

// Shutdown stops the worker pool.
func (e *Executor) Shutdown() {
	e.backlog.Shutdown()
}

// Execute runs every transaction s hands out until the schedule is done. It
// returns once all started transactions have reported.
func (e *Executor) Execute(ctx context.Context, s Scheduler) error {
	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		e.pending.Set(float64(e.backlog.Pending()))
	}()

	it := s.Iterator()
	for {
		info, err := it.Next(ctx)
		if errors.Is(err, ErrScheduleDone) {
			return nil
		}
		if err != nil {
			return err
		}

		wg.Add(1)
		task := func(arg interface{}) interface{} {
			defer wg.Done()
			e.execute(s, arg.(TxnInformation))
			return nil
		}
		if err := e.backlog.EnqueueBacklog(ctx, task, info, nil); err != nil {
			wg.Done()
			return err
		}
		e.pending.Set(float64(e.backlog.Pending()))
	}
}

func (e *Executor) execute(s Scheduler, info TxnInformation) {
	txn := info.Txn
	valid, contextID, opts := e.apply(info)
	if err := s.SetTransactionExecutionResult(txn.ID, valid, contextID, opts...); err != nil {
		e.log.Warnf("Executor: reporting result of %s: %v", txn.ID, err)
	}
}

func (e *Executor) apply(info TxnInformation) (valid bool, contextID string, opts []ResultOption) {
	txn := info.Txn
	handler, ok := e.handlers[txn.FamilyName]
	if !ok {
		e.log.Debugf("Executor: no handler for family %q, transaction %s rejected", txn.FamilyName, txn.ID)
		return false, "", []ResultOption{WithError(fmt.Sprintf("unknown transaction family %q", txn.FamilyName), nil)}
	}

	contextID, err := e.cm.CreateContext(info.StateHash, info.BaseContextIDs, txn.Inputs, txn.Outputs)
	if err != nil {
		e.log.Warnf("Executor: creating context for %s: %v", txn.ID, err)
		return false, "", []ResultOption{WithError(err.Error(), nil)}
	}

	err = safeApply(handler, txn, &TransactionState{cm: e.cm, contextID: contextID})
	if err != nil {
		e.cm.DeleteContexts([]string{contextID})
		var invalid *InvalidTransactionError
		if errors.As(err, &invalid) {
			return false, "", []ResultOption{WithError(invalid.Message, invalid.ExtendedData)}
		}
		e.log.Warnf("Executor: %s handler failed on %s: %v", txn.FamilyName, txn.ID, err)
		return false, "", []ResultOption{WithError(err.Error(), nil)}
	}

	results, err := e.cm.GetExecutionResults(contextID)
	if err != nil {
		return true, contextID, nil
	}
	changes := make([]StateChange, 0, len(results.Set)+len(results.Deleted))
	for address, value := range results.Set {
		changes = append(changes, StateChange{Address: address, Value: value})
	}
	for _, address := range results.Deleted {
		changes = append(changes, StateChange{Address: address, Delete: true})
	}
	return true, contextID, []ResultOption{WithStateChanges(changes), WithEvents(results.Events), WithData(results.Data)}
}

func safeApply(h TransactionHandler, txn transactions.Transaction, st *TransactionState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Apply(txn, st)
}
