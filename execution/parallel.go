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
	"sort"
	"sync"

	"github.com/algorand/go-deadlock"

	"github.com/algorand/go-poet/crypto"
	"github.com/algorand/go-poet/data/transactions"
	"github.com/algorand/go-poet/logging"
)

// ParallelScheduler hands out every transaction whose data dependencies
// have results, so independent transactions can execute concurrently.
// Dependencies come from a PredecessorTree over declared inputs and outputs.
type ParallelScheduler struct {
	mu        deadlock.Mutex
	condition *sync.Cond

	squash         SquashFunc
	firstStateHash crypto.Digest
	alwaysPersist  bool
	log            logging.Logger
	metrics        schedulerMetrics

	tree            *PredecessorTree
	txnPredecessors map[string][]string

	// scheduled is ordered; every iterator returns the same sequence
	scheduled        []string
	scheduledTxnInfo map[string]TxnInformation

	// outstanding transactions must be replayed once their current run reports
	outstanding map[string]struct{}

	// leastBatchWithoutResults is the first batch lacking a result for some
	// transaction while every earlier batch is fully resolved
	leastBatchWithoutResults string

	batches              []transactions.Batch
	batchesWithStateHash map[string]crypto.Digest
	batchesByID          map[string]*annotatedBatch
	batchesByTxnID       map[string]string
	squashedStateHashes  map[string]crypto.Digest

	txnResults    map[string]TxnExecutionResult
	txnsAvailable []transactions.Transaction
	transactions  map[string]transactions.Transaction

	cancelled bool
	final     bool
}

// MakeParallelScheduler creates an empty parallel scheduler.
func MakeParallelScheduler(params SchedulerParams) *ParallelScheduler {
	s := &ParallelScheduler{
		squash:               params.Squash,
		firstStateHash:       params.FirstStateHash,
		alwaysPersist:        params.AlwaysPersist,
		log:                  params.logger(),
		metrics:              makeSchedulerMetrics(params.Metrics, "parallel"),
		tree:                 MakePredecessorTree(2),
		txnPredecessors:      make(map[string][]string),
		scheduledTxnInfo:     make(map[string]TxnInformation),
		outstanding:          make(map[string]struct{}),
		batchesWithStateHash: make(map[string]crypto.Digest),
		batchesByID:          make(map[string]*annotatedBatch),
		batchesByTxnID:       make(map[string]string),
		squashedStateHashes:  make(map[string]crypto.Digest),
		txnResults:           make(map[string]TxnExecutionResult),
		transactions:         make(map[string]transactions.Transaction),
	}
	s.condition = sync.NewCond(&s.mu)
	return s
}

func (s *ParallelScheduler) cond() *sync.Cond { return s.condition }

// AddBatch implements Scheduler.
func (s *ParallelScheduler) AddBatch(batch transactions.Batch, stateHash *crypto.Digest, required bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final {
		return &SchedulerError{Op: "add batch", Msg: "invalid attempt to add batch to finalized scheduler; batch: " + batch.ID}
	}
	if len(s.batches) == 0 {
		s.leastBatchWithoutResults = batch.ID
	}

	s.batchesByID[batch.ID] = &annotatedBatch{
		batch:    batch,
		required: required,
		preserve: preserveNext(s.batchesByID, required),
	}
	s.batches = append(s.batches, batch)
	for _, txn := range batch.Transactions {
		s.batchesByTxnID[txn.ID] = batch.ID
		s.txnsAvailable = append(s.txnsAvailable, txn)
		s.transactions[txn.ID] = txn
	}
	if stateHash != nil {
		s.batchesWithStateHash[batch.ID] = *stateHash
	}

	// Predecessors are computed against the tree before it learns about the
	// transaction. Inputs go in before outputs so a writer shadows its own
	// reads.
	for _, txn := range batch.Transactions {
		preds := make(map[string]struct{})
		for _, address := range txn.Inputs {
			for _, id := range s.tree.FindReadPredecessors(address) {
				preds[id] = struct{}{}
			}
		}
		for _, address := range txn.Outputs {
			for _, id := range s.tree.FindWritePredecessors(address) {
				preds[id] = struct{}{}
			}
		}
		s.txnPredecessors[txn.ID] = sortedIDs(preds)

		for _, address := range txn.Inputs {
			s.tree.AddReader(address, txn.ID)
		}
		for _, address := range txn.Outputs {
			s.tree.SetWriter(address, txn.ID)
		}
	}

	s.condition.Broadcast()
	return nil
}

func (s *ParallelScheduler) batchIndex(batchID string) int {
	for i, b := range s.batches {
		if b.ID == batchID {
			return i
		}
	}
	return -1
}

func (s *ParallelScheduler) isValidBatch(batch transactions.Batch) (bool, error) {
	for _, txn := range batch.Transactions {
		result, ok := s.txnResults[txn.ID]
		if !ok {
			return false, errUnscheduledTransaction
		}
		if !result.IsValid {
			return false, nil
		}
	}
	return true, nil
}

func (s *ParallelScheduler) isLastValidBatch(batchID string) (bool, error) {
	idx := s.batchIndex(batchID)
	valid, err := s.isValidBatch(s.batches[idx])
	if err != nil || !valid {
		return false, err
	}
	for _, later := range s.batches[idx+1:] {
		valid, err := s.isValidBatch(later)
		if err != nil {
			return false, err
		}
		if valid {
			return false, nil
		}
	}
	return true, nil
}

// contextsForSquash collects, newest first, the contexts of every valid
// batch up to and including batchID.
func (s *ParallelScheduler) contextsForSquash(batchID string) []string {
	var contexts []string
	for i := s.batchIndex(batchID); i >= 0; i-- {
		txns := s.batches[i].Transactions
		fromBatch := make([]string, 0, len(txns))
		valid := true
		for j := len(txns) - 1; j >= 0; j-- {
			result := s.txnResults[txns[j].ID]
			if !result.IsValid {
				valid = false
				break
			}
			fromBatch = append(fromBatch, result.ContextID)
		}
		if valid {
			contexts = append(contexts, fromBatch...)
		}
	}
	return contexts
}

// GetBatchExecutionResult implements Scheduler. The state root is computed
// on demand, for batches added with an expected state hash and, once
// finalized, for the last valid batch.
func (s *ParallelScheduler) GetBatchExecutionResult(batchID string) (*BatchExecutionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ab, ok := s.batchesByID[batchID]
	if !ok {
		return nil, nil
	}
	valid, err := s.isValidBatch(ab.batch)
	if err == errUnscheduledTransaction {
		return nil, nil
	}
	if !valid {
		return &BatchExecutionResult{IsValid: false}, nil
	}

	if h, ok := s.squashedStateHashes[batchID]; ok {
		return &BatchExecutionResult{IsValid: true, StateHash: &h}, nil
	}

	var stateHash *crypto.Digest
	if expected, explicit := s.batchesWithStateHash[batchID]; explicit {
		contexts := s.contextsForSquash(batchID)
		h, err := s.squash(s.firstStateHash, contexts, false, false)
		if err != nil {
			return nil, err
		}
		if _, err := s.squash(s.firstStateHash, contexts, h == expected, true); err != nil {
			return nil, err
		}
		stateHash = &h
	} else if s.final {
		last, err := s.isLastValidBatch(batchID)
		if err == errUnscheduledTransaction {
			return nil, nil
		}
		if last {
			h, err := s.squash(s.firstStateHash, s.contextsForSquash(batchID), s.alwaysPersist, true)
			if err != nil {
				return nil, err
			}
			stateHash = &h
		}
	}
	if stateHash != nil {
		s.squashedStateHashes[batchID] = *stateHash
	}
	return &BatchExecutionResult{IsValid: true, StateHash: stateHash}, nil
}

// GetTransactionExecutionResults implements Scheduler.
func (s *ParallelScheduler) GetTransactionExecutionResults(batchID string) []TxnExecutionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	ab, ok := s.batchesByID[batchID]
	if !ok {
		return nil
	}
	results := []TxnExecutionResult{}
	for _, txn := range ab.batch.Transactions {
		if r, ok := s.txnResults[txn.ID]; ok {
			results = append(results, r)
		}
	}
	return results
}

func (s *ParallelScheduler) isPredecessor(txnID string, successor string) bool {
	for _, id := range s.txnPredecessors[successor] {
		if id == txnID {
			return true
		}
	}
	return false
}

// replaySuccessorsOfFailedBatch drops the results of transactions in other
// batches that followed a transaction of txnID's batch, so they run again
// without its state. Successors of a replayed transaction are replayed too,
// their contexts chain through the dropped ones. Successors still executing
// are marked outstanding.
func (s *ParallelScheduler) replaySuccessorsOfFailedBatch(txnID string) {
	batchID := s.batchesByTxnID[txnID]
	replay := make(map[string]struct{})
	for _, txn := range s.batchesByID[batchID].batch.Transactions {
		replay[txn.ID] = struct{}{}
	}

	var successors []string
	for added := true; added; {
		added = false
		for _, successor := range s.scheduled {
			if _, ok := replay[successor]; ok || s.batchesByTxnID[successor] == batchID {
				continue
			}
			for _, pred := range s.txnPredecessors[successor] {
				if _, ok := replay[pred]; ok {
					replay[successor] = struct{}{}
					successors = append(successors, successor)
					added = true
					break
				}
			}
		}
	}

	for _, successor := range successors {
		if _, done := s.txnResults[successor]; done {
			delete(s.txnResults, successor)
			s.scheduled = removeID(s.scheduled, successor)
			s.txnsAvailable = append(s.txnsAvailable, s.transactions[successor])
		} else {
			s.outstanding[successor] = struct{}{}
		}
	}
}

func (s *ParallelScheduler) rescheduleIfOutstanding(txnID string) bool {
	if _, ok := s.outstanding[txnID]; !ok {
		return false
	}
	s.txnsAvailable = append(s.txnsAvailable, s.transactions[txnID])
	s.scheduled = removeID(s.scheduled, txnID)
	delete(s.outstanding, txnID)
	return true
}

func (s *ParallelScheduler) batchHasAllResults(b transactions.Batch) bool {
	for _, txn := range b.Transactions {
		if _, ok := s.txnResults[txn.ID]; !ok {
			return false
		}
	}
	return true
}

func (s *ParallelScheduler) firstBatchWithoutResults(from int) string {
	for _, b := range s.batches[from:] {
		if !s.batchHasAllResults(b) {
			return b.ID
		}
	}
	if from < len(s.batches) {
		return s.batches[from].ID
	}
	return ""
}

func (s *ParallelScheduler) setLeastBatchID(txnID string) {
	least := s.batchIndex(s.leastBatchWithoutResults)
	if least < 0 {
		s.leastBatchWithoutResults = s.firstBatchWithoutResults(0)
		return
	}
	current := s.batchIndex(s.batchesByTxnID[txnID])
	if current <= least {
		return
	}
	for _, b := range s.batches[least:current] {
		if !s.batchHasAllResults(b) {
			return
		}
	}
	s.leastBatchWithoutResults = s.firstBatchWithoutResults(current)
}

func (s *ParallelScheduler) isScheduled(txnID string) bool {
	for _, id := range s.scheduled {
		if id == txnID {
			return true
		}
	}
	return false
}

// SetTransactionExecutionResult implements Scheduler.
func (s *ParallelScheduler) SetTransactionExecutionResult(txnID string, valid bool, contextID string, opts ...ResultOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isScheduled(txnID) {
		return &SchedulerError{Op: "set result", Msg: "transaction not scheduled: " + txnID}
	}
	s.setLeastBatchID(txnID)
	if !valid {
		s.replaySuccessorsOfFailedBatch(txnID)
	}
	if !s.rescheduleIfOutstanding(txnID) {
		s.txnResults[txnID] = makeTxnResult(txnID, valid, contextID, s.firstStateHash, opts...)
		s.metrics.result(valid)
	}

	s.condition.Broadcast()
	return nil
}

func (s *ParallelScheduler) hasPredecessors(txnID string) bool {
	for _, pred := range s.txnPredecessors[txnID] {
		if _, ok := s.txnResults[pred]; !ok {
			return true
		}
		// base contexts may come from a failed predecessor's own predecessors
		for _, prePred := range s.txnPredecessors[pred] {
			if _, ok := s.txnResults[prePred]; !ok {
				return true
			}
		}
	}
	return false
}

func (s *ParallelScheduler) txnIsInValidBatch(txnID string) bool {
	for _, txn := range s.batchesByID[s.batchesByTxnID[txnID]].batch.Transactions {
		if r, ok := s.txnResults[txn.ID]; ok && !r.IsValid {
			return false
		}
	}
	return true
}

// predecessorNotInChain reports whether prior's state is not yet covered by
// a context already chosen as a base.
func (s *ParallelScheduler) predecessorNotInChain(prior string, chain []string) bool {
	for _, id := range chain {
		if id == prior {
			return false
		}
	}
	for _, id := range chain {
		if s.isPredecessor(prior, id) && s.txnIsInValidBatch(id) {
			return false
		}
	}
	return true
}

func (s *ParallelScheduler) txnPosition(txnID string) int {
	pos := 0
	batchID := s.batchesByTxnID[txnID]
	for _, b := range s.batches {
		for _, txn := range b.Transactions {
			if txn.ID == txnID {
				return pos
			}
			pos++
		}
		if b.ID == batchID {
			break
		}
	}
	return pos
}

func (s *ParallelScheduler) sortNewestFirst(ids []string) []string {
	sorted := append([]string(nil), ids...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return s.txnPosition(sorted[i]) > s.txnPosition(sorted[j])
	})
	return sorted
}

// baseContexts walks back from txn's predecessors, newest first, taking the
// context of each valid predecessor and looking through invalid ones to
// their own predecessors.
func (s *ParallelScheduler) baseContexts(txnID string) []string {
	var contexts []string
	var chain []string
	queue := s.sortNewestFirst(s.txnPredecessors[txnID])
	for len(queue) > 0 {
		prior := queue[0]
		queue = queue[1:]
		if s.txnIsInValidBatch(prior) {
			result, ok := s.txnResults[prior]
			if ok && s.predecessorNotInChain(prior, chain) {
				chain = append(chain, prior)
				contexts = append(contexts, result.ContextID)
			}
			continue
		}
		queue = append(queue, s.sortNewestFirst(s.txnPredecessors[prior])...)
	}
	return contexts
}

func (s *ParallelScheduler) dependencyNotProcessed(txn transactions.Transaction) bool {
	for _, dep := range txn.Dependencies {
		batchID, known := s.batchesByTxnID[dep]
		if known && !s.batchHasAllResults(s.batchesByID[batchID].batch) {
			return true
		}
	}
	return false
}

func (s *ParallelScheduler) failedByDependency(txn transactions.Transaction) bool {
	for _, dep := range txn.Dependencies {
		batchID, known := s.batchesByTxnID[dep]
		if !known {
			continue
		}
		for _, t := range s.batchesByID[batchID].batch.Transactions {
			if r, ok := s.txnResults[t.ID]; ok && !r.IsValid {
				return true
			}
		}
	}
	return false
}

func (s *ParallelScheduler) canFailFast(txnID string) bool {
	return s.batchesByTxnID[txnID] == s.leastBatchWithoutResults
}

func (s *ParallelScheduler) isOutstanding(txnID string) bool {
	_, ok := s.outstanding[txnID]
	return ok
}

// NextTransaction implements Scheduler.
func (s *ParallelScheduler) NextTransaction() (*TxnInformation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextLocked()
}

func (s *ParallelScheduler) nextLocked() (*TxnInformation, error) {
	var next *transactions.Transaction
	for _, txn := range append([]transactions.Transaction(nil), s.txnsAvailable...) {
		if s.hasPredecessors(txn.ID) || s.isOutstanding(txn.ID) || s.dependencyNotProcessed(txn) {
			continue
		}
		if s.failedByDependency(txn) || (!s.txnIsInValidBatch(txn.ID) && s.canFailFast(txn.ID)) {
			s.txnsAvailable = removeTxn(s.txnsAvailable, txn.ID)
			s.txnResults[txn.ID] = TxnExecutionResult{TxnID: txn.ID}
			s.metrics.result(false)
			continue
		}
		txn := txn
		next = &txn
		break
	}
	if next == nil {
		return nil, nil
	}

	info := TxnInformation{
		Txn:            *next,
		StateHash:      s.firstStateHash,
		BaseContextIDs: s.baseContexts(next.ID),
	}
	s.scheduled = append(s.scheduled, next.ID)
	s.txnsAvailable = removeTxn(s.txnsAvailable, next.ID)
	s.scheduledTxnInfo[next.ID] = info
	s.metrics.scheduled.Inc()
	return &info, nil
}

// Available returns how many unscheduled transactions have no unresolved
// predecessors.
func (s *ParallelScheduler) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, txn := range s.txnsAvailable {
		if !s.hasPredecessors(txn.ID) {
			count++
		}
	}
	return count
}

// UnscheduleIncompleteBatches implements Scheduler.
func (s *ParallelScheduler) UnscheduleIncompleteBatches() {
	s.mu.Lock()
	defer s.mu.Unlock()

	incomplete := make(map[string]struct{})
	mark := func(txnID string) {
		batchID := s.batchesByTxnID[txnID]
		if !s.batchesByID[batchID].preserve {
			incomplete[batchID] = struct{}{}
		}
	}
	for _, txn := range s.txnsAvailable {
		mark(txn.ID)
	}
	for txnID := range s.outstanding {
		mark(txnID)
	}

	for batchID := range incomplete {
		ab := s.batchesByID[batchID]
		if idx := s.batchIndex(batchID); idx >= 0 {
			s.batches = append(s.batches[:idx], s.batches[idx+1:]...)
		}
		delete(s.batchesByID, batchID)
		for _, txn := range ab.batch.Transactions {
			delete(s.batchesByTxnID, txn.ID)
			delete(s.txnResults, txn.ID)
			delete(s.outstanding, txn.ID)
			s.txnsAvailable = removeTxn(s.txnsAvailable, txn.ID)
		}
	}
	if _, ok := incomplete[s.leastBatchWithoutResults]; ok {
		s.leastBatchWithoutResults = s.firstBatchWithoutResults(0)
	}

	s.condition.Broadcast()
	if len(incomplete) > 0 {
		s.log.Debugf("Removed %d incomplete batches from the schedule", len(incomplete))
	}
}

// IsTransactionInSchedule implements Scheduler.
func (s *ParallelScheduler) IsTransactionInSchedule(txnID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.batchesByTxnID[txnID]
	return ok
}

// Finalize implements Scheduler.
func (s *ParallelScheduler) Finalize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.final = true
	s.condition.Broadcast()
}

func (s *ParallelScheduler) completeLocked() (bool, error) {
	return s.final && len(s.txnResults) == len(s.batchesByTxnID), nil
}

// Complete implements Scheduler.
func (s *ParallelScheduler) Complete(block bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		done, _ := s.completeLocked()
		if done || !block {
			return done, nil
		}
		if s.cancelled {
			return false, nil
		}
		s.condition.Wait()
	}
}

// Count implements Scheduler.
func (s *ParallelScheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countLocked()
}

func (s *ParallelScheduler) countLocked() int {
	return len(s.scheduled)
}

// Get implements Scheduler.
func (s *ParallelScheduler) Get(index int) TxnInformation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(index)
}

func (s *ParallelScheduler) getLocked(index int) TxnInformation {
	return s.scheduledTxnInfo[s.scheduled[index]]
}

// Cancel implements Scheduler. Cancelling a finalized schedule has no effect.
func (s *ParallelScheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled || s.final {
		return
	}
	var contexts []string
	for _, r := range s.txnResults {
		if r.ContextID != "" {
			contexts = append(contexts, r.ContextID)
		}
	}
	if _, err := s.squash(s.firstStateHash, contexts, false, true); err != nil {
		s.log.Warnf("ParallelScheduler.Cancel: discarding contexts: %v", err)
	}
	s.cancelled = true
	s.condition.Broadcast()
}

// IsCancelled implements Scheduler.
func (s *ParallelScheduler) IsCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

func (s *ParallelScheduler) cancelledLocked() bool {
	return s.cancelled
}

// Iterator implements Scheduler.
func (s *ParallelScheduler) Iterator() *Iterator {
	return &Iterator{s: s}
}
