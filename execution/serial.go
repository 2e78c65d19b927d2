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
	"sync"

	"github.com/algorand/go-deadlock"

	"github.com/algorand/go-poet/crypto"
	"github.com/algorand/go-poet/data/transactions"
	"github.com/algorand/go-poet/logging"
)

// SerialScheduler hands out one transaction at a time, in the order batches
// were added. Each transaction builds on the context of the one before it.
type SerialScheduler struct {
	mu        deadlock.Mutex
	condition *sync.Cond

	squash        SquashFunc
	alwaysPersist bool
	log           logging.Logger
	metrics       schedulerMetrics

	txnQueue      []transactions.Transaction
	scheduled     []TxnInformation
	batchStatuses map[string]*BatchExecutionResult
	txnToBatch    map[string]string
	batchByID     map[string]*annotatedBatch
	txnResults    map[string]TxnExecutionResult
	inProgress    string
	final         bool
	cancelled     bool

	previousContextID           string
	previousValidBatchContextID string
	previousStateHash           crypto.Digest

	// lastInBatch lists the final transaction id of every batch, in order
	lastInBatch         []string
	requiredStateHashes map[string]crypto.Digest
	alreadyCalculated   bool
}

// MakeSerialScheduler creates an empty serial scheduler.
func MakeSerialScheduler(params SchedulerParams) *SerialScheduler {
	s := &SerialScheduler{
		squash:              params.Squash,
		alwaysPersist:       params.AlwaysPersist,
		log:                 params.logger(),
		metrics:             makeSchedulerMetrics(params.Metrics, "serial"),
		batchStatuses:       make(map[string]*BatchExecutionResult),
		txnToBatch:          make(map[string]string),
		batchByID:           make(map[string]*annotatedBatch),
		txnResults:          make(map[string]TxnExecutionResult),
		previousStateHash:   params.FirstStateHash,
		requiredStateHashes: make(map[string]crypto.Digest),
	}
	s.condition = sync.NewCond(&s.mu)
	return s
}

func (s *SerialScheduler) cond() *sync.Cond { return s.condition }

// AddBatch implements Scheduler.
func (s *SerialScheduler) AddBatch(batch transactions.Batch, stateHash *crypto.Digest, required bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final {
		return &SchedulerError{Op: "add batch", Msg: "scheduler is finalized, cannot take batch " + batch.ID}
	}

	s.batchByID[batch.ID] = &annotatedBatch{
		batch:    batch,
		required: required,
		preserve: preserveNext(s.batchByID, required),
	}
	if stateHash != nil {
		s.requiredStateHashes[batch.ID] = *stateHash
	}
	for i, txn := range batch.Transactions {
		if i == len(batch.Transactions)-1 {
			s.lastInBatch = append(s.lastInBatch, txn.ID)
		}
		s.txnToBatch[txn.ID] = batch.ID
		s.txnQueue = append(s.txnQueue, txn)
	}
	s.condition.Broadcast()
	return nil
}

// SetTransactionExecutionResult implements Scheduler. A result for a
// transaction handed out earlier but no longer in progress is ignored; a
// transaction never handed out is an error.
func (s *SerialScheduler) SetTransactionExecutionResult(txnID string, valid bool, contextID string, opts ...ResultOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batchID, ok := s.txnToBatch[txnID]
	if !ok {
		return &SchedulerError{Op: "set result", Msg: "transaction not in any batch: " + txnID}
	}
	if s.inProgress != txnID {
		if !s.wasScheduled(txnID) {
			return &SchedulerError{Op: "set result", Msg: "transaction not scheduled: " + txnID}
		}
		return nil
	}
	s.inProgress = ""

	if _, ok := s.txnResults[txnID]; !ok {
		s.txnResults[txnID] = makeTxnResult(txnID, valid, contextID, s.previousStateHash, opts...)
		s.metrics.result(valid)
	}

	if valid {
		s.previousContextID = contextID
	} else {
		// fail the rest of the batch now
		s.batchStatuses[batchID] = &BatchExecutionResult{IsValid: false}
	}

	if s.isLastInBatch(txnID) {
		if _, failed := s.batchStatuses[batchID]; !failed {
			s.previousValidBatchContextID = s.previousContextID
			stateHash, err := s.calculateStateRootIfRequired(batchID)
			if err != nil {
				s.condition.Broadcast()
				return err
			}
			s.batchStatuses[batchID] = &BatchExecutionResult{IsValid: true, StateHash: stateHash}
		} else {
			s.previousContextID = s.previousValidBatchContextID
		}
	}

	s.condition.Broadcast()
	return nil
}

func (s *SerialScheduler) wasScheduled(txnID string) bool {
	for _, info := range s.scheduled {
		if info.Txn.ID == txnID {
			return true
		}
	}
	return false
}

func (s *SerialScheduler) isLastInBatch(txnID string) bool {
	for _, id := range s.lastInBatch {
		if id == txnID {
			return true
		}
	}
	return false
}

// GetBatchExecutionResult implements Scheduler.
func (s *SerialScheduler) GetBatchExecutionResult(batchID string) (*BatchExecutionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.batchStatuses[batchID]
	if !ok {
		return nil, nil
	}
	result := *status
	return &result, nil
}

// GetTransactionExecutionResults implements Scheduler.
func (s *SerialScheduler) GetTransactionExecutionResults(batchID string) []TxnExecutionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batchStatuses[batchID]; !ok {
		return nil
	}
	ab, ok := s.batchByID[batchID]
	if !ok {
		return nil
	}
	var results []TxnExecutionResult
	for _, txn := range ab.batch.Transactions {
		if r, ok := s.txnResults[txn.ID]; ok {
			results = append(results, r)
		}
	}
	return results
}

// Count implements Scheduler.
func (s *SerialScheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countLocked()
}

func (s *SerialScheduler) countLocked() int {
	return len(s.scheduled)
}

// Get implements Scheduler.
func (s *SerialScheduler) Get(index int) TxnInformation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(index)
}

func (s *SerialScheduler) getLocked(index int) TxnInformation {
	return s.scheduled[index]
}

// setBatchResult records the batch of txnID and fails every transaction in
// it that has no result yet.
func (s *SerialScheduler) setBatchResult(txnID string, valid bool, stateHash *crypto.Digest) {
	batchID, ok := s.txnToBatch[txnID]
	if !ok {
		// an unscheduled in-progress transaction
		return
	}
	s.batchStatuses[batchID] = &BatchExecutionResult{IsValid: valid, StateHash: stateHash}
	for _, txn := range s.batchByID[batchID].batch.Transactions {
		if _, ok := s.txnResults[txn.ID]; !ok {
			s.txnResults[txn.ID] = TxnExecutionResult{TxnID: txn.ID}
			s.metrics.result(false)
		}
	}
}

func (s *SerialScheduler) inInvalidBatch(txnID string) bool {
	status, ok := s.batchStatuses[s.txnToBatch[txnID]]
	return ok && !status.IsValid
}

func (s *SerialScheduler) restoreContextIfLast(txnID string) {
	if s.isLastInBatch(txnID) {
		s.previousContextID = s.previousValidBatchContextID
	}
}

// NextTransaction implements Scheduler.
func (s *SerialScheduler) NextTransaction() (*TxnInformation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextLocked()
}

func (s *SerialScheduler) nextLocked() (*TxnInformation, error) {
	if s.inProgress != "" {
		return nil, nil
	}

	var txn transactions.Transaction
	for {
		if len(s.txnQueue) == 0 {
			if s.final {
				s.condition.Broadcast()
			}
			return nil, nil
		}
		txn = s.txnQueue[0]
		s.txnQueue = s.txnQueue[1:]

		failedDep := false
		for _, dep := range txn.Dependencies {
			if _, known := s.txnToBatch[dep]; known && s.inInvalidBatch(dep) {
				failedDep = true
				break
			}
		}
		if failedDep {
			s.setBatchResult(txn.ID, false, nil)
			s.restoreContextIfLast(txn.ID)
			continue
		}
		if s.inInvalidBatch(txn.ID) {
			s.setBatchResult(txn.ID, false, nil)
			s.restoreContextIfLast(txn.ID)
			continue
		}
		break
	}

	s.inProgress = txn.ID
	var bases []string
	if s.previousContextID != "" {
		bases = []string{s.previousContextID}
	}
	info := TxnInformation{
		Txn:            txn,
		StateHash:      s.previousStateHash,
		BaseContextIDs: bases,
	}
	s.scheduled = append(s.scheduled, info)
	s.metrics.scheduled.Inc()
	return &info, nil
}

// UnscheduleIncompleteBatches implements Scheduler.
func (s *SerialScheduler) UnscheduleIncompleteBatches() {
	s.mu.Lock()
	defer s.mu.Unlock()

	inProgressBatch := ""
	if s.inProgress != "" {
		batchID := s.txnToBatch[s.inProgress]
		if s.batchByID[batchID].preserve {
			inProgressBatch = batchID
		} else {
			s.inProgress = ""
		}
	}

	removed := 0
	for batchID, ab := range s.batchByID {
		if _, done := s.batchStatuses[batchID]; done || ab.preserve || batchID == inProgressBatch {
			continue
		}
		for _, txn := range ab.batch.Transactions {
			delete(s.txnResults, txn.ID)
			delete(s.txnToBatch, txn.ID)
			s.txnQueue = removeTxn(s.txnQueue, txn.ID)
		}
		if n := len(ab.batch.Transactions); n > 0 {
			s.lastInBatch = removeID(s.lastInBatch, ab.batch.Transactions[n-1].ID)
		}
		delete(s.batchByID, batchID)
		removed++
	}

	s.condition.Broadcast()
	if removed > 0 {
		s.log.Debugf("Removed %d incomplete batches from the schedule", removed)
	}
}

// IsTransactionInSchedule implements Scheduler.
func (s *SerialScheduler) IsTransactionInSchedule(txnID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.txnToBatch[txnID]
	return ok
}

// Finalize implements Scheduler.
func (s *SerialScheduler) Finalize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.final = true
	s.condition.Broadcast()
}

// computeMerkleRoot squashes the last valid batch's context onto the
// previous state root, persisting it when it matches required.
func (s *SerialScheduler) computeMerkleRoot(required *crypto.Digest) (*crypto.Digest, error) {
	if s.previousValidBatchContextID == "" {
		return nil, nil
	}
	contexts := []string{s.previousValidBatchContextID}
	publishingOrGenesis := s.alwaysPersist || required == nil
	stateHash, err := s.squash(s.previousStateHash, contexts, s.alwaysPersist, publishingOrGenesis)
	if err != nil {
		return nil, err
	}
	if !s.alwaysPersist && required != nil && stateHash == *required {
		if _, err := s.squash(s.previousStateHash, contexts, true, true); err != nil {
			return nil, err
		}
	}
	return &stateHash, nil
}

func (s *SerialScheduler) calculateStateRootIfRequired(batchID string) (*crypto.Digest, error) {
	required, ok := s.requiredStateHashes[batchID]
	if !ok {
		return nil, nil
	}
	stateHash, err := s.computeMerkleRoot(&required)
	if err != nil {
		return nil, err
	}
	s.alreadyCalculated = true
	return stateHash, nil
}

func (s *SerialScheduler) calculateStateRootIfNotAlreadyDone() error {
	if s.alreadyCalculated || len(s.lastInBatch) == 0 {
		return nil
	}
	lastBatch := s.txnToBatch[s.lastInBatch[len(s.lastInBatch)-1]]
	var required *crypto.Digest
	if h, ok := s.requiredStateHashes[lastBatch]; ok {
		required = &h
	}
	stateHash, err := s.computeMerkleRoot(required)
	if err != nil {
		return err
	}
	s.alreadyCalculated = true
	for i := len(s.lastInBatch) - 1; i >= 0; i-- {
		status, ok := s.batchStatuses[s.txnToBatch[s.lastInBatch[i]]]
		if ok && status.IsValid {
			status.StateHash = stateHash
			break
		}
	}
	return nil
}

func (s *SerialScheduler) allResultsSet() bool {
	return s.final && len(s.txnResults) == len(s.txnToBatch)
}

// Complete implements Scheduler.
func (s *SerialScheduler) Complete(block bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.final {
		return false, nil
	}
	if !block {
		return s.completeLocked()
	}
	for !s.allResultsSet() {
		if s.cancelled {
			return false, nil
		}
		s.condition.Wait()
	}
	return s.completeLocked()
}

func (s *SerialScheduler) completeLocked() (bool, error) {
	if !s.allResultsSet() {
		return false, nil
	}
	if err := s.calculateStateRootIfNotAlreadyDone(); err != nil {
		return false, err
	}
	return true, nil
}

// Cancel implements Scheduler. It is idempotent.
func (s *SerialScheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cancelled && !s.final && s.previousContextID != "" {
		if _, err := s.squash(s.previousStateHash, []string{s.previousContextID}, false, true); err != nil {
			s.log.Warnf("SerialScheduler.Cancel: discarding contexts: %v", err)
		}
	}
	s.cancelled = true
	s.condition.Broadcast()
}

// IsCancelled implements Scheduler.
func (s *SerialScheduler) IsCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

func (s *SerialScheduler) cancelledLocked() bool {
	return s.cancelled
}

// Iterator implements Scheduler.
func (s *SerialScheduler) Iterator() *Iterator {
	return &Iterator{s: s}
}

func removeTxn(txns []transactions.Transaction, id string) []transactions.Transaction {
	out := txns[:0]
	for _, txn := range txns {
		if txn.ID != id {
			out = append(out, txn)
		}
	}
	return out
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
