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
	"math/rand"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/algorand/go-poet/crypto"
	"github.com/algorand/go-poet/data/transactions"
	"github.com/algorand/go-poet/execution"
	"github.com/algorand/go-poet/logging"
	"github.com/algorand/go-poet/state"
	"github.com/algorand/go-poet/util/kvstore"
	"github.com/algorand/go-poet/util/metrics"
)

const (
	counterFamily    = "counter"
	counterNamespace = "c0ffee"
)

// counterHandler runs "inc <key> <nonce>" by adding one to the counter at
// key's address, and rejects "fail <key> <nonce>".
type counterHandler struct{}

func (counterHandler) FamilyName() string { return counterFamily }

func (counterHandler) Apply(txn transactions.Transaction, st *execution.TransactionState) error {
	fields := strings.Fields(string(txn.Payload))
	if len(fields) != 3 {
		return &execution.InvalidTransactionError{Message: fmt.Sprintf("malformed payload %q", txn.Payload)}
	}
	if fields[0] == "fail" {
		return &execution.InvalidTransactionError{Message: "rejected by payload"}
	}
	address := state.MakeAddress(counterNamespace, fields[1])
	values, err := st.Get(address)
	if err != nil {
		return err
	}
	var count uint64
	if raw, ok := values[address]; ok && len(raw) > 0 {
		if count, err = strconv.ParseUint(string(raw), 10, 64); err != nil {
			return &execution.InvalidTransactionError{Message: fmt.Sprintf("bad counter at %s: %v", fields[1], err)}
		}
	}
	return st.Set(map[string][]byte{address: []byte(strconv.FormatUint(count+1, 10))})
}

type workloadParams struct {
	Batches      int
	BatchSize    int
	Keys         int
	InvalidRatio float64
	Seed         int64
}

// makeWorkload builds batches of counter transactions over a fixed set of
// keys. The same seed gives the same workload shape; keys and nonces are
// fresh uuids.
func makeWorkload(p workloadParams) []transactions.Batch {
	rng := rand.New(rand.NewSource(p.Seed))
	keys := make([]string, p.Keys)
	for i := range keys {
		keys[i] = uuid.NewString()
	}
	batches := make([]transactions.Batch, 0, p.Batches)
	for i := 0; i < p.Batches; i++ {
		txns := make([]transactions.Transaction, p.BatchSize)
		for j := range txns {
			op := "inc"
			if rng.Float64() < p.InvalidRatio {
				op = "fail"
			}
			key := keys[rng.Intn(len(keys))]
			address := state.MakeAddress(counterNamespace, key)
			txns[j] = transactions.Transaction{
				FamilyName: counterFamily,
				Inputs:     []string{address},
				Outputs:    []string{address},
				Payload:    []byte(op + " " + key + " " + uuid.NewString()),
			}
			txns[j].ID = txns[j].ComputeID()
		}
		batches = append(batches, transactions.MakeBatch(txns...))
	}
	return batches
}

type workloadResult struct {
	Kind    string
	Valid   int
	Invalid int
	Root    crypto.Digest
}

// runWorkload executes batches with a scheduler of the given kind on a fresh
// state database and returns the resulting state root.
func runWorkload(ctx context.Context, kind string, batches []transactions.Batch, storeImpl string, parallelism int, log logging.Logger, reg *metrics.Registry) (workloadResult, error) {
	res := workloadResult{Kind: kind}
	store, err := kvstore.NewKVStore(storeImpl, "workload-"+kind, true)
	if err != nil {
		return res, err
	}
	defer store.Close()
	db, err := state.MakeMerkleDatabase(store)
	if err != nil {
		return res, err
	}

	cm := execution.MakeContextManager(db, log, reg)
	s, err := execution.MakeScheduler(kind, execution.SchedulerParams{
		Squash:         cm.Squash,
		FirstStateHash: db.EmptyRoot(),
		AlwaysPersist:  true,
		Log:            log,
		Metrics:        reg,
	})
	if err != nil {
		return res, err
	}
	ex := execution.MakeExecutor(execution.ExecutorParams{
		ContextManager: cm,
		Handlers:       []execution.TransactionHandler{counterHandler{}},
		Parallelism:    parallelism,
		Log:            log,
		Metrics:        reg,
	})
	defer ex.Shutdown()

	for _, b := range batches {
		if err := s.AddBatch(b, nil, false); err != nil {
			return res, err
		}
	}
	s.Finalize()
	if err := ex.Execute(ctx, s); err != nil {
		return res, fmt.Errorf("%s scheduler: %w", kind, err)
	}

	res.Root = db.EmptyRoot()
	for _, b := range batches {
		r, err := s.GetBatchExecutionResult(b.ID)
		if err != nil {
			return res, err
		}
		if r == nil {
			return res, fmt.Errorf("%s scheduler: batch %s has no result", kind, b.ID)
		}
		if r.IsValid {
			res.Valid++
		} else {
			res.Invalid++
		}
		if r.StateHash != nil {
			res.Root = *r.StateHash
		}
	}
	return res, nil
}
