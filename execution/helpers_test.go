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
	"crypto/sha512"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/algorand/go-poet/crypto"
	"github.com/algorand/go-poet/data/transactions"
	"github.com/algorand/go-poet/logging"
	"github.com/algorand/go-poet/state"
	"github.com/algorand/go-poet/util/kvstore"
	"github.com/algorand/go-poet/util/metrics"
)

const testFamily = "test"

func nameAddress(name string) string {
	sum := sha512.Sum512([]byte(name))
	return hex.EncodeToString(sum[:])[:state.AddressLength]
}

// testHandler writes "1" to the address of the transaction's name and
// rejects transactions named "invalid".
type testHandler struct{}

func (testHandler) FamilyName() string { return testFamily }

func (testHandler) Apply(txn transactions.Transaction, st *TransactionState) error {
	name := string(txn.Payload)
	if name == "invalid" {
		return &InvalidTransactionError{Message: "invalid by name"}
	}
	return st.Set(map[string][]byte{nameAddress(name): []byte("1")})
}

func namedTxn(name string, deps ...string) transactions.Transaction {
	address := nameAddress(name)
	txn := transactions.Transaction{
		FamilyName:   testFamily,
		Inputs:       []string{address},
		Outputs:      []string{address},
		Dependencies: deps,
		Payload:      []byte(name),
	}
	txn.ID = txn.ComputeID()
	return txn
}

func namedBatch(names ...string) transactions.Batch {
	txns := make([]transactions.Transaction, len(names))
	for i, name := range names {
		txns[i] = namedTxn(name)
	}
	return transactions.MakeBatch(txns...)
}

type testEnv struct {
	store   kvstore.KVStore
	db      *state.MerkleDatabase
	cm      *ContextManager
	metrics *metrics.Registry
	log     logging.Logger
}

func makeTestEnv(t *testing.T) *testEnv {
	store, err := kvstore.NewKVStore("memory", "execution", true)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	db, err := state.MakeMerkleDatabase(store)
	require.NoError(t, err)
	reg := metrics.MakeRegistry()
	log := logging.TestingLog(t)
	return &testEnv{
		store:   store,
		db:      db,
		cm:      MakeContextManager(db, log, reg),
		metrics: reg,
		log:     log,
	}
}

func (e *testEnv) scheduler(t *testing.T, kind string, alwaysPersist bool) Scheduler {
	s, err := MakeScheduler(kind, SchedulerParams{
		Squash:         e.cm.Squash,
		FirstStateHash: e.db.EmptyRoot(),
		AlwaysPersist:  alwaysPersist,
		Log:            e.log,
		Metrics:        e.metrics,
	})
	require.NoError(t, err)
	return s
}

func (e *testEnv) executor(t *testing.T) *Executor {
	ex := MakeExecutor(ExecutorParams{
		ContextManager: e.cm,
		Handlers:       []TransactionHandler{testHandler{}},
		Parallelism:    4,
		Log:            e.log,
		Metrics:        e.metrics,
	})
	t.Cleanup(ex.Shutdown)
	return ex
}

// expectedRoot applies name=>"1" for each name directly to the empty trie.
func (e *testEnv) expectedRoot(t *testing.T, names ...string) crypto.Digest {
	set := make(map[string][]byte, len(names))
	for _, name := range names {
		set[nameAddress(name)] = []byte("1")
	}
	root, err := e.db.Update(e.db.EmptyRoot(), set, nil, true)
	require.NoError(t, err)
	return root
}
