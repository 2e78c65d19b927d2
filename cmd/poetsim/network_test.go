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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/algorand/go-poet/config"
	"github.com/algorand/go-poet/data/bookkeeping"
	"github.com/algorand/go-poet/engine"
	"github.com/algorand/go-poet/logging"
	"github.com/algorand/go-poet/test/partitiontest"
	"github.com/algorand/go-poet/util/metrics"
)

func fastConfig() config.Local {
	cfg := config.GetDefaultLocal()
	cfg.InitialWaitTime = 0.05
	cfg.TargetWaitTime = 0.05
	cfg.MinimumWaitTime = 0.01
	cfg.EngineUpdatePollInterval = 5 * time.Millisecond
	cfg.FinalizeRetryDelay = 5 * time.Millisecond
	cfg.FinalizeTimeout = 200 * time.Millisecond
	cfg.StoreImpl = "memory"
	cfg.StoreInMemory = true
	return cfg
}

func makeTestNetwork(t *testing.T, validators int) *network {
	net, err := makeNetwork(networkParams{
		Validators: validators,
		Config:     fastConfig(),
		Log:        logging.TestingLog(t),
		Metrics:    metrics.MakeRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(net.Close)
	return net
}

func TestNetworkGenesisRegistersValidators(t *testing.T) {
	partitiontest.PartitionTest(t)

	net := makeTestNetwork(t, 3)
	require.True(t, net.genesis.IsGenesis())
	require.Len(t, net.genesis.TransactionIDs, 3)
	for _, n := range net.nodes {
		require.Equal(t, 3, n.registry.Count())
		head, err := n.GetChainHead()
		require.NoError(t, err)
		require.Equal(t, net.genesis.ID(), head.ID())
		for _, txn := range net.genesis.TransactionIDs {
			b, err := n.BlockByTransactionID(txn)
			require.NoError(t, err)
			require.Equal(t, net.genesis.ID(), b.ID())
		}
	}

	_, err := makeNetwork(networkParams{Config: fastConfig()})
	require.Error(t, err)
}

func TestNodeCandidateLifecycle(t *testing.T) {
	partitiontest.PartitionTest(t)

	net := makeTestNetwork(t, 1)
	n := net.nodes[0]

	require.ErrorIs(t, n.CancelBlock(), engine.ErrInvalidState)
	_, err := n.SummarizeBlock()
	require.ErrorIs(t, err, engine.ErrInvalidState)
	_, err = n.FinalizeBlock(nil)
	require.ErrorIs(t, err, engine.ErrInvalidState)
	require.ErrorIs(t, n.InitializeBlock("missing"), engine.ErrUnknownBlock)

	genesis := net.genesis.ID()
	require.NoError(t, n.InitializeBlock(genesis))
	require.ErrorIs(t, n.InitializeBlock(genesis), engine.ErrInvalidState)

	// a block on genesis may be empty
	summary, err := n.SummarizeBlock()
	require.NoError(t, err)
	require.Equal(t, bookkeeping.BlockDigest(genesis, nil).ToSlice(), summary)

	net.Submit("txn-1")
	net.Submit("txn-2")
	summary, err = n.SummarizeBlock()
	require.NoError(t, err)
	require.Equal(t, bookkeeping.BlockDigest(genesis, []string{"txn-1", "txn-2"}).ToSlice(), summary)

	id, err := n.FinalizeBlock([]byte("proof"))
	require.NoError(t, err)
	blocks, err := n.GetBlocks([]bookkeeping.BlockID{id, "missing"})
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	b := blocks[id]
	require.True(t, b.VerifySignature())
	require.Equal(t, uint64(1), b.BlockNum)
	require.Equal(t, []byte("proof"), b.Consensus)
	require.ErrorIs(t, n.CancelBlock(), engine.ErrInvalidState)

	// committed transactions leave the candidate set; an empty block past
	// genesis is not ready
	require.NoError(t, n.CommitBlock(id))
	require.NoError(t, n.InitializeBlock(id))
	_, err = n.SummarizeBlock()
	require.ErrorIs(t, err, engine.ErrBlockNotReady)
	require.NoError(t, n.CancelBlock())

	at, ok := net.blockAt(b, 0)
	require.True(t, ok)
	require.Equal(t, genesis, at.ID())
}

func TestNetworkReachesHeight(t *testing.T) {
	partitiontest.PartitionTest(t)

	const height = 4
	net := makeTestNetwork(t, 3)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	require.NoError(t, net.run(ctx, height, 10*time.Millisecond))

	reports := net.report()
	require.Len(t, reports, 3)
	claimed := 0
	for _, r := range reports {
		require.GreaterOrEqual(t, r.Head.BlockNum, uint64(height))
		claimed += r.Claimed
	}
	// every block after genesis on the first chain was claimed by a validator
	require.Equal(t, int(reports[0].Head.BlockNum), claimed)
}

func TestNetworkRunStopsOnContext(t *testing.T) {
	partitiontest.PartitionTest(t)

	net := makeTestNetwork(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := net.run(ctx, 1000, time.Millisecond)
	require.ErrorIs(t, err, context.Canceled)
}

func TestMakeNetworkFailureReleasesStores(t *testing.T) {
	partitiontest.PartitionTest(t)

	cfg := fastConfig()
	cfg.StoreImpl = "no-such-store"
	_, err := makeNetwork(networkParams{
		Validators: 2,
		Config:     cfg,
		Log:        logging.TestingLog(t),
		Metrics:    metrics.MakeRegistry(),
	})
	require.Error(t, err)

	cfg = fastConfig()
	cfg.EnclaveModule = "no-such-enclave"
	_, err = makeNetwork(networkParams{
		Validators: 2,
		Config:     cfg,
		Log:        logging.TestingLog(t),
		Metrics:    metrics.MakeRegistry(),
	})
	require.Error(t, err)
}
