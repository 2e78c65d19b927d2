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

package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/algorand/go-deadlock"
	"github.com/stretchr/testify/require"

	"github.com/algorand/go-poet/config"
	"github.com/algorand/go-poet/crypto"
	"github.com/algorand/go-poet/data/bookkeeping"
	"github.com/algorand/go-poet/logging"
	"github.com/algorand/go-poet/test/partitiontest"
	"github.com/algorand/go-poet/util/metrics"
)

type mockService struct {
	mu deadlock.Mutex

	head   bookkeeping.Block
	blocks map[bookkeeping.BlockID]bookkeeping.Block

	// notReady is the number of SummarizeBlock calls to turn away; negative
	// turns away every call.
	notReady    int
	finalizeErr error
	// cancelErr replaces the ErrInvalidState CancelBlock reports when set.
	cancelErr error

	calls serviceCalls
}

type serviceCalls struct {
	initialized []bookkeeping.BlockID
	finalized   [][]byte
	cancels     int
	checked     []bookkeeping.BlockID
	failed      []bookkeeping.BlockID
	committed   []bookkeeping.BlockID
	ignored     []bookkeeping.BlockID
}

func makeMockService(head bookkeeping.Block) *mockService {
	return &mockService{head: head, blocks: map[bookkeeping.BlockID]bookkeeping.Block{head.ID(): head}}
}

func (s *mockService) GetChainHead() (bookkeeping.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head, nil
}

func (s *mockService) GetBlocks(ids []bookkeeping.BlockID) (map[bookkeeping.BlockID]bookkeeping.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[bookkeeping.BlockID]bookkeeping.Block)
	for _, id := range ids {
		if b, ok := s.blocks[id]; ok {
			out[id] = b
		}
	}
	return out, nil
}

func (s *mockService) InitializeBlock(previous bookkeeping.BlockID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.initialized = append(s.calls.initialized, previous)
	return nil
}

func (s *mockService) SummarizeBlock() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notReady != 0 {
		if s.notReady > 0 {
			s.notReady--
		}
		return nil, ErrBlockNotReady
	}
	return []byte("summary"), nil
}

func (s *mockService) FinalizeBlock(consensus []byte) (bookkeeping.BlockID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalizeErr != nil {
		return "", s.finalizeErr
	}
	s.calls.finalized = append(s.calls.finalized, consensus)
	return "published", nil
}

func (s *mockService) CancelBlock() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.cancels++
	if s.cancelErr != nil {
		return s.cancelErr
	}
	return ErrInvalidState
}

func (s *mockService) CheckBlocks(ids []bookkeeping.BlockID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.checked = append(s.calls.checked, ids...)
	return nil
}

func (s *mockService) FailBlock(id bookkeeping.BlockID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.failed = append(s.calls.failed, id)
	return nil
}

func (s *mockService) CommitBlock(id bookkeeping.BlockID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.committed = append(s.calls.committed, id)
	s.head = s.blocks[id]
	return nil
}

func (s *mockService) IgnoreBlock(id bookkeeping.BlockID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.ignored = append(s.calls.ignored, id)
	return nil
}

func (s *mockService) add(b bookkeeping.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[b.ID()] = b
}

func (s *mockService) snapshot() serviceCalls {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.calls
	c.initialized = append([]bookkeeping.BlockID(nil), c.initialized...)
	c.finalized = append([][]byte(nil), c.finalized...)
	c.checked = append([]bookkeeping.BlockID(nil), c.checked...)
	c.failed = append([]bookkeeping.BlockID(nil), c.failed...)
	c.committed = append([]bookkeeping.BlockID(nil), c.committed...)
	c.ignored = append([]bookkeeping.BlockID(nil), c.ignored...)
	return c
}

type mockOracle struct {
	mu deadlock.Mutex

	initialize  bool
	publish     bool
	valid       func(bookkeeping.Block) bool
	switchForks func(cur, newHead bookkeeping.Block) (bool, error)
	summaries   [][]byte
}

func (o *mockOracle) InitializeBlock(bookkeeping.Block) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.initialize
}

func (o *mockOracle) CheckPublishBlock(bookkeeping.Block) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.publish
}

func (o *mockOracle) FinalizeBlock(head bookkeeping.Block, summary []byte) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.summaries = append(o.summaries, summary)
	return []byte("proof"), nil
}

func (o *mockOracle) VerifyBlock(block bookkeeping.Block) bool {
	o.mu.Lock()
	valid := o.valid
	o.mu.Unlock()
	return valid == nil || valid(block)
}

func (o *mockOracle) SwitchForks(cur, newHead bookkeeping.Block) (bool, error) {
	o.mu.Lock()
	switchForks := o.switchForks
	o.mu.Unlock()
	if switchForks == nil {
		return true, nil
	}
	return switchForks(cur, newHead)
}

func testBlock(t *testing.T, previous bookkeeping.BlockID, num uint64) bookkeeping.Block {
	secrets, _ := crypto.GenerateRandomSignatureSecrets()
	return bookkeeping.SignBlock(bookkeeping.BlockHeader{BlockNum: num, PreviousBlockID: previous}, secrets)
}

func startTestEngine(t *testing.T, service Service, oracle Oracle, cfg config.Local) (*Engine, *metrics.Registry) {
	reg := metrics.MakeRegistry()
	cfg.EngineUpdatePollInterval = 5 * time.Millisecond
	if cfg.FinalizeRetryDelay == config.GetDefaultLocal().FinalizeRetryDelay {
		cfg.FinalizeRetryDelay = time.Millisecond
	}
	e, err := MakeEngine(Parameters{
		Service: service,
		Oracle:  oracle,
		Local:   cfg,
		Log:     logging.TestingLog(t),
		Metrics: reg,
	})
	require.NoError(t, err)
	e.Start(context.Background())
	t.Cleanup(e.Shutdown)
	return e, reg
}

const waitFor = 5 * time.Second
const tick = 2 * time.Millisecond

func TestEnginePublishes(t *testing.T) {
	partitiontest.PartitionTest(t)

	genesis := testBlock(t, bookkeeping.NullBlockID, 0)
	service := makeMockService(genesis)
	service.notReady = 2
	oracle := &mockOracle{initialize: true, publish: true}
	e, reg := startTestEngine(t, service, oracle, config.GetDefaultLocal())

	require.Eventually(t, func() bool { return len(service.snapshot().finalized) == 1 }, waitFor, tick)
	snap := service.snapshot()
	require.Equal(t, []bookkeeping.BlockID{genesis.ID()}, snap.initialized)
	require.Equal(t, [][]byte{[]byte("proof")}, snap.finalized)

	// Nothing more is built until the chain head moves.
	time.Sleep(20 * time.Millisecond)
	require.Len(t, service.snapshot().initialized, 1)

	e.Updates() <- Message{Type: BlockCommit, BlockID: genesis.ID()}
	require.Eventually(t, func() bool { return len(service.snapshot().finalized) == 2 }, waitFor, tick)
	require.GreaterOrEqual(t, service.snapshot().cancels, 1)

	published, err := reg.CounterValue(metrics.EngineBlocksPublishedTotal)
	require.NoError(t, err)
	require.GreaterOrEqual(t, published, 2.0)

	oracle.mu.Lock()
	require.Equal(t, []byte("summary"), oracle.summaries[0])
	oracle.mu.Unlock()
}

func TestEngineWaitsToPublish(t *testing.T) {
	partitiontest.PartitionTest(t)

	service := makeMockService(testBlock(t, bookkeeping.NullBlockID, 0))
	oracle := &mockOracle{initialize: true}
	startTestEngine(t, service, oracle, config.GetDefaultLocal())

	require.Eventually(t, func() bool { return len(service.snapshot().initialized) == 1 }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)
	snap := service.snapshot()
	require.Len(t, snap.initialized, 1)
	require.Empty(t, snap.finalized)

	oracle.mu.Lock()
	oracle.publish = true
	oracle.mu.Unlock()
	require.Eventually(t, func() bool { return len(service.snapshot().finalized) == 1 }, waitFor, tick)
}

func TestEngineFinalizeFailureResets(t *testing.T) {
	partitiontest.PartitionTest(t)

	service := makeMockService(testBlock(t, bookkeeping.NullBlockID, 0))
	service.finalizeErr = ErrInvalidState
	oracle := &mockOracle{initialize: true, publish: true}
	_, reg := startTestEngine(t, service, oracle, config.GetDefaultLocal())

	// Every failed attempt cancels and starts over.
	require.Eventually(t, func() bool {
		snap := service.snapshot()
		return len(snap.initialized) >= 2 && snap.cancels >= 2
	}, waitFor, tick)
	require.Empty(t, service.snapshot().finalized)

	errs, err := reg.CounterValue(metrics.EngineHandlerErrorsTotal, "publish")
	require.NoError(t, err)
	require.GreaterOrEqual(t, errs, 1.0)
}

func TestEngineFinalizeTimeout(t *testing.T) {
	partitiontest.PartitionTest(t)

	service := makeMockService(testBlock(t, bookkeeping.NullBlockID, 0))
	service.notReady = -1
	oracle := &mockOracle{initialize: true, publish: true}
	cfg := config.GetDefaultLocal()
	cfg.FinalizeRetryDelay = time.Millisecond
	cfg.FinalizeTimeout = 10 * time.Millisecond
	startTestEngine(t, service, oracle, cfg)

	require.Eventually(t, func() bool { return service.snapshot().cancels >= 1 }, waitFor, tick)
	require.Empty(t, service.snapshot().finalized)
}

func TestEngineNewBlocks(t *testing.T) {
	partitiontest.PartitionTest(t)

	genesis := testBlock(t, bookkeeping.NullBlockID, 0)
	good := testBlock(t, genesis.ID(), 1)
	bad := testBlock(t, genesis.ID(), 1)
	service := makeMockService(genesis)
	oracle := &mockOracle{valid: func(b bookkeeping.Block) bool { return b.ID() == good.ID() }}
	e, reg := startTestEngine(t, service, oracle, config.GetDefaultLocal())

	e.Updates() <- Message{Type: BlockNew, Block: good}
	e.Updates() <- Message{Type: BlockNew, Block: bad}
	require.Eventually(t, func() bool {
		snap := service.snapshot()
		return len(snap.checked) == 1 && len(snap.failed) == 1
	}, waitFor, tick)
	snap := service.snapshot()
	require.Equal(t, good.ID(), snap.checked[0])
	require.Equal(t, bad.ID(), snap.failed[0])

	handled, err := reg.CounterValue(metrics.EngineMessagesTotal, BlockNew.String())
	require.NoError(t, err)
	require.Equal(t, 2.0, handled)
}

func TestEngineResolvesForks(t *testing.T) {
	partitiontest.PartitionTest(t)

	genesis := testBlock(t, bookkeeping.NullBlockID, 0)
	first := testBlock(t, genesis.ID(), 1)
	second := testBlock(t, genesis.ID(), 1)
	service := makeMockService(genesis)
	service.add(first)
	service.add(second)
	oracle := &mockOracle{switchForks: func(cur, newHead bookkeeping.Block) (bool, error) {
		return newHead.ID() == first.ID(), nil
	}}
	e, _ := startTestEngine(t, service, oracle, config.GetDefaultLocal())

	e.Updates() <- Message{Type: BlockValid, BlockID: first.ID()}
	require.Eventually(t, func() bool { return len(service.snapshot().committed) == 1 }, waitFor, tick)

	// While the commit is outstanding other forks wait.
	e.Updates() <- Message{Type: BlockValid, BlockID: second.ID()}
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, service.snapshot().ignored)

	e.Updates() <- Message{Type: BlockCommit, BlockID: first.ID()}
	require.Eventually(t, func() bool { return len(service.snapshot().ignored) == 1 }, waitFor, tick)
	snap := service.snapshot()
	require.Equal(t, []bookkeeping.BlockID{first.ID()}, snap.committed)
	require.Equal(t, []bookkeeping.BlockID{second.ID()}, snap.ignored)
}

func TestEngineCommitSurvivesCancelFailure(t *testing.T) {
	partitiontest.PartitionTest(t)

	genesis := testBlock(t, bookkeeping.NullBlockID, 0)
	first := testBlock(t, genesis.ID(), 1)
	second := testBlock(t, genesis.ID(), 1)
	service := makeMockService(genesis)
	service.cancelErr = errors.New("validator unreachable")
	service.add(first)
	service.add(second)
	oracle := &mockOracle{switchForks: func(cur, newHead bookkeeping.Block) (bool, error) {
		return newHead.ID() == first.ID(), nil
	}}
	e, reg := startTestEngine(t, service, oracle, config.GetDefaultLocal())

	e.Updates() <- Message{Type: BlockValid, BlockID: first.ID()}
	require.Eventually(t, func() bool { return len(service.snapshot().committed) == 1 }, waitFor, tick)
	e.Updates() <- Message{Type: BlockValid, BlockID: second.ID()}

	// the failed cancel is reported but the commit still clears the way
	e.Updates() <- Message{Type: BlockCommit, BlockID: first.ID()}
	require.Eventually(t, func() bool { return len(service.snapshot().ignored) == 1 }, waitFor, tick)
	require.Equal(t, []bookkeeping.BlockID{second.ID()}, service.snapshot().ignored)
	require.Eventually(t, func() bool {
		errs, err := reg.CounterValue(metrics.EngineHandlerErrorsTotal, BlockCommit.String())
		return err == nil && errs == 1
	}, waitFor, tick)
}

func TestEngineForkErrorsIgnoreBlock(t *testing.T) {
	partitiontest.PartitionTest(t)

	genesis := testBlock(t, bookkeeping.NullBlockID, 0)
	block := testBlock(t, genesis.ID(), 1)
	service := makeMockService(genesis)
	service.add(block)
	oracle := &mockOracle{switchForks: func(cur, newHead bookkeeping.Block) (bool, error) {
		return true, errors.New("not a PoET block")
	}}
	e, reg := startTestEngine(t, service, oracle, config.GetDefaultLocal())

	e.Updates() <- Message{Type: BlockValid, BlockID: block.ID()}
	e.Updates() <- Message{Type: BlockValid, BlockID: "missing"}
	require.Eventually(t, func() bool { return len(service.snapshot().ignored) == 1 }, waitFor, tick)
	require.Empty(t, service.snapshot().committed)

	require.Eventually(t, func() bool {
		errs, err := reg.CounterValue(metrics.EngineHandlerErrorsTotal, BlockValid.String())
		return err == nil && errs == 1
	}, waitFor, tick)
}

func TestEngineSurvivesPanics(t *testing.T) {
	partitiontest.PartitionTest(t)

	genesis := testBlock(t, bookkeeping.NullBlockID, 0)
	poison := testBlock(t, genesis.ID(), 1)
	good := testBlock(t, genesis.ID(), 1)
	service := makeMockService(genesis)
	oracle := &mockOracle{valid: func(b bookkeeping.Block) bool {
		if b.ID() == poison.ID() {
			panic("malformed block")
		}
		return true
	}}
	e, reg := startTestEngine(t, service, oracle, config.GetDefaultLocal())

	e.Updates() <- Message{Type: BlockNew, Block: poison}
	e.Updates() <- Message{Type: MessageType(42)}
	e.Updates() <- Message{Type: BlockNew, Block: good}
	require.Eventually(t, func() bool { return len(service.snapshot().checked) == 1 }, waitFor, tick)

	errs, err := reg.CounterValue(metrics.EngineHandlerErrorsTotal, BlockNew.String())
	require.NoError(t, err)
	require.Equal(t, 1.0, errs)
}

func TestEngineShutdownMessage(t *testing.T) {
	partitiontest.PartitionTest(t)

	service := makeMockService(testBlock(t, bookkeeping.NullBlockID, 0))
	e, _ := startTestEngine(t, service, &mockOracle{}, config.GetDefaultLocal())
	e.Updates() <- Message{Type: Shutdown}
	select {
	case <-e.Done():
	case <-time.After(waitFor):
		t.Fatal("engine did not stop")
	}
	// Shutdown after the loop exited returns at once.
	e.Shutdown()
}

func TestMakeEngineNeedsCollaborators(t *testing.T) {
	partitiontest.PartitionTest(t)

	_, err := MakeEngine(Parameters{Oracle: &mockOracle{}})
	require.Error(t, err)
}

func TestPendingForks(t *testing.T) {
	partitiontest.PartitionTest(t)

	genesis := testBlock(t, bookkeeping.NullBlockID, 0)
	a := testBlock(t, genesis.ID(), 1)
	b := testBlock(t, genesis.ID(), 1)
	childOfA := testBlock(t, a.ID(), 2)

	var p PendingForks
	_, ok := p.Pop()
	require.False(t, ok)

	p.Push(a)
	p.Push(b)
	p.Push(a)
	require.Equal(t, 2, p.Len())

	// A child replaces its queued parent and goes to the back.
	p.Push(childOfA)
	require.Equal(t, 2, p.Len())
	first, ok := p.Pop()
	require.True(t, ok)
	require.Equal(t, b.ID(), first.ID())
	second, ok := p.Pop()
	require.True(t, ok)
	require.Equal(t, childOfA.ID(), second.ID())
	require.Zero(t, p.Len())
}

func TestMessageTypeString(t *testing.T) {
	partitiontest.PartitionTest(t)

	require.Equal(t, "block_commit", BlockCommit.String())
	require.Equal(t, "unknown(42)", MessageType(42).String())
}
