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
	"path/filepath"
	"sort"
	"time"

	"github.com/algorand/go-deadlock"
	"github.com/google/uuid"

	"github.com/algorand/go-poet/config"
	"github.com/algorand/go-poet/crypto"
	"github.com/algorand/go-poet/data/bookkeeping"
	"github.com/algorand/go-poet/engine"
	"github.com/algorand/go-poet/logging"
	"github.com/algorand/go-poet/poet"
	"github.com/algorand/go-poet/util/kvstore"
	"github.com/algorand/go-poet/util/metrics"
	"github.com/algorand/go-poet/util/timers"
)

var _ engine.Oracle = (*poet.Oracle)(nil)
var _ engine.Service = (*node)(nil)
var _ poet.BlockCache = (*node)(nil)
var _ poet.SignupPublisher = (*network)(nil)

// maxBlockTransactions caps the number of pool transactions a block takes.
const maxBlockTransactions = 16

type networkParams struct {
	Validators int
	Config     config.Local
	// DataDir holds the validator stores; empty keeps them in memory.
	DataDir string
	Clock   timers.WallClock
	Log     logging.Logger
	Metrics *metrics.Registry
}

// network is a set of PoET validators running in one process. They share
// the store of broadcast blocks and the transaction pool; each validator
// keeps its own chain head, registry and consensus state.
type network struct {
	cfg   config.Local
	clock timers.WallClock
	log   logging.Logger

	mu      deadlock.Mutex
	ctx     context.Context
	blocks  map[bookkeeping.BlockID]bookkeeping.Block
	signups map[string]poet.ValidatorInfo
	pool    []string
	genesis bookkeeping.Block
	nodes   []*node
}

// node is one validator. It is the engine's view of the validator and the
// oracle's view of the chain.
type node struct {
	net      *network
	name     string
	identity *crypto.SignatureSecrets
	ctx      *poet.ConsensusContext
	registry *poet.ValidatorRegistry
	oracle   *poet.Oracle
	engine   *engine.Engine
	stores   []kvstore.KVStore

	// guarded by net.mu
	head      bookkeeping.Block
	byTxn     map[string]bookkeeping.BlockID
	applied   map[string]bool
	candidate *candidateBlock
	failed    int
	ignored   int
}

type candidateBlock struct {
	previous bookkeeping.Block
	header   bookkeeping.BlockHeader
}

func makeNetwork(p networkParams) (_ *network, err error) {
	if p.Validators <= 0 {
		return nil, fmt.Errorf("a network needs at least one validator, got %d", p.Validators)
	}
	if p.Clock == nil {
		p.Clock = timers.MakeMonotonicClock()
	}
	if p.Log == nil {
		p.Log = logging.Base()
	}
	if p.Metrics == nil {
		p.Metrics = metrics.DefaultRegistry()
	}
	net := &network{
		cfg:     p.Config,
		clock:   p.Clock,
		log:     p.Log,
		ctx:     context.Background(),
		blocks:  make(map[bookkeeping.BlockID]bookkeeping.Block),
		signups: make(map[string]poet.ValidatorInfo),
	}
	defer func() {
		if err != nil {
			net.Close()
		}
	}()

	// each run gets fresh stores, keys from an earlier run would never
	// appear in this run's genesis block
	runDir := ""
	if p.DataDir != "" {
		runDir = filepath.Join(p.DataDir, uuid.NewString())
	}
	for i := 0; i < p.Validators; i++ {
		n, err := net.addNode(fmt.Sprintf("validator-%d", i), runDir, p.Metrics)
		if err != nil {
			return nil, err
		}
		net.nodes = append(net.nodes, n)
	}

	net.mu.Lock()
	defer net.mu.Unlock()
	txns := make([]string, 0, len(net.signups))
	for txn := range net.signups {
		txns = append(txns, txn)
	}
	sort.Strings(txns)
	identity, _ := crypto.GenerateRandomSignatureSecrets()
	net.genesis = bookkeeping.SignBlock(bookkeeping.BlockHeader{
		PreviousBlockID: bookkeeping.NullBlockID,
		TransactionIDs:  txns,
	}, identity)
	net.blocks[net.genesis.ID()] = net.genesis
	for _, n := range net.nodes {
		if err := n.advanceTo(net.genesis); err != nil {
			return nil, err
		}
	}
	net.log.Infof("Genesis block %s registers %d validators", net.genesis.ID().Short(), len(txns))
	return net, nil
}

func (net *network) addNode(name string, runDir string, reg *metrics.Registry) (*node, error) {
	identity, _ := crypto.GenerateRandomSignatureSecrets()
	log := net.log.With("validator", name)
	ctx, err := poet.MakeConsensusContext(net.cfg, identity.SignatureVerifier.String(), net.clock, log)
	if err != nil {
		return nil, err
	}
	n := &node{
		net:      net,
		name:     name,
		identity: identity,
		ctx:      ctx,
		registry: poet.MakeValidatorRegistry(),
		byTxn:    make(map[string]bookkeeping.BlockID),
		applied:  make(map[string]bool),
	}

	stateKV, err := n.openStore(runDir, "consensus")
	if err != nil {
		return nil, err
	}
	states, err := poet.MakeConsensusStateStore(stateKV)
	if err != nil {
		n.close()
		return nil, err
	}
	localKV, err := n.openStore(runDir, "local")
	if err != nil {
		n.close()
		return nil, err
	}
	n.oracle, err = poet.MakeOracle(poet.OracleParams{
		Context:  ctx,
		Blocks:   n,
		Registry: n.registry,
		States:   states,
		Store:    poet.MakeLocalStore(localKV),
		Signups:  net,
		Identity: identity,
		Name:     name,
	})
	if err != nil {
		n.close()
		return nil, err
	}
	n.engine, err = engine.MakeEngine(engine.Parameters{
		Service: n,
		Oracle:  n.oracle,
		Local:   net.cfg,
		Clock:   net.clock,
		Log:     log,
		Metrics: reg,
	})
	if err != nil {
		n.close()
		return nil, err
	}
	return n, nil
}

func (n *node) openStore(runDir string, kind string) (kvstore.KVStore, error) {
	inMem := n.net.cfg.StoreInMemory || runDir == ""
	dir := n.name + "-" + kind
	if runDir != "" {
		dir = filepath.Join(runDir, n.name, kind)
	}
	kv, err := kvstore.NewKVStore(n.net.cfg.StoreImpl, dir, inMem)
	if err != nil {
		return nil, fmt.Errorf("opening %s store of %s: %w", kind, n.name, err)
	}
	n.stores = append(n.stores, kv)
	return kv, nil
}

func (n *node) close() {
	for _, kv := range n.stores {
		if err := kv.Close(); err != nil {
			n.ctx.Log.Warnf("closing store: %v", err)
		}
	}
	n.stores = nil
}

// Close releases the validator stores.
func (net *network) Close() {
	for _, n := range net.nodes {
		n.close()
	}
}

// PublishSignup adds the registration to the transaction pool.
func (net *network) PublishSignup(info poet.ValidatorInfo) error {
	net.mu.Lock()
	defer net.mu.Unlock()
	net.signups[info.TransactionID] = info
	net.pool = append(net.pool, info.TransactionID)
	return nil
}

// Submit adds a transaction to the pool.
func (net *network) Submit(txnID string) {
	net.mu.Lock()
	defer net.mu.Unlock()
	net.pool = append(net.pool, txnID)
}

func (net *network) deliver(n *node, m engine.Message) {
	ctx := net.ctx
	go func() {
		select {
		case n.engine.Updates() <- m:
		case <-ctx.Done():
		}
	}()
}

// run starts every engine, feeds the pool a transaction every interval,
// and returns once every validator's head is at least height blocks high.
func (net *network) run(ctx context.Context, height uint64, interval time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	net.mu.Lock()
	net.ctx = ctx
	net.mu.Unlock()
	for _, n := range net.nodes {
		n.engine.Start(ctx)
	}
	defer func() {
		for _, n := range net.nodes {
			n.engine.Shutdown()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("network stopped at height %d of %d: %w", net.minHeight(), height, ctx.Err())
		case <-net.clock.After(interval):
		}
		net.Submit(uuid.NewString())
		if net.minHeight() >= height {
			return nil
		}
	}
}

func (net *network) minHeight() uint64 {
	net.mu.Lock()
	defer net.mu.Unlock()
	var low uint64
	for i, n := range net.nodes {
		if i == 0 || n.head.BlockNum < low {
			low = n.head.BlockNum
		}
	}
	return low
}

// validatorReport summarizes one validator's view after a run.
type validatorReport struct {
	Name    string
	Head    bookkeeping.Block
	Claimed int
	Failed  int
	Ignored int
}

// report returns each validator's head and the number of blocks of the
// first validator's chain it signed.
func (net *network) report() []validatorReport {
	net.mu.Lock()
	defer net.mu.Unlock()
	signed := make(map[crypto.PublicKey]int)
	for b := net.nodes[0].head; !b.IsGenesis(); b = net.blocks[b.PreviousBlockID] {
		signed[b.SignerPublicKey]++
	}
	out := make([]validatorReport, len(net.nodes))
	for i, n := range net.nodes {
		out[i] = validatorReport{
			Name:    n.name,
			Head:    n.head,
			Claimed: signed[n.identity.SignatureVerifier],
			Failed:  n.failed,
			Ignored: n.ignored,
		}
	}
	return out
}

// blockAt walks back from head to the block at height num.
func (net *network) blockAt(head bookkeeping.Block, num uint64) (bookkeeping.Block, bool) {
	net.mu.Lock()
	defer net.mu.Unlock()
	b := head
	for b.BlockNum > num {
		var ok bool
		if b, ok = net.blocks[b.PreviousBlockID]; !ok {
			return b, false
		}
	}
	return b, b.BlockNum == num
}

// Block implements poet.BlockCache over every broadcast block.
func (n *node) Block(id bookkeeping.BlockID) (bookkeeping.Block, error) {
	n.net.mu.Lock()
	defer n.net.mu.Unlock()
	b, ok := n.net.blocks[id]
	if !ok {
		return b, fmt.Errorf("block %s: %w", id.Short(), engine.ErrUnknownBlock)
	}
	return b, nil
}

// BlockByTransactionID implements poet.BlockCache over the validator's chain.
func (n *node) BlockByTransactionID(txnID string) (bookkeeping.Block, error) {
	n.net.mu.Lock()
	defer n.net.mu.Unlock()
	id, ok := n.byTxn[txnID]
	if !ok {
		return bookkeeping.Block{}, fmt.Errorf("transaction %s not in the chain of %s", txnID, n.name)
	}
	return n.net.blocks[id], nil
}

func (n *node) GetChainHead() (bookkeeping.Block, error) {
	n.net.mu.Lock()
	defer n.net.mu.Unlock()
	return n.head, nil
}

func (n *node) GetBlocks(ids []bookkeeping.BlockID) (map[bookkeeping.BlockID]bookkeeping.Block, error) {
	n.net.mu.Lock()
	defer n.net.mu.Unlock()
	out := make(map[bookkeeping.BlockID]bookkeeping.Block, len(ids))
	for _, id := range ids {
		if b, ok := n.net.blocks[id]; ok {
			out[id] = b
		}
	}
	return out, nil
}

func (n *node) InitializeBlock(previous bookkeeping.BlockID) error {
	n.net.mu.Lock()
	defer n.net.mu.Unlock()
	if n.candidate != nil {
		return fmt.Errorf("%w: %s is already building on %s", engine.ErrInvalidState,
			n.name, n.candidate.previous.ID().Short())
	}
	prev, ok := n.net.blocks[previous]
	if !ok {
		return fmt.Errorf("initializing on %s: %w", previous.Short(), engine.ErrUnknownBlock)
	}
	n.candidate = &candidateBlock{
		previous: prev,
		header: bookkeeping.BlockHeader{
			BlockNum:        prev.BlockNum + 1,
			PreviousBlockID: previous,
		},
	}
	return nil
}

// SummarizeBlock fixes the candidate's transactions. A block on top of
// genesis may be empty; any other block waits for pool transactions.
func (n *node) SummarizeBlock() ([]byte, error) {
	n.net.mu.Lock()
	defer n.net.mu.Unlock()
	if n.candidate == nil {
		return nil, fmt.Errorf("%w: %s is not building a block", engine.ErrInvalidState, n.name)
	}
	txns := n.pendingLocked()
	if len(txns) == 0 && !n.candidate.previous.IsGenesis() {
		return nil, engine.ErrBlockNotReady
	}
	n.candidate.header.TransactionIDs = txns
	return bookkeeping.BlockDigest(n.candidate.header.PreviousBlockID, txns).ToSlice(), nil
}

func (n *node) pendingLocked() []string {
	var txns []string
	for _, txn := range n.net.pool {
		if _, ok := n.byTxn[txn]; ok {
			continue
		}
		txns = append(txns, txn)
		if len(txns) == maxBlockTransactions {
			break
		}
	}
	return txns
}

// FinalizeBlock signs the candidate and broadcasts it to every validator,
// this one included.
func (n *node) FinalizeBlock(consensus []byte) (bookkeeping.BlockID, error) {
	n.net.mu.Lock()
	defer n.net.mu.Unlock()
	if n.candidate == nil {
		return "", fmt.Errorf("%w: %s is not building a block", engine.ErrInvalidState, n.name)
	}
	header := n.candidate.header
	header.Consensus = consensus
	block := bookkeeping.SignBlock(header, n.identity)
	n.candidate = nil

	id := block.ID()
	n.net.blocks[id] = block
	for _, peer := range n.net.nodes {
		n.net.deliver(peer, engine.Message{Type: engine.BlockNew, Block: block})
	}
	return id, nil
}

func (n *node) CancelBlock() error {
	n.net.mu.Lock()
	defer n.net.mu.Unlock()
	if n.candidate == nil {
		return engine.ErrInvalidState
	}
	n.candidate = nil
	return nil
}

// CheckBlocks accepts every block whose parent is known.
func (n *node) CheckBlocks(ids []bookkeeping.BlockID) error {
	n.net.mu.Lock()
	defer n.net.mu.Unlock()
	for _, id := range ids {
		b, ok := n.net.blocks[id]
		if !ok {
			return fmt.Errorf("checking %s: %w", id.Short(), engine.ErrUnknownBlock)
		}
		if _, ok := n.net.blocks[b.PreviousBlockID]; !ok {
			n.failed++
			continue
		}
		n.net.deliver(n, engine.Message{Type: engine.BlockValid, BlockID: id})
	}
	return nil
}

func (n *node) FailBlock(id bookkeeping.BlockID) error {
	n.net.mu.Lock()
	defer n.net.mu.Unlock()
	n.failed++
	n.ctx.Log.Debugf("%s failed block %s", n.name, id.Short())
	return nil
}

func (n *node) IgnoreBlock(id bookkeeping.BlockID) error {
	n.net.mu.Lock()
	defer n.net.mu.Unlock()
	n.ignored++
	return nil
}

// CommitBlock moves the validator's head to id and registers the signups
// its chain carries.
func (n *node) CommitBlock(id bookkeeping.BlockID) error {
	n.net.mu.Lock()
	defer n.net.mu.Unlock()
	b, ok := n.net.blocks[id]
	if !ok {
		return fmt.Errorf("committing %s: %w", id.Short(), engine.ErrUnknownBlock)
	}
	if err := n.advanceTo(b); err != nil {
		return err
	}
	n.net.deliver(n, engine.Message{Type: engine.BlockCommit, BlockID: id})
	return nil
}

// advanceTo makes head the chain head and rebuilds the transaction index.
// Signups are registered oldest first and are not undone by a fork switch.
func (n *node) advanceTo(head bookkeeping.Block) error {
	var chain []bookkeeping.Block
	for b := head; ; {
		chain = append(chain, b)
		if b.IsGenesis() {
			break
		}
		prev, ok := n.net.blocks[b.PreviousBlockID]
		if !ok {
			return fmt.Errorf("block %s: parent %w", b.ID().Short(), engine.ErrUnknownBlock)
		}
		b = prev
	}

	byTxn := make(map[string]bookkeeping.BlockID)
	for i := len(chain) - 1; i >= 0; i-- {
		b := chain[i]
		for _, txn := range b.TransactionIDs {
			byTxn[txn] = b.ID()
		}
	}
	n.byTxn = byTxn
	n.head = head

	for i := len(chain) - 1; i >= 0; i-- {
		for _, txn := range chain[i].TransactionIDs {
			info, ok := n.net.signups[txn]
			if !ok || n.applied[txn] {
				continue
			}
			n.applied[txn] = true
			if err := n.registry.Register(n.ctx, info); err != nil {
				n.ctx.Log.Warnf("%s: registering %s: %v", n.name, info.Name, err)
			}
		}
	}
	return nil
}
