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

package poet

import (
	"errors"
	"fmt"

	"github.com/algorand/go-deadlock"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/algorand/go-poet/data/bookkeeping"
	"github.com/algorand/go-poet/util/kvstore"
)

var consensusStatePrefix = []byte("poet/state/")

// estimateCacheSize bounds the per-block population estimates remembered
// for the z-test.
const estimateCacheSize = 8192

// ConsensusStateStore caches the consensus state of each block.
type ConsensusStateStore struct {
	mu        deadlock.Mutex
	kv        kvstore.KVStore
	estimates *lru.Cache[bookkeeping.BlockID, EstimateInfo]
}

// MakeConsensusStateStore keeps states in kv.
func MakeConsensusStateStore(kv kvstore.KVStore) (*ConsensusStateStore, error) {
	estimates, err := lru.New[bookkeeping.BlockID, EstimateInfo](estimateCacheSize)
	if err != nil {
		return nil, err
	}
	return &ConsensusStateStore{kv: kv, estimates: estimates}, nil
}

func stateKey(id bookkeeping.BlockID) []byte {
	return append(append([]byte{}, consensusStatePrefix...), id...)
}

// Get returns a copy of the state stored for a block.
func (s *ConsensusStateStore) Get(id bookkeeping.BlockID) (*ConsensusState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := s.kv.Get(stateKey(id))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	cs, err := DecodeConsensusState(raw)
	if err != nil {
		return nil, false, fmt.Errorf("consensus state of block %s: %w", id.Short(), err)
	}
	return cs, true, nil
}

// Put stores the state of a block.
func (s *ConsensusStateStore) Put(id bookkeeping.BlockID, cs *ConsensusState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Set(stateKey(id), cs.Encode())
}

// Delete forgets the state of a block.
func (s *ConsensusStateStore) Delete(id bookkeeping.BlockID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Delete(stateKey(id))
}

type pendingState struct {
	id    bookkeeping.BlockID
	block bookkeeping.Block
	cert  WaitCertificate
	// reset marks a block without a certificate.
	reset bool
}

// ConsensusStateFor returns the consensus state after block id. Missing
// states are rebuilt by walking back to the nearest stored state (or the
// start of the chain) and replaying forward; every rebuilt state is stored.
func (s *ConsensusStateStore) ConsensusStateFor(ctx *ConsensusContext, blocks BlockCache, registry *ValidatorRegistry, id bookkeeping.BlockID) (*ConsensusState, error) {
	var cs *ConsensusState
	var pending []pendingState
	previousHadCert := false
	for current := id; !current.IsGenesisParent(); {
		stored, ok, err := s.Get(current)
		if err != nil {
			return nil, err
		}
		if ok {
			cs = stored
			break
		}
		block, err := blocks.Block(current)
		if err != nil {
			ctx.Log.Errorf("Failed to retrieve block %s: %v", current.Short(), err)
			break
		}
		cert, hasCert := CertificateOf(block)
		switch {
		case hasCert:
			pending = append(pending, pendingState{id: current, block: block, cert: cert})
		case len(pending) == 0 || previousHadCert:
			pending = append(pending, pendingState{id: current, reset: true})
		}
		previousHadCert = hasCert
		current = block.PreviousBlockID
	}
	if cs == nil {
		cs = MakeConsensusState()
	}

	for i := len(pending) - 1; i >= 0; i-- {
		p := pending[i]
		if p.reset {
			cs = MakeConsensusState()
			continue
		}
		cs.ValidatorDidClaimBlock(ctx, validatorInfoFor(ctx, registry, p.block), p.cert)
		if err := s.Put(p.id, cs); err != nil {
			return nil, err
		}
		ctx.Log.Debugf("Create consensus state: BID=%s, ALM=%f, TBCC=%d",
			p.id.Short(), cs.AggregateLocalMean, cs.TotalBlockClaimCount)
	}
	return cs, nil
}

// validatorInfoFor looks up the claimant of a block. A claimant that left the
// registry is counted under its identity with an unknown PoET key.
func validatorInfoFor(ctx *ConsensusContext, registry *ValidatorRegistry, block bookkeeping.Block) ValidatorInfo {
	id := block.SignerPublicKey.String()
	if info, ok := registry.Get(id); ok {
		return info
	}
	ctx.Log.Warnf("Block %s claimed by validator %s... not in the registry", block.ID().Short(), shortID(id))
	return ValidatorInfo{ID: id, Name: "unregistered-" + shortID(id)}
}

// PopulationEstimates returns the population estimates of n blocks ending
// at id, newest first.
func (s *ConsensusStateStore) PopulationEstimates(ctx *ConsensusContext, blocks BlockCache, id bookkeeping.BlockID, n int) ([]EstimateInfo, error) {
	estimates := make([]EstimateInfo, 0, n)
	for i := 0; i < n; i++ {
		e, ok := s.estimates.Get(id)
		if !ok {
			block, err := blocks.Block(id)
			if err != nil {
				return nil, fmt.Errorf("population estimate of block %s: %w", id.Short(), err)
			}
			cert, hasCert := CertificateOf(block)
			if !hasCert {
				return nil, fmt.Errorf("population estimate of block %s: %w", id.Short(), ErrNotPoetBlock)
			}
			e = EstimateInfo{
				PopulationEstimate: cert.PopulationEstimate(ctx.Settings),
				PreviousBlockID:    block.PreviousBlockID,
				ValidatorID:        block.SignerPublicKey.String(),
			}
			s.estimates.Add(id, e)
		}
		estimates = append(estimates, e)
		id = e.PreviousBlockID
	}
	return estimates, nil
}
