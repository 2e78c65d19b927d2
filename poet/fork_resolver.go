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
	"fmt"

	"github.com/algorand/go-poet/data/bookkeeping"
)

// ForkResolver chooses between competing chain heads.
type ForkResolver struct {
	ctx      *ConsensusContext
	blocks   BlockCache
	registry *ValidatorRegistry
	states   *ConsensusStateStore
}

// MakeForkResolver creates a fork resolver over the given chain view.
func MakeForkResolver(ctx *ConsensusContext, blocks BlockCache, registry *ValidatorRegistry, states *ConsensusStateStore) *ForkResolver {
	return &ForkResolver{ctx: ctx, blocks: blocks, registry: registry, states: states}
}

// CompareForks reports whether newHead should replace cur as the chain
// head. The fork with the greater aggregate local mean wins; equal forks
// go to the lexicographically greater block identifier. A certificate-less
// genesis block loses to any PoET block; otherwise a head without a
// certificate is an ErrNotPoetBlock.
func (fr *ForkResolver) CompareForks(cur, newHead bookkeeping.Block) (bool, error) {
	_, curIsPoet := CertificateOf(cur)
	_, newIsPoet := CertificateOf(newHead)
	switch {
	case !newIsPoet:
		return false, fmt.Errorf("new fork head %s: %w", newHead.ID().Short(), ErrNotPoetBlock)
	case !curIsPoet && !cur.IsGenesis():
		return false, fmt.Errorf("current fork head %s: %w", cur.ID().Short(), ErrNotPoetBlock)
	}

	signer := newHead.SignerPublicKey.String()
	if _, ok := fr.registry.Get(signer); !ok {
		fr.ctx.Log.Errorf("New fork head claimed by validator not in validator registry: %s...", shortID(signer))
		return false, nil
	}
	if !curIsPoet {
		fr.ctx.Log.Infof("Choose new fork %s: current fork head is not a PoET block", newHead.ID().Short())
		return true, nil
	}

	curState, err := fr.states.ConsensusStateFor(fr.ctx, fr.blocks, fr.registry, cur.ID())
	if err != nil {
		return false, err
	}
	newState, err := fr.states.ConsensusStateFor(fr.ctx, fr.blocks, fr.registry, newHead.ID())
	if err != nil {
		return false, err
	}

	curID, newID := cur.ID(), newHead.ID()
	switch {
	case curState.AggregateLocalMean > newState.AggregateLocalMean:
		fr.ctx.Log.Infof("Choose current fork %s: aggregate local mean %f greater than %f",
			curID.Short(), curState.AggregateLocalMean, newState.AggregateLocalMean)
		return false, nil
	case newState.AggregateLocalMean > curState.AggregateLocalMean:
		fr.ctx.Log.Infof("Choose new fork %s: aggregate local mean %f greater than %f",
			newID.Short(), newState.AggregateLocalMean, curState.AggregateLocalMean)
		return true, nil
	case curID >= newID:
		fr.ctx.Log.Infof("Choose current fork %s: equal aggregate local mean, identifier not less than %s",
			curID.Short(), newID.Short())
		return false, nil
	default:
		fr.ctx.Log.Infof("Choose new fork %s: equal aggregate local mean, identifier greater than %s",
			newID.Short(), curID.Short())
		return true, nil
	}
}
