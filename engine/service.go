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
	"errors"

	"github.com/algorand/go-poet/data/bookkeeping"
)

var (
	// ErrBlockNotReady is returned by the Service while the candidate block
	// cannot be summarized or finalized yet. The engine retries.
	ErrBlockNotReady = errors.New("block not ready")
	// ErrInvalidState is returned by the Service when the call does not fit
	// the block being built, e.g. cancelling when nothing is being built.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnknownBlock is returned when the Service does not know a block.
	ErrUnknownBlock = errors.New("unknown block")
)

// Service is the validator's block management API.
type Service interface {
	GetChainHead() (bookkeeping.Block, error)
	GetBlocks(ids []bookkeeping.BlockID) (map[bookkeeping.BlockID]bookkeeping.Block, error)

	// InitializeBlock starts a candidate block on top of previous.
	InitializeBlock(previous bookkeeping.BlockID) error
	// SummarizeBlock returns the digest the consensus proof must commit to.
	SummarizeBlock() ([]byte, error)
	// FinalizeBlock attaches the consensus proof and broadcasts the block.
	FinalizeBlock(consensus []byte) (bookkeeping.BlockID, error)
	CancelBlock() error

	// CheckBlocks asks the validator to fully validate blocks that passed
	// the consensus check.
	CheckBlocks(ids []bookkeeping.BlockID) error
	FailBlock(id bookkeeping.BlockID) error
	CommitBlock(id bookkeeping.BlockID) error
	IgnoreBlock(id bookkeeping.BlockID) error
}

// Oracle makes the consensus decisions of the engine.
type Oracle interface {
	// InitializeBlock reports whether to build a block on head.
	InitializeBlock(head bookkeeping.Block) bool
	// CheckPublishBlock reports whether the block being built on head may
	// be published now.
	CheckPublishBlock(head bookkeeping.Block) bool
	// FinalizeBlock returns the consensus proof for the block summarized by summary.
	FinalizeBlock(head bookkeeping.Block, summary []byte) ([]byte, error)
	VerifyBlock(block bookkeeping.Block) bool
	// SwitchForks reports whether newHead should replace cur as the chain head.
	SwitchForks(cur, newHead bookkeeping.Block) (bool, error)
}
