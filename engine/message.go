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
	"fmt"

	"github.com/algorand/go-poet/data/bookkeeping"
)

// MessageType tags a validator notification.
type MessageType int

const (
	// BlockNew announces a block received or built by the validator.
	BlockNew MessageType = iota
	// BlockValid reports that a block passed the validator's full check.
	BlockValid
	// BlockCommit reports that the chain head moved to a block.
	BlockCommit
	// Shutdown stops the engine.
	Shutdown
)

func (t MessageType) String() string {
	switch t {
	case BlockNew:
		return "block_new"
	case BlockValid:
		return "block_valid"
	case BlockCommit:
		return "block_commit"
	case Shutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Message is a notification from the validator. BlockNew carries the
// block; BlockValid and BlockCommit carry only its id.
type Message struct {
	Type    MessageType
	Block   bookkeeping.Block
	BlockID bookkeeping.BlockID
}

// PendingForks queues valid fork heads until the engine is free to
// resolve them. A queued head is dropped when one of its children is
// pushed, since resolving the child covers it.
type PendingForks struct {
	queue []bookkeeping.Block
}

// Push queues block.
func (p *PendingForks) Push(block bookkeeping.Block) {
	id := block.ID()
	for _, queued := range p.queue {
		if queued.ID() == id {
			return
		}
	}
	kept := p.queue[:0]
	for _, queued := range p.queue {
		if queued.ID() != block.PreviousBlockID {
			kept = append(kept, queued)
		}
	}
	p.queue = append(kept, block)
}

// Pop removes the oldest queued head.
func (p *PendingForks) Pop() (bookkeeping.Block, bool) {
	if len(p.queue) == 0 {
		return bookkeeping.Block{}, false
	}
	b := p.queue[0]
	p.queue = p.queue[1:]
	return b, true
}

// Len returns the number of queued heads.
func (p *PendingForks) Len() int {
	return len(p.queue)
}
