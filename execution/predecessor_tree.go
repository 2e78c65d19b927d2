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
	"sort"
)

type predecessorNode struct {
	children map[string]*predecessorNode
	readers  []string
	writer   string
}

// PredecessorTree is a radix tree over state addresses recording which
// transactions read or wrote each address. The scheduler queries it to find
// the transactions a new one must wait on.
type PredecessorTree struct {
	tokenSize int
	root      *predecessorNode
}

// MakePredecessorTree returns an empty tree that splits addresses into
// tokens of tokenSize characters.
func MakePredecessorTree(tokenSize int) *PredecessorTree {
	if tokenSize <= 0 {
		tokenSize = 2
	}
	return &PredecessorTree{
		tokenSize: tokenSize,
		root:      &predecessorNode{},
	}
}

func (t *PredecessorTree) tokenize(address string) []string {
	tokens := make([]string, 0, (len(address)+t.tokenSize-1)/t.tokenSize)
	for i := 0; i < len(address); i += t.tokenSize {
		end := i + t.tokenSize
		if end > len(address) {
			end = len(address)
		}
		tokens = append(tokens, address[i:end])
	}
	return tokens
}

func (t *PredecessorTree) node(address string, create bool) *predecessorNode {
	n := t.root
	for _, token := range t.tokenize(address) {
		child, ok := n.children[token]
		if !ok {
			if !create {
				return nil
			}
			child = &predecessorNode{}
			if n.children == nil {
				n.children = make(map[string]*predecessorNode)
			}
			n.children[token] = child
		}
		n = child
	}
	return n
}

// Get returns the readers and writer recorded exactly at address.
func (t *PredecessorTree) Get(address string) (readers []string, writer string, ok bool) {
	n := t.node(address, false)
	if n == nil {
		return nil, "", false
	}
	return append([]string(nil), n.readers...), n.writer, true
}

// AddReader records txnID as a reader of address.
func (t *PredecessorTree) AddReader(address string, txnID string) {
	n := t.node(address, true)
	n.readers = append(n.readers, txnID)
}

// SetWriter records txnID as the writer of address. Readers at the node and
// everything beneath it are discarded.
func (t *PredecessorTree) SetWriter(address string, txnID string) {
	n := t.node(address, true)
	n.readers = nil
	n.writer = txnID
	n.children = nil
}

// FindReadPredecessors returns the transactions a read of address must
// follow: the enclosing writer and every writer under address.
func (t *PredecessorTree) FindReadPredecessors(address string) []string {
	return t.findPredecessors(address, false)
}

// FindWritePredecessors returns the transactions a write of address must
// follow: the enclosing writer, readers on the path to address and every
// reader or writer under address.
func (t *PredecessorTree) FindWritePredecessors(address string) []string {
	return t.findPredecessors(address, true)
}

func (t *PredecessorTree) findPredecessors(address string, write bool) []string {
	preds := make(map[string]struct{})
	add := func(ids ...string) {
		for _, id := range ids {
			if id != "" {
				preds[id] = struct{}{}
			}
		}
	}

	n := t.root
	enclosingWriter := n.writer
	if write {
		add(n.readers...)
	}
	for _, token := range t.tokenize(address) {
		child, ok := n.children[token]
		if !ok {
			// nothing lives below a missing node
			add(enclosingWriter)
			return sortedIDs(preds)
		}
		n = child
		if write {
			add(n.readers...)
		}
		if n.writer != "" {
			enclosingWriter = n.writer
		}
	}
	add(enclosingWriter)

	queue := make([]*predecessorNode, 0, len(n.children))
	for _, child := range n.children {
		queue = append(queue, child)
	}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if write {
			add(next.readers...)
		}
		add(next.writer)
		for _, child := range next.children {
			queue = append(queue, child)
		}
	}
	return sortedIDs(preds)
}

func sortedIDs(set map[string]struct{}) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
