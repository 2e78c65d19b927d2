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

// Package state stores global state as a merkle radix trie keyed by
// hex addresses. Every update yields a new root digest; nodes are content
// addressed, so all historical roots stay readable.
package state

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/algorand/go-deadlock"
	"github.com/golang/snappy"

	"github.com/algorand/go-poet/crypto"
	"github.com/algorand/go-poet/protocol"
	"github.com/algorand/go-poet/util/kvstore"
)

// TokenSize is the number of hex characters consumed per trie level.
const TokenSize = 2

// AddressLength is the number of hex characters in a full state address.
const AddressLength = 70

var nodeKeyPrefix = []byte("n/")

// ErrUnknownRoot is returned when a state root has no stored node.
var ErrUnknownRoot = errors.New("state root not found")

// KeyNotFoundError is returned when an address has no value under a root.
type KeyNotFoundError struct {
	Address string
}

func (e KeyNotFoundError) Error() string {
	return fmt.Sprintf("address %s not found in state", e.Address)
}

// InvalidAddressError is returned for addresses that are not full-length lowercase hex.
type InvalidAddressError struct {
	Address string
}

func (e InvalidAddressError) Error() string {
	return fmt.Sprintf("invalid state address %q", e.Address)
}

type node struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Leaf     bool                     `codec:"l"`
	Value    []byte                   `codec:"v"`
	Children map[string]crypto.Digest `codec:"c"`
}

// ToBeHashed implements the crypto.Hashable interface
func (n *node) ToBeHashed() (protocol.HashID, []byte) {
	return protocol.StateNode, protocol.Encode(n)
}

func (n *node) empty() bool {
	return !n.Leaf && len(n.Children) == 0
}

func (n *node) clone() *node {
	c := &node{Leaf: n.Leaf, Value: n.Value}
	if len(n.Children) > 0 {
		c.Children = make(map[string]crypto.Digest, len(n.Children))
		for k, v := range n.Children {
			c.Children[k] = v
		}
	}
	return c
}

// MerkleDatabase is a merkle radix trie persisted in a kvstore.
type MerkleDatabase struct {
	mu    deadlock.RWMutex
	store kvstore.KVStore
	empty crypto.Digest
}

// MakeMerkleDatabase opens a trie over store, persisting the empty root.
func MakeMerkleDatabase(store kvstore.KVStore) (*MerkleDatabase, error) {
	db := &MerkleDatabase{store: store}
	root := &node{}
	db.empty = crypto.HashObj(root)
	if err := store.Set(nodeKey(db.empty), encodeNode(root)); err != nil {
		return nil, err
	}
	return db, nil
}

// EmptyRoot returns the root digest of a trie with no values.
func (db *MerkleDatabase) EmptyRoot() crypto.Digest {
	return db.empty
}

// ValidAddress reports whether address is a full-length lowercase hex state address.
func ValidAddress(address string) bool {
	if len(address) != AddressLength {
		return false
	}
	for _, c := range address {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

func nodeKey(d crypto.Digest) []byte {
	return append(append([]byte{}, nodeKeyPrefix...), d[:]...)
}

func encodeNode(n *node) []byte {
	return snappy.Encode(nil, protocol.Encode(n))
}

func (db *MerkleDatabase) loadNode(d crypto.Digest) (*node, error) {
	raw, err := db.store.Get(nodeKey(d))
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, ErrUnknownRoot
		}
		return nil, err
	}
	decoded, err := snappy.Decode(nil, raw)
	if err != nil {
		return nil, fmt.Errorf("state node %s is corrupt: %w", d, err)
	}
	var n node
	if err := protocol.Decode(decoded, &n); err != nil {
		return nil, fmt.Errorf("state node %s is corrupt: %w", d, err)
	}
	return &n, nil
}

func tokenize(address string) []string {
	tokens := make([]string, 0, len(address)/TokenSize)
	for i := 0; i < len(address); i += TokenSize {
		tokens = append(tokens, address[i:i+TokenSize])
	}
	return tokens
}

// Contains reports whether root is a stored (non-virtual) state root.
func (db *MerkleDatabase) Contains(root crypto.Digest) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, err := db.loadNode(root)
	return err == nil
}

// Get returns the value stored at address under root.
func (db *MerkleDatabase) Get(root crypto.Digest, address string) ([]byte, error) {
	if !ValidAddress(address) {
		return nil, InvalidAddressError{Address: address}
	}
	db.mu.RLock()
	defer db.mu.RUnlock()

	n, err := db.loadNode(root)
	if err != nil {
		return nil, err
	}
	for _, token := range tokenize(address) {
		child, ok := n.Children[token]
		if !ok {
			return nil, KeyNotFoundError{Address: address}
		}
		n, err = db.loadNode(child)
		if err != nil {
			return nil, err
		}
	}
	if !n.Leaf {
		return nil, KeyNotFoundError{Address: address}
	}
	if n.Value == nil {
		return []byte{}, nil
	}
	return n.Value, nil
}

// GetMany returns the values of the addresses present under root. Missing addresses are omitted.
func (db *MerkleDatabase) GetMany(root crypto.Digest, addresses []string) (map[string][]byte, error) {
	values := make(map[string][]byte, len(addresses))
	for _, address := range addresses {
		v, err := db.Get(root, address)
		if err != nil {
			var notFound KeyNotFoundError
			if errors.As(err, &notFound) {
				continue
			}
			return nil, err
		}
		values[address] = v
	}
	return values, nil
}

// Leaves returns every address with a value under root whose address starts with prefix.
func (db *MerkleDatabase) Leaves(root crypto.Digest, prefix string) (map[string][]byte, error) {
	if len(prefix)%TokenSize != 0 {
		return nil, InvalidAddressError{Address: prefix}
	}
	db.mu.RLock()
	defer db.mu.RUnlock()

	n, err := db.loadNode(root)
	if err != nil {
		return nil, err
	}
	leaves := make(map[string][]byte)
	for _, token := range tokenize(prefix) {
		child, ok := n.Children[token]
		if !ok {
			return leaves, nil
		}
		if n, err = db.loadNode(child); err != nil {
			return nil, err
		}
	}
	err = db.walk(n, prefix, leaves)
	return leaves, err
}

func (db *MerkleDatabase) walk(n *node, path string, leaves map[string][]byte) error {
	if n.Leaf {
		leaves[path] = n.Value
	}
	for token, child := range n.Children {
		childNode, err := db.loadNode(child)
		if err != nil {
			return err
		}
		if err := db.walk(childNode, path+token, leaves); err != nil {
			return err
		}
	}
	return nil
}

// Update applies set and deletes on top of root and returns the new root.
// When virtual is true the new nodes are not persisted; the returned root can
// be compared but not read back. Deleting an absent address is an error.
func (db *MerkleDatabase) Update(root crypto.Digest, set map[string][]byte, deletes []string, virtual bool) (crypto.Digest, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	rootNode, err := db.loadNode(root)
	if err != nil {
		return crypto.Digest{}, err
	}
	path := map[string]*node{"": rootNode.clone()}

	// load copies every node on the way to address, creating missing ones
	load := func(address string, create bool) (bool, error) {
		parent := path[""]
		prefix := ""
		for _, token := range tokenize(address) {
			prefix += token
			if n, ok := path[prefix]; ok {
				parent = n
				continue
			}
			var n *node
			if child, ok := parent.Children[token]; ok {
				stored, err := db.loadNode(child)
				if err != nil {
					return false, err
				}
				n = stored.clone()
			} else if create {
				n = &node{}
			} else {
				return false, nil
			}
			path[prefix] = n
			parent = n
		}
		return true, nil
	}

	addresses := make([]string, 0, len(set))
	for address := range set {
		addresses = append(addresses, address)
	}
	sort.Strings(addresses)
	for _, address := range addresses {
		if !ValidAddress(address) {
			return crypto.Digest{}, InvalidAddressError{Address: address}
		}
		if _, err := load(address, true); err != nil {
			return crypto.Digest{}, err
		}
		path[address].Leaf = true
		path[address].Value = set[address]
	}

	for _, address := range deletes {
		if !ValidAddress(address) {
			return crypto.Digest{}, InvalidAddressError{Address: address}
		}
		found, err := load(address, false)
		if err != nil {
			return crypto.Digest{}, err
		}
		if !found || !path[address].Leaf {
			return crypto.Digest{}, KeyNotFoundError{Address: address}
		}
		path[address].Leaf = false
		path[address].Value = nil
		// prune empty nodes up to the root
		for prefix := address; prefix != ""; prefix = prefix[:len(prefix)-TokenSize] {
			n := path[prefix]
			if !n.empty() {
				break
			}
			parent := path[prefix[:len(prefix)-TokenSize]]
			delete(parent.Children, prefix[len(prefix)-TokenSize:])
			delete(path, prefix)
		}
	}

	// hash from the deepest nodes upward so parents see their children's new digests
	prefixes := make([]string, 0, len(path))
	for prefix := range path {
		prefixes = append(prefixes, prefix)
	}
	sort.Slice(prefixes, func(i, j int) bool {
		if len(prefixes[i]) != len(prefixes[j]) {
			return len(prefixes[i]) > len(prefixes[j])
		}
		return strings.Compare(prefixes[i], prefixes[j]) < 0
	})

	var batch kvstore.BatchWriter
	if !virtual {
		batch = db.store.NewBatch()
	}
	var newRoot crypto.Digest
	for _, prefix := range prefixes {
		n := path[prefix]
		digest := crypto.HashObj(n)
		if batch != nil {
			if err := batch.Set(nodeKey(digest), encodeNode(n)); err != nil {
				batch.Cancel()
				return crypto.Digest{}, err
			}
		}
		if prefix == "" {
			newRoot = digest
			continue
		}
		parent := path[prefix[:len(prefix)-TokenSize]]
		if parent.Children == nil {
			parent.Children = make(map[string]crypto.Digest)
		}
		parent.Children[prefix[len(prefix)-TokenSize:]] = digest
	}
	if batch != nil {
		if err := batch.Commit(); err != nil {
			return crypto.Digest{}, err
		}
	}
	return newRoot, nil
}

// MakeAddress builds a full state address from a namespace prefix and a
// key, padding with the hash of the key.
func MakeAddress(namespace string, key string) string {
	h := crypto.Hash([]byte(key)).String() + crypto.Hash([]byte("state/"+key)).String()
	address := namespace + h
	return address[:AddressLength]
}
