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

package kvstore

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("kvstore: key not found")

// KVStore is a simple KV API
type KVStore interface {
	Get([]byte) ([]byte, error)
	Set([]byte, []byte) error
	Delete([]byte) error

	NewIterator(start, end []byte) Iterator

	NewBatch() BatchWriter

	// Sync flushes every acknowledged write to durable storage.
	Sync() error
	Close() error
}

// BatchWriter is a set of mutations
type BatchWriter interface {
	Set(key, value []byte) error
	Delete(key []byte) error

	Commit() error
	Cancel()
}

// Iterator scans a range of KVs
type Iterator interface {
	Next()
	Key() []byte
	Value() ([]byte, error)
	Valid() bool
	Close()
}

type kvFactory interface {
	New(dbdir string, inMem bool) (KVStore, error)
}

var kvImpls = make(map[string]kvFactory)

// NewKVStore returns a KVStore implementation matching the provided implementation name
func NewKVStore(impl string, dbdir string, inMem bool) (KVStore, error) {
	factory, ok := kvImpls[impl]
	if !ok {
		return nil, fmt.Errorf("KVStore impl %s not found", impl)
	}
	return factory.New(dbdir, inMem)
}

// PrefixEnd returns the smallest key greater than every key starting with prefix,
// for use as an iterator upper bound. It returns nil when no such key exists.
func PrefixEnd(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
