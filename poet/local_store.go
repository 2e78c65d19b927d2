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

	"github.com/algorand/go-poet/crypto"
	"github.com/algorand/go-poet/protocol"
	"github.com/algorand/go-poet/util/kvstore"
)

var (
	keyStatePrefix  = []byte("poet/key/")
	statisticPrefix = []byte("poet/stats/")
	activeKeyKey    = []byte("poet/active")
)

// PoetKeyState is what a validator remembers about one of its PoET keys.
type PoetKeyState struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	SealedSignupData []byte `codec:"sealed"`
	// HasBeenRefreshed is set once the key reached its claim limit and a
	// replacement signup was submitted.
	HasBeenRefreshed bool   `codec:"refreshed"`
	SignupNonce      string `codec:"nonce"`
}

// ValidatorStatistics counts the blocks a validator claimed with a key.
type ValidatorStatistics struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	PoetPublicKey     crypto.PublicKey `codec:"ppk"`
	ClaimedBlockCount uint64           `codec:"claimed"`
}

// LocalStore persists a validator's PoET keys and claim statistics across
// restarts. Callers must Sync before acting on a claim decision.
type LocalStore struct {
	mu deadlock.Mutex
	kv kvstore.KVStore
}

// MakeLocalStore wraps kv.
func MakeLocalStore(kv kvstore.KVStore) *LocalStore {
	return &LocalStore{kv: kv}
}

func prefixed(prefix []byte, key string) []byte {
	return append(append([]byte{}, prefix...), key...)
}

func (s *LocalStore) get(key []byte, obj interface{}) (bool, error) {
	raw, err := s.kv.Get(key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := protocol.Decode(raw, obj); err != nil {
		return false, fmt.Errorf("corrupt local store entry %q: %w", key, err)
	}
	return true, nil
}

// KeyState returns the state of a PoET key.
func (s *LocalStore) KeyState(poetPublicKey crypto.PublicKey) (PoetKeyState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st PoetKeyState
	ok, err := s.get(prefixed(keyStatePrefix, poetPublicKey.String()), &st)
	return st, ok, err
}

// SetKeyState records the state of a PoET key.
func (s *LocalStore) SetKeyState(poetPublicKey crypto.PublicKey, st PoetKeyState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Set(prefixed(keyStatePrefix, poetPublicKey.String()), protocol.Encode(&st))
}

// DeleteKeyState forgets a PoET key.
func (s *LocalStore) DeleteKeyState(poetPublicKey crypto.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Delete(prefixed(keyStatePrefix, poetPublicKey.String()))
}

// SealedSignupData returns the sealed data of a PoET key.
func (s *LocalStore) SealedSignupData(poetPublicKey crypto.PublicKey) ([]byte, bool, error) {
	st, ok, err := s.KeyState(poetPublicKey)
	return st.SealedSignupData, ok, err
}

// SetSealedSignupData records a freshly created PoET key.
func (s *LocalStore) SetSealedSignupData(poetPublicKey crypto.PublicKey, sealed []byte, nonce string) error {
	return s.SetKeyState(poetPublicKey, PoetKeyState{SealedSignupData: sealed, SignupNonce: nonce})
}

// PoetKeys lists every PoET key with a recorded state.
func (s *LocalStore) PoetKeys() ([]crypto.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.kv.NewIterator(keyStatePrefix, kvstore.PrefixEnd(keyStatePrefix))
	defer it.Close()
	var keys []crypto.PublicKey
	for ; it.Valid(); it.Next() {
		pk, err := crypto.PublicKeyFromString(string(it.Key()[len(keyStatePrefix):]))
		if err != nil {
			return nil, err
		}
		keys = append(keys, pk)
	}
	return keys, nil
}

// ActiveKey returns the PoET key the validator currently claims blocks with.
func (s *LocalStore) ActiveKey() (crypto.PublicKey, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pk crypto.PublicKey
	raw, err := s.kv.Get(activeKeyKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		return pk, false, nil
	}
	if err != nil {
		return pk, false, err
	}
	if len(raw) != len(pk) {
		return pk, false, fmt.Errorf("corrupt active key of length %d", len(raw))
	}
	copy(pk[:], raw)
	return pk, true, nil
}

// SetActiveKey selects the PoET key used for claims.
func (s *LocalStore) SetActiveKey(poetPublicKey crypto.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Set(activeKeyKey, poetPublicKey[:])
}

// ClearActiveKey forgets the active key.
func (s *LocalStore) ClearActiveKey() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Delete(activeKeyKey)
}

// ValidatorStatistics returns the claim statistics of a validator.
func (s *LocalStore) ValidatorStatistics(validatorID string) (ValidatorStatistics, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats ValidatorStatistics
	ok, err := s.get(prefixed(statisticPrefix, validatorID), &stats)
	return stats, ok, err
}

// SetValidatorStatistics records the claim statistics of a validator.
func (s *LocalStore) SetValidatorStatistics(validatorID string, stats ValidatorStatistics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Set(prefixed(statisticPrefix, validatorID), protocol.Encode(&stats))
}

// Sync makes every write so far durable.
func (s *LocalStore) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Sync()
}
