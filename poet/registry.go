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
	"sort"

	"github.com/algorand/go-deadlock"
)

// ValidatorInfo is a validator registry entry.
type ValidatorInfo struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	// ID is the hex encoded public key the validator signs blocks with.
	ID         string     `codec:"id"`
	Name       string     `codec:"name"`
	SignupInfo SignupInfo `codec:"signup"`
	// TransactionID is the registration transaction that committed the entry.
	TransactionID string `codec:"txn"`
}

// ValidatorRegistry tracks the validators allowed to claim blocks and the
// PoET key each one currently uses. At most one validator is registered per
// anti-Sybil identifier.
type ValidatorRegistry struct {
	mu         deadlock.RWMutex
	validators map[string]ValidatorInfo
}

// MakeValidatorRegistry creates an empty registry.
func MakeValidatorRegistry() *ValidatorRegistry {
	return &ValidatorRegistry{validators: make(map[string]ValidatorInfo)}
}

// Register verifies the signup proof and adds or replaces the validator.
// A validator previously registered with the same anti-Sybil identifier is
// removed.
func (r *ValidatorRegistry) Register(ctx *ConsensusContext, info ValidatorInfo) error {
	if info.ID == "" {
		return fmt.Errorf("%w: validator without id", ErrInvalidArgument)
	}
	info.SignupInfo = info.SignupInfo.Public()
	if err := ctx.Enclave.VerifySignupInfo(info.SignupInfo, OriginatorHash(info.ID)); err != nil {
		return fmt.Errorf("invalid signup info for validator %s: %w", info.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, existing := range r.validators {
		if id != info.ID && existing.SignupInfo.AntiSybilID == info.SignupInfo.AntiSybilID {
			ctx.Log.Infof("Validator %s replaces %s with the same anti-Sybil ID", info.Name, existing.Name)
			delete(r.validators, id)
		}
	}
	r.validators[info.ID] = info
	ctx.Log.Infof("Validator %s (ID=%s...) registered with PoET key %s...",
		info.Name, shortID(info.ID), shortID(info.SignupInfo.PoetPublicKey.String()))
	return nil
}

// Get returns the registry entry of a validator.
func (r *ValidatorRegistry) Get(id string) (ValidatorInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.validators[id]
	return info, ok
}

// Unregister removes a validator.
func (r *ValidatorRegistry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.validators, id)
}

// Count returns the number of registered validators.
func (r *ValidatorRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.validators)
}

// Validators returns the registered validator ids in order.
func (r *ValidatorRegistry) Validators() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.validators))
	for id := range r.validators {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
