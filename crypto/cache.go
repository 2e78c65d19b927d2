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

package crypto

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// VerifiedCache remembers signatures that have already verified, so repeated
// validation of the same certificate during fork resolution is cheap.
// Only successful verifications are remembered.
type VerifiedCache struct {
	entries *lru.Cache[Digest, struct{}]
}

// DefaultVerifiedCacheSize bounds the number of remembered signatures.
const DefaultVerifiedCacheSize = 4096

// MakeVerifiedCache returns a cache holding up to size verified signatures.
func MakeVerifiedCache(size int) (*VerifiedCache, error) {
	if size <= 0 {
		size = DefaultVerifiedCacheSize
	}
	entries, err := lru.New[Digest, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &VerifiedCache{entries: entries}, nil
}

func verifiedCacheKey(v SignatureVerifier, message []byte, sig Signature) Digest {
	buf := make([]byte, 0, len(v)+len(sig)+len(message))
	buf = append(buf, v[:]...)
	buf = append(buf, sig[:]...)
	buf = append(buf, message...)
	return Hash(buf)
}

// VerifyBytes checks the signature, consulting the cache first.
func (c *VerifiedCache) VerifyBytes(v SignatureVerifier, message []byte, sig Signature) bool {
	if c == nil {
		return v.VerifyBytes(message, sig)
	}
	key := verifiedCacheKey(v, message, sig)
	if c.entries.Contains(key) {
		return true
	}
	if !v.VerifyBytes(message, sig) {
		return false
	}
	c.entries.Add(key, struct{}{})
	return true
}

// Len returns the number of remembered signatures.
func (c *VerifiedCache) Len() int {
	return c.entries.Len()
}
