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
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
)

// DigestSize is the number of bytes in the preferred hash Digest used here.
const DigestSize = sha512.Size256

// Digest represents a 32-byte value holding the 256-bit Hash digest.
type Digest [DigestSize]byte

// String returns the digest in a human-readable hex encoding.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// ToSlice converts Digest to slice, is used by the state trie.
func (d Digest) ToSlice() []byte {
	return d[:]
}

// IsZero return true if the digest contains only zeros, false otherwise
func (d Digest) IsZero() bool {
	return d == Digest{}
}

var errDigestLength = errors.New("decoded digest has the wrong length")

// DigestFromString converts a string to a Digest
func DigestFromString(str string) (d Digest, err error) {
	decoded, err := hex.DecodeString(str)
	if err != nil {
		return d, fmt.Errorf("could not decode digest %q: %w", str, err)
	}
	if len(decoded) != len(d) {
		return d, errDigestLength
	}
	copy(d[:], decoded)
	return d, nil
}

// Hash computes the SHASum512_256 hash of an array of bytes
func Hash(data []byte) Digest {
	return sha512.Sum512_256(data)
}

// Sha256 computes the SHA-256 hash of the concatenation of its arguments.
// Block digests over transaction identifiers use it.
func Sha256(parts ...[]byte) Digest {
	h := sha256.New()
	for _, part := range parts {
		h.Write(part)
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}
