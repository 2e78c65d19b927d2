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
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/hdevalence/ed25519consensus"
)

// Seed holds the entropy needed to generate cryptographic keys.
type Seed [32]byte

// PublicKey is an exported ed25519PublicKey
type PublicKey [ed25519.PublicKeySize]byte

// Signature is a cryptographic signature. It commits to (and can be used to verify) both
// a message and the signing key.
type Signature [ed25519.SignatureSize]byte

// BlankSignature is an empty signature structure, containing nothing but zeroes
var BlankSignature = Signature{}

// SignatureVerifier is a public key used to verify signatures.
type SignatureVerifier = PublicKey

// String encodes the key in hex, which is how keys are exchanged in registry records.
func (pk PublicKey) String() string {
	return hex.EncodeToString(pk[:])
}

// PublicKeyFromString parses a hex-encoded public key.
func PublicKeyFromString(s string) (pk PublicKey, err error) {
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return pk, fmt.Errorf("could not decode public key %q: %w", s, err)
	}
	if len(decoded) != len(pk) {
		return pk, fmt.Errorf("public key %q has length %d, expected %d", s, len(decoded), len(pk))
	}
	copy(pk[:], decoded)
	return pk, nil
}

// String encodes the signature in hex.
func (s Signature) String() string {
	return hex.EncodeToString(s[:])
}

// SignatureSecrets are used by an entity to produce unforgeable signatures over
// a message.
type SignatureSecrets struct {
	SignatureVerifier
	SK ed25519.PrivateKey
}

// GenerateSignatureSecrets creates SignatureSecrets from a source of entropy.
func GenerateSignatureSecrets(seed Seed) *SignatureSecrets {
	sk := ed25519.NewKeyFromSeed(seed[:])
	var pk PublicKey
	copy(pk[:], sk.Public().(ed25519.PublicKey))
	return &SignatureSecrets{SignatureVerifier: pk, SK: sk}
}

// GenerateRandomSignatureSecrets draws a fresh seed and derives secrets from it.
func GenerateRandomSignatureSecrets() (*SignatureSecrets, Seed) {
	var seed Seed
	RandBytes(seed[:])
	return GenerateSignatureSecrets(seed), seed
}

// Sign produces a cryptographic Signature of a Hashable message, given
// cryptographic secrets.
func (s *SignatureSecrets) Sign(message Hashable) Signature {
	return s.SignBytes(HashRep(message))
}

// SignBytes signs a message directly, without first hashing.
// Caller is responsible for domain separation.
func (s *SignatureSecrets) SignBytes(message []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(s.SK, message))
	return sig
}

// Verify verifies that some signature is a valid cryptographic signature
// of a Hashable message.
func (v SignatureVerifier) Verify(message Hashable, sig Signature) bool {
	return v.VerifyBytes(HashRep(message), sig)
}

// VerifyBytes verifies a signature, where the message is not hashed first.
// Caller is responsible for domain separation.
func (v SignatureVerifier) VerifyBytes(message []byte, sig Signature) bool {
	return ed25519consensus.Verify(v[:], message, sig[:])
}
