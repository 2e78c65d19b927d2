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

	"github.com/algorand/go-poet/crypto"
	"github.com/algorand/go-poet/data/bookkeeping"
	"github.com/algorand/go-poet/protocol"
)

// SignupInfo binds a validator's identity to a PoET public key. Everything
// but SealedSignupData is published to the validator registry.
type SignupInfo struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	PoetPublicKey crypto.PublicKey `codec:"ppk"`
	ProofData     []byte           `codec:"proof"`
	AntiSybilID   string           `codec:"asid"`
	Nonce         string           `codec:"nonce"`

	// SealedSignupData holds the PoET private key, readable only by the
	// enclave that created it.
	SealedSignupData []byte `codec:"sealed"`
}

// Public returns the signup info without the sealed data.
func (s SignupInfo) Public() SignupInfo {
	s.SealedSignupData = nil
	return s
}

// BlockIDToNonce derives a signup nonce from the chain head the signup was
// created on, so that the signup can be shown to be recent.
func BlockIDToNonce(id bookkeeping.BlockID) string {
	if len(id) <= len(NullIdentifier) {
		return string(id)
	}
	return string(id[len(id)-len(NullIdentifier):])
}

// OriginatorHash is the hash of a validator identifier that signup proofs commit to.
func OriginatorHash(validatorID string) crypto.Digest {
	return crypto.Sha256([]byte(validatorID))
}

// CreateSignupInfo generates new PoET keys for validatorID on top of head.
func CreateSignupInfo(ctx *ConsensusContext, validatorID string, head bookkeeping.BlockID) (SignupInfo, error) {
	info, err := ctx.Enclave.CreateSignupInfo(OriginatorHash(validatorID), BlockIDToNonce(head))
	if err != nil {
		return SignupInfo{}, fmt.Errorf("enclave could not create signup info: %w", err)
	}
	return info, nil
}

// UnsealSignupData recovers the PoET public key of sealed signup data.
func UnsealSignupData(ctx *ConsensusContext, sealed []byte) (crypto.PublicKey, error) {
	if len(sealed) == 0 {
		return crypto.PublicKey{}, fmt.Errorf("%w: no sealed signup data", ErrInvalidArgument)
	}
	return ctx.Enclave.UnsealSignupData(sealed)
}

// signupRegistration is the registry entry as submitted, before it has a
// transaction identifier of its own.
type signupRegistration ValidatorInfo

func (r signupRegistration) ToBeHashed() (protocol.HashID, []byte) {
	r.TransactionID = ""
	return protocol.SignupInfo, protocol.Encode(&r)
}
