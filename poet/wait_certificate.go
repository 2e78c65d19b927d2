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
	"math"

	"github.com/algorand/go-poet/crypto"
	"github.com/algorand/go-poet/protocol"
)

// localMeanTolerance is the absolute difference allowed between a
// certificate's local mean and the one recomputed from history.
const localMeanTolerance = 1e-3

// identifierLength is the length of a certificate identifier in hex digits.
const identifierLength = len(NullIdentifier)

// WaitCertificate proves that a wait timer expired before its validator
// claimed the block with digest BlockHash.
type WaitCertificate struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	ValidatorAddress      string        `codec:"addr"`
	PreviousCertificateID string        `codec:"prev"`
	LocalMean             float64       `codec:"mean"`
	RequestTime           float64       `codec:"req"`
	Duration              float64       `codec:"dur"`
	BlockHash             crypto.Digest `codec:"block"`
	Nonce                 string        `codec:"nonce"`

	Signature crypto.Signature `codec:"sig"`
}

// SigningBytes is the canonical encoding of every field but the signature.
func (c WaitCertificate) SigningBytes() []byte {
	c.Signature = crypto.Signature{}
	return protocol.Encode(&c)
}

// ToBeHashed implements the crypto.Hashable interface.
func (c WaitCertificate) ToBeHashed() (protocol.HashID, []byte) {
	return protocol.WaitCertificate, c.SigningBytes()
}

// Encode serializes the certificate for a block's consensus field.
func (c WaitCertificate) Encode() []byte {
	return protocol.Encode(&c)
}

// DecodeWaitCertificate parses the consensus field of a block.
func DecodeWaitCertificate(b []byte) (WaitCertificate, error) {
	var c WaitCertificate
	if len(b) == 0 {
		return c, fmt.Errorf("%w: empty wait certificate", ErrInvalidArgument)
	}
	if err := protocol.Decode(b, &c); err != nil {
		return c, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return c, nil
}

// Identifier is derived from the signature.
func (c WaitCertificate) Identifier() string {
	return crypto.Hash(c.Signature[:]).String()[:identifierLength]
}

// PopulationEstimate is the population estimate the certificate's local mean implies.
func (c WaitCertificate) PopulationEstimate(s Settings) float64 {
	return c.LocalMean / s.TargetWaitTime
}

// CreateWaitCertificate turns an expired timer into a certificate for the
// block with the given digest.
func CreateWaitCertificate(ctx *ConsensusContext, sealedSignupData []byte, timer WaitTimer, blockDigest crypto.Digest) (WaitCertificate, error) {
	if !timer.IsExpired(ctx.Clock.Now()) {
		return WaitCertificate{}, fmt.Errorf("%w: wait timer expires at %v", ErrInvalidState, timer.Expires())
	}
	cert, err := ctx.Enclave.CreateWaitCertificate(sealedSignupData, timer, blockDigest)
	if err != nil {
		return WaitCertificate{}, fmt.Errorf("enclave could not create wait certificate: %w", err)
	}
	return cert, nil
}

// IsValid checks the certificate against the certificates of the blocks
// before it, oldest first, and the claiming validator's PoET key.
func (c WaitCertificate) IsValid(ctx *ConsensusContext, history []WaitCertificate, poetPublicKey crypto.PublicKey) bool {
	if !(c.Duration >= ctx.Settings.MinimumWaitTime) {
		ctx.Log.Infof("Wait time less than minimum: %f < %f", c.Duration, ctx.Settings.MinimumWaitTime)
		return false
	}

	expected, err := LocalMean(ctx.Settings, history)
	if err != nil {
		ctx.Log.Infof("Cannot recompute local mean: %v", err)
		return false
	}
	if math.IsNaN(c.LocalMean) || math.Abs(c.LocalMean-expected) > localMeanTolerance {
		ctx.Log.Infof("Local mean does not match: %f != %f", c.LocalMean, expected)
		return false
	}

	previous := NullIdentifier
	if len(history) > 0 {
		previous = history[len(history)-1].Identifier()
	}
	if c.PreviousCertificateID != previous {
		ctx.Log.Infof("Previous certificate ID does not match: %s != %s", c.PreviousCertificateID, previous)
		return false
	}

	if !ctx.Enclave.VerifyWaitCertificate(c, poetPublicKey) {
		ctx.Log.Infof("Wait certificate %s signature does not verify", c.Identifier())
		return false
	}
	return true
}

func (c WaitCertificate) String() string {
	return fmt.Sprintf("CERT, %.2f, %.2f, %s, %s", c.LocalMean, c.Duration, c.Identifier(), c.PreviousCertificateID)
}
