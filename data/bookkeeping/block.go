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

package bookkeeping

import (
	"fmt"

	"github.com/algorand/go-poet/crypto"
	"github.com/algorand/go-poet/protocol"
)

// BlockID identifies a block. It is the hex digest of the block's header signature.
type BlockID string

// NullBlockID is the previous block identifier of the genesis block.
const NullBlockID BlockID = "0000000000000000"

// IsGenesisParent reports whether id is the parent of the genesis block.
func (id BlockID) IsGenesisParent() bool {
	return id == NullBlockID || id == ""
}

// Short returns a prefix of the identifier for log messages.
func (id BlockID) Short() string {
	if len(id) <= 8 {
		return string(id)
	}
	return string(id[:8])
}

// BlockHeader carries the consensus-relevant fields of a block.
type BlockHeader struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	BlockNum        uint64           `codec:"num"`
	PreviousBlockID BlockID          `codec:"prev"`
	SignerPublicKey crypto.PublicKey `codec:"signer"`
	TransactionIDs  []string         `codec:"txns"`
	StateRootHash   crypto.Digest    `codec:"state"`

	// Consensus holds the engine-specific proof, for PoET the encoded wait certificate.
	Consensus []byte `codec:"consensus"`
}

// ToBeHashed implements the crypto.Hashable interface
func (bh BlockHeader) ToBeHashed() (protocol.HashID, []byte) {
	return protocol.BlockHeader, protocol.Encode(&bh)
}

// Block is a signed block header.
type Block struct {
	BlockHeader

	HeaderSignature crypto.Signature `codec:"sig"`
}

// SignBlock signs the header with the validator's identity key.
func SignBlock(header BlockHeader, secrets *crypto.SignatureSecrets) Block {
	header.SignerPublicKey = secrets.SignatureVerifier
	return Block{
		BlockHeader:     header,
		HeaderSignature: secrets.Sign(header),
	}
}

// ID returns the block identifier derived from the header signature.
func (b Block) ID() BlockID {
	return BlockID(crypto.Hash(b.HeaderSignature[:]).String())
}

// VerifySignature checks the header signature against the signer's key.
func (b Block) VerifySignature() bool {
	return b.SignerPublicKey.Verify(b.BlockHeader, b.HeaderSignature)
}

// IsGenesis reports whether the block is the first block of the chain.
func (b Block) IsGenesis() bool {
	return b.PreviousBlockID.IsGenesisParent()
}

func (b Block) String() string {
	return fmt.Sprintf("Block(id: %s, num: %d, previous: %s, signer: %s)",
		b.ID().Short(), b.BlockNum, b.PreviousBlockID.Short(), b.SignerPublicKey.String()[:8])
}

// BlockDigest summarizes a candidate block: the previous block identifier
// followed by its transaction identifiers, hashed with SHA-256.
func BlockDigest(previous BlockID, transactionIDs []string) crypto.Digest {
	parts := make([][]byte, 0, len(transactionIDs)+1)
	parts = append(parts, []byte(previous))
	for _, id := range transactionIDs {
		parts = append(parts, []byte(id))
	}
	return crypto.Sha256(parts...)
}

// Digest returns the block's summary digest.
func (b Block) Digest() crypto.Digest {
	return BlockDigest(b.PreviousBlockID, b.TransactionIDs)
}
