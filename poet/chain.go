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

	"github.com/algorand/go-poet/data/bookkeeping"
)

// BlockCache resolves blocks of the chain consensus decisions are made on.
type BlockCache interface {
	Block(id bookkeeping.BlockID) (bookkeeping.Block, error)
	// BlockByTransactionID returns the committed block containing a transaction.
	BlockByTransactionID(txnID string) (bookkeeping.Block, error)
}

// CertificateOf returns the wait certificate carried by a block.
func CertificateOf(block bookkeeping.Block) (WaitCertificate, bool) {
	if len(block.Consensus) == 0 {
		return WaitCertificate{}, false
	}
	cert, err := DecodeWaitCertificate(block.Consensus)
	if err != nil {
		return WaitCertificate{}, false
	}
	return cert, true
}

// CertificateHistory collects the certificates of up to n blocks ending at
// head, oldest first. The walk stops at the first block without a
// certificate.
func CertificateHistory(blocks BlockCache, head bookkeeping.BlockID, n int) ([]WaitCertificate, error) {
	history := make([]WaitCertificate, 0, n)
	id := head
	for len(history) < n && !id.IsGenesisParent() {
		block, err := blocks.Block(id)
		if err != nil {
			return nil, fmt.Errorf("walking certificate history at %s: %w", id.Short(), err)
		}
		cert, ok := CertificateOf(block)
		if !ok {
			break
		}
		history = append(history, cert)
		id = block.PreviousBlockID
	}
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	return history, nil
}
