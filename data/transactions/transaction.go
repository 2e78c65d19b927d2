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

package transactions

import (
	"github.com/algorand/go-poet/crypto"
	"github.com/algorand/go-poet/protocol"
)

// Transaction is the unit of execution handed to the schedulers. Inputs and
// Outputs are the state addresses (or address prefixes) it may read and
// write; Dependencies name transactions that must be committed first.
type Transaction struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	// ID is the header signature identifying the transaction.
	ID string `codec:"id"`

	FamilyName   string   `codec:"family"`
	Inputs       []string `codec:"in"`
	Outputs      []string `codec:"out"`
	Dependencies []string `codec:"deps"`
	Payload      []byte   `codec:"payload"`
}

// ToBeHashed implements the crypto.Hashable interface. The ID is excluded.
func (tx Transaction) ToBeHashed() (protocol.HashID, []byte) {
	tx.ID = ""
	return protocol.Transaction, protocol.Encode(&tx)
}

// ComputeID returns the content-derived identifier for the transaction.
func (tx Transaction) ComputeID() string {
	return crypto.HashObj(tx).String()
}

// Batch is an ordered group of transactions that is valid or invalid as a whole.
type Batch struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	ID           string        `codec:"id"`
	Transactions []Transaction `codec:"txns"`
}

// TxnIDs returns the identifiers of the batch's transactions in order.
func (b Batch) TxnIDs() []string {
	ids := make([]string, len(b.Transactions))
	for i, txn := range b.Transactions {
		ids[i] = txn.ID
	}
	return ids
}

// MakeBatch assembles a batch whose identifier commits to its transactions.
func MakeBatch(txns ...Transaction) Batch {
	var ids []byte
	for i := range txns {
		if txns[i].ID == "" {
			txns[i].ID = txns[i].ComputeID()
		}
		ids = append(ids, txns[i].ID...)
	}
	return Batch{ID: crypto.Hash(ids).String(), Transactions: txns}
}
