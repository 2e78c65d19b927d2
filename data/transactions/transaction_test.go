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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/algorand/go-poet/test/partitiontest"
)

func TestComputeIDIgnoresID(t *testing.T) {
	partitiontest.PartitionTest(t)

	tx := Transaction{FamilyName: "intkey", Inputs: []string{"aa"}, Outputs: []string{"aa"}, Payload: []byte("x")}
	id := tx.ComputeID()
	tx.ID = "something"
	require.Equal(t, id, tx.ComputeID())

	tx.Payload = []byte("y")
	require.NotEqual(t, id, tx.ComputeID())
}

func TestMakeBatch(t *testing.T) {
	partitiontest.PartitionTest(t)

	b := MakeBatch(Transaction{Payload: []byte("1")}, Transaction{ID: "fixed", Payload: []byte("2")})
	require.Len(t, b.Transactions, 2)
	require.NotEmpty(t, b.Transactions[0].ID)
	require.Equal(t, "fixed", b.Transactions[1].ID)
	require.Equal(t, []string{b.Transactions[0].ID, "fixed"}, b.TxnIDs())

	again := MakeBatch(Transaction{Payload: []byte("1")}, Transaction{ID: "fixed", Payload: []byte("2")})
	require.Equal(t, b.ID, again.ID)
}
