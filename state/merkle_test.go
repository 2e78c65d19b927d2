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

package state

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/algorand/go-poet/crypto"
	"github.com/algorand/go-poet/test/partitiontest"
	"github.com/algorand/go-poet/util/kvstore"
)

func makeTestDatabase(t *testing.T) *MerkleDatabase {
	store, err := kvstore.NewKVStore("memory", "state", true)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	db, err := MakeMerkleDatabase(store)
	require.NoError(t, err)
	return db
}

func testAddress(name string) string {
	return MakeAddress("1cf126", name)
}

func TestMerkleSetGet(t *testing.T) {
	partitiontest.PartitionTest(t)

	db := makeTestDatabase(t)
	root := db.EmptyRoot()

	_, err := db.Get(root, testAddress("a"))
	require.ErrorAs(t, err, &KeyNotFoundError{})

	root1, err := db.Update(root, map[string][]byte{
		testAddress("a"): []byte("1"),
		testAddress("b"): []byte("2"),
	}, nil, false)
	require.NoError(t, err)
	require.NotEqual(t, root, root1)

	v, err := db.Get(root1, testAddress("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)

	// old roots stay readable
	_, err = db.Get(root, testAddress("a"))
	require.ErrorAs(t, err, &KeyNotFoundError{})
	require.True(t, db.Contains(root))
}

func TestMerkleRootIsOrderIndependent(t *testing.T) {
	partitiontest.PartitionTest(t)

	db := makeTestDatabase(t)
	a, b := testAddress("a"), testAddress("b")

	r1, err := db.Update(db.EmptyRoot(), map[string][]byte{a: []byte("1")}, nil, false)
	require.NoError(t, err)
	r1, err = db.Update(r1, map[string][]byte{b: []byte("2")}, nil, false)
	require.NoError(t, err)

	r2, err := db.Update(db.EmptyRoot(), map[string][]byte{b: []byte("2"), a: []byte("1")}, nil, false)
	require.NoError(t, err)
	require.Equal(t, r1, r2)
}

func TestMerkleDeletePrunes(t *testing.T) {
	partitiontest.PartitionTest(t)

	db := makeTestDatabase(t)
	a, b := testAddress("a"), testAddress("b")

	onlyA, err := db.Update(db.EmptyRoot(), map[string][]byte{a: []byte("1")}, nil, false)
	require.NoError(t, err)
	both, err := db.Update(onlyA, map[string][]byte{b: []byte("2")}, nil, false)
	require.NoError(t, err)

	back, err := db.Update(both, nil, []string{b}, false)
	require.NoError(t, err)
	require.Equal(t, onlyA, back)

	empty, err := db.Update(back, nil, []string{a}, false)
	require.NoError(t, err)
	require.Equal(t, db.EmptyRoot(), empty)

	_, err = db.Update(empty, nil, []string{a}, false)
	require.ErrorAs(t, err, &KeyNotFoundError{})
}

func TestMerkleVirtualUpdate(t *testing.T) {
	partitiontest.PartitionTest(t)

	db := makeTestDatabase(t)
	set := map[string][]byte{testAddress("v"): []byte("x")}

	virtual, err := db.Update(db.EmptyRoot(), set, nil, true)
	require.NoError(t, err)
	require.False(t, db.Contains(virtual))

	persisted, err := db.Update(db.EmptyRoot(), set, nil, false)
	require.NoError(t, err)
	require.Equal(t, virtual, persisted)
	require.True(t, db.Contains(persisted))
}

func TestMerkleLeavesAndValidation(t *testing.T) {
	partitiontest.PartitionTest(t)

	db := makeTestDatabase(t)
	set := make(map[string][]byte)
	for i := 0; i < 10; i++ {
		set[testAddress(fmt.Sprint(i))] = []byte{byte(i)}
	}
	other := MakeAddress("ab", "other")
	set[other] = []byte("o")

	root, err := db.Update(db.EmptyRoot(), set, nil, false)
	require.NoError(t, err)

	leaves, err := db.Leaves(root, "1cf126")
	require.NoError(t, err)
	require.Len(t, leaves, 10)
	require.NotContains(t, leaves, other)

	all, err := db.Leaves(root, "")
	require.NoError(t, err)
	require.Equal(t, set, all)

	_, err = db.Update(root, map[string][]byte{"xyz": nil}, nil, false)
	require.ErrorAs(t, err, &InvalidAddressError{})

	_, err = db.Get(crypto.Hash([]byte("nope")), other)
	require.ErrorIs(t, err, ErrUnknownRoot)
}
