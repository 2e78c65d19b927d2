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

package execution

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/algorand/go-poet/test/partitiontest"
)

type rwPreds struct {
	read  []int
	write []int
}

func ids(nums ...int) []string {
	out := make(map[string]struct{}, len(nums))
	for _, n := range nums {
		out[fmt.Sprint(n)] = struct{}{}
	}
	return sortedIDs(out)
}

func checkPreds(t *testing.T, tree *PredecessorTree, expected map[string]rwPreds) {
	t.Helper()
	for address, preds := range expected {
		require.Equal(t, ids(preds.read...), tree.FindReadPredecessors(address), "read predecessors of %q", address)
		require.Equal(t, ids(preds.write...), tree.FindWritePredecessors(address), "write predecessors of %q", address)
	}
}

func addReaders(tree *PredecessorTree, readers map[string]int) {
	for address, id := range readers {
		tree.AddReader(address, fmt.Sprint(id))
	}
}

func TestPredecessorTreeEvolution(t *testing.T) {
	partitiontest.PartitionTest(t)

	tree := MakePredecessorTree(1)

	addReaders(tree, map[string]int{"radix": 1, "radish": 2, "radon": 3, "razzle": 4, "rustic": 5})
	checkPreds(t, tree, map[string]rwPreds{
		"r":     {nil, []int{1, 2, 3, 4, 5}},
		"rad":   {nil, []int{1, 2, 3}},
		"radi":  {nil, []int{1, 2}},
		"radix": {nil, []int{1}},
	})

	addReaders(tree, map[string]int{"rad": 6, "rust": 7})
	checkPreds(t, tree, map[string]rwPreds{
		"ra": {nil, []int{1, 2, 3, 4, 6}},
		"ru": {nil, []int{5, 7}},
	})

	tree.SetWriter("radi", "8")
	_, _, ok := tree.Get("radix")
	require.False(t, ok)
	_, _, ok = tree.Get("radish")
	require.False(t, ok)
	checkPreds(t, tree, map[string]rwPreds{
		"rad":     {[]int{8}, []int{3, 6, 8}},
		"radi":    {[]int{8}, []int{6, 8}},
		"radical": {[]int{8}, []int{6, 8}},
	})

	addReaders(tree, map[string]int{"rad": 9, "radi": 10, "radio": 11, "radon": 12, "rust": 13})
	readers, writer, ok := tree.Get("radi")
	require.True(t, ok)
	require.Equal(t, []string{"10"}, readers)
	require.Equal(t, "8", writer)
	checkPreds(t, tree, map[string]rwPreds{
		"rad": {[]int{8}, []int{3, 6, 8, 9, 10, 11, 12}},
		"ru":  {nil, []int{5, 7, 13}},
	})

	tree.SetWriter("", "14")
	checkPreds(t, tree, map[string]rwPreds{
		"":       {[]int{14}, []int{14}},
		"rad":    {[]int{14}, []int{14}},
		"rustic": {[]int{14}, []int{14}},
	})
}

func TestPredecessorTreeWriterSubsumesDescendants(t *testing.T) {
	partitiontest.PartitionTest(t)

	hexAddress := rapid.StringMatching(`([0-9a-f]{2}){1,6}`)
	rapid.Check(t, func(t1 *rapid.T) {
		tree := MakePredecessorTree(2)

		// arbitrary prior history
		history := rapid.SliceOfN(hexAddress, 0, 20).Draw(t1, "history")
		for i, address := range history {
			if rapid.Bool().Draw(t1, fmt.Sprintf("write%d", i)) {
				tree.SetWriter(address, fmt.Sprintf("h%d", i))
			} else {
				tree.AddReader(address, fmt.Sprintf("h%d", i))
			}
		}

		a := hexAddress.Draw(t1, "a")
		suffix := rapid.StringMatching(`([0-9a-f]{2}){0,4}`).Draw(t1, "suffix")
		tree.SetWriter(a, "w")

		preds := tree.FindReadPredecessors(a + suffix)
		if len(preds) != 1 || preds[0] != "w" {
			t1.Fatalf("read predecessors of %s under writer at %s: %v", a+suffix, a, preds)
		}
	})
}

func TestPredecessorTreeNearestWriterOnly(t *testing.T) {
	partitiontest.PartitionTest(t)

	tree := MakePredecessorTree(1)
	tree.SetWriter("r", "1")
	require.Equal(t, []string{"1"}, tree.FindWritePredecessors("rad"))
	tree.SetWriter("rad", "2")

	// 1 is ordered before 2 already, so a read below rad follows 2 alone
	require.Equal(t, []string{"2"}, tree.FindReadPredecessors("radix"))
	require.Equal(t, []string{"2"}, tree.FindWritePredecessors("radix"))
	require.Equal(t, []string{"1", "2"}, tree.FindReadPredecessors("ra"))
}
