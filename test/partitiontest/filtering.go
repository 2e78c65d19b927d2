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

// Package partitiontest splits the test suite across CI runners.
package partitiontest

import (
	"hash/fnv"
	"os"
	"strconv"
	"testing"
)

// PartitionTest checks if the current partition should run this test, and skips it if not.
// PARTITION_TOTAL and PARTITION_ID select the partition; when unset every test runs.
func PartitionTest(t testing.TB) {
	pt, found := os.LookupEnv("PARTITION_TOTAL")
	if !found {
		return
	}
	partitions, err := strconv.Atoi(pt)
	if err != nil || partitions < 2 {
		return
	}
	pid := os.Getenv("PARTITION_ID")
	partitionID, err := strconv.Atoi(pid)
	if err != nil {
		return
	}
	name := t.Name()
	hasher := fnv.New32a()
	hasher.Write([]byte(name))
	if hasher.Sum32()%uint32(partitions) != uint32(partitionID) {
		t.Skipf("test %s belongs to a different partition", name)
	}
}
