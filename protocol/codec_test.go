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

package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/algorand/go-poet/test/partitiontest"
)

type TestStruct struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`
	A       int      `codec:"a"`
	B       string   `codec:"b"`
	C       []byte   `codec:"c"`
	M       map[string]uint64
}

func TestOmitEmpty(t *testing.T) {
	partitiontest.PartitionTest(t)

	var x TestStruct
	enc := Encode(&x)
	require.Equal(t, 1, len(enc))
}

func TestEncodeOrder(t *testing.T) {
	partitiontest.PartitionTest(t)

	var c struct {
		A int    `codec:"x"`
		B string `codec:"y"`
	}
	c.A = 1
	c.B = "foo"

	var d struct {
		A string `codec:"y"`
		B int    `codec:"x"`
	}
	d.B = 1
	d.A = "foo"

	require.Equal(t, Encode(&c), Encode(&d))
}

func TestCanonicalMapOrder(t *testing.T) {
	partitiontest.PartitionTest(t)

	a := TestStruct{M: map[string]uint64{}}
	b := TestStruct{M: map[string]uint64{}}
	keys := []string{"radix", "radish", "radon", "razzle", "rustic"}
	for i, k := range keys {
		a.M[k] = uint64(i)
	}
	for i := len(keys) - 1; i >= 0; i-- {
		b.M[keys[i]] = uint64(i)
	}
	require.Equal(t, Encode(&a), Encode(&b))
}

func TestDecodeRoundTrip(t *testing.T) {
	partitiontest.PartitionTest(t)

	x := TestStruct{A: 7, B: "poet", C: []byte{1, 2, 3}}
	var y TestStruct
	require.NoError(t, Decode(Encode(&x), &y))
	require.Equal(t, x.A, y.A)
	require.Equal(t, x.B, y.B)
	require.Equal(t, x.C, y.C)

	var z TestStruct
	require.NoError(t, DecodeStream(bytes.NewReader(Encode(&x)), &z))
	require.Equal(t, x.B, z.B)

	var j TestStruct
	require.NoError(t, DecodeJSON(EncodeJSON(&x), &j))
	require.Equal(t, x.A, j.A)
}

func TestDecodeUnknownField(t *testing.T) {
	partitiontest.PartitionTest(t)

	var x struct {
		A int `codec:"a"`
		Z int `codec:"z"`
	}
	x.A = 1
	x.Z = 2

	var y struct {
		A int `codec:"a"`
	}
	require.Error(t, Decode(Encode(&x), &y))
}
