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

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/algorand/go-poet/test/partitiontest"
)

func isJSON(s string) bool {
	var js map[string]interface{}
	return json.Unmarshal([]byte(s), &js) == nil
}

func TestFileOutputNewLogger(t *testing.T) {
	partitiontest.PartitionTest(t)
	a := require.New(t)

	var bufNewLogger bytes.Buffer

	nl := NewLogger()
	nl.SetOutput(&bufNewLogger)

	nl.Info("Should show up in New logger but not in BaseLogger")

	a.Contains(bufNewLogger.String(), "Should show up in New logger but not in BaseLogger")
}

func TestSetGetLevel(t *testing.T) {
	partitiontest.PartitionTest(t)

	nl := NewLogger()
	require.Equal(t, Info, nl.GetLevel())
	nl.SetLevel(Error)
	require.Equal(t, Error, nl.GetLevel())
	require.True(t, nl.IsLevelEnabled(Error))
	require.False(t, nl.IsLevelEnabled(Warn))
}

func TestSetLevelNewLogger(t *testing.T) {
	partitiontest.PartitionTest(t)
	a := require.New(t)

	var bufNewLogger bytes.Buffer

	nl := NewLogger()
	nl.SetOutput(&bufNewLogger)

	nl.Debug("ABC Should not show up")
	nl.Info("CDF Should show up")
	nl.Warn("GHI Should show up")

	a.NotContains(bufNewLogger.String(), "ABC Should not show up")
	a.Contains(bufNewLogger.String(), "CDF Should show up")
	a.Contains(bufNewLogger.String(), "GHI Should show up")
}

func TestWithFieldsNewLogger(t *testing.T) {
	partitiontest.PartitionTest(t)
	a := require.New(t)

	var bufNewLogger bytes.Buffer

	nl := NewLogger()
	nl.SetOutput(&bufNewLogger)

	nl.WithFields(Fields{"1": 4, "2": "testNew"}).Info("ABCDEFG")
	a.Regexp("level=info msg=ABCDEFG 1=4 2=testNew file=log_test.go function=github.com/algorand/go-poet/logging.TestWithFieldsNewLogger line=\\d+", bufNewLogger.String())

	bufNewLogger.Reset()
	nl.With("block", "b1").Warn("switching")
	a.Contains(bufNewLogger.String(), "block=b1")
}

func TestSetJSONFormatter(t *testing.T) {
	partitiontest.PartitionTest(t)
	a := require.New(t)

	var bufNewLogger bytes.Buffer

	nl := NewLogger()
	nl.SetOutput(&bufNewLogger)
	nl.SetJSONFormatter()
	nl.WithFields(Fields{"1": 4, "2": "testNew"}).Info("ABCDEFG")
	a.True(isJSON(bufNewLogger.String()))
}

func TestFatalExitHandler(t *testing.T) {
	partitiontest.PartitionTest(t)

	nl := TestingLogWithoutFatalExit(t)

	var flag atomic.Bool
	RegisterExitHandler(func() {
		flag.Store(true)
	})
	nl.Fatal("OH NO")

	require.True(t, flag.Load())
}

func TestCyclicWriterArchives(t *testing.T) {
	partitiontest.PartitionTest(t)

	dir := t.TempDir()
	live := filepath.Join(dir, "node.log")
	archive := filepath.Join(dir, "node.archive.log")

	w, err := MakeCyclicFileWriter(live, archive, 16)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte("0123456789"))
	require.NoError(t, err)
	_, err = w.Write([]byte("abcdefghij"))
	require.NoError(t, err)

	archived, err := os.ReadFile(archive)
	require.NoError(t, err)
	require.Equal(t, "0123456789", string(archived))

	current, err := os.ReadFile(live)
	require.NoError(t, err)
	require.Equal(t, "abcdefghij", string(current))

	_, err = w.Write([]byte(strings.Repeat("x", 17)))
	require.Error(t, err)
}
