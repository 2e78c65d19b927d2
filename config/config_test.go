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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/algorand/go-poet/test/partitiontest"
)

func TestLoadMissingConfig(t *testing.T) {
	partitiontest.PartitionTest(t)

	c, err := LoadConfigFromDisk(t.TempDir())
	require.True(t, os.IsNotExist(err))
	require.Equal(t, GetDefaultLocal(), c)
}

func TestSaveThenLoad(t *testing.T) {
	partitiontest.PartitionTest(t)

	dir := t.TempDir()
	c := GetDefaultLocal()
	c.TargetWaitTime = 5
	c.SchedulerType = "serial"
	c.FinalizeRetryDelay = 10 * time.Millisecond
	require.NoError(t, c.SaveToDisk(dir))

	raw, err := os.ReadFile(filepath.Join(dir, ConfigFilename))
	require.NoError(t, err)
	require.Contains(t, string(raw), "TargetWaitTime")
	require.Contains(t, string(raw), "Version")
	require.NotContains(t, string(raw), "InitialWaitTime")

	loaded, err := LoadConfigFromDisk(dir)
	require.NoError(t, err)
	require.Equal(t, c, loaded)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	partitiontest.PartitionTest(t)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFilename), []byte(`{"NoSuchSetting": 1}`), 0644))
	_, err := LoadConfigFromDisk(dir)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	partitiontest.PartitionTest(t)

	c := GetDefaultLocal()
	require.NoError(t, c.Validate())
	require.Equal(t, c.PopulationEstimateSampleSize, c.FixedDuration())

	c.FixedDurationBlocks = 7
	require.Equal(t, 7, c.FixedDuration())

	c.SchedulerType = "fifo"
	require.Error(t, c.Validate())

	c = GetDefaultLocal()
	c.PopulationEstimateSampleSize = 0
	require.Error(t, c.Validate())

	c = GetDefaultLocal()
	c.TargetWaitTime = 0
	require.Error(t, c.Validate())
}
