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
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/algorand/go-poet/config"
	"github.com/algorand/go-poet/test/partitiontest"
)

func testSettings() Settings {
	s := MakeSettings(config.GetDefaultLocal())
	s.PopulationEstimateSampleSize = 10
	s.FixedDurationBlocks = 10
	return s
}

// uniformHistory returns n certificates whose wait beyond the minimum equals
// their local mean, as if the network had a population of one.
func uniformHistory(s Settings, n int, mean float64) []WaitCertificate {
	certs := make([]WaitCertificate, n)
	for i := range certs {
		certs[i] = WaitCertificate{LocalMean: mean, Duration: s.MinimumWaitTime + mean}
	}
	return certs
}

func TestMakeSettingsFixedDuration(t *testing.T) {
	partitiontest.PartitionTest(t)

	cfg := config.GetDefaultLocal()
	s := MakeSettings(cfg)
	require.Equal(t, cfg.PopulationEstimateSampleSize, s.FixedDurationBlocks)
	require.Equal(t, cfg.PopulationEstimateSampleSize, s.HistoryLength())

	cfg.FixedDurationBlocks = 3 * cfg.PopulationEstimateSampleSize
	s = MakeSettings(cfg)
	require.Equal(t, cfg.FixedDurationBlocks, s.FixedDurationBlocks)
	require.Equal(t, cfg.FixedDurationBlocks, s.HistoryLength())
}

func TestLocalMeanRamp(t *testing.T) {
	partitiontest.PartitionTest(t)

	s := testSettings()
	mean, err := LocalMean(s, nil)
	require.NoError(t, err)
	require.Equal(t, s.TargetWaitTime, mean)

	mean, err = LocalMean(s, uniformHistory(s, 5, 1))
	require.NoError(t, err)
	require.InDelta(t, s.TargetWaitTime*0.75+s.InitialWaitTime*0.25, mean, 1e-9)

	mean, err = LocalMean(s, uniformHistory(s, s.FixedDurationBlocks-1, 1))
	require.NoError(t, err)
	r := float64(s.FixedDurationBlocks-1) / float64(s.FixedDurationBlocks)
	require.InDelta(t, s.TargetWaitTime*(1-r*r)+s.InitialWaitTime*r*r, mean, 1e-9)
}

func TestLocalMeanAtFixedDuration(t *testing.T) {
	partitiontest.PartitionTest(t)

	s := testSettings()
	history := uniformHistory(s, s.FixedDurationBlocks, s.TargetWaitTime)

	mean, err := LocalMean(s, history)
	require.NoError(t, err)
	require.InDelta(t, s.TargetWaitTime, mean, 1e-9)

	// With equal initial and target waits the ramp ends where the
	// population estimate begins.
	s.InitialWaitTime = s.TargetWaitTime
	ramp, err := LocalMean(s, history[:len(history)-1])
	require.NoError(t, err)
	require.InDelta(t, s.TargetWaitTime, ramp, 1e-9)
	mean, err = LocalMean(s, history)
	require.NoError(t, err)
	require.InDelta(t, ramp, mean, 1e-9)
}

func TestLocalMeanContinuity(t *testing.T) {
	partitiontest.PartitionTest(t)

	rapid.Check(t, func(t1 *rapid.T) {
		s := testSettings()
		s.FixedDurationBlocks = rapid.IntRange(1, 60).Draw(t1, "fixed")
		s.PopulationEstimateSampleSize = rapid.IntRange(1, 60).Draw(t1, "sample")
		s.TargetWaitTime = rapid.Float64Range(0.5, 100).Draw(t1, "target")
		s.MinimumWaitTime = rapid.Float64Range(0, 5).Draw(t1, "minimum")
		s.InitialWaitTime = s.TargetWaitTime

		history := uniformHistory(s, s.FixedDurationBlocks, rapid.Float64Range(0.5, 100).Draw(t1, "mean"))
		mean, err := LocalMean(s, history)
		require.NoError(t1, err)
		require.InDelta(t1, s.TargetWaitTime, mean, 1e-6)
	})
}

func TestPopulationEstimate(t *testing.T) {
	partitiontest.PartitionTest(t)

	s := testSettings()
	_, err := PopulationEstimate(s, nil)
	require.ErrorIs(t, err, ErrInvalidState)

	// Four validators draw waits a quarter as long as their local mean.
	history := make([]WaitCertificate, 2*s.PopulationEstimateSampleSize)
	for i := range history {
		history[i] = WaitCertificate{LocalMean: 40, Duration: s.MinimumWaitTime + 10}
	}
	estimate, err := PopulationEstimate(s, history)
	require.NoError(t, err)
	require.InDelta(t, 4, estimate, 1e-9)

	// Only the most recent sample counts.
	for i := 0; i < s.PopulationEstimateSampleSize; i++ {
		history[i] = WaitCertificate{LocalMean: 1, Duration: s.MinimumWaitTime + 1000}
	}
	estimate, err = PopulationEstimate(s, history)
	require.NoError(t, err)
	require.InDelta(t, 4, estimate, 1e-9)

	_, err = PopulationEstimate(s, []WaitCertificate{{LocalMean: 1, Duration: s.MinimumWaitTime}})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestLocalMeanRejectsBadSettings(t *testing.T) {
	partitiontest.PartitionTest(t)

	s := testSettings()
	s.FixedDurationBlocks = 0
	_, err := LocalMean(s, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
}
