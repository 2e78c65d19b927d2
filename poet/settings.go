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

// Package poet implements Proof-of-Elapsed-Time consensus: wait timers and
// certificates, the per-chain consensus state used for claim eligibility,
// fork resolution, and the block publishing oracle driven by the engine.
package poet

import (
	"errors"
	"fmt"
	"math"

	"github.com/algorand/go-poet/config"
)

var (
	// ErrNotPoetBlock is returned by fork resolution when a block carries no
	// wait certificate.
	ErrNotPoetBlock = errors.New("not a PoET block")
	// ErrInvalidArgument reports malformed input to a consensus computation.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidState reports an operation that is not possible yet, such as
	// claiming a block before its wait timer expired.
	ErrInvalidState = errors.New("invalid state")
)

// NullIdentifier is the previous certificate identifier of the first
// certificate in a chain.
const NullIdentifier = "0000000000000000"

// Settings are the consensus parameters shared by every validator.
type Settings struct {
	InitialWaitTime              float64
	TargetWaitTime               float64
	MinimumWaitTime              float64
	PopulationEstimateSampleSize int
	FixedDurationBlocks          int
	KeyBlockClaimLimit           int
	BlockClaimDelay              int
	ZTestMaximumWinDeviation     float64
	ZTestMinimumWinCount         int
	SignupCommitMaximumDelay     int
}

// MakeSettings extracts the consensus parameters from the local config.
func MakeSettings(cfg config.Local) Settings {
	return Settings{
		InitialWaitTime:              cfg.InitialWaitTime,
		TargetWaitTime:               cfg.TargetWaitTime,
		MinimumWaitTime:              cfg.MinimumWaitTime,
		PopulationEstimateSampleSize: cfg.PopulationEstimateSampleSize,
		FixedDurationBlocks:          cfg.FixedDuration(),
		KeyBlockClaimLimit:           cfg.KeyBlockClaimLimit,
		BlockClaimDelay:              cfg.BlockClaimDelay,
		ZTestMaximumWinDeviation:     cfg.ZTestMaximumWinDeviation,
		ZTestMinimumWinCount:         cfg.ZTestMinimumWinCount,
		SignupCommitMaximumDelay:     cfg.SignupCommitMaximumDelay,
	}
}

// HistoryLength is the number of certificates a block's local mean depends
// on. Walking back further changes nothing.
func (s Settings) HistoryLength() int {
	if s.FixedDurationBlocks > s.PopulationEstimateSampleSize {
		return s.FixedDurationBlocks
	}
	return s.PopulationEstimateSampleSize
}

// Sample is the part of a wait certificate the population estimate reads.
type Sample struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Duration  float64 `codec:"d"`
	LocalMean float64 `codec:"m"`
}

func samplesOf(certs []WaitCertificate) []Sample {
	samples := make([]Sample, len(certs))
	for i, c := range certs {
		samples[i] = Sample{Duration: c.Duration, LocalMean: c.LocalMean}
	}
	return samples
}

// LocalMean computes the expected wait for the block following certs, which
// are ordered oldest first.
func LocalMean(s Settings, certs []WaitCertificate) (float64, error) {
	if certs == nil {
		certs = []WaitCertificate{}
	}
	return localMean(s, len(certs), samplesOf(certs))
}

// PopulationEstimate estimates the number of validators competing for the
// block following certs.
func PopulationEstimate(s Settings, certs []WaitCertificate) (float64, error) {
	return populationEstimate(s, samplesOf(certs))
}

// localMean ramps from the target wait time toward the initial one while
// fewer than FixedDurationBlocks blocks have been claimed, then follows the
// population estimate.
func localMean(s Settings, count int, samples []Sample) (float64, error) {
	if s.FixedDurationBlocks <= 0 || s.PopulationEstimateSampleSize <= 0 {
		return 0, fmt.Errorf("%w: sample size %d, fixed duration %d",
			ErrInvalidArgument, s.PopulationEstimateSampleSize, s.FixedDurationBlocks)
	}
	if count < s.FixedDurationBlocks {
		r := float64(count) / float64(s.FixedDurationBlocks)
		return s.TargetWaitTime*(1-r*r) + s.InitialWaitTime*r*r, nil
	}
	estimate, err := populationEstimate(s, samples)
	if err != nil {
		return 0, err
	}
	return s.TargetWaitTime * estimate, nil
}

// populationEstimate is the ratio of the average local mean to the average
// wait beyond the minimum over the most recent samples.
func populationEstimate(s Settings, samples []Sample) (float64, error) {
	if len(samples) == 0 {
		return 0, fmt.Errorf("%w: population estimate needs at least one certificate", ErrInvalidState)
	}
	if s.PopulationEstimateSampleSize > 0 && len(samples) > s.PopulationEstimateSampleSize {
		samples = samples[len(samples)-s.PopulationEstimateSampleSize:]
	}
	var sumWaits, sumMeans float64
	for _, sample := range samples {
		sumWaits += sample.Duration - s.MinimumWaitTime
		sumMeans += sample.LocalMean
	}
	if sumWaits <= 0 || math.IsNaN(sumWaits) {
		return 0, fmt.Errorf("%w: no observed wait beyond the minimum in %d certificates", ErrInvalidState, len(samples))
	}
	return sumMeans / sumWaits, nil
}
