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
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/algorand/go-poet/crypto"
	"github.com/algorand/go-poet/data/bookkeeping"
	"github.com/algorand/go-poet/protocol"
)

// ValidatorState is the consensus view of one validator's claims.
type ValidatorState struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	// KeyBlockClaimCount counts the blocks claimed with PoetPublicKey.
	KeyBlockClaimCount   int              `codec:"kbcc"`
	PoetPublicKey        crypto.PublicKey `codec:"ppk"`
	TotalBlockClaimCount int              `codec:"tbcc"`
}

// EstimateInfo is the population estimate of a claimed block together with
// its claimant.
type EstimateInfo struct {
	PopulationEstimate float64
	PreviousBlockID    bookkeeping.BlockID
	ValidatorID        string
}

// ConsensusState summarizes the PoET blocks of a chain up to some block.
// It resets on every block without a wait certificate.
type ConsensusState struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	// AggregateLocalMean is the sum of the local means of every claimed block.
	AggregateLocalMean   float64                   `codec:"alm"`
	TotalBlockClaimCount int                       `codec:"tbcc"`
	PopulationSamples    []Sample                  `codec:"samples"`
	Validators           map[string]ValidatorState `codec:"validators"`
}

// MakeConsensusState returns the state of a chain with no PoET blocks.
func MakeConsensusState() *ConsensusState {
	return &ConsensusState{Validators: make(map[string]ValidatorState)}
}

// Clone returns a deep copy.
func (cs *ConsensusState) Clone() *ConsensusState {
	c := &ConsensusState{
		AggregateLocalMean:   cs.AggregateLocalMean,
		TotalBlockClaimCount: cs.TotalBlockClaimCount,
		PopulationSamples:    append([]Sample(nil), cs.PopulationSamples...),
		Validators:           make(map[string]ValidatorState, len(cs.Validators)),
	}
	for id, v := range cs.Validators {
		c.Validators[id] = v
	}
	return c
}

// LocalMean is the local mean expected of the next block's certificate.
func (cs *ConsensusState) LocalMean(s Settings) (float64, error) {
	return localMean(s, cs.TotalBlockClaimCount, cs.PopulationSamples)
}

// StateOf returns the recorded state of a validator, or a fresh state for
// its current key if it never claimed a block.
func (cs *ConsensusState) StateOf(info ValidatorInfo) ValidatorState {
	if v, ok := cs.Validators[info.ID]; ok {
		return v
	}
	return ValidatorState{PoetPublicKey: info.SignupInfo.PoetPublicKey}
}

// ValidatorDidClaimBlock folds a claimed block into the state.
func (cs *ConsensusState) ValidatorDidClaimBlock(ctx *ConsensusContext, info ValidatorInfo, cert WaitCertificate) {
	cs.AggregateLocalMean += cert.LocalMean
	cs.TotalBlockClaimCount++
	cs.PopulationSamples = append(cs.PopulationSamples, Sample{Duration: cert.Duration, LocalMean: cert.LocalMean})
	if extra := len(cs.PopulationSamples) - ctx.Settings.PopulationEstimateSampleSize; extra > 0 {
		cs.PopulationSamples = append([]Sample(nil), cs.PopulationSamples[extra:]...)
	}

	v := cs.StateOf(info)
	keyCount := 1
	if v.PoetPublicKey == info.SignupInfo.PoetPublicKey {
		keyCount = v.KeyBlockClaimCount + 1
	}
	if cs.Validators == nil {
		cs.Validators = make(map[string]ValidatorState)
	}
	cs.Validators[info.ID] = ValidatorState{
		KeyBlockClaimCount:   keyCount,
		PoetPublicKey:        info.SignupInfo.PoetPublicKey,
		TotalBlockClaimCount: v.TotalBlockClaimCount + 1,
	}
	ctx.Log.Debugf("Update state for %s (ID=%s...): KBCC=%d, TBCC=%d",
		info.Name, shortID(info.ID), keyCount, v.TotalBlockClaimCount+1)
}

// ValidatorSignupWasCommittedTooLate reports whether the block committing
// the validator's signup was more than SignupCommitMaximumDelay blocks past
// the chain head the signup nonce was taken from.
func (cs *ConsensusState) ValidatorSignupWasCommittedTooLate(ctx *ConsensusContext, info ValidatorInfo, blocks BlockCache) bool {
	block, err := blocks.BlockByTransactionID(info.TransactionID)
	if err != nil {
		ctx.Log.Warnf("Validator %s (ID=%s...): signup transaction %s not found in a block",
			info.Name, shortID(info.ID), shortID(info.TransactionID))
		return false
	}
	commit := block.ID()
	for i := 0; i <= ctx.Settings.SignupCommitMaximumDelay; i++ {
		if BlockIDToNonce(block.PreviousBlockID) == info.SignupInfo.Nonce {
			return false
		}
		if block.PreviousBlockID.IsGenesisParent() {
			ctx.Log.Infof("Validator %s (ID=%s...): signup committed in block %s, reached the start of the chain looking for nonce %s",
				info.Name, shortID(info.ID), commit.Short(), info.SignupInfo.Nonce)
			return true
		}
		block, err = blocks.Block(block.PreviousBlockID)
		if err != nil {
			ctx.Log.Warnf("Validator %s: walking back from signup block %s: %v", info.Name, commit.Short(), err)
			return true
		}
	}
	ctx.Log.Infof("Validator %s (ID=%s...): signup committed in block %s, nonce %s not found in %d previous blocks",
		info.Name, shortID(info.ID), commit.Short(), info.SignupInfo.Nonce, ctx.Settings.SignupCommitMaximumDelay+1)
	return true
}

// ValidatorHasClaimedBlockLimit reports whether the validator used up its
// current PoET key.
func (cs *ConsensusState) ValidatorHasClaimedBlockLimit(ctx *ConsensusContext, info ValidatorInfo) bool {
	v := cs.StateOf(info)
	if v.PoetPublicKey != info.SignupInfo.PoetPublicKey {
		return false
	}
	if v.KeyBlockClaimCount >= ctx.Settings.KeyBlockClaimLimit {
		ctx.Log.Infof("Validator %s (ID=%s...): reached block claim limit for PoET key %d >= %d",
			info.Name, shortID(info.ID), v.KeyBlockClaimCount, ctx.Settings.KeyBlockClaimLimit)
		return true
	}
	return false
}

// ValidatorIsClaimingTooEarly reports whether fewer than the block claim
// delay blocks passed between the validator's registration and blockNumber.
func (cs *ConsensusState) ValidatorIsClaimingTooEarly(ctx *ConsensusContext, info ValidatorInfo, blockNumber uint64, validatorCount int, blocks BlockCache) bool {
	delay := ctx.Settings.BlockClaimDelay
	if validatorCount-1 < delay {
		delay = validatorCount - 1
	}
	if cs.TotalBlockClaimCount <= delay {
		return false
	}
	commit, err := blocks.BlockByTransactionID(info.TransactionID)
	if err != nil {
		ctx.Log.Infof("Validator %s (ID=%s...): registration not committed yet", info.Name, shortID(info.ID))
		return true
	}
	since := int64(blockNumber) - int64(commit.BlockNum) - 1
	if int64(delay) > since {
		ctx.Log.Infof("Validator %s (ID=%s...): committed in block %d, trying to claim block %d, must wait until block %d",
			info.Name, shortID(info.ID), commit.BlockNum, blockNumber, commit.BlockNum+uint64(delay)+1)
		return true
	}
	return false
}

// ValidatorIsClaimingTooFrequently runs the z-test: it walks the
// population estimates of the candidate block (populationEstimate) and of
// earlier blocks (history, newest first), and reports whether the
// validator's wins exceed the expected count by more than the allowed
// deviation at any depth.
func (cs *ConsensusState) ValidatorIsClaimingTooFrequently(ctx *ConsensusContext, info ValidatorInfo, populationEstimate float64, history []EstimateInfo) bool {
	s := ctx.Settings
	if cs.TotalBlockClaimCount < s.PopulationEstimateSampleSize {
		return false
	}
	estimates := make([]EstimateInfo, 0, len(history)+1)
	estimates = append(estimates, EstimateInfo{PopulationEstimate: populationEstimate, ValidatorID: info.ID})
	estimates = append(estimates, history...)

	var observed, expected float64
	for depth, e := range estimates {
		blockCount := float64(depth + 1)
		expected += 1.0 / e.PopulationEstimate
		if e.ValidatorID != info.ID {
			continue
		}
		observed++
		if observed > float64(s.ZTestMinimumWinCount) && observed > expected {
			p := expected / blockCount
			stddev := math.Sqrt(blockCount * p * (1 - p))
			z := (observed - expected) / stddev
			if z > s.ZTestMaximumWinDeviation {
				ctx.Log.Infof("Validator %s (ID=%s...): z-test failed at depth %d, z=%f, expected=%f, observed=%.0f",
					info.Name, shortID(info.ID), depth+1, z, expected, observed)
				return true
			}
		}
	}
	return false
}

// Encode serializes the state for the consensus state store.
func (cs *ConsensusState) Encode() []byte {
	return protocol.Encode(cs)
}

// DecodeConsensusState parses and sanity checks an encoded state.
func DecodeConsensusState(b []byte) (*ConsensusState, error) {
	cs := MakeConsensusState()
	if err := protocol.Decode(b, cs); err != nil {
		return nil, fmt.Errorf("error parsing consensus state: %w", err)
	}
	if cs.Validators == nil {
		cs.Validators = make(map[string]ValidatorState)
	}
	if !finiteNonNegative(cs.AggregateLocalMean) {
		return nil, fmt.Errorf("aggregate local mean %f is invalid", cs.AggregateLocalMean)
	}
	if cs.TotalBlockClaimCount < 0 {
		return nil, fmt.Errorf("total block claim count %d is invalid", cs.TotalBlockClaimCount)
	}
	for _, sample := range cs.PopulationSamples {
		if !finiteNonNegative(sample.Duration) || !finiteNonNegative(sample.LocalMean) {
			return nil, fmt.Errorf("population sample %+v is invalid", sample)
		}
	}
	for id, v := range cs.Validators {
		if v.KeyBlockClaimCount < 0 || v.TotalBlockClaimCount < 0 || v.KeyBlockClaimCount > v.TotalBlockClaimCount {
			return nil, fmt.Errorf("validator %s claim counts %d/%d are invalid", id, v.KeyBlockClaimCount, v.TotalBlockClaimCount)
		}
	}
	return cs, nil
}

func finiteNonNegative(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f >= 0
}

func (cs *ConsensusState) String() string {
	ids := make([]string, 0, len(cs.Validators))
	for id := range cs.Validators {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, len(ids))
	for i, id := range ids {
		v := cs.Validators[id]
		parts[i] = fmt.Sprintf("%s: {KBCC=%d, PPK=%s, TBCC=%d}",
			shortID(id), v.KeyBlockClaimCount, shortID(v.PoetPublicKey.String()), v.TotalBlockClaimCount)
	}
	return fmt.Sprintf("ALM=%.4f, TBCC=%d, PS=%d, V=[%s]",
		cs.AggregateLocalMean, cs.TotalBlockClaimCount, len(cs.PopulationSamples), strings.Join(parts, ", "))
}
