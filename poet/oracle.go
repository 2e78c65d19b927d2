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

	"github.com/algorand/go-deadlock"

	"github.com/algorand/go-poet/crypto"
	"github.com/algorand/go-poet/data/bookkeeping"
)

// SignupPublisher submits a validator registration to the chain. The entry
// becomes visible in the validator registry once the block containing
// info.TransactionID commits.
type SignupPublisher interface {
	PublishSignup(info ValidatorInfo) error
}

// OracleParams wires an Oracle.
type OracleParams struct {
	Context  *ConsensusContext
	Blocks   BlockCache
	Registry *ValidatorRegistry
	States   *ConsensusStateStore
	Store    *LocalStore
	Signups  SignupPublisher
	// Identity signs the validator's blocks; its public key is the validator id.
	Identity *crypto.SignatureSecrets
	Name     string
	// Head is the chain head at startup, used for a first signup.
	Head bookkeeping.BlockID
}

// Oracle answers the engine's consensus questions for one validator: when
// to build, when to publish, what proof to attach, which blocks are valid
// and which fork to follow.
type Oracle struct {
	ctx      *ConsensusContext
	blocks   BlockCache
	registry *ValidatorRegistry
	states   *ConsensusStateStore
	store    *LocalStore
	signups  SignupPublisher
	resolver *ForkResolver
	identity *crypto.SignatureSecrets
	id       string
	name     string

	mu deadlock.Mutex
	// timer is the wait timer of the block being built.
	timer *WaitTimer
	// rejectedHead is the last head InitializeBlock declined to build on.
	rejectedHead bookkeeping.BlockID
}

// MakeOracle restores the validator's sealed signup data from the local
// store, or creates, stores and publishes new signup info if there is none.
func MakeOracle(p OracleParams) (*Oracle, error) {
	if p.Identity == nil {
		return nil, fmt.Errorf("%w: oracle needs a validator identity", ErrInvalidArgument)
	}
	o := &Oracle{
		ctx:      p.Context,
		blocks:   p.Blocks,
		registry: p.Registry,
		states:   p.States,
		store:    p.Store,
		signups:  p.Signups,
		resolver: MakeForkResolver(p.Context, p.Blocks, p.Registry, p.States),
		identity: p.Identity,
		id:       p.Identity.SignatureVerifier.String(),
		name:     p.Name,
	}
	if o.name == "" {
		o.name = "validator-" + shortID(o.id)
	}

	active, ok, err := o.store.ActiveKey()
	if err != nil {
		return nil, err
	}
	if ok {
		sealed, found, err := o.store.SealedSignupData(active)
		if err == nil && found {
			var unsealed crypto.PublicKey
			unsealed, err = UnsealSignupData(o.ctx, sealed)
			if err == nil && unsealed == active {
				o.ctx.Log.Infof("%s: restored PoET key %s...", o.name, shortID(active.String()))
				return o, nil
			}
		}
		o.ctx.Log.Warnf("%s: cannot restore PoET key %s... (found %v, err %v), signing up again",
			o.name, shortID(active.String()), found, err)
		if err := o.store.ClearActiveKey(); err != nil {
			return nil, err
		}
	}
	if p.Head == "" {
		p.Head = bookkeeping.NullBlockID
	}
	if err := o.registerSignup(p.Head); err != nil {
		return nil, err
	}
	return o, nil
}

// ID returns the validator identifier.
func (o *Oracle) ID() string {
	return o.id
}

// registerSignup creates fresh PoET keys on top of head, makes them
// durable as the active key and publishes the registration.
func (o *Oracle) registerSignup(head bookkeeping.BlockID) error {
	info, err := CreateSignupInfo(o.ctx, o.id, head)
	if err != nil {
		return err
	}
	pub := info.PoetPublicKey
	if err := o.store.SetSealedSignupData(pub, info.SealedSignupData, info.Nonce); err != nil {
		return err
	}
	if err := o.store.SetActiveKey(pub); err != nil {
		return err
	}
	if err := o.store.Sync(); err != nil {
		return err
	}

	entry := ValidatorInfo{ID: o.id, Name: o.name, SignupInfo: info.Public()}
	entry.TransactionID = crypto.HashObj(signupRegistration(entry)).String()
	o.ctx.Log.Infof("Register validator %s, ID=%s..., PoET public key=%s..., nonce=%s",
		o.name, shortID(o.id), shortID(pub.String()), info.Nonce)
	return o.signups.PublishSignup(entry)
}

// signupAttemptTimedOut reports whether a signup created with nonce can no
// longer be committed in time on top of head.
func (o *Oracle) signupAttemptTimedOut(nonce string, head bookkeeping.BlockID) bool {
	id := head
	for i := 0; i <= o.ctx.Settings.SignupCommitMaximumDelay; i++ {
		if BlockIDToNonce(id) == nonce {
			return false
		}
		if id.IsGenesisParent() {
			return false
		}
		block, err := o.blocks.Block(id)
		if err != nil {
			return false
		}
		id = block.PreviousBlockID
	}
	return true
}

func (o *Oracle) handleRegistrationTimeout(head bookkeeping.BlockID, nonce string, pub crypto.PublicKey) {
	if !o.signupAttemptTimedOut(nonce, head) {
		return
	}
	o.ctx.Log.Warnf("%s: signup for PoET key %s... was not committed by block %s, signing up again",
		o.name, shortID(pub.String()), head.Short())
	if err := o.store.DeleteKeyState(pub); err != nil {
		o.ctx.Log.Warnf("%s: forgetting PoET key: %v", o.name, err)
	}
	if err := o.registerSignup(head); err != nil {
		o.ctx.Log.Warnf("%s: signing up again: %v", o.name, err)
	}
}

// InitializeBlock decides whether to start building a block on head and,
// if so, creates the wait timer for it.
func (o *Oracle) InitializeBlock(head bookkeeping.Block) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	headID := head.ID()
	if headID == o.rejectedHead {
		return false
	}
	o.rejectedHead = headID
	o.timer = nil

	active, haveActive, err := o.store.ActiveKey()
	if err != nil {
		o.ctx.Log.Warnf("%s: reading active key: %v", o.name, err)
		return false
	}

	info, registered := o.registry.Get(o.id)
	if !registered {
		if !haveActive {
			o.ctx.Log.Infof("%s: no PoET key found, registering new signup information", o.name)
			if err := o.registerSignup(headID); err != nil {
				o.ctx.Log.Warnf("%s: %v", o.name, err)
			}
			return false
		}
		st, ok, err := o.store.KeyState(active)
		if err != nil || !ok {
			o.ctx.Log.Errorf("%s: corrupt active key %s..., clearing it", o.name, shortID(active.String()))
			if err := o.store.ClearActiveKey(); err != nil {
				o.ctx.Log.Warnf("%s: %v", o.name, err)
			}
			return false
		}
		o.handleRegistrationTimeout(headID, st.SignupNonce, active)
		return false
	}

	registeredKey := info.SignupInfo.PoetPublicKey
	st, ok, err := o.store.KeyState(registeredKey)
	if err != nil || !ok {
		o.ctx.Log.Infof("%s: PoET key %s... in validator registry not found in key state store, signing up again",
			o.name, shortID(registeredKey.String()))
		if err := o.registerSignup(headID); err != nil {
			o.ctx.Log.Warnf("%s: %v", o.name, err)
		}
		return false
	}
	if st.HasBeenRefreshed {
		o.ctx.Log.Infof("%s: PoET key %s... has been refreshed, waiting for the new key in the validator registry",
			o.name, shortID(registeredKey.String()))
		if haveActive {
			if next, ok, err := o.store.KeyState(active); err == nil && ok {
				o.handleRegistrationTimeout(headID, next.SignupNonce, active)
			}
		}
		return false
	}
	if !haveActive || active != registeredKey {
		if err := o.store.SetActiveKey(registeredKey); err != nil {
			o.ctx.Log.Warnf("%s: %v", o.name, err)
			return false
		}
		active = registeredKey
	}

	unsealed, err := UnsealSignupData(o.ctx, st.SealedSignupData)
	if err != nil || unsealed != active {
		o.ctx.Log.Errorf("%s: could not unseal signup data of PoET key %s...: %v", o.name, shortID(active.String()), err)
		if err := o.store.ClearActiveKey(); err != nil {
			o.ctx.Log.Warnf("%s: %v", o.name, err)
		}
		return false
	}

	state, err := o.states.ConsensusStateFor(o.ctx, o.blocks, o.registry, headID)
	if err != nil {
		o.ctx.Log.Warnf("%s: consensus state for %s: %v", o.name, headID.Short(), err)
		return false
	}

	if state.ValidatorSignupWasCommittedTooLate(o.ctx, info, o.blocks) {
		o.ctx.Log.Infof("Reject building on block %s: validator signup information not committed in a timely manner", headID.Short())
		if err := o.registerSignup(headID); err != nil {
			o.ctx.Log.Warnf("%s: %v", o.name, err)
		}
		return false
	}

	if state.ValidatorHasClaimedBlockLimit(o.ctx, info) {
		o.ctx.Log.Infof("Reject building on block %s: validator has reached maximum number of blocks with key pair", headID.Short())
		st.HasBeenRefreshed = true
		if err := o.store.SetKeyState(active, st); err != nil {
			o.ctx.Log.Warnf("%s: %v", o.name, err)
			return false
		}
		if err := o.ctx.Enclave.ReleaseSignupData(st.SealedSignupData); err != nil {
			o.ctx.Log.Warnf("%s: releasing signup data: %v", o.name, err)
		}
		if err := o.registerSignup(headID); err != nil {
			o.ctx.Log.Warnf("%s: %v", o.name, err)
		}
		return false
	}

	if state.ValidatorIsClaimingTooEarly(o.ctx, info, head.BlockNum+1, o.registry.Count(), o.blocks) {
		o.ctx.Log.Infof("Reject building on block %s: validator has not waited long enough since registering", headID.Short())
		return false
	}

	history, err := CertificateHistory(o.blocks, headID, o.ctx.Settings.HistoryLength())
	if err != nil {
		o.ctx.Log.Warnf("%s: %v", o.name, err)
		return false
	}
	timer, err := CreateWaitTimer(o.ctx, st.SealedSignupData, o.id, history)
	if err != nil {
		o.ctx.Log.Warnf("%s: %v", o.name, err)
		return false
	}

	if o.claimingTooFrequently(state, info, headID, timer.Population(o.ctx.Settings)) {
		o.ctx.Log.Infof("Reject building on block %s: validator %s is claiming blocks too frequently", headID.Short(), shortID(o.id))
		return false
	}

	o.timer = &timer
	o.rejectedHead = ""
	return true
}

func (o *Oracle) claimingTooFrequently(state *ConsensusState, info ValidatorInfo, previous bookkeeping.BlockID, population float64) bool {
	n := state.TotalBlockClaimCount - o.ctx.Settings.PopulationEstimateSampleSize
	if n < 0 {
		return false
	}
	history, err := o.states.PopulationEstimates(o.ctx, o.blocks, previous, n)
	if err != nil {
		o.ctx.Log.Warnf("%s: %v", o.name, err)
		return true
	}
	return state.ValidatorIsClaimingTooFrequently(o.ctx, info, population, history)
}

// CheckPublishBlock reports whether the wait timer of the block being built
// on head has expired.
func (o *Oracle) CheckPublishBlock(head bookkeeping.Block) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.timer != nil && o.timer.IsExpired(o.ctx.Clock.Now())
}

// Timer returns the wait timer of the block being built.
func (o *Oracle) Timer() (WaitTimer, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.timer == nil {
		return WaitTimer{}, false
	}
	return *o.timer, true
}

// summaryDigest maps a block summary to the digest a certificate commits to.
func summaryDigest(summary []byte) crypto.Digest {
	var d crypto.Digest
	if len(summary) == len(d) {
		copy(d[:], summary)
		return d
	}
	return crypto.Hash(summary)
}

// FinalizeBlock turns the expired wait timer into the encoded wait
// certificate for the block summarized by summary, and records the claim
// durably in the local store.
func (o *Oracle) FinalizeBlock(head bookkeeping.Block, summary []byte) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.timer == nil {
		return nil, fmt.Errorf("%w: no block is being built", ErrInvalidState)
	}
	active, ok, err := o.store.ActiveKey()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no active PoET key", ErrInvalidState)
	}
	sealed, ok, err := o.store.SealedSignupData(active)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no sealed signup data for PoET key %s", ErrInvalidState, shortID(active.String()))
	}

	cert, err := CreateWaitCertificate(o.ctx, sealed, *o.timer, summaryDigest(summary))
	if err != nil {
		return nil, err
	}

	stats, _, err := o.store.ValidatorStatistics(o.id)
	if err != nil {
		return nil, err
	}
	if stats.PoetPublicKey != active {
		stats = ValidatorStatistics{PoetPublicKey: active}
	}
	stats.ClaimedBlockCount++
	if err := o.store.SetValidatorStatistics(o.id, stats); err != nil {
		return nil, err
	}
	if err := o.store.Sync(); err != nil {
		return nil, err
	}

	o.timer = nil
	o.ctx.Log.Infof("%s: claimed block on %s with %v", o.name, head.ID().Short(), cert)
	return cert.Encode(), nil
}

// VerifyBlock checks a block's wait certificate and the claimant's
// eligibility. A genesis block without a certificate is accepted.
func (o *Oracle) VerifyBlock(block bookkeeping.Block) bool {
	id := block.ID()
	cert, ok := CertificateOf(block)
	if !ok {
		if block.IsGenesis() && len(block.Consensus) == 0 {
			return true
		}
		o.ctx.Log.Infof("Block %s carries no valid wait certificate", id.Short())
		return false
	}
	if !o.ctx.Cache.VerifyBytes(block.SignerPublicKey, crypto.HashRep(block.BlockHeader), block.HeaderSignature) {
		o.ctx.Log.Infof("Block %s signature does not verify", id.Short())
		return false
	}
	if cert.BlockHash != block.Digest() {
		o.ctx.Log.Infof("Block %s wait certificate is for block digest %s", id.Short(), cert.BlockHash)
		return false
	}

	signer := block.SignerPublicKey.String()
	info, ok := o.registry.Get(signer)
	if !ok {
		o.ctx.Log.Infof("Block %s claimed by validator %s... not in the validator registry", id.Short(), shortID(signer))
		return false
	}

	history, err := CertificateHistory(o.blocks, block.PreviousBlockID, o.ctx.Settings.HistoryLength())
	if err != nil {
		o.ctx.Log.Warnf("Block %s: %v", id.Short(), err)
		return false
	}
	if !cert.IsValid(o.ctx, history, info.SignupInfo.PoetPublicKey) {
		o.ctx.Log.Infof("Block %s wait certificate is not valid", id.Short())
		return false
	}

	state, err := o.states.ConsensusStateFor(o.ctx, o.blocks, o.registry, block.PreviousBlockID)
	if err != nil {
		o.ctx.Log.Warnf("Block %s: %v", id.Short(), err)
		return false
	}
	if state.ValidatorSignupWasCommittedTooLate(o.ctx, info, o.blocks) {
		o.ctx.Log.Infof("Block %s rejected: validator signup not committed in a timely manner", id.Short())
		return false
	}
	if state.ValidatorHasClaimedBlockLimit(o.ctx, info) {
		o.ctx.Log.Infof("Block %s rejected: validator has reached its key block claim limit", id.Short())
		return false
	}
	if state.ValidatorIsClaimingTooEarly(o.ctx, info, block.BlockNum, o.registry.Count(), o.blocks) {
		o.ctx.Log.Infof("Block %s rejected: validator is claiming too early", id.Short())
		return false
	}
	if o.claimingTooFrequently(state, info, block.PreviousBlockID, cert.PopulationEstimate(o.ctx.Settings)) {
		o.ctx.Log.Infof("Block %s rejected: validator is claiming blocks too frequently", id.Short())
		return false
	}
	return true
}

// SwitchForks reports whether newHead should replace cur as the chain head.
func (o *Oracle) SwitchForks(cur, newHead bookkeeping.Block) (bool, error) {
	return o.resolver.CompareForks(cur, newHead)
}

// BuildBlock starts a candidate block on head holding pending. It returns
// nil when there is nothing to build: no pending transactions past the
// genesis block, or a validator not eligible to claim.
func (o *Oracle) BuildBlock(head bookkeeping.Block, pending []string) *bookkeeping.BlockHeader {
	if len(pending) == 0 && !head.IsGenesis() {
		return nil
	}
	if !o.InitializeBlock(head) {
		return nil
	}
	return &bookkeeping.BlockHeader{
		BlockNum:        head.BlockNum + 1,
		PreviousBlockID: head.ID(),
		TransactionIDs:  append([]string(nil), pending...),
	}
}

// ClaimBlock attaches the wait certificate to a candidate block built by
// BuildBlock and signs it.
func (o *Oracle) ClaimBlock(head bookkeeping.Block, header bookkeeping.BlockHeader) (bookkeeping.Block, error) {
	digest := bookkeeping.BlockDigest(header.PreviousBlockID, header.TransactionIDs)
	consensus, err := o.FinalizeBlock(head, digest.ToSlice())
	if err != nil {
		return bookkeeping.Block{}, err
	}
	header.Consensus = consensus
	return bookkeeping.SignBlock(header, o.identity), nil
}
