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

// Package simulator provides a software PoET enclave. It draws wait
// durations and signs timers and certificates like a hardware enclave
// would, without any of the hardware's guarantees.
package simulator

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/algorand/go-deadlock"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/algorand/go-poet/crypto"
	"github.com/algorand/go-poet/logging"
	"github.com/algorand/go-poet/poet"
	"github.com/algorand/go-poet/protocol"
	"github.com/algorand/go-poet/util/timers"
)

// Name is the enclave module name the simulator registers under.
const Name = "simulator"

// outstandingTimers bounds the number of issued timers the enclave tracks.
const outstandingTimers = 1024

// defaultClaimTimeout is used when the config does not set one.
const defaultClaimTimeout = 3 * time.Second

func init() {
	poet.RegisterEnclave(Name, func(cfg poet.EnclaveConfig) (poet.Enclave, error) {
		return MakeEnclave(cfg)
	})
}

// reportSecrets stand in for the attestation service's report key. Every
// simulator signs and checks signup proofs with them.
var reportSecrets = crypto.GenerateSignatureSecrets(crypto.Seed(crypto.Sha256([]byte("poet enclave simulator report key"))))

var (
	errNotCurrentTimer = errors.New("validator is not using the current wait timer")
	errTimerTimedOut   = errors.New("wait timer has timed out")
	errBadProof        = errors.New("signup proof does not verify")
)

type sealedSignupData struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Seed          crypto.Seed      `codec:"seed"`
	PoetPublicKey crypto.PublicKey `codec:"ppk"`
}

type signupProof struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	OriginatorHash crypto.Digest    `codec:"orig"`
	PoetPublicKey  crypto.PublicKey `codec:"ppk"`
	AntiSybilID    string           `codec:"asid"`
	Nonce          string           `codec:"nonce"`
	Timestamp      int64            `codec:"ts"`
}

func (p signupProof) ToBeHashed() (protocol.HashID, []byte) {
	return protocol.SignupProof, protocol.Encode(&p)
}

type signedSignupProof struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Proof     signupProof      `codec:"proof"`
	Signature crypto.Signature `codec:"sig"`
}

// trustedTimer is the enclave's own record of an issued timer.
type trustedTimer struct {
	requestTime float64
	duration    float64
}

// Enclave is the simulated enclave.
type Enclave struct {
	mu           deadlock.Mutex
	seal         *crypto.SignatureSecrets
	antiSybilID  string
	minimum      float64
	claimTimeout time.Duration
	clock        timers.WallClock
	cache        *crypto.VerifiedCache
	log          logging.Logger

	timers *lru.Cache[crypto.Signature, trustedTimer]
}

// MakeEnclave creates a simulated enclave with a fresh seal key.
func MakeEnclave(cfg poet.EnclaveConfig) (*Enclave, error) {
	tracked, err := lru.New[crypto.Signature, trustedTimer](outstandingTimers)
	if err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = timers.MakeMonotonicClock()
	}
	if cfg.Log == nil {
		cfg.Log = logging.Base()
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = defaultClaimTimeout
	}
	validatorID := cfg.ValidatorID
	if validatorID == "" {
		validatorID = cfg.Clock.Now().Format(time.RFC3339Nano)
	}
	seal, _ := crypto.GenerateRandomSignatureSecrets()
	cfg.Log.Debugf("PoET enclave simulator creating anti-Sybil ID from: %s", validatorID)
	return &Enclave{
		seal:         seal,
		antiSybilID:  crypto.Sha256([]byte(validatorID)).String(),
		minimum:      cfg.MinimumWaitTime,
		claimTimeout: cfg.ClaimTimeout,
		clock:        cfg.Clock,
		cache:        cfg.Cache,
		log:          cfg.Log,
		timers:       tracked,
	}, nil
}

// AntiSybilID is the identifier every signup from this enclave carries.
func (e *Enclave) AntiSybilID() string {
	return e.antiSybilID
}

func unseal(sealed []byte) (*crypto.SignatureSecrets, error) {
	var data sealedSignupData
	if err := protocol.Decode(sealed, &data); err != nil {
		return nil, fmt.Errorf("invalid signup data: %w", err)
	}
	secrets := crypto.GenerateSignatureSecrets(data.Seed)
	if secrets.SignatureVerifier != data.PoetPublicKey {
		return nil, fmt.Errorf("invalid signup data: PoET key does not match its seed")
	}
	return secrets, nil
}

// CreateSignupInfo implements poet.Enclave.
func (e *Enclave) CreateSignupInfo(originatorPublicKeyHash crypto.Digest, nonce string) (poet.SignupInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	secrets, seed := crypto.GenerateRandomSignatureSecrets()
	sealed := sealedSignupData{Seed: seed, PoetPublicKey: secrets.SignatureVerifier}
	proof := signupProof{
		OriginatorHash: originatorPublicKeyHash,
		PoetPublicKey:  secrets.SignatureVerifier,
		AntiSybilID:    e.antiSybilID,
		Nonce:          nonce,
		Timestamp:      e.clock.Now().Unix(),
	}
	signed := signedSignupProof{Proof: proof, Signature: reportSecrets.Sign(proof)}
	return poet.SignupInfo{
		PoetPublicKey:    secrets.SignatureVerifier,
		ProofData:        protocol.Encode(&signed),
		AntiSybilID:      e.antiSybilID,
		Nonce:            nonce,
		SealedSignupData: protocol.Encode(&sealed),
	}, nil
}

// VerifySignupInfo implements poet.Enclave.
func (e *Enclave) VerifySignupInfo(info poet.SignupInfo, originatorPublicKeyHash crypto.Digest) error {
	var signed signedSignupProof
	if err := protocol.Decode(info.ProofData, &signed); err != nil {
		return fmt.Errorf("%w: %v", errBadProof, err)
	}
	p := signed.Proof
	if !reportSecrets.SignatureVerifier.Verify(p, signed.Signature) {
		return errBadProof
	}
	switch {
	case p.OriginatorHash != originatorPublicKeyHash:
		return fmt.Errorf("signup proof is for originator %s, not %s", p.OriginatorHash, originatorPublicKeyHash)
	case p.PoetPublicKey != info.PoetPublicKey:
		return fmt.Errorf("signup proof is for PoET key %s, not %s", p.PoetPublicKey, info.PoetPublicKey)
	case p.AntiSybilID != info.AntiSybilID:
		return fmt.Errorf("anti-Sybil ID in proof %s does not match %s", p.AntiSybilID, info.AntiSybilID)
	case p.Nonce != info.Nonce:
		return fmt.Errorf("signup nonce in proof %s does not match %s", p.Nonce, info.Nonce)
	}
	return nil
}

// UnsealSignupData implements poet.Enclave.
func (e *Enclave) UnsealSignupData(sealed []byte) (crypto.PublicKey, error) {
	secrets, err := unseal(sealed)
	if err != nil {
		return crypto.PublicKey{}, err
	}
	return secrets.SignatureVerifier, nil
}

// ReleaseSignupData implements poet.Enclave. The simulator keeps no
// per-key resources.
func (e *Enclave) ReleaseSignupData(sealed []byte) error {
	_, err := unseal(sealed)
	return err
}

// drawDuration maps the seal key's signature over the previous certificate
// id to an exponentially distributed wait with mean localMean.
func (e *Enclave) drawDuration(previousCertificateID string, localMean float64) float64 {
	tag := e.seal.SignBytes([]byte(previousCertificateID))
	tagd := float64(binary.LittleEndian.Uint64(tag[len(tag)-8:])) / math.MaxUint64
	if tagd <= 0 {
		tagd = math.SmallestNonzeroFloat64
	}
	return e.minimum - localMean*math.Log(tagd)
}

// CreateWaitTimer implements poet.Enclave. The enclave remembers the
// timer's request time and duration under its signature.
func (e *Enclave) CreateWaitTimer(sealed []byte, validatorAddress string, previousCertificateID string, localMean float64) (poet.WaitTimer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	secrets, err := unseal(sealed)
	if err != nil {
		return poet.WaitTimer{}, err
	}
	timer := poet.WaitTimer{
		ValidatorAddress:      validatorAddress,
		PreviousCertificateID: previousCertificateID,
		LocalMean:             localMean,
		RequestTime:           timers.Seconds(e.clock.Now()),
		Duration:              e.drawDuration(previousCertificateID, localMean),
	}
	timer.Signature = secrets.Sign(timer)
	e.timers.Add(timer.Signature, trustedTimer{requestTime: timer.RequestTime, duration: timer.Duration})
	return timer, nil
}

// TimerExpired implements poet.Enclave using the enclave's own record of
// the timer and its own clock.
func (e *Enclave) TimerExpired(timer poet.WaitTimer) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.timers.Peek(timer.Signature)
	if !ok {
		return false
	}
	return timers.Seconds(e.clock.Now()) >= rec.requestTime+rec.duration
}

// CreateWaitCertificate implements poet.Enclave. A timer on top of the
// first certificate of a chain may be claimed at once; any other timer must
// have expired, but not longer ago than the claim timeout.
func (e *Enclave) CreateWaitCertificate(sealed []byte, timer poet.WaitTimer, blockDigest crypto.Digest) (poet.WaitCertificate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	secrets, err := unseal(sealed)
	if err != nil {
		return poet.WaitCertificate{}, err
	}
	if !secrets.SignatureVerifier.Verify(timer, timer.Signature) {
		return poet.WaitCertificate{}, errNotCurrentTimer
	}
	rec, ok := e.timers.Peek(timer.Signature)
	if !ok {
		return poet.WaitCertificate{}, errNotCurrentTimer
	}

	now := timers.Seconds(e.clock.Now())
	expires := rec.requestTime + rec.duration
	if timer.PreviousCertificateID != poet.NullIdentifier {
		if now < expires {
			return poet.WaitCertificate{}, fmt.Errorf("%w: cannot create wait certificate because timer has not expired", poet.ErrInvalidState)
		}
		if expires+e.claimTimeout.Seconds() < now {
			return poet.WaitCertificate{}, errTimerTimedOut
		}
	}

	var stamp [8]byte
	binary.BigEndian.PutUint64(stamp[:], math.Float64bits(now))
	cert := poet.WaitCertificate{
		ValidatorAddress:      timer.ValidatorAddress,
		PreviousCertificateID: timer.PreviousCertificateID,
		LocalMean:             timer.LocalMean,
		RequestTime:           rec.requestTime,
		Duration:              rec.duration,
		BlockHash:             blockDigest,
		Nonce:                 crypto.Hash(append(timer.Signature[:], stamp[:]...)).String(),
	}
	cert.Signature = secrets.Sign(cert)
	e.timers.Remove(timer.Signature)
	return cert, nil
}

// VerifyWaitCertificate implements poet.Enclave.
func (e *Enclave) VerifyWaitCertificate(cert poet.WaitCertificate, poetPublicKey crypto.PublicKey) bool {
	return e.cache.VerifyBytes(poetPublicKey, crypto.HashRep(cert), cert.Signature)
}
