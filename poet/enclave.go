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
	"sort"
	"time"

	"github.com/algorand/go-deadlock"

	"github.com/algorand/go-poet/crypto"
	"github.com/algorand/go-poet/logging"
	"github.com/algorand/go-poet/util/timers"
)

// Enclave is the trusted execution capability behind PoET. It draws wait
// durations, signs timers and certificates with the sealed PoET key, and
// verifies other validators' certificates.
type Enclave interface {
	// CreateSignupInfo generates a PoET key pair bound to the
	// originator's identity and the chain position given by nonce.
	CreateSignupInfo(originatorPublicKeyHash crypto.Digest, nonce string) (SignupInfo, error)
	// VerifySignupInfo checks the proof data of another validator's signup.
	VerifySignupInfo(info SignupInfo, originatorPublicKeyHash crypto.Digest) error
	// UnsealSignupData returns the PoET public key held in sealed data.
	UnsealSignupData(sealed []byte) (crypto.PublicKey, error)
	// ReleaseSignupData tells the enclave the sealed key is retired.
	ReleaseSignupData(sealed []byte) error

	CreateWaitTimer(sealed []byte, validatorAddress string, previousCertificateID string, localMean float64) (WaitTimer, error)
	// TimerExpired reports whether the enclave's own record of the timer
	// has elapsed. Timers the enclave never issued are not expired.
	TimerExpired(timer WaitTimer) bool
	CreateWaitCertificate(sealed []byte, timer WaitTimer, blockDigest crypto.Digest) (WaitCertificate, error)
	VerifyWaitCertificate(cert WaitCertificate, poetPublicKey crypto.PublicKey) bool
}

// EnclaveConfig is handed to an enclave factory.
type EnclaveConfig struct {
	// ValidatorID seeds the anti-Sybil identifier.
	ValidatorID     string
	MinimumWaitTime float64
	// ClaimTimeout bounds how long an expired timer can still be claimed.
	ClaimTimeout time.Duration
	Clock        timers.WallClock
	Cache        *crypto.VerifiedCache
	Log          logging.Logger
}

// EnclaveFactory builds an enclave.
type EnclaveFactory func(cfg EnclaveConfig) (Enclave, error)

var (
	enclaveMu        deadlock.Mutex
	enclaveFactories = make(map[string]EnclaveFactory)
)

// RegisterEnclave makes an enclave implementation available by name. It is
// meant to be called from init functions and panics on duplicates.
func RegisterEnclave(name string, factory EnclaveFactory) {
	enclaveMu.Lock()
	defer enclaveMu.Unlock()
	if _, dup := enclaveFactories[name]; dup {
		panic(fmt.Sprintf("poet: enclave %q registered twice", name))
	}
	enclaveFactories[name] = factory
}

// MakeEnclave builds the enclave registered under name.
func MakeEnclave(name string, cfg EnclaveConfig) (Enclave, error) {
	enclaveMu.Lock()
	factory, ok := enclaveFactories[name]
	enclaveMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown enclave module %q, registered: %v", name, Enclaves())
	}
	if cfg.Clock == nil {
		cfg.Clock = timers.MakeMonotonicClock()
	}
	if cfg.Log == nil {
		cfg.Log = logging.Base()
	}
	return factory(cfg)
}

// Enclaves lists the registered enclave names.
func Enclaves() []string {
	enclaveMu.Lock()
	defer enclaveMu.Unlock()
	names := make([]string, 0, len(enclaveFactories))
	for name := range enclaveFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
