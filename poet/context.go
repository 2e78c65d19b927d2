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
	"github.com/algorand/go-poet/config"
	"github.com/algorand/go-poet/crypto"
	"github.com/algorand/go-poet/logging"
	"github.com/algorand/go-poet/util/timers"
)

// ConsensusContext carries the process-wide consensus dependencies. One
// context is shared by the oracle, the fork resolver and block verification.
type ConsensusContext struct {
	Settings Settings
	Enclave  Enclave
	Cache    *crypto.VerifiedCache
	Clock    timers.WallClock
	Log      logging.Logger
}

// MakeConsensusContext builds the context described by cfg. The enclave is
// looked up by cfg.EnclaveModule and seeded with validatorID.
func MakeConsensusContext(cfg config.Local, validatorID string, clock timers.WallClock, log logging.Logger) (*ConsensusContext, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = timers.MakeMonotonicClock()
	}
	if log == nil {
		log = logging.Base()
	}
	cache, err := crypto.MakeVerifiedCache(cfg.SignatureCacheSize)
	if err != nil {
		return nil, err
	}
	enclave, err := MakeEnclave(cfg.EnclaveModule, EnclaveConfig{
		ValidatorID:     validatorID,
		MinimumWaitTime: cfg.MinimumWaitTime,
		ClaimTimeout:    cfg.ClaimTimerTimeout,
		Clock:           clock,
		Cache:           cache,
		Log:             log,
	})
	if err != nil {
		return nil, err
	}
	return &ConsensusContext{
		Settings: MakeSettings(cfg),
		Enclave:  enclave,
		Cache:    cache,
		Clock:    clock,
		Log:      log,
	}, nil
}
