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
	"time"

	"github.com/algorand/go-poet/crypto"
	"github.com/algorand/go-poet/protocol"
	"github.com/algorand/go-poet/util/timers"
)

// WaitTimer is an enclave-signed promise that a validator may claim the
// block following PreviousCertificateID once Duration seconds have passed
// since RequestTime.
type WaitTimer struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	ValidatorAddress      string  `codec:"addr"`
	PreviousCertificateID string  `codec:"prev"`
	LocalMean             float64 `codec:"mean"`
	RequestTime           float64 `codec:"req"`
	Duration              float64 `codec:"dur"`

	Signature crypto.Signature `codec:"sig"`

	// enclave is the issuing enclave, consulted for expiry.
	enclave Enclave
}

// ToBeHashed implements the crypto.Hashable interface. The signature is excluded.
func (t WaitTimer) ToBeHashed() (protocol.HashID, []byte) {
	t.Signature = crypto.Signature{}
	t.enclave = nil
	return protocol.WaitTimer, protocol.Encode(&t)
}

// CreateWaitTimer asks the enclave for a timer on top of certs, the
// certificates of the most recent blocks ordered oldest first.
func CreateWaitTimer(ctx *ConsensusContext, sealedSignupData []byte, validatorAddress string, certs []WaitCertificate) (WaitTimer, error) {
	if certs == nil {
		return WaitTimer{}, fmt.Errorf("%w: certificate history must be a sequence", ErrInvalidArgument)
	}
	mean, err := LocalMean(ctx.Settings, certs)
	if err != nil {
		return WaitTimer{}, err
	}
	previous := NullIdentifier
	if len(certs) > 0 {
		previous = certs[len(certs)-1].Identifier()
	}

	timer, err := ctx.Enclave.CreateWaitTimer(sealedSignupData, validatorAddress, previous, mean)
	if err != nil {
		return WaitTimer{}, fmt.Errorf("enclave could not create wait timer: %w", err)
	}
	if timer.Duration < ctx.Settings.MinimumWaitTime {
		return WaitTimer{}, fmt.Errorf("%w: enclave drew duration %f below minimum %f",
			ErrInvalidState, timer.Duration, ctx.Settings.MinimumWaitTime)
	}
	timer.enclave = ctx.Enclave
	ctx.Log.Debugf("Wait timer created: mean %.4f, duration %.4f, previous %s",
		timer.LocalMean, timer.Duration, timer.PreviousCertificateID)
	return timer, nil
}

// Expires returns the time the timer's own fields claim it expires.
func (t WaitTimer) Expires() time.Time {
	return timers.FromSeconds(t.RequestTime + t.Duration)
}

// IsExpired reports whether the timer has run out at now. A timer issued by
// an enclave also has to have expired by the enclave's own account.
func (t WaitTimer) IsExpired(now time.Time) bool {
	if timers.Seconds(now) < t.RequestTime+t.Duration {
		return false
	}
	if t.enclave != nil {
		return t.enclave.TimerExpired(t)
	}
	return true
}

// Population is the population estimate the timer's local mean implies.
func (t WaitTimer) Population(s Settings) float64 {
	return t.LocalMean / s.TargetWaitTime
}

func (t WaitTimer) String() string {
	return fmt.Sprintf("TIMER, %.2f, %.2f, %s", t.LocalMean, t.Duration, t.PreviousCertificateID)
}
